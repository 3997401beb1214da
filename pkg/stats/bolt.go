package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/0xmhha/logwatch/pkg/logger"
)

// Bucket names.
var (
	bucketSessions = []byte("sessions") // Path -> SessionRecord
)

// boltStore implements Store using BoltDB.
type boltStore struct {
	db       *bolt.DB
	logger   logger.Logger
	config   Config
	readOnly bool
}

// Open opens the journal described by cfg. An empty DBPath gives an
// in-memory journal.
func Open(cfg Config, log logger.Logger) (Store, error) {
	if log == nil {
		log = logger.Noop()
	}
	if cfg.DBPath == "" {
		return NewMemoryStore(), nil
	}
	return NewBoltStore(cfg, log)
}

// NewBoltStore opens or creates a BoltDB journal.
func NewBoltStore(cfg Config, log logger.Logger) (Store, error) {
	// Set default timeout.
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	// Expand home directory in path.
	dbPath := expandHome(cfg.DBPath)

	if cfg.ReadOnly {
		if _, err := os.Stat(dbPath); err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	} else {
		// Create directory if it doesn't exist.
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database.
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{
		Timeout:  cfg.Timeout,
		ReadOnly: cfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if !cfg.ReadOnly {
		// Initialize buckets.
		if err := db.Update(func(tx *bolt.Tx) error {
			if _, createErr := tx.CreateBucketIfNotExists(bucketSessions); createErr != nil {
				return fmt.Errorf("failed to create sessions bucket: %w", createErr)
			}
			return nil
		}); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("failed to close database after initialization error",
					"error", closeErr)
			}
			return nil, err
		}
	}

	log.Debug("session journal opened", "db_path", dbPath, "read_only", cfg.ReadOnly)

	return &boltStore{
		db:       db,
		logger:   log,
		config:   cfg,
		readOnly: cfg.ReadOnly,
	}, nil
}

// Opened implements Store.Opened.
func (s *boltStore) Opened(path string, at time.Time) error {
	return s.update(path, func(r *SessionRecord) {
		r.applyOpened(at)
	})
}

// Record implements Store.Record.
func (s *boltStore) Record(path string, a Activity) error {
	return s.update(path, func(r *SessionRecord) {
		r.applyActivity(a)
	})
}

// Closed implements Store.Closed.
func (s *boltStore) Closed(path string, at time.Time, reason string, err error) error {
	return s.update(path, func(r *SessionRecord) {
		r.applyClosed(at, reason, err)
	})
}

// Get implements Store.Get.
func (s *boltStore) Get(path string) (*SessionRecord, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	var record *SessionRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return ErrRecordNotFound
		}

		data := b.Get([]byte(path))
		if data == nil {
			return ErrRecordNotFound
		}

		var r SessionRecord
		if unmarshalErr := json.Unmarshal(data, &r); unmarshalErr != nil {
			return fmt.Errorf("failed to unmarshal record: %w", unmarshalErr)
		}

		record = &r
		return nil
	})

	if err != nil {
		return nil, err
	}

	return record, nil
}

// List implements Store.List.
func (s *boltStore) List() ([]*SessionRecord, error) {
	records := make([]*SessionRecord, 0, 10)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var r SessionRecord
			if unmarshalErr := json.Unmarshal(v, &r); unmarshalErr != nil {
				s.logger.Warn("failed to unmarshal record",
					"path", string(k),
					"error", unmarshalErr)
				return nil // Skip invalid entries.
			}

			records = append(records, &r)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	sortRecords(records)
	return records, nil
}

// Delete implements Store.Delete.
func (s *boltStore) Delete(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if s.readOnly {
		return ErrReadOnly
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSessions).Delete([]byte(path)); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		return nil
	})
}

// Prune implements Store.Prune.
func (s *boltStore) Prune(cutoff time.Time) (int, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}

	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)

		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var r SessionRecord
			if unmarshalErr := json.Unmarshal(v, &r); unmarshalErr != nil {
				return nil // Skip invalid entries.
			}
			if r.lastActivity().Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		// Keys are deleted after iteration; deleting inside ForEach is unsafe.
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("failed to delete record: %w", err)
			}
		}
		removed = len(stale)
		return nil
	})

	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.logger.Info("pruned session records", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// Close implements Store.Close.
func (s *boltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.logger.Debug("session journal closed")
	return nil
}

// update applies fn to the record for path, creating it if needed.
func (s *boltStore) update(path string, fn func(r *SessionRecord)) error {
	if path == "" {
		return ErrEmptyPath
	}
	if s.readOnly {
		return ErrReadOnly
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)

		r := SessionRecord{Path: path}
		if data := b.Get([]byte(path)); data != nil {
			if err := json.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
		}

		fn(&r)

		data, err := json.Marshal(&r)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		if err := b.Put([]byte(path), data); err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}

		return nil
	})
}

func sortRecords(records []*SessionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].LastOpened.Equal(records[j].LastOpened) {
			return records[i].LastOpened.After(records[j].LastOpened)
		}
		return records[i].Path < records[j].Path
	})
}

// expandHome expands ~ in file paths to the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	return filepath.Join(homeDir, path[2:])
}
