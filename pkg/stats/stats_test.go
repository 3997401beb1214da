package stats

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/0xmhha/logwatch/pkg/logger"
)

func setupBoltStore(t *testing.T) Store {
	t.Helper()

	store, err := NewBoltStore(Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
	}, logger.Noop())
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return store
}

func setupMemoryStore(t *testing.T) Store {
	t.Helper()
	return NewMemoryStore()
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()
	impls := map[string]func(*testing.T) Store{
		"bolt":   setupBoltStore,
		"memory": setupMemoryStore,
	}
	for name, setup := range impls {
		t.Run(name, func(t *testing.T) {
			fn(t, setup(t))
		})
	}
}

func TestOpen(t *testing.T) {
	store, err := Open(Config{}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, ok := store.(*memoryStore); !ok {
		t.Errorf("Open() with empty path = %T, want *memoryStore", store)
	}

	dbPath := filepath.Join(t.TempDir(), "nested", "sessions.db")
	store, err = Open(Config{DBPath: dbPath}, logger.Noop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if closeErr := store.Close(); closeErr != nil {
		t.Errorf("Close() error = %v", closeErr)
	}

	// Verify database file was created.
	if _, statErr := os.Stat(dbPath); statErr != nil {
		t.Errorf("Database file not created: %v", statErr)
	}
}

func TestSessionLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		path := "/var/log/app.log"
		t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

		if err := store.Opened(path, t0); err != nil {
			t.Fatalf("Opened() error = %v", err)
		}
		if err := store.Record(path, Activity{Reconciliations: 1, Bytes: 10, Lines: 2, Subscribers: 3}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if err := store.Record(path, Activity{Reconciliations: 1, Resets: 1, Bytes: 5, Lines: 1, Subscribers: 1}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}

		r, err := store.Get(path)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !r.Open() {
			t.Error("Open() = false for running session")
		}
		if r.Reconciliations != 2 || r.Resets != 1 || r.BytesDelivered != 15 || r.LinesDelivered != 3 {
			t.Errorf("counters = %+v", r)
		}
		if r.PeakSubscribers != 3 {
			t.Errorf("PeakSubscribers = %d, want 3", r.PeakSubscribers)
		}

		t1 := t0.Add(time.Hour)
		if err := store.Closed(path, t1, "watch lost", errors.New("file removed")); err != nil {
			t.Fatalf("Closed() error = %v", err)
		}

		r, err = store.Get(path)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if r.Open() {
			t.Error("Open() = true after close")
		}
		if r.CloseReason != "watch lost" || r.LastError != "file removed" {
			t.Errorf("close info = %q / %q", r.CloseReason, r.LastError)
		}
		if !r.LastClosed.Equal(t1) {
			t.Errorf("LastClosed = %v, want %v", r.LastClosed, t1)
		}

		// A second session keeps first-open time and accumulates counters.
		t2 := t1.Add(time.Hour)
		if err := store.Opened(path, t2); err != nil {
			t.Fatalf("Opened() error = %v", err)
		}
		r, err = store.Get(path)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if r.Opens != 2 {
			t.Errorf("Opens = %d, want 2", r.Opens)
		}
		if !r.FirstOpened.Equal(t0) {
			t.Errorf("FirstOpened = %v, want %v", r.FirstOpened, t0)
		}
		if r.CloseReason != "" {
			t.Errorf("CloseReason = %q, want cleared on reopen", r.CloseReason)
		}
		if r.LastError != "file removed" {
			t.Errorf("LastError = %q, want kept", r.LastError)
		}
	})
}

func TestGetNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		if _, err := store.Get("/missing"); !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("Get() error = %v, want ErrRecordNotFound", err)
		}
		if _, err := store.Get(""); !errors.Is(err, ErrEmptyPath) {
			t.Errorf("Get(\"\") error = %v, want ErrEmptyPath", err)
		}
		if err := store.Opened("", time.Now()); !errors.Is(err, ErrEmptyPath) {
			t.Errorf("Opened(\"\") error = %v, want ErrEmptyPath", err)
		}
	})
}

func TestList(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, p := range []string{"/a.log", "/b.log", "/c.log"} {
			if err := store.Opened(p, base.Add(time.Duration(i)*time.Minute)); err != nil {
				t.Fatalf("Opened() error = %v", err)
			}
		}

		records, err := store.List()
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("List() returned %d records, want 3", len(records))
		}
		want := []string{"/c.log", "/b.log", "/a.log"}
		for i, r := range records {
			if r.Path != want[i] {
				t.Errorf("records[%d] = %s, want %s", i, r.Path, want[i])
			}
		}
	})
}

func TestDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		if err := store.Opened("/a.log", time.Now()); err != nil {
			t.Fatal(err)
		}
		if err := store.Delete("/a.log"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := store.Get("/a.log"); !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("Get() after Delete error = %v, want ErrRecordNotFound", err)
		}
		if err := store.Delete("/a.log"); err != nil {
			t.Errorf("Delete() of missing record error = %v", err)
		}
	})
}

func TestPrune(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
		recent := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

		if err := store.Opened("/old.log", old); err != nil {
			t.Fatal(err)
		}
		if err := store.Closed("/old.log", old.Add(time.Hour), "last subscriber left", nil); err != nil {
			t.Fatal(err)
		}
		if err := store.Opened("/recent.log", recent); err != nil {
			t.Fatal(err)
		}

		removed, err := store.Prune(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		if err != nil {
			t.Fatalf("Prune() error = %v", err)
		}
		if removed != 1 {
			t.Errorf("Prune() removed %d, want 1", removed)
		}

		records, err := store.List()
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 1 || records[0].Path != "/recent.log" {
			t.Errorf("remaining records = %+v", records)
		}
	})
}

func TestBoltPersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewBoltStore(Config{DBPath: dbPath}, logger.Noop())
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	if err := store.Opened("/a.log", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.Record("/a.log", Activity{Lines: 7}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	ro, err := NewBoltStore(Config{DBPath: dbPath, ReadOnly: true}, logger.Noop())
	if err != nil {
		t.Fatalf("NewBoltStore(read-only) error = %v", err)
	}
	defer ro.Close()

	r, err := ro.Get("/a.log")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if r.LinesDelivered != 7 {
		t.Errorf("LinesDelivered = %d, want 7", r.LinesDelivered)
	}

	if err := ro.Opened("/a.log", time.Now()); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Opened() on read-only error = %v, want ErrReadOnly", err)
	}
	if err := ro.Delete("/a.log"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Delete() on read-only error = %v, want ErrReadOnly", err)
	}
}

func TestReadOnlyMissingDatabase(t *testing.T) {
	_, err := NewBoltStore(Config{
		DBPath:   filepath.Join(t.TempDir(), "missing.db"),
		ReadOnly: true,
	}, logger.Noop())
	if err == nil {
		t.Error("NewBoltStore() error = nil for missing read-only database")
	}
}

func BenchmarkRecord(b *testing.B) {
	store := NewMemoryStore()
	a := Activity{Reconciliations: 1, Bytes: 128, Lines: 2, Subscribers: 4}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Record("/var/log/app.log", a); err != nil {
			b.Fatal(err)
		}
	}
}
