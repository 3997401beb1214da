package stats

import (
	"sync"
	"time"
)

// memoryStore implements Store using an in-memory map.
type memoryStore struct {
	records map[string]*SessionRecord
	mu      sync.RWMutex
}

// NewMemoryStore creates an in-memory journal.
//
// Useful for testing or when persistence is not needed.
func NewMemoryStore() Store {
	return &memoryStore{
		records: make(map[string]*SessionRecord),
	}
}

// Opened implements Store.Opened.
func (s *memoryStore) Opened(path string, at time.Time) error {
	return s.update(path, func(r *SessionRecord) { r.applyOpened(at) })
}

// Record implements Store.Record.
func (s *memoryStore) Record(path string, a Activity) error {
	return s.update(path, func(r *SessionRecord) { r.applyActivity(a) })
}

// Closed implements Store.Closed.
func (s *memoryStore) Closed(path string, at time.Time, reason string, err error) error {
	return s.update(path, func(r *SessionRecord) { r.applyClosed(at, reason, err) })
}

// Get implements Store.Get.
func (s *memoryStore) Get(path string) (*SessionRecord, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[path]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *r
	return &copied, nil
}

// List implements Store.List.
func (s *memoryStore) List() ([]*SessionRecord, error) {
	s.mu.RLock()
	records := make([]*SessionRecord, 0, len(s.records))
	for _, r := range s.records {
		copied := *r
		records = append(records, &copied)
	}
	s.mu.RUnlock()

	sortRecords(records)
	return records, nil
}

// Delete implements Store.Delete.
func (s *memoryStore) Delete(path string) error {
	if path == "" {
		return ErrEmptyPath
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, path)
	return nil
}

// Prune implements Store.Prune.
func (s *memoryStore) Prune(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for path, r := range s.records {
		if r.lastActivity().Before(cutoff) {
			delete(s.records, path)
			removed++
		}
	}
	return removed, nil
}

// Close implements Store.Close.
func (s *memoryStore) Close() error {
	return nil
}

func (s *memoryStore) update(path string, fn func(r *SessionRecord)) error {
	if path == "" {
		return ErrEmptyPath
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[path]
	if !ok {
		r = &SessionRecord{Path: path}
		s.records[path] = r
	}
	fn(r)
	return nil
}
