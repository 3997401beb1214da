package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/0xmhha/logwatch/pkg/broadcast"
	"github.com/0xmhha/logwatch/pkg/logger"
	"github.com/0xmhha/logwatch/pkg/watcher"
)

// Manager keys sessions by absolute file path so that one file is never
// watched twice.
type Manager struct {
	config Config
	logger logger.Logger

	mu       sync.Mutex
	sessions map[string]*LogSession
	closed   bool

	// wg tracks retired sessions until their goroutines exit.
	wg sync.WaitGroup
}

// NewManager creates a manager whose sessions share cfg.
func NewManager(cfg Config, log logger.Logger) *Manager {
	if log == nil {
		log = logger.Noop()
	}
	return &Manager{
		config:   cfg.withDefaults(),
		logger:   log.With("component", "session"),
		sessions: make(map[string]*LogSession),
	}
}

// Subscribe attaches conn to the session for path, creating the session if
// none is active. The returned subscriber has the snapshot queued first.
func (m *Manager) Subscribe(ctx context.Context, path string, conn broadcast.Conn) (*broadcast.Subscriber, error) {
	if conn == nil {
		return nil, ErrNilConn
	}
	key, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s, err := m.session(key)
		if err != nil {
			return nil, err
		}

		sub, err := s.Subscribe(ctx, conn)
		if errors.Is(err, ErrSessionEnded) {
			// Lost a race with teardown; the next pass gets a fresh session.
			continue
		}
		return sub, err
	}
}

// Unsubscribe detaches the subscriber id from the session for path.
func (m *Manager) Unsubscribe(path, id string) bool {
	key, err := NormalizePath(path)
	if err != nil {
		return false
	}

	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()

	if !ok {
		return false
	}
	return s.Unsubscribe(id)
}

// Sessions returns status for every active session, ordered by path.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	sessions := make([]*LogSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Path < infos[j].Path
	})
	return infos
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close ends every session and waits for their goroutines. Subscribers get
// a closed message before their transport is closed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*LogSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.teardownLocked(ReasonShutdown, nil)
		s.mu.Unlock()
	}

	m.wg.Wait()
	m.logger.Debug("session manager closed", "sessions", len(sessions))
	return nil
}

// session returns the active session for key, creating it if needed.
func (m *Manager) session(key string) (*LogSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}

	s := newSession(key, m.config, m.logger, m.retire)
	m.sessions[key] = s
	return s, nil
}

// retire forgets s and waits for it in the background. It runs with the
// session's mu held.
func (m *Manager) retire(s *LogSession) {
	m.mu.Lock()
	if current, ok := m.sessions[s.path]; ok && current == s {
		delete(m.sessions, s.path)
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		s.wait()
	}()
}

// NormalizePath returns the absolute, cleaned form of path with a leading ~
// expanded.
func NormalizePath(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	abs, err := filepath.Abs(watcher.ExpandHome(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}
