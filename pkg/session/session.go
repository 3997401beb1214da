package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/0xmhha/logwatch/pkg/broadcast"
	"github.com/0xmhha/logwatch/pkg/coalescer"
	"github.com/0xmhha/logwatch/pkg/logger"
	"github.com/0xmhha/logwatch/pkg/reader"
	"github.com/0xmhha/logwatch/pkg/stats"
	"github.com/0xmhha/logwatch/pkg/tail"
	"github.com/0xmhha/logwatch/pkg/watcher"
)

// Close reasons sent to subscribers.
const (
	ReasonLastSubscriber = "last subscriber left"
	ReasonWatchLost      = "watch lost"
	ReasonFileGone       = "file not found"
	ReasonShutdown       = "server shutting down"
	reasonUnsubscribed   = "unsubscribed"
)

// LogSession owns the watch, anchor, snapshot cache and subscribers of one
// file. A session is used once: after it returns to Idle it is discarded.
type LogSession struct {
	path     string
	config   Config
	logger   logger.Logger
	clock    clock.Clock
	onRetire func(*LogSession)

	// mu serializes subscribe, unsubscribe, reconciliation and teardown.
	mu      sync.Mutex
	state   State
	retired bool
	since   time.Time

	runCtx  context.Context
	cancel  context.CancelFunc
	watcher watcher.Watcher
	coal    *coalescer.Coalescer
	cursor  *reader.Cursor
	bcast   *broadcast.Broadcaster

	// cache is the current tail-N, replayed to new subscribers. When open is
	// set its last line had no newline yet and the next delta line ends it.
	cache []string
	open  bool
	subs  []*broadcast.Subscriber

	reconciliations int64
	resets          int64

	dropMu   sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func newSession(path string, cfg Config, log logger.Logger, onRetire func(*LogSession)) *LogSession {
	clk := cfg.Coalesce.Clock
	if clk == nil {
		clk = clock.New()
	}
	log = log.With("path", path)

	s := &LogSession{
		path:     path,
		config:   cfg,
		logger:   log,
		clock:    clk,
		onRetire: onRetire,
		bcast:    broadcast.New(cfg.Delivery, log),
	}
	s.bcast.OnDrop(s.handleDrop)
	return s
}

// Path returns the absolute path of the watched file.
func (s *LogSession) Path() string {
	return s.path
}

// State returns the current lifecycle state.
func (s *LogSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers conn and queues the current snapshot to it ahead of
// any later delta. The first subscriber starts the watch.
func (s *LogSession) Subscribe(ctx context.Context, conn broadcast.Conn) (*broadcast.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retired {
		return nil, ErrSessionEnded
	}

	if s.state == StateIdle {
		if err := s.start(ctx); err != nil {
			s.retired = true
			s.onRetire(s)
			return nil, err
		}
	}

	snapshot := broadcast.Message{
		Kind:  broadcast.KindSnapshot,
		Lines: append([]string(nil), s.cache...),
	}
	sub, err := s.bcast.Add(conn, snapshot)
	if err != nil {
		if s.bcast.Len() == 0 {
			s.teardownLocked(ReasonLastSubscriber, nil)
		}
		return nil, fmt.Errorf("failed to add subscriber: %w", err)
	}
	s.track(sub)

	s.logger.Info("subscriber connected",
		"subscriber", sub.ID(),
		"subscribers", s.bcast.Len(),
		"snapshot_lines", len(snapshot.Lines))

	return sub, nil
}

// Unsubscribe removes the subscriber with id. Removing the last subscriber
// returns the session to Idle. It reports whether id was subscribed.
func (s *LogSession) Unsubscribe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retired {
		return false
	}

	removed := s.bcast.Remove(id, reasonUnsubscribed)
	if removed {
		s.logger.Info("subscriber disconnected",
			"subscriber", id,
			"subscribers", s.bcast.Len())
	}
	if s.bcast.Len() == 0 {
		s.teardownLocked(ReasonLastSubscriber, nil)
	}
	return removed
}

// Info returns the session status.
func (s *LogSession) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		Path:            s.path,
		State:           s.state.String(),
		Since:           s.since,
		Reconciliations: s.reconciliations,
		Resets:          s.resets,
		Subscribers:     s.bcast.Subscribers(),
	}
	if s.cursor != nil {
		info.Anchor = s.cursor.Anchor()
	}
	return info
}

// start performs the Idle to Watching transition. Caller holds mu.
//
// The watch is established before the snapshot is taken, so a write landing
// between the two is picked up by the first reconciliation.
func (s *LogSession) start(ctx context.Context) error {
	w, err := s.config.NewWatcher(s.path, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := w.Start(runCtx); err != nil {
		cancel()
		s.closeWatcher(w)
		if errors.Is(err, watcher.ErrFileNotFound) {
			return fmt.Errorf("%w: %s", tail.ErrFileNotFound, s.path)
		}
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	snap, err := tail.ReadLast(ctx, s.path, s.config.Lines, s.config.ChunkSize)
	if err != nil {
		cancel()
		s.closeWatcher(w)
		s.logger.Warn("initial snapshot failed", "error", err)
		return err
	}

	cursor := reader.New(s.path, s.config.Reader, s.logger)
	if err := cursor.Reset(snap.Anchor); err != nil {
		cancel()
		s.closeWatcher(w)
		return err
	}

	coal, err := coalescer.New(s.config.Coalesce, s.reconcile, s.logger)
	if err != nil {
		cancel()
		s.closeWatcher(w)
		return fmt.Errorf("failed to create coalescer: %w", err)
	}

	s.runCtx = runCtx
	s.cancel = cancel
	s.watcher = w
	s.cursor = cursor
	s.coal = coal
	s.cache = snap.Lines
	s.open = snap.Partial
	s.state = StateWatching
	s.since = s.clock.Now()

	if s.config.Stats != nil {
		if err := s.config.Stats.Opened(s.path, s.since); err != nil {
			s.logger.Warn("failed to record session open", "error", err)
		}
	}

	s.wg.Add(1)
	go s.watchLoop(runCtx, w, coal)

	s.logger.Info("session watching",
		"lines", len(snap.Lines),
		"anchor", snap.Anchor)
	return nil
}

// watchLoop turns watcher output into coalescer notifications.
func (s *LogSession) watchLoop(ctx context.Context, w watcher.Watcher, coal *coalescer.Coalescer) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-w.Events():
			if !ok {
				return
			}
			coal.Notify()

		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			if watcher.IsFatal(err) {
				s.logger.Warn("watch lost", "error", err)
				s.mu.Lock()
				s.teardownLocked(ReasonWatchLost, err)
				s.mu.Unlock()
				return
			}
			s.logger.Warn("watcher error", "error", err)
		}
	}
}

// reconcile reads what was appended since the anchor and broadcasts it. It
// runs on the coalescer, which never overlaps calls.
//
// The read, including retry backoff, runs without mu. Only reconcile moves
// the cursor; the cache update and fan-out happen together under mu.
func (s *LogSession) reconcile() {
	s.mu.Lock()
	if s.state != StateWatching {
		s.mu.Unlock()
		return
	}
	ctx, cursor := s.runCtx, s.cursor
	s.mu.Unlock()

	delta, err := cursor.Read(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateWatching {
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, reader.ErrFileNotFound) {
			s.teardownLocked(ReasonFileGone, err)
			return
		}
		// The anchor is unchanged; the next notification retries the range.
		s.logger.Warn("reconciliation failed", "error", err)
		return
	}

	s.reconciliations++

	if delta.Reset {
		s.resetLocked()
		return
	}
	if len(delta.Lines) == 0 {
		return
	}

	s.cache = mergeTail(s.cache, delta.Lines, s.config.Lines, s.open)
	s.open = false
	accepted := s.bcast.Broadcast(broadcast.Message{
		Kind:  broadcast.KindDelta,
		Lines: delta.Lines,
	})

	s.logger.Debug("delta delivered",
		"lines", len(delta.Lines),
		"bytes", delta.Bytes,
		"anchor", delta.Anchor,
		"subscribers", accepted)

	s.record(stats.Activity{
		Reconciliations: 1,
		Bytes:           delta.Bytes,
		Lines:           int64(len(delta.Lines)),
		Subscribers:     accepted,
	})

	if s.bcast.Len() == 0 {
		s.teardownLocked(ReasonLastSubscriber, nil)
	}
}

// resetLocked re-establishes the snapshot and anchor after truncation.
func (s *LogSession) resetLocked() {
	snap, err := tail.ReadLast(s.runCtx, s.path, s.config.Lines, s.config.ChunkSize)
	if err != nil {
		if errors.Is(err, tail.ErrFileNotFound) {
			s.teardownLocked(ReasonFileGone, err)
			return
		}
		// The cursor still reports a reset, so the next pass tries again.
		s.logger.Warn("snapshot after truncation failed", "error", err)
		return
	}
	if err := s.cursor.Reset(snap.Anchor); err != nil {
		s.logger.Error("failed to reset cursor", "error", err)
		return
	}

	s.resets++
	s.cache = snap.Lines
	s.open = snap.Partial
	accepted := s.bcast.Broadcast(broadcast.Message{
		Kind:  broadcast.KindReset,
		Lines: append([]string(nil), snap.Lines...),
	})

	s.logger.Info("file truncated, snapshot reset",
		"anchor", snap.Anchor,
		"lines", len(snap.Lines),
		"subscribers", accepted)

	s.record(stats.Activity{
		Reconciliations: 1,
		Resets:          1,
		Lines:           int64(len(snap.Lines)),
		Subscribers:     accepted,
	})

	if s.bcast.Len() == 0 {
		s.teardownLocked(ReasonLastSubscriber, nil)
	}
}

// teardownLocked moves the session to Idle for good. It never blocks on the
// goroutines it stops; wait does that. Caller holds mu.
func (s *LogSession) teardownLocked(reason string, cause error) {
	if s.retired {
		return
	}
	s.retired = true
	wasWatching := s.state == StateWatching
	s.state = StateIdle

	if s.coal != nil {
		s.coal.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		s.closeWatcher(s.watcher)
	}
	s.bcast.CloseAll(reason)

	if wasWatching && s.config.Stats != nil {
		if err := s.config.Stats.Closed(s.path, s.clock.Now(), reason, cause); err != nil {
			s.logger.Warn("failed to record session close", "error", err)
		}
	}

	s.logger.Info("session idle", "reason", reason, "error", cause)
	s.onRetire(s)
}

// wait blocks until every goroutine started by the session has exited.
// Call it after teardown and never from a session goroutine.
func (s *LogSession) wait() {
	s.mu.Lock()
	coal := s.coal
	subs := s.subs
	s.mu.Unlock()

	if coal != nil {
		coal.Wait()
	}
	for _, sub := range subs {
		<-sub.Done()
	}

	s.dropMu.Lock()
	s.draining = true
	s.dropMu.Unlock()
	s.wg.Wait()
}

// handleDrop runs when the broadcaster disconnects a subscriber. It may be
// called while mu is held, so the idle check happens on its own goroutine.
func (s *LogSession) handleDrop(sub *broadcast.Subscriber, err error) {
	s.logger.Warn("subscriber dropped", "subscriber", sub.ID(), "error", err)

	s.dropMu.Lock()
	if s.draining {
		s.dropMu.Unlock()
		return
	}
	s.wg.Add(1)
	s.dropMu.Unlock()

	go func() {
		defer s.wg.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.retired && s.bcast.Len() == 0 {
			s.teardownLocked(ReasonLastSubscriber, nil)
		}
	}()
}

// track remembers sub so wait can block on it. Caller holds mu.
func (s *LogSession) track(sub *broadcast.Subscriber) {
	live := s.subs[:0]
	for _, existing := range s.subs {
		select {
		case <-existing.Done():
		default:
			live = append(live, existing)
		}
	}
	s.subs = append(live, sub)
}

func (s *LogSession) record(a stats.Activity) {
	if s.config.Stats == nil {
		return
	}
	if err := s.config.Stats.Record(s.path, a); err != nil {
		s.logger.Warn("failed to record activity", "error", err)
	}
}

func (s *LogSession) closeWatcher(w watcher.Watcher) {
	if err := w.Close(); err != nil {
		s.logger.Warn("failed to close watcher", "error", err)
	}
}

// appendTail appends lines to cache and keeps the last n.
func appendTail(cache, lines []string, n int) []string {
	if len(lines) >= n {
		return append([]string(nil), lines[len(lines)-n:]...)
	}
	keep := n - len(lines)
	if len(cache) > keep {
		cache = cache[len(cache)-keep:]
	}
	out := make([]string, 0, len(cache)+len(lines))
	out = append(out, cache...)
	return append(out, lines...)
}

// mergeTail is appendTail for a cache whose last line may still be open.
// The first delta line then completes it instead of starting a new line.
func mergeTail(cache, lines []string, n int, open bool) []string {
	if !open || len(cache) == 0 || len(lines) == 0 {
		return appendTail(cache, lines, n)
	}
	merged := append([]string(nil), cache...)
	merged[len(merged)-1] += lines[0]
	return appendTail(merged, lines[1:], n)
}
