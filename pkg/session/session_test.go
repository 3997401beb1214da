package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/0xmhha/logwatch/pkg/broadcast"
	"github.com/0xmhha/logwatch/pkg/coalescer"
	"github.com/0xmhha/logwatch/pkg/logger"
	"github.com/0xmhha/logwatch/pkg/reader"
	"github.com/0xmhha/logwatch/pkg/stats"
	"github.com/0xmhha/logwatch/pkg/tail"
	"github.com/0xmhha/logwatch/pkg/watcher"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeWatcher implements watcher.Watcher with channels the test drives.
type fakeWatcher struct {
	events chan watcher.Event
	errors chan error

	mu      sync.Mutex
	started bool
	closed  bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events: make(chan watcher.Event, 16),
		errors: make(chan error, 4),
	}
}

func (w *fakeWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = true
	return nil
}

func (w *fakeWatcher) Events() <-chan watcher.Event { return w.events }
func (w *fakeWatcher) Errors() <-chan error         { return w.errors }

func (w *fakeWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.events)
	close(w.errors)
	return nil
}

func (w *fakeWatcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// notify simulates a write notification.
func (w *fakeWatcher) notify() {
	w.events <- watcher.Event{Op: watcher.OpWrite, Timestamp: time.Now()}
}

type fakeFactory struct {
	mu       sync.Mutex
	watchers []*fakeWatcher
}

func (f *fakeFactory) New(path string, log logger.Logger) (watcher.Watcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := newFakeWatcher()
	f.watchers = append(f.watchers, w)
	return w, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

func (f *fakeFactory) last() *fakeWatcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchers[len(f.watchers)-1]
}

// fakeConn records everything written to it.
type fakeConn struct {
	mu     sync.Mutex
	msgs   []broadcast.Message
	closed bool
	reason string
}

func (c *fakeConn) Write(ctx context.Context, msg broadcast.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.reason = reason
	return nil
}

func (c *fakeConn) messages() []broadcast.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]broadcast.Message(nil), c.msgs...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func waitMessages(t *testing.T, c *fakeConn, n int) []broadcast.Message {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.messages()) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d messages", n)
	return c.messages()
}

func newTestManager(t *testing.T, f *fakeFactory, store stats.Store) *Manager {
	t.Helper()
	return newTestManagerWithReader(t, f, store, reader.Config{})
}

func newTestManagerWithReader(t *testing.T, f *fakeFactory, store stats.Store, rc reader.Config) *Manager {
	t.Helper()
	cfg := Config{
		Lines:    10,
		Coalesce: coalescer.Config{QuietWindow: 20 * time.Millisecond},
		Reader:   rc,
		Stats:    store,
	}
	if f != nil {
		cfg.NewWatcher = f.New
	}
	m := NewManager(cfg, logger.Noop())
	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})
	return m
}

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600) // nolint:gosec
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func letters(from, to byte) []string {
	var out []string
	for c := from; c <= to; c++ {
		out = append(out, string(c))
	}
	return out
}

func TestSnapshotThenDelta(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(t, f, nil)
	path := writeLog(t, strings.Join(letters('a', 'j'), "\n")+"\n")

	first := &fakeConn{}
	_, err := m.Subscribe(context.Background(), path, first)
	require.NoError(t, err)

	msgs := waitMessages(t, first, 1)
	assert.Equal(t, broadcast.KindSnapshot, msgs[0].Kind)
	assert.Equal(t, "a\nb\nc\nd\ne\nf\ng\nh\ni\nj", msgs[0].Payload())

	appendLog(t, path, "k\n")
	f.last().notify()

	msgs = waitMessages(t, first, 2)
	assert.Equal(t, broadcast.KindDelta, msgs[1].Kind)
	assert.Equal(t, []string{"k"}, msgs[1].Lines)

	second := &fakeConn{}
	_, err = m.Subscribe(context.Background(), path, second)
	require.NoError(t, err)

	msgs = waitMessages(t, second, 1)
	assert.Equal(t, broadcast.KindSnapshot, msgs[0].Kind)
	assert.Equal(t, letters('b', 'k'), msgs[0].Lines)

	// One file, one watch.
	assert.Equal(t, 1, f.count())
	assert.Equal(t, 1, m.Len())
}

func TestUnterminatedLastLine(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(t, f, nil)
	path := writeLog(t, "a\nb")

	first := &fakeConn{}
	_, err := m.Subscribe(context.Background(), path, first)
	require.NoError(t, err)
	msgs := waitMessages(t, first, 1)
	assert.Equal(t, []string{"a", "b"}, msgs[0].Lines)

	appendLog(t, path, "c\n")
	f.last().notify()
	msgs = waitMessages(t, first, 2)
	assert.Equal(t, []string{"c"}, msgs[1].Lines)

	// A later subscriber sees the file as it is, not the stream's split.
	want, err := tail.ReadLast(context.Background(), path, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "bc"}, want.Lines)

	second := &fakeConn{}
	_, err = m.Subscribe(context.Background(), path, second)
	require.NoError(t, err)
	msgs = waitMessages(t, second, 1)
	assert.Equal(t, want.Lines, msgs[0].Lines)

	// Only the first delta line continues the open line.
	appendLog(t, path, "d\n")
	f.last().notify()
	waitMessages(t, first, 3)

	third := &fakeConn{}
	_, err = m.Subscribe(context.Background(), path, third)
	require.NoError(t, err)
	msgs = waitMessages(t, third, 1)
	assert.Equal(t, []string{"a", "bc", "d"}, msgs[0].Lines)
}

func TestTransientReadErrorKeepsWatching(t *testing.T) {
	var failing atomic.Bool
	var failures atomic.Int32
	open := func(name string) (*os.File, error) {
		if failing.Load() {
			failures.Add(1)
			return nil, errors.New("input/output error")
		}
		return os.Open(name) // nolint:gosec
	}

	f := &fakeFactory{}
	m := newTestManagerWithReader(t, f, nil, reader.Config{MaxRetries: -1, Open: open})
	path := writeLog(t, "line\n")

	conn := &fakeConn{}
	_, err := m.Subscribe(context.Background(), path, conn)
	require.NoError(t, err)
	waitMessages(t, conn, 1)

	appendLog(t, path, "k\n")
	failing.Store(true)
	f.last().notify()
	require.Eventually(t, func() bool { return failures.Load() > 0 }, 2*time.Second, 5*time.Millisecond)

	infos := m.Sessions()
	require.Len(t, infos, 1)
	assert.Equal(t, "watching", infos[0].State)
	assert.Equal(t, int64(5), infos[0].Anchor)
	assert.Equal(t, int64(0), infos[0].Reconciliations)
	assert.Len(t, conn.messages(), 1)
	assert.False(t, conn.isClosed())

	failing.Store(false)
	f.last().notify()
	msgs := waitMessages(t, conn, 2)
	assert.Equal(t, broadcast.KindDelta, msgs[1].Kind)
	assert.Equal(t, []string{"k"}, msgs[1].Lines)

	// A further pass finds nothing new.
	f.last().notify()
	require.Eventually(t, func() bool {
		infos := m.Sessions()
		return len(infos) == 1 && infos[0].Reconciliations == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, conn.messages(), 2)
	assert.Equal(t, int64(7), m.Sessions()[0].Anchor)
}

func TestReadBackoffDoesNotBlockSubscribers(t *testing.T) {
	var failures atomic.Int32
	open := func(name string) (*os.File, error) {
		failures.Add(1)
		return nil, errors.New("input/output error")
	}

	// The mock clock is never advanced, so the read stays in backoff until
	// the session is torn down.
	f := &fakeFactory{}
	m := newTestManagerWithReader(t, f, nil, reader.Config{
		MaxRetries: 3,
		RetryDelay: time.Hour,
		Clock:      clock.NewMock(),
		Open:       open,
	})
	path := writeLog(t, "line\n")

	first := &fakeConn{}
	_, err := m.Subscribe(context.Background(), path, first)
	require.NoError(t, err)

	appendLog(t, path, "more\n")
	f.last().notify()
	require.Eventually(t, func() bool { return failures.Load() > 0 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		second := &fakeConn{}
		sub, subErr := m.Subscribe(context.Background(), path, second)
		if subErr == nil {
			m.Unsubscribe(path, sub.ID())
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe blocked while a read was backing off")
	}
	assert.Equal(t, 1, m.Len())
}

func TestFileGoneClosesSubscribers(t *testing.T) {
	f := &fakeFactory{}
	store := stats.NewMemoryStore()
	m := newTestManager(t, f, store)
	path := writeLog(t, "line\n")

	conn := &fakeConn{}
	_, err := m.Subscribe(context.Background(), path, conn)
	require.NoError(t, err)
	waitMessages(t, conn, 1)

	// The read notices the removal, not the watcher.
	require.NoError(t, os.Remove(path))
	f.last().notify()

	msgs := waitMessages(t, conn, 2)
	assert.Equal(t, broadcast.KindClosed, msgs[1].Kind)
	assert.Equal(t, ReasonFileGone, msgs[1].Reason)
	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)

	key, err := NormalizePath(path)
	require.NoError(t, err)
	r, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, ReasonFileGone, r.CloseReason)
	assert.Contains(t, r.LastError, "file not found")
}

func TestFanOutReadsOnce(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(t, f, nil)
	path := writeLog(t, "start\n")

	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = &fakeConn{}
		_, err := m.Subscribe(context.Background(), path, conns[i])
		require.NoError(t, err)
	}

	appendLog(t, path, "x\ny\n")
	// A burst of notifications inside one quiet window.
	for i := 0; i < 5; i++ {
		f.last().notify()
	}

	for _, c := range conns {
		msgs := waitMessages(t, c, 2)
		assert.Equal(t, []string{"x", "y"}, msgs[1].Lines)
	}

	infos := m.Sessions()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(1), infos[0].Reconciliations)
	assert.Len(t, infos[0].Subscribers, 5)
	assert.Equal(t, "watching", infos[0].State)
}

func TestNoLossAcrossAppends(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(t, f, nil)
	path := writeLog(t, "")

	conn := &fakeConn{}
	_, err := m.Subscribe(context.Background(), path, conn)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 20; i++ {
		line := strings.Repeat(string(rune('a'+i)), i+1)
		want = append(want, line)
		// Split each line across two writes to exercise the carry.
		appendLog(t, path, line[:len(line)/2])
		if i%3 == 0 {
			f.last().notify()
		}
		appendLog(t, path, line[len(line)/2:]+"\n")
		if i%2 == 0 {
			f.last().notify()
		}
	}
	f.last().notify()

	var got []string
	require.Eventually(t, func() bool {
		got = got[:0]
		for _, msg := range conn.messages() {
			if msg.Kind == broadcast.KindDelta {
				got = append(got, msg.Lines...)
			}
		}
		return len(got) >= len(want)
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, want, got)
}

func TestTruncationResets(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(t, f, nil)
	path := writeLog(t, "one\ntwo\nthree\n")

	conn := &fakeConn{}
	_, err := m.Subscribe(context.Background(), path, conn)
	require.NoError(t, err)
	waitMessages(t, conn, 1)

	require.NoError(t, os.WriteFile(path, []byte("new\n"), 0600))
	f.last().notify()

	msgs := waitMessages(t, conn, 2)
	assert.Equal(t, broadcast.KindReset, msgs[1].Kind)
	assert.Equal(t, []string{"new"}, msgs[1].Lines)

	infos := m.Sessions()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(4), infos[0].Anchor)
	assert.Equal(t, int64(1), infos[0].Resets)

	// Appends after the reset continue from the new anchor.
	appendLog(t, path, "next\n")
	f.last().notify()
	msgs = waitMessages(t, conn, 3)
	assert.Equal(t, broadcast.KindDelta, msgs[2].Kind)
	assert.Equal(t, []string{"next"}, msgs[2].Lines)
}

func TestWatchLostClosesSubscribers(t *testing.T) {
	f := &fakeFactory{}
	store := stats.NewMemoryStore()
	m := newTestManager(t, f, store)
	path := writeLog(t, "line\n")

	conn := &fakeConn{}
	_, err := m.Subscribe(context.Background(), path, conn)
	require.NoError(t, err)
	waitMessages(t, conn, 1)

	fw := f.last()
	fw.errors <- watcher.ErrWatchLost

	msgs := waitMessages(t, conn, 2)
	assert.Equal(t, broadcast.KindClosed, msgs[1].Kind)
	assert.Equal(t, ReasonWatchLost, msgs[1].Reason)

	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	assert.True(t, fw.isClosed())
	assert.Equal(t, 0, m.Len())

	key, err := NormalizePath(path)
	require.NoError(t, err)
	r, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, ReasonWatchLost, r.CloseReason)
	assert.False(t, r.Open())
}

func TestNonFatalWatcherErrorKeepsWatching(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(t, f, nil)
	path := writeLog(t, "line\n")

	conn := &fakeConn{}
	_, err := m.Subscribe(context.Background(), path, conn)
	require.NoError(t, err)

	f.last().errors <- errors.New("queue overflow")

	appendLog(t, path, "after\n")
	f.last().notify()

	msgs := waitMessages(t, conn, 2)
	assert.Equal(t, []string{"after"}, msgs[1].Lines)
	assert.Equal(t, 1, m.Len())
}

func TestLastUnsubscribeStopsWatch(t *testing.T) {
	f := &fakeFactory{}
	store := stats.NewMemoryStore()
	m := newTestManager(t, f, store)
	path := writeLog(t, "line\n")

	first, second := &fakeConn{}, &fakeConn{}
	sub1, err := m.Subscribe(context.Background(), path, first)
	require.NoError(t, err)
	sub2, err := m.Subscribe(context.Background(), path, second)
	require.NoError(t, err)

	fw := f.last()

	assert.True(t, m.Unsubscribe(path, sub1.ID()))
	assert.False(t, fw.isClosed(), "watch stopped with a subscriber left")
	assert.Equal(t, 1, m.Len())

	// Unknown ids do nothing.
	assert.False(t, m.Unsubscribe(path, "missing"))

	assert.True(t, m.Unsubscribe(path, sub2.ID()))
	assert.True(t, fw.isClosed())
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Unsubscribe(path, sub2.ID()))

	<-sub1.Done()
	<-sub2.Done()
	assert.True(t, first.isClosed())
	assert.True(t, second.isClosed())

	key, err := NormalizePath(path)
	require.NoError(t, err)
	r, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, ReasonLastSubscriber, r.CloseReason)

	// A later subscriber gets a fresh session and watch.
	third := &fakeConn{}
	_, err = m.Subscribe(context.Background(), path, third)
	require.NoError(t, err)
	assert.Equal(t, 2, f.count())
	assert.Equal(t, 1, m.Len())

	r, err = store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.Opens)
}

func TestStatsRecordDeliveries(t *testing.T) {
	f := &fakeFactory{}
	store := stats.NewMemoryStore()
	m := newTestManager(t, f, store)
	path := writeLog(t, "")

	conn := &fakeConn{}
	_, err := m.Subscribe(context.Background(), path, conn)
	require.NoError(t, err)

	appendLog(t, path, "hello\nworld\n")
	f.last().notify()
	waitMessages(t, conn, 2)

	key, err := NormalizePath(path)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		r, getErr := store.Get(key)
		return getErr == nil && r.LinesDelivered == 2
	}, time.Second, 5*time.Millisecond)

	r, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, int64(12), r.BytesDelivered)
	assert.Equal(t, 1, r.PeakSubscribers)
	assert.True(t, r.Open())
}

func TestSubscribeMissingFile(t *testing.T) {
	m := newTestManager(t, nil, nil)

	_, err := m.Subscribe(context.Background(), filepath.Join(t.TempDir(), "missing.log"), &fakeConn{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tail.ErrFileNotFound), "error = %v", err)
	assert.Equal(t, 0, m.Len())
}

func TestSubscribeValidation(t *testing.T) {
	m := newTestManager(t, &fakeFactory{}, nil)

	_, err := m.Subscribe(context.Background(), "/var/log/app.log", nil)
	assert.ErrorIs(t, err, ErrNilConn)

	_, err = m.Subscribe(context.Background(), "", &fakeConn{})
	assert.ErrorIs(t, err, ErrEmptyPath)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Subscribe(ctx, "/var/log/app.log", &fakeConn{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManagerClose(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(Config{NewWatcher: f.New}, logger.Noop())
	path := writeLog(t, "line\n")

	conn := &fakeConn{}
	sub, err := m.Subscribe(context.Background(), path, conn)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	<-sub.Done()
	msgs := conn.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, broadcast.KindClosed, msgs[1].Kind)
	assert.Equal(t, ReasonShutdown, msgs[1].Reason)
	assert.True(t, f.last().isClosed())

	_, err = m.Subscribe(context.Background(), path, &fakeConn{})
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestRealWatcher(t *testing.T) {
	m := newTestManager(t, nil, nil)
	path := writeLog(t, "first\n")

	conn := &fakeConn{}
	_, err := m.Subscribe(context.Background(), path, conn)
	require.NoError(t, err)
	waitMessages(t, conn, 1)

	appendLog(t, path, "second\n")

	msgs := waitMessages(t, conn, 2)
	assert.Equal(t, broadcast.KindDelta, msgs[1].Kind)
	assert.Equal(t, []string{"second"}, msgs[1].Lines)

	require.NoError(t, os.Remove(path))
	msgs = waitMessages(t, conn, 3)
	assert.Equal(t, broadcast.KindClosed, msgs[2].Kind)
	require.Eventually(t, func() bool { return m.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestAppendTail(t *testing.T) {
	tests := []struct {
		name  string
		cache []string
		lines []string
		n     int
		want  []string
	}{
		{"fits", []string{"a"}, []string{"b"}, 3, []string{"a", "b"}},
		{"drops oldest", []string{"a", "b", "c"}, []string{"d"}, 3, []string{"b", "c", "d"}},
		{"delta exceeds n", []string{"a"}, []string{"b", "c", "d", "e"}, 3, []string{"c", "d", "e"}},
		{"empty cache", nil, []string{"a"}, 2, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, appendTail(tt.cache, tt.lines, tt.n))
		})
	}
}

func TestMergeTail(t *testing.T) {
	tests := []struct {
		name  string
		cache []string
		lines []string
		open  bool
		want  []string
	}{
		{"closed line", []string{"a", "b"}, []string{"c"}, false, []string{"a", "b", "c"}},
		{"open line", []string{"a", "b"}, []string{"c", "d"}, true, []string{"a", "bc", "d"}},
		{"open line trimmed", []string{"a", "b", "c"}, []string{"x", "y"}, true, []string{"b", "cx", "y"}},
		{"open with empty cache", nil, []string{"c"}, true, []string{"c"}},
		{"no lines", []string{"a"}, nil, true, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeTail(tt.cache, tt.lines, 3, tt.open))
		})
	}

	// The cache passed in is left alone.
	cache := []string{"a", "b"}
	mergeTail(cache, []string{"c"}, 3, true)
	assert.Equal(t, []string{"a", "b"}, cache)
}

func TestNormalizePath(t *testing.T) {
	abs, err := NormalizePath("/var/log/../log/app.log")
	require.NoError(t, err)
	assert.Equal(t, "/var/log/app.log", abs)

	rel, err := NormalizePath("app.log")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(rel))

	_, err = NormalizePath("")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "watching", StateWatching.String())
	assert.Equal(t, "unknown", State(9).String())
}
