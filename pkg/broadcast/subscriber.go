package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/0xmhha/logwatch/pkg/logger"
)

// Subscriber is one consumer of a broadcast stream.
type Subscriber struct {
	id     string
	joined time.Time
	conn   Conn
	config Config
	logger logger.Logger

	queue chan Message
	done  chan struct{}

	mu      sync.Mutex
	pending int64
	closed  bool
	reason  string
	err     error

	delivered atomic.Int64

	// onExit runs on the writer goroutine after the transport is closed.
	onExit func(*Subscriber)
}

// NewSubscriber wraps conn and starts its writer goroutine.
func NewSubscriber(conn Conn, cfg Config, log logger.Logger) *Subscriber {
	return newSubscriber(conn, cfg, log, nil)
}

func newSubscriber(conn Conn, cfg Config, log logger.Logger, onExit func(*Subscriber)) *Subscriber {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Noop()
	}

	id := uuid.NewString()
	s := &Subscriber{
		id:     id,
		joined: time.Now(),
		conn:   conn,
		config: cfg,
		logger: log.With("subscriber", id),
		queue:  make(chan Message, cfg.QueueSize),
		done:   make(chan struct{}),
		onExit: onExit,
	}

	go s.writeLoop()

	return s
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string {
	return s.id
}

// Joined returns when the subscriber was created.
func (s *Subscriber) Joined() time.Time {
	return s.joined
}

// Done is closed once the writer has exited and the transport is closed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that disconnected the subscriber, if any.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Info returns a status snapshot.
func (s *Subscriber) Info() Info {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()

	return Info{
		ID:           s.id,
		Joined:       s.joined,
		Delivered:    s.delivered.Load(),
		PendingBytes: pending,
	}
}

// Enqueue queues msg for delivery without blocking.
func (s *Subscriber) Enqueue(msg Message) error {
	size := msg.Size()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	// One oversized message is accepted when nothing else is waiting.
	if s.pending > 0 && s.pending+size > s.config.MaxPendingBytes {
		return fmt.Errorf("%w: %d bytes pending", ErrSlowSubscriber, s.pending)
	}

	select {
	case s.queue <- msg:
		s.pending += size
		return nil
	default:
		return ErrQueueFull
	}
}

// Close delivers what is already queued, then closes the transport with
// reason. It does not wait; use Done for that. Close is idempotent.
func (s *Subscriber) Close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(reason)
}

// abort disconnects the subscriber, discarding anything still queued.
func (s *Subscriber) abort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err == nil {
		s.err = err
	}
	s.closeLocked(err.Error())
}

func (s *Subscriber) closeLocked(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
	close(s.queue)
}

func (s *Subscriber) writeLoop() {
	defer close(s.done)

	for msg := range s.queue {
		s.mu.Lock()
		s.pending -= msg.Size()
		failed := s.err != nil
		s.mu.Unlock()

		if failed {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
		err := s.conn.Write(ctx, msg)
		cancel()

		if err != nil {
			s.logger.Debug("write failed", "kind", msg.Kind.String(), "error", err)
			s.abort(fmt.Errorf("%w: %v", ErrWriteFailed, err))
			continue
		}
		s.delivered.Add(1)
	}

	s.mu.Lock()
	reason := s.reason
	s.mu.Unlock()

	if err := s.conn.Close(reason); err != nil {
		s.logger.Debug("close failed", "error", err)
	}

	if s.onExit != nil {
		s.onExit(s)
	}
}
