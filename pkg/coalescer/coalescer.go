// Package coalescer turns a burst of change notifications into a single
// callback.
//
// Each Notify restarts a quiet window. The callback runs once the window
// elapses with no further notifications, or when MaxWait has passed since the
// first notification of the burst, whichever comes first. Callbacks never
// overlap: a notification that arrives while the callback is running is
// remembered, and exactly one more run follows immediately after.
//
// Example usage:
//
//	c, err := coalescer.New(coalescer.Config{
//	    QuietWindow: 100 * time.Millisecond,
//	    MaxWait:     time.Second,
//	}, reconcile, logger.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop()
//
//	for range events {
//	    c.Notify()
//	}
package coalescer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/0xmhha/logwatch/pkg/logger"
)

// Config contains coalescer configuration.
type Config struct {
	// QuietWindow is how long notifications must stop before the callback
	// runs. Default: 100ms.
	QuietWindow time.Duration

	// MaxWait bounds the delay from the first notification of a burst to
	// the callback. Zero disables the bound.
	MaxWait time.Duration

	// Clock drives the timers. Default: wall clock.
	Clock clock.Clock
}

// Coalescer debounces notifications into serialized callback runs.
type Coalescer struct {
	config Config
	clock  clock.Clock
	fn     func()
	logger logger.Logger

	mu      sync.Mutex
	timer   *clock.Timer
	gen     uint64    // bumped whenever the armed timer is superseded
	first   time.Time // first notification of the current burst
	armed   bool
	running bool
	pending bool
	stopped bool
	runs    uint64

	inflight sync.WaitGroup
}

// New creates a coalescer that calls fn.
func New(cfg Config, fn func(), log logger.Logger) (*Coalescer, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}

	// Set defaults.
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = 100 * time.Millisecond
	}
	if cfg.MaxWait < 0 || (cfg.MaxWait > 0 && cfg.MaxWait < cfg.QuietWindow) {
		return nil, ErrInvalidMaxWait
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if log == nil {
		log = logger.Noop()
	}

	return &Coalescer{
		config: cfg,
		clock:  cfg.Clock,
		fn:     fn,
		logger: log,
	}, nil
}

// Notify records a change. It never blocks on the callback.
func (c *Coalescer) Notify() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if c.running {
		c.pending = true
		return
	}

	now := c.clock.Now()
	if !c.armed {
		c.first = now
		c.armed = true
	}

	delay := c.config.QuietWindow
	if c.config.MaxWait > 0 {
		if remaining := c.first.Add(c.config.MaxWait).Sub(now); remaining < delay {
			delay = remaining
		}
		if delay < 0 {
			delay = 0
		}
	}

	c.arm(delay)
}

// Flush runs the callback now on the calling goroutine, cancelling any armed
// timer. If a run is in flight, one more run is scheduled after it instead.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.disarm()
	if c.running {
		c.pending = true
		c.mu.Unlock()
		return
	}
	c.running = true
	c.inflight.Add(1)
	c.mu.Unlock()

	c.run()
}

// Pending reports whether a callback run is scheduled but has not started.
func (c *Coalescer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed || c.pending
}

// Runs returns how many times the callback has completed.
func (c *Coalescer) Runs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

// Stop cancels any scheduled run. A run already in progress finishes, but
// nothing follows it. Stop is idempotent and safe to call from the callback.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	c.pending = false
	c.disarm()
}

// Wait blocks until no callback is running. Call it after Stop, and never
// from the callback itself.
func (c *Coalescer) Wait() {
	c.inflight.Wait()
}

// arm replaces the timer. Caller holds mu.
func (c *Coalescer) arm(delay time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(delay, func() { c.fire(gen) })
}

// disarm cancels the timer and ends the burst. Caller holds mu.
func (c *Coalescer) disarm() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	c.armed = false
}

func (c *Coalescer) fire(gen uint64) {
	c.mu.Lock()
	// A timer that was stopped after it had already fired still calls in.
	if c.stopped || gen != c.gen || c.running {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.armed = false
	c.running = true
	c.inflight.Add(1)
	c.mu.Unlock()

	c.run()
}

// run invokes fn until no notification arrived during the last invocation.
func (c *Coalescer) run() {
	defer c.inflight.Done()

	for {
		started := c.clock.Now()
		c.fn()

		c.mu.Lock()
		c.runs++
		if c.pending && !c.stopped {
			c.pending = false
			c.mu.Unlock()
			c.logger.Debug("change arrived during run, running again",
				"elapsed", c.clock.Since(started))
			continue
		}
		c.running = false
		c.mu.Unlock()
		return
	}
}
