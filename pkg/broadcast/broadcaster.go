package broadcast

import (
	"sort"
	"sync"

	"github.com/0xmhha/logwatch/pkg/logger"
)

// DropFunc is called when a subscriber is disconnected because of an error.
type DropFunc func(sub *Subscriber, err error)

// Broadcaster is a registry of subscribers that receive the same messages.
type Broadcaster struct {
	config Config
	logger logger.Logger

	mu     sync.RWMutex
	subs   map[string]*Subscriber
	onDrop DropFunc
}

// New creates an empty broadcaster. Subscribers added to it use cfg.
func New(cfg Config, log logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.Noop()
	}
	return &Broadcaster{
		config: cfg.withDefaults(),
		logger: log,
		subs:   make(map[string]*Subscriber),
	}
}

// OnDrop registers fn to be called, outside any lock, whenever a subscriber
// is removed because of backpressure or a failed write.
func (b *Broadcaster) OnDrop(fn DropFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Add registers a subscriber for conn. The initial messages are queued ahead
// of anything broadcast afterwards.
func (b *Broadcaster) Add(conn Conn, initial ...Message) (*Subscriber, error) {
	sub := newSubscriber(conn, b.config, b.logger, b.handleExit)

	for _, msg := range initial {
		if err := sub.Enqueue(msg.encode()); err != nil {
			sub.abort(err)
			return nil, err
		}
	}

	b.mu.Lock()
	if _, exists := b.subs[sub.id]; exists {
		b.mu.Unlock()
		sub.abort(ErrDuplicateSubscriber)
		return nil, ErrDuplicateSubscriber
	}
	b.subs[sub.id] = sub
	n := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "subscriber", sub.id, "subscribers", n)

	return sub, nil
}

// Remove unregisters the subscriber and closes it after its queue drains.
// It reports whether the subscriber was registered.
func (b *Broadcaster) Remove(id, reason string) bool {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	n := len(b.subs)
	b.mu.Unlock()

	if !ok {
		return false
	}

	sub.Close(reason)
	b.logger.Debug("subscriber removed", "subscriber", id, "subscribers", n)
	return true
}

// Broadcast queues msg for every subscriber and returns how many accepted
// it. Subscribers that cannot keep up are removed and reported to OnDrop.
func (b *Broadcaster) Broadcast(msg Message) int {
	msg = msg.encode()

	type dropped struct {
		sub *Subscriber
		err error
	}
	var drops []dropped

	b.mu.Lock()
	accepted := 0
	for id, sub := range b.subs {
		if err := sub.Enqueue(msg); err != nil {
			delete(b.subs, id)
			drops = append(drops, dropped{sub, err})
			continue
		}
		accepted++
	}
	onDrop := b.onDrop
	b.mu.Unlock()

	for _, d := range drops {
		b.logger.Warn("dropping subscriber",
			"subscriber", d.sub.id,
			"kind", msg.Kind.String(),
			"error", d.err)
		d.sub.abort(d.err)
		if onDrop != nil {
			onDrop(d.sub, d.err)
		}
	}

	return accepted
}

// Len returns the number of registered subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Subscribers returns status for every registered subscriber, oldest first.
func (b *Broadcaster) Subscribers() []Info {
	b.mu.RLock()
	infos := make([]Info, 0, len(b.subs))
	for _, sub := range b.subs {
		infos = append(infos, sub.Info())
	}
	b.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Joined.Before(infos[j].Joined)
	})
	return infos
}

// CloseAll sends a KindClosed message to every subscriber, closes them and
// empties the registry. The returned subscribers can be waited on via Done.
func (b *Broadcaster) CloseAll(reason string) []*Subscriber {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for id, sub := range b.subs {
		subs = append(subs, sub)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	closing := Message{Kind: KindClosed, Reason: reason}.encode()
	for _, sub := range subs {
		// A full queue only loses the notice; the transport still closes.
		_ = sub.Enqueue(closing)
		sub.Close(reason)
	}

	if len(subs) > 0 {
		b.logger.Debug("closed all subscribers", "count", len(subs), "reason", reason)
	}
	return subs
}

// handleExit runs on a subscriber's writer goroutine once it stops.
func (b *Broadcaster) handleExit(sub *Subscriber) {
	b.mu.Lock()
	current, ok := b.subs[sub.id]
	removed := ok && current == sub
	if removed {
		delete(b.subs, sub.id)
	}
	onDrop := b.onDrop
	b.mu.Unlock()

	if !removed {
		return
	}

	err := sub.Err()
	b.logger.Warn("subscriber disconnected", "subscriber", sub.id, "error", err)
	if err != nil && onDrop != nil {
		onDrop(sub, err)
	}
}
