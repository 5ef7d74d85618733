package bus

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/petal-labs/nodeschema/runtime"
)

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int
}

// MemBus is an in-memory event bus. Slow subscribers lose events rather
// than block the publisher.
type MemBus struct {
	mu         sync.RWMutex
	subs       map[string][]*memSub // configID -> subscribers
	globalSubs []*memSub
	bufSize    int
	closed     bool
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish sends event to the subscribers of its configuration and to every
// global subscriber whose kind filter matches. Events published after Close
// are dropped.
func (b *MemBus) Publish(event runtime.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs[event.ConfigID] {
		sub.send(event)
	}
	for _, sub := range b.globalSubs {
		sub.send(event)
	}
}

// Subscribe registers a subscriber for configID.
func (b *MemBus) Subscribe(configID string, kinds ...runtime.EventKind) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.newSub(kinds)
	if b.closed {
		sub.close()
		return sub
	}
	sub.detach = func() { b.remove(configID, sub) }
	b.subs[configID] = append(b.subs[configID], sub)
	return sub
}

// SubscribeAll registers a subscriber for every configuration.
func (b *MemBus) SubscribeAll(kinds ...runtime.EventKind) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.newSub(kinds)
	if b.closed {
		sub.close()
		return sub
	}
	sub.detach = func() { b.removeGlobal(sub) }
	b.globalSubs = append(b.globalSubs, sub)
	return sub
}

// SubscriberCount returns the number of live subscriptions.
func (b *MemBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.globalSubs)
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	for _, sub := range b.globalSubs {
		sub.close()
	}
	b.subs = make(map[string][]*memSub)
	b.globalSubs = nil
	return nil
}

func (b *MemBus) newSub(kinds []runtime.EventKind) *memSub {
	return &memSub{
		ch:     make(chan runtime.Event, b.bufSize),
		filter: kindFilter(slices.Clone(kinds)),
	}
}

func (b *MemBus) remove(configID string, sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := slices.DeleteFunc(b.subs[configID], func(s *memSub) bool { return s == sub })
	if len(subs) == 0 {
		delete(b.subs, configID)
		return
	}
	b.subs[configID] = subs
}

func (b *MemBus) removeGlobal(sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.globalSubs = slices.DeleteFunc(b.globalSubs, func(s *memSub) bool { return s == sub })
}

// memSub is an in-memory subscription.
type memSub struct {
	ch      chan runtime.Event
	filter  kindFilter
	detach  func()
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
}

func (s *memSub) Events() <-chan runtime.Event {
	return s.ch
}

func (s *memSub) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes the channel. It is safe to call more than once.
func (s *memSub) Close() error {
	if s.close() && s.detach != nil {
		s.detach()
	}
	return nil
}

// close closes the channel and reports whether this call did it.
func (s *memSub) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.ch)
	return true
}

func (s *memSub) send(event runtime.Event) {
	if !s.filter.match(event.Kind) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
	}
}

var (
	_ EventBus               = (*MemBus)(nil)
	_ Subscription           = (*memSub)(nil)
	_ runtime.EventPublisher = (*MemBus)(nil)
)
