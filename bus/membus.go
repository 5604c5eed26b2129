package bus

import (
	"slices"
	"sync"

	"github.com/petal-labs/monkeyml/session"
)

// allSessions keys subscribers that receive every event.
const allSessions = ""

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int
}

// MemBus is an in-memory event bus. Slow subscribers lose events rather
// than block publishers.
type MemBus struct {
	mu      sync.RWMutex
	subs    map[string][]*memSub // session ID (or allSessions) -> subscribers
	bufSize int
	closed  bool
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

// Publish delivers event to the subscribers of its session and to every
// SubscribeAll subscriber. Events published after Close are dropped.
func (b *MemBus) Publish(event session.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	if event.SessionID != allSessions {
		for _, sub := range b.subs[event.SessionID] {
			sub.send(event)
		}
	}
	for _, sub := range b.subs[allSessions] {
		sub.send(event)
	}
}

// Subscribe registers a subscriber for one session.
func (b *MemBus) Subscribe(sessionID string) Subscription {
	return b.add(sessionID)
}

// SubscribeAll registers a subscriber for every session.
func (b *MemBus) SubscribeAll() Subscription {
	return b.add(allSessions)
}

func (b *MemBus) add(key string) *memSub {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &memSub{
		bus: b,
		key: key,
		ch:  make(chan session.Event, b.bufSize),
	}
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[key] = append(b.subs[key], sub)
	return sub
}

func (b *MemBus) remove(sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := slices.DeleteFunc(b.subs[sub.key], func(s *memSub) bool { return s == sub })
	if len(subs) == 0 {
		delete(b.subs, sub.key)
		return
	}
	b.subs[sub.key] = subs
}

// Subscribers returns the number of active subscriptions.
func (b *MemBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
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
	clear(b.subs)
	return nil
}

// memSub is an in-memory subscription.
type memSub struct {
	bus *MemBus
	key string
	ch  chan session.Event

	mu     sync.Mutex
	closed bool
}

func (s *memSub) Events() <-chan session.Event {
	return s.ch
}

// Close unsubscribes from the bus and closes the event channel.
func (s *memSub) Close() error {
	s.bus.remove(s)
	s.close()
	return nil
}

func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers an event, dropping it when the buffer is full.
func (s *memSub) send(event session.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
	}
}

// Compile-time interface checks.
var (
	_ EventBus               = (*MemBus)(nil)
	_ Subscription           = (*memSub)(nil)
	_ session.EventPublisher = (*MemBus)(nil)
)
