package bus

import (
	"context"
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
)

const memoryTopic = "cityclaims:verification"

type memorySub struct {
	selfID  string
	handler Handler
	active  atomic.Bool
}

// MemoryBus connects caches living in the same process. Handlers run
// synchronously on the publishing goroutine while EventBus holds its lock,
// so a handler must not call Publish on the same bus: it would deadlock.
type MemoryBus struct {
	bus    evbus.Bus
	closed atomic.Bool

	mu   sync.RWMutex
	subs []*memorySub
}

// NewMemoryBus creates an in-process bus
func NewMemoryBus() *MemoryBus {
	m := &MemoryBus{bus: evbus.New()}
	// one dispatcher for all subscribers: EventBus identifies handlers by
	// code pointer, so closures cannot be unsubscribed individually
	_ = m.bus.Subscribe(memoryTopic, m.dispatch)
	return m
}

func (m *MemoryBus) dispatch(msg Message) {
	m.mu.RLock()
	subs := m.subs
	m.mu.RUnlock()

	for _, s := range subs {
		if !s.active.Load() || s.selfID == msg.SenderID {
			continue
		}
		s.handler(msg)
	}
}

// Publish delivers msg to every other subscriber before returning
func (m *MemoryBus) Publish(ctx context.Context, msg Message) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.bus.Publish(memoryTopic, msg)
	return nil
}

// Subscribe registers h for messages from other senders
func (m *MemoryBus) Subscribe(selfID string, h Handler) (func(), error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	s := &memorySub{selfID: selfID, handler: h}
	s.active.Store(true)

	m.mu.Lock()
	m.subs = append(append([]*memorySub(nil), m.subs...), s)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.active.Store(false)
			m.remove(s)
		})
	}, nil
}

func (m *MemoryBus) remove(target *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]*memorySub, 0, len(m.subs))
	for _, s := range m.subs {
		if s != target {
			next = append(next, s)
		}
	}
	m.subs = next
}

// Close detaches every subscriber
func (m *MemoryBus) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.mu.Lock()
	for _, s := range m.subs {
		s.active.Store(false)
	}
	m.subs = nil
	m.mu.Unlock()
	return m.bus.Unsubscribe(memoryTopic, m.dispatch)
}
