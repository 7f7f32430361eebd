package eventstream

import (
	"context"
	"sync"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// memStream is an in-memory, non-durable EventStream for tests,
// grounded on the teacher's EventPublisher/EventSubscription fan-out
// pattern: each consumer gets its own buffered channel, and a slow
// consumer is protected by a non-blocking send rather than backing up
// the publisher. It has no on-disk cursor, so a dropped Subscription
// cannot be resumed from where it left off — that guarantee belongs to
// boltstream.
type memStream struct {
	mu          sync.RWMutex
	subscribers map[string]*memSubscription
	bufferSize  int
}

// NewMemStream creates an in-memory event stream. bufferSize bounds
// each consumer's channel depth.
func NewMemStream(bufferSize int) EventStream {
	return &memStream{
		subscribers: make(map[string]*memSubscription),
		bufferSize:  bufferSize,
	}
}

func (m *memStream) Publish(ctx context.Context, event StateEvent) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subscribers {
		select {
		case sub.ch <- event:
		default:
			// slow consumer protection: drop rather than block the publisher
		}
	}
	return nil
}

func (m *memStream) Subscribe(ctx context.Context, consumerID string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.subscribers[consumerID]; ok {
		return existing, nil
	}
	sub := &memSubscription{
		id:     consumerID,
		ch:     make(chan StateEvent, m.bufferSize),
		parent: m,
	}
	m.subscribers[consumerID] = sub
	return sub, nil
}

type memSubscription struct {
	id     string
	ch     chan StateEvent
	parent *memStream
}

func (s *memSubscription) Next(ctx context.Context) (StateEvent, error) {
	select {
	case event := <-s.ch:
		return event, nil
	case <-ctx.Done():
		return StateEvent{}, tcfserrors.Wrap(tcfserrors.KindCancelled, "wait for next event", ctx.Err())
	}
}

// Ack is a no-op: memStream has no durable cursor to advance.
func (s *memSubscription) Ack(ctx context.Context, event StateEvent) error { return nil }

func (s *memSubscription) Close() error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	delete(s.parent.subscribers, s.id)
	return nil
}
