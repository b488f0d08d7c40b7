package notifications

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrBrokerClosed is returned by Publish and Subscribe after Close.
var ErrBrokerClosed = errors.New("broker is closed")

type subscription struct {
	id      string
	handler EventHandler
}

type topicEvent struct {
	topic string
	event Event
}

// InMemoryBroker is a single-process MessageBroker backed by a buffered
// channel and one dispatch goroutine, so handlers observe events in publish
// order.
type InMemoryBroker struct {
	mu      sync.RWMutex // guards closed and sends on eventCh
	closed  bool
	subsMu  sync.RWMutex
	subs    map[string][]subscription // topic -> subscriptions
	eventCh chan topicEvent
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewInMemoryBroker creates and starts an InMemoryBroker. Call Close to stop
// its dispatch goroutine.
func NewInMemoryBroker() *InMemoryBroker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &InMemoryBroker{
		subs:    make(map[string][]subscription),
		eventCh: make(chan topicEvent, 1024),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go b.dispatch()
	return b
}

// Publish enqueues an event for asynchronous delivery. It blocks while the
// queue is full until ctx is done.
func (b *InMemoryBroker) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBrokerClosed
	}

	select {
	case b.eventCh <- topicEvent{topic: topic, event: event}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *InMemoryBroker) Subscribe(topic string, handler EventHandler) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return "", ErrBrokerClosed
	}

	id := uuid.NewString()
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})
	return id, nil
}

// Close stops accepting events, drains what is already queued, and waits for
// the dispatch goroutine to exit.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.eventCh)
	b.mu.Unlock()

	<-b.done
	b.cancel()
	return nil
}

func (b *InMemoryBroker) dispatch() {
	defer close(b.done)

	for te := range b.eventCh {
		b.subsMu.RLock()
		subs := b.subs[te.topic]
		// Copy so handlers run without the lock held.
		handlers := make([]EventHandler, len(subs))
		for i, s := range subs {
			handlers[i] = s.handler
		}
		b.subsMu.RUnlock()

		for _, h := range handlers {
			h(b.ctx, te.event)
		}
	}
}
