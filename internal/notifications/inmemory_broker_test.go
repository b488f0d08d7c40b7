package notifications

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func mustEvent(t *testing.T, kind Kind, tenantID, subjectID string, priority Priority) Event {
	t.Helper()
	ev, err := NewEvent(kind, tenantID, subjectID, "title", "message", nil, priority)
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	return ev
}

func TestInMemoryBroker_PublishSubscribe(t *testing.T) {
	broker := NewInMemoryBroker()
	defer broker.Close()

	topic := TopicFor(KindLowStock)
	received := make(chan Event, 1)

	if _, err := broker.Subscribe(topic, func(_ context.Context, e Event) {
		received <- e
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	event := mustEvent(t, KindLowStock, "t1", "", PriorityHigh)
	if err := broker.Publish(context.Background(), topic, event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.TenantID != "t1" || got.Priority != PriorityHigh {
			t.Errorf("unexpected event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestInMemoryBroker_MultipleSubscribers(t *testing.T) {
	broker := NewInMemoryBroker()
	defer broker.Close()

	topic := TopicFor(KindPaymentAlert)
	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	for i := 0; i < 3; i++ {
		if _, err := broker.Subscribe(topic, func(context.Context, Event) {
			count.Add(1)
			wg.Done()
		}); err != nil {
			t.Fatalf("subscribe %d failed: %v", i, err)
		}
	}

	if err := broker.Publish(context.Background(), topic, mustEvent(t, KindPaymentAlert, "t1", "u1", PriorityHigh)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribers")
	}
	if count.Load() != 3 {
		t.Errorf("expected 3 deliveries, got %d", count.Load())
	}
}

func TestInMemoryBroker_TopicIsolation(t *testing.T) {
	broker := NewInMemoryBroker()

	var wrong atomic.Int32
	if _, err := broker.Subscribe(TopicFor(KindSalesUpdate), func(context.Context, Event) {
		wrong.Add(1)
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := broker.Publish(context.Background(), TopicFor(KindAIInsight), mustEvent(t, KindAIInsight, "t1", "", PriorityLow)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	// Close drains the queue, so the event has been dispatched by now.
	broker.Close()
	if wrong.Load() != 0 {
		t.Errorf("subscriber on another topic received %d events", wrong.Load())
	}
}

func TestInMemoryBroker_OrderPreserved(t *testing.T) {
	broker := NewInMemoryBroker()

	topic := TopicFor(KindSalesUpdate)
	var mu sync.Mutex
	var seen []string
	if _, err := broker.Subscribe(topic, func(_ context.Context, e Event) {
		mu.Lock()
		seen = append(seen, e.TenantID)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	for _, tenant := range []string{"a", "b", "c", "d"} {
		if err := broker.Publish(context.Background(), topic, mustEvent(t, KindSalesUpdate, tenant, "", PriorityLow)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}
	broker.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 4 || seen[0] != "a" || seen[3] != "d" {
		t.Errorf("expected ordered delivery, got %v", seen)
	}
}

func TestInMemoryBroker_ClosedRejects(t *testing.T) {
	broker := NewInMemoryBroker()
	if err := broker.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := broker.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}

	if err := broker.Publish(context.Background(), "x", Event{}); err != ErrBrokerClosed {
		t.Errorf("expected ErrBrokerClosed from Publish, got %v", err)
	}
	if _, err := broker.Subscribe("x", func(context.Context, Event) {}); err != ErrBrokerClosed {
		t.Errorf("expected ErrBrokerClosed from Subscribe, got %v", err)
	}
}
