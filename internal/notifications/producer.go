package notifications

import (
	"context"
	"encoding/json"
	"fmt"
)

// Producer is the entry point business modules (inventory, payments, AI
// insights) use to hand events to the fan-out service through the broker.
type Producer struct {
	broker MessageBroker
}

// NewProducer creates a Producer that publishes to broker.
func NewProducer(broker MessageBroker) *Producer {
	return &Producer{broker: broker}
}

// Emit validates ev and publishes it on its kind's topic.
func (p *Producer) Emit(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if err := p.broker.Publish(ctx, TopicFor(ev.Kind), ev); err != nil {
		return fmt.Errorf("emit %s: %w", ev.Kind, err)
	}
	return nil
}

// LowStock emits a low-stock alert for a product to the whole tenant. Stock
// at zero is raised to critical.
func (p *Producer) LowStock(ctx context.Context, tenantID, sku string, onHand, threshold int) error {
	priority := PriorityHigh
	if onHand <= 0 {
		priority = PriorityCritical
	}
	data, _ := json.Marshal(map[string]interface{}{
		"sku":       sku,
		"onHand":    onHand,
		"threshold": threshold,
	})
	ev, err := NewEvent(KindLowStock, tenantID, "", "Low stock",
		fmt.Sprintf("%s has %d units left (threshold %d)", sku, onHand, threshold), data, priority)
	if err != nil {
		return err
	}
	return p.Emit(ctx, ev)
}

// PaymentFailed emits a payment alert addressed to the cashier who took the
// payment.
func (p *Producer) PaymentFailed(ctx context.Context, tenantID, subjectID, reference, reason string) error {
	data, _ := json.Marshal(map[string]string{"reference": reference, "reason": reason})
	ev, err := NewEvent(KindPaymentAlert, tenantID, subjectID, "Payment failed",
		fmt.Sprintf("Payment %s failed: %s", reference, reason), data, PriorityHigh)
	if err != nil {
		return err
	}
	return p.Emit(ctx, ev)
}
