package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chainsyncstore/chainsync-notify/internal/notifications"
)

// PublishResult is the stored event and the number of connections it was
// queued for.
type PublishResult struct {
	Event     notifications.PersistedEvent `json:"notification"`
	Delivered int                          `json:"delivered"`
}

// TargetChannels lists the channels an event fans out to: its tenant, its
// subject when set, and the tenant's critical channel for critical events.
func TargetChannels(ev notifications.Event) []string {
	targets := []string{TenantChannel(ev.TenantID)}
	if ev.SubjectID != "" {
		targets = append(targets, SubjectChannel(ev.SubjectID))
	}
	if ev.Priority == notifications.PriorityCritical {
		targets = append(targets, CriticalChannel(ev.TenantID))
	}
	return targets
}

// Publish stores ev and then queues it to every connection subscribed to one
// of its target channels, once per connection. Nothing is sent when the
// store fails.
func (s *Service) Publish(ctx context.Context, ev notifications.Event) (PublishResult, error) {
	if s.isClosed() {
		return PublishResult{}, ErrServiceClosed
	}
	if ev.Priority == "" {
		ev.Priority = notifications.PriorityMedium
	}
	if err := ev.Validate(); err != nil {
		s.metrics.publishes.WithLabelValues("invalid").Inc()
		return PublishResult{}, err
	}

	persisted, err := s.store.Insert(ctx, ev)
	if err != nil {
		s.metrics.publishes.WithLabelValues("persist_failed").Inc()
		s.logger.Error().Err(err).Str("tenant_id", ev.TenantID).Str("kind", string(ev.Kind)).Msg("persist notification")
		return PublishResult{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	frame, err := notificationFrame(persisted)
	if err != nil {
		s.metrics.publishes.WithLabelValues("encode_failed").Inc()
		return PublishResult{Event: persisted}, fmt.Errorf("encode notification %s: %w", persisted.ID, err)
	}

	delivered := s.deliver(s.resolve(TargetChannels(ev)), frame)
	s.metrics.publishes.WithLabelValues("ok").Inc()
	s.logger.Debug().
		Str("notification_id", persisted.ID).
		Str("tenant_id", ev.TenantID).
		Str("priority", string(ev.Priority)).
		Int("delivered", delivered).
		Msg("notification published")
	return PublishResult{Event: persisted, Delivered: delivered}, nil
}

// SendToSubject queues ev to every authenticated connection of subjectID
// without storing it.
func (s *Service) SendToSubject(subjectID string, ev notifications.Event) int {
	return s.sendMatching(ev, func(c *Conn) bool { return c.SubjectID() == subjectID })
}

// SendToTenant queues ev to every authenticated connection of tenantID
// without storing it.
func (s *Service) SendToTenant(tenantID string, ev notifications.Event) int {
	return s.sendMatching(ev, func(c *Conn) bool { return c.TenantID() == tenantID })
}

func (s *Service) sendMatching(ev notifications.Event, match func(*Conn) bool) int {
	if ev.Priority == "" {
		ev.Priority = notifications.PriorityMedium
	}
	frame, err := notificationFrame(notifications.PersistedEvent{
		Event:     ev,
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("encode direct notification")
		return 0
	}

	var ids []string
	for _, c := range s.registry.All() {
		if c.State() == StateAuthenticated && match(c) {
			ids = append(ids, c.ID)
		}
	}
	return s.deliver(ids, frame)
}

// PublishRaw wraps payload in an event frame and queues it to the
// subscribers of channel.
func (s *Service) PublishRaw(channel string, payload interface{}) (int, error) {
	frame, err := encodeFrame(FrameEvent, payload)
	if err != nil {
		return 0, fmt.Errorf("encode event for %s: %w", channel, err)
	}
	return s.deliver(s.index.SubscribersOf(channel), frame), nil
}

// resolve unions the subscribers of channels.
func (s *Service) resolve(channels []string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, ch := range channels {
		for _, id := range s.index.SubscribersOf(ch) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// deliver queues frame to each id still in the registry and counts the
// successes.
func (s *Service) deliver(ids []string, frame []byte) int {
	delivered := 0
	for _, id := range ids {
		c, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		if c.enqueue(frame) {
			delivered++
		} else {
			s.metrics.dropped.Inc()
		}
	}
	s.metrics.deliveries.Add(float64(delivered))
	return delivered
}
