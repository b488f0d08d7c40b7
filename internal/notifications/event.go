package notifications

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind identifies what produced a notification.
type Kind string

const (
	KindInventoryAlert Kind = "inventory_alert"
	KindSalesUpdate    Kind = "sales_update"
	KindSystemAlert    Kind = "system_alert"
	KindAIInsight      Kind = "ai_insight"
	KindLowStock       Kind = "low_stock"
	KindPaymentAlert   Kind = "payment_alert"
	KindUserActivity   Kind = "user_activity"
)

// AllKinds lists every notification kind. The ingest consumer subscribes to
// one broker topic per entry.
var AllKinds = []Kind{
	KindInventoryAlert,
	KindSalesUpdate,
	KindSystemAlert,
	KindAIInsight,
	KindLowStock,
	KindPaymentAlert,
	KindUserActivity,
}

func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Priority is ordered: low < medium < high < critical.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns the ordinal of p, or 0 for an unknown priority.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

func (p Priority) Valid() bool { return p.Rank() > 0 }

// AtLeast reports whether p ranks at or above other.
func (p Priority) AtLeast(other Priority) bool { return p.Rank() >= other.Rank() }

var (
	ErrTenantRequired  = errors.New("notification: tenant id is required")
	ErrInvalidKind     = errors.New("notification: unknown kind")
	ErrInvalidPriority = errors.New("notification: unknown priority")
	ErrTitleRequired   = errors.New("notification: title is required")
)

// Event is a notification handed to the fan-out service by a producer. Build
// it with NewEvent and treat it as a value: nothing mutates an Event after
// construction.
type Event struct {
	Kind      Kind            `json:"type"`
	TenantID  string          `json:"tenantId"`
	SubjectID string          `json:"subjectId,omitempty"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Priority  Priority        `json:"priority"`
}

// NewEvent validates and builds an Event. An empty priority defaults to
// medium. The data payload is copied.
func NewEvent(kind Kind, tenantID, subjectID, title, message string, data json.RawMessage, priority Priority) (Event, error) {
	if priority == "" {
		priority = PriorityMedium
	}
	ev := Event{
		Kind:      kind,
		TenantID:  tenantID,
		SubjectID: subjectID,
		Title:     title,
		Message:   message,
		Priority:  priority,
	}
	if len(data) > 0 {
		ev.Data = append(json.RawMessage(nil), data...)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate checks the invariants every event must satisfy before it is
// persisted or published.
func (e Event) Validate() error {
	if e.TenantID == "" {
		return ErrTenantRequired
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, e.Kind)
	}
	if !e.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, e.Priority)
	}
	if e.Title == "" {
		return ErrTitleRequired
	}
	if len(e.Data) > 0 && !json.Valid(e.Data) {
		return errors.New("notification: data is not valid JSON")
	}
	return nil
}

// PersistedEvent is an Event after the store assigned it an id and creation
// time.
type PersistedEvent struct {
	Event
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"timestamp"`
}
