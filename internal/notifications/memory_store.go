package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps the most recent notifications in process memory. It is
// the development fallback when no database is reachable; anything older than
// capacity entries is discarded.
type MemoryStore struct {
	mu       sync.RWMutex
	items    []*Notification // oldest first
	capacity int
}

// NewMemoryStore creates a MemoryStore retaining up to capacity entries
// (default 10000).
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) Insert(_ context.Context, ev Event) (PersistedEvent, error) {
	out := PersistedEvent{Event: ev, ID: uuid.NewString(), CreatedAt: timeNow()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, &Notification{PersistedEvent: out})
	if over := len(s.items) - s.capacity; over > 0 {
		s.items = append([]*Notification(nil), s.items[over:]...)
	}
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, params ListParams) ([]Notification, int, error) {
	params.normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []Notification{}
	for i := len(s.items) - 1; i >= 0; i-- {
		n := s.items[i]
		if !visibleTo(n, params.TenantID, params.SubjectID) {
			continue
		}
		if params.Kind != "" && n.Kind != params.Kind {
			continue
		}
		if params.UnreadOnly && n.Read {
			continue
		}
		matched = append(matched, *n)
	}

	total := len(matched)
	if params.Offset >= total {
		return []Notification{}, total, nil
	}
	end := params.Offset + params.Limit
	if end > total {
		end = total
	}
	return matched[params.Offset:end], total, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, tenantID, subjectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == id && visibleTo(n, tenantID, subjectID) {
			n.Read = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) MarkAllRead(_ context.Context, tenantID, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if visibleTo(n, tenantID, subjectID) {
			n.Read = true
		}
	}
	return nil
}

func (s *MemoryStore) UnreadCount(_ context.Context, tenantID, subjectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.items {
		if !n.Read && visibleTo(n, tenantID, subjectID) {
			count++
		}
	}
	return count, nil
}

var timeNow = func() time.Time { return time.Now().UTC() }

var (
	_ Store = (*MemoryStore)(nil)
	_ Inbox = (*MemoryStore)(nil)
)
