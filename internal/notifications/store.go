package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a notification does not exist or is not
// visible to the caller.
var ErrNotFound = errors.New("notification not found")

// Store persists notifications before they are fanned out.
type Store interface {
	Insert(ctx context.Context, ev Event) (PersistedEvent, error)
}

// Inbox is the per-user read side behind the REST handlers.
type Inbox interface {
	List(ctx context.Context, params ListParams) ([]Notification, int, error)
	MarkRead(ctx context.Context, tenantID, subjectID, id string) error
	MarkAllRead(ctx context.Context, tenantID, subjectID string) error
	UnreadCount(ctx context.Context, tenantID, subjectID string) (int, error)
}

// Notification is a stored notification with its read state.
type Notification struct {
	PersistedEvent
	Read bool `json:"read"`
}

// ListParams holds filters and pagination for listing notifications. A
// notification is visible to a subject when it is addressed to them or to
// their whole tenant.
type ListParams struct {
	TenantID   string
	SubjectID  string
	Kind       Kind
	UnreadOnly bool
	Limit      int
	Offset     int
}

func (p *ListParams) normalize() {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// PostgresStore provides persistence for the notifications table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert stores ev and returns it with the generated id and timestamp.
func (s *PostgresStore) Insert(ctx context.Context, ev Event) (PersistedEvent, error) {
	data := ev.Data
	if data == nil {
		data = json.RawMessage("{}")
	}
	out := PersistedEvent{Event: ev}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO notifications (tenant_id, subject_id, kind, title, message, data, priority)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		ev.TenantID, nullable(ev.SubjectID), string(ev.Kind), ev.Title, ev.Message, data, string(ev.Priority),
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return PersistedEvent{}, err
	}
	return out, nil
}

// List returns notifications visible to params.SubjectID, newest first.
func (s *PostgresStore) List(ctx context.Context, params ListParams) ([]Notification, int, error) {
	params.normalize()

	where := ` WHERE tenant_id = $1 AND (subject_id IS NULL OR subject_id = $2)`
	args := []interface{}{params.TenantID, params.SubjectID}
	argIdx := 3

	if params.Kind != "" {
		where += ` AND kind = $` + strconv.Itoa(argIdx)
		args = append(args, string(params.Kind))
		argIdx++
	}
	if params.UnreadOnly {
		where += ` AND read = false`
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, tenant_id, COALESCE(subject_id, ''), kind, title, message, data, priority, read, created_at
	          FROM notifications` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(argIdx) + ` OFFSET $` + strconv.Itoa(argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		var n Notification
		var kind, priority string
		if err := rows.Scan(&n.ID, &n.TenantID, &n.SubjectID, &kind, &n.Title, &n.Message, &n.Data, &priority, &n.Read, &n.CreatedAt); err != nil {
			return nil, 0, err
		}
		n.Kind, n.Priority = Kind(kind), Priority(priority)
		notifications = append(notifications, n)
	}
	return notifications, total, rows.Err()
}

// MarkRead marks a single visible notification as read. Ids that are not
// UUIDs cannot exist and report ErrNotFound without a query.
func (s *PostgresStore) MarkRead(ctx context.Context, tenantID, subjectID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read = true
		 WHERE id = $1 AND tenant_id = $2 AND (subject_id IS NULL OR subject_id = $3)`,
		id, tenantID, subjectID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead marks every visible unread notification as read.
func (s *PostgresStore) MarkAllRead(ctx context.Context, tenantID, subjectID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read = true
		 WHERE tenant_id = $1 AND (subject_id IS NULL OR subject_id = $2) AND read = false`,
		tenantID, subjectID,
	)
	return err
}

// UnreadCount returns the number of visible unread notifications.
func (s *PostgresStore) UnreadCount(ctx context.Context, tenantID, subjectID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications
		 WHERE tenant_id = $1 AND (subject_id IS NULL OR subject_id = $2) AND read = false`,
		tenantID, subjectID,
	).Scan(&count)
	return count, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// visibleTo mirrors the SQL visibility predicate for the in-memory store.
func visibleTo(n *Notification, tenantID, subjectID string) bool {
	return n.TenantID == tenantID && (n.SubjectID == "" || n.SubjectID == subjectID)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Inbox = (*PostgresStore)(nil)
)
