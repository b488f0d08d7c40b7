// Package audit persists one row per authenticated realtime connection.
package audit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainsyncstore/chainsync-notify/internal/realtime"
)

// ErrNotFound is returned when retiring a connection that has no open row.
var ErrNotFound = errors.New("audit: connection record not found")

// Entry is one row of realtime_connections.
type Entry struct {
	ConnectionID     string     `json:"connectionId"`
	SubjectID        string     `json:"subjectId"`
	TenantID         string     `json:"tenantId"`
	RemoteAddr       string     `json:"remoteAddr"`
	TokenFingerprint string     `json:"tokenFingerprint"`
	ConnectedAt      time.Time  `json:"connectedAt"`
	DisconnectedAt   *time.Time `json:"disconnectedAt,omitempty"`
	DisconnectReason *string    `json:"disconnectReason,omitempty"`
}

// ListParams filters List.
type ListParams struct {
	TenantID   string
	SubjectID  string
	ActiveOnly bool
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

// ConnectionStore is the pgx-backed realtime.ConnectionRecorder.
type ConnectionStore struct {
	pool *pgxpool.Pool
}

var _ realtime.ConnectionRecorder = (*ConnectionStore)(nil)

func NewConnectionStore(pool *pgxpool.Pool) *ConnectionStore {
	return &ConnectionStore{pool: pool}
}

func (s *ConnectionStore) RecordConnection(ctx context.Context, rec realtime.ConnectionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO realtime_connections (connection_id, subject_id, tenant_id, remote_addr, token_fingerprint, connected_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (connection_id) DO NOTHING`,
		rec.ConnectionID, rec.SubjectID, rec.TenantID, rec.RemoteAddr, rec.TokenFingerprint, rec.ConnectedAt,
	)
	return err
}

func (s *ConnectionStore) RetireConnection(ctx context.Context, connectionID, reason string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE realtime_connections SET disconnected_at = $2, disconnect_reason = $3
		 WHERE connection_id = $1 AND disconnected_at IS NULL`,
		connectionID, at, reason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns connection rows newest first with the total match count.
func (s *ConnectionStore) List(ctx context.Context, params ListParams) ([]Entry, int, error) {
	query, countQuery, args := buildListQuery(&params)

	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args[:len(args)-2]...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ConnectionID, &e.SubjectID, &e.TenantID, &e.RemoteAddr,
			&e.TokenFingerprint, &e.ConnectedAt, &e.DisconnectedAt, &e.DisconnectReason); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// buildListQuery normalises params and returns the page query, the count
// query, and the arguments; the last two arguments are limit and offset and
// belong to the page query only.
func buildListQuery(params *ListParams) (query, countQuery string, args []interface{}) {
	params.normalize()

	where := ` WHERE 1=1`
	if params.TenantID != "" {
		args = append(args, params.TenantID)
		where += ` AND tenant_id = $` + strconv.Itoa(len(args))
	}
	if params.SubjectID != "" {
		args = append(args, params.SubjectID)
		where += ` AND subject_id = $` + strconv.Itoa(len(args))
	}
	if params.ActiveOnly {
		where += ` AND disconnected_at IS NULL`
	}

	countQuery = `SELECT COUNT(*) FROM realtime_connections` + where
	query = `SELECT connection_id, subject_id, tenant_id, remote_addr, token_fingerprint, connected_at, disconnected_at, disconnect_reason
		FROM realtime_connections` + where +
		` ORDER BY connected_at DESC LIMIT $` + strconv.Itoa(len(args)+1) +
		` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, params.Limit, params.Offset)
	return query, countQuery, args
}
