package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildListQuery_NoFilters(t *testing.T) {
	params := ListParams{}
	query, countQuery, args := buildListQuery(&params)

	assert.Equal(t, 50, params.Limit)
	assert.Equal(t, `SELECT COUNT(*) FROM realtime_connections WHERE 1=1`, countQuery)
	assert.Contains(t, query, `ORDER BY connected_at DESC LIMIT $1 OFFSET $2`)
	assert.Equal(t, []interface{}{50, 0}, args)
}

func TestBuildListQuery_Filters(t *testing.T) {
	params := ListParams{TenantID: "t1", SubjectID: "u1", ActiveOnly: true, Limit: 500, Offset: -3}
	query, countQuery, args := buildListQuery(&params)

	assert.Equal(t,
		`SELECT COUNT(*) FROM realtime_connections WHERE 1=1 AND tenant_id = $1 AND subject_id = $2 AND disconnected_at IS NULL`,
		countQuery)
	assert.Contains(t, query, `AND subject_id = $2 AND disconnected_at IS NULL ORDER BY connected_at DESC LIMIT $3 OFFSET $4`)
	assert.Equal(t, []interface{}{"t1", "u1", 50, 0}, args)
}

func TestBuildListQuery_SubjectOnly(t *testing.T) {
	params := ListParams{SubjectID: "u1", Limit: 10, Offset: 20}
	_, countQuery, args := buildListQuery(&params)

	assert.Equal(t, `SELECT COUNT(*) FROM realtime_connections WHERE 1=1 AND subject_id = $1`, countQuery)
	assert.Equal(t, []interface{}{"u1", 10, 20}, args)
}
