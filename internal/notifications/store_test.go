package notifications

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostgresStore_MarkReadRejectsMalformedID(t *testing.T) {
	// No pool: a malformed id must be answered before any query runs.
	store := NewPostgresStore(nil)

	for _, id := range []string{"not-a-uuid", "", "42", "'; DROP TABLE notifications; --"} {
		err := store.MarkRead(context.Background(), "t1", "u1", id)
		assert.ErrorIs(t, err, ErrNotFound, "id %q", id)
	}
}
