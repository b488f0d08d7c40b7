package audit

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/chainsyncstore/chainsync-notify/internal/httputil"
)

// Lister reads connection audit rows.
type Lister interface {
	List(ctx context.Context, params ListParams) ([]Entry, int, error)
}

// Handlers serves the connection audit log.
type Handlers struct {
	store Lister
}

func NewHandlers(store Lister) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes mounts GET /api/realtime/audit. The caller applies the admin
// role check.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/realtime/audit", h.List).Methods(http.MethodGet)
}

// List handles GET /api/realtime/audit?tenant_id=&subject_id=&active=&limit=&offset=.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	active, _ := strconv.ParseBool(q.Get("active"))

	params := ListParams{
		TenantID:   q.Get("tenant_id"),
		SubjectID:  q.Get("subject_id"),
		ActiveOnly: active,
		Limit:      limit,
		Offset:     offset,
	}
	params.normalize()
	entries, total, err := h.store.List(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list connection audit")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"limit":   params.Limit,
		"offset":  params.Offset,
	})
}
