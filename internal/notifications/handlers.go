package notifications

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/chainsyncstore/chainsync-notify/internal/auth"
	"github.com/chainsyncstore/chainsync-notify/internal/httputil"
)

// Handlers serves a user's notification inbox.
type Handlers struct {
	inbox Inbox
}

func NewHandlers(inbox Inbox) *Handlers {
	return &Handlers{inbox: inbox}
}

// RegisterRoutes wires the inbox endpoints onto an authenticated router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/notifications", h.ListNotifications).Methods("GET")
	r.HandleFunc("/api/notifications/unread-count", h.UnreadCount).Methods("GET")
	r.HandleFunc("/api/notifications/read-all", h.MarkAllRead).Methods("PUT")
	r.HandleFunc("/api/notifications/{id}/read", h.MarkRead).Methods("PUT")
}

func scope(r *http.Request) (tenantID, subjectID string, ok bool) {
	return auth.ScopeFromContext(r.Context())
}

// ListNotifications handles GET /api/notifications
func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	tenantID, subjectID, ok := scope(r)
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	params := ListParams{
		TenantID:   tenantID,
		SubjectID:  subjectID,
		Kind:       Kind(q.Get("type")),
		UnreadOnly: q.Get("unread") == "true",
		Limit:      limit,
		Offset:     offset,
	}
	if params.Kind != "" && !params.Kind.Valid() {
		httputil.WriteError(w, http.StatusBadRequest, "unknown notification type")
		return
	}
	params.normalize()

	items, total, err := h.inbox.List(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": items,
		"total":         total,
		"limit":         params.Limit,
		"offset":        params.Offset,
	})
}

// UnreadCount handles GET /api/notifications/unread-count
func (h *Handlers) UnreadCount(w http.ResponseWriter, r *http.Request) {
	tenantID, subjectID, ok := scope(r)
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := h.inbox.UnreadCount(r.Context(), tenantID, subjectID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to count notifications")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}

// MarkRead handles PUT /api/notifications/{id}/read
func (h *Handlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	tenantID, subjectID, ok := scope(r)
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	err := h.inbox.MarkRead(r.Context(), tenantID, subjectID, mux.Vars(r)["id"])
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "notification not found")
	case err != nil:
		httputil.WriteError(w, http.StatusInternalServerError, "failed to mark notification read")
	default:
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// MarkAllRead handles PUT /api/notifications/read-all
func (h *Handlers) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	tenantID, subjectID, ok := scope(r)
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.inbox.MarkAllRead(r.Context(), tenantID, subjectID); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to mark notifications read")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
