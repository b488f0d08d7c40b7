package realtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/chainsyncstore/chainsync-notify/internal/httputil"
	"github.com/chainsyncstore/chainsync-notify/internal/notifications"
)

// Handlers serves the operator endpoints of the realtime service.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// RegisterRoutes mounts the endpoints on r. The caller applies auth and the
// admin role check.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/realtime/stats", h.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/realtime/connections", h.connections).Methods(http.MethodGet)
	r.HandleFunc("/api/realtime/publish", h.publish).Methods(http.MethodPost)
}

func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *Handlers) connections(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.svc.ConnectionDetails())
}

func (h *Handlers) publish(w http.ResponseWriter, r *http.Request) {
	var ev notifications.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&ev); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.Publish(r.Context(), ev)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusCreated, res)
	case errors.Is(err, ErrServiceClosed):
		httputil.WriteError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrPersistence):
		httputil.WriteError(w, http.StatusBadGateway, "failed to store notification")
	default:
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	}
}
