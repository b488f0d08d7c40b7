package realtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chainsyncstore/chainsync-notify/internal/httputil"
)

// originChecker accepts requests without an Origin header (non-browser
// clients) and those whose origin is in allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(origin, a) {
				return true
			}
		}
		return false
	}
}

func newConnectionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Service) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Enabled || s.isClosed() {
		httputil.WriteError(w, http.StatusServiceUnavailable, "realtime notifications unavailable")
		return
	}

	addr := httputil.ClientIP(r, s.proxies)
	suspicious := s.reputation != nil && s.reputation.IsAddressSuspicious(r.Context(), addr)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.metrics.rejected.WithLabelValues("upgrade").Inc()
		s.logger.Debug().Err(err).Str("remote_addr", addr).Msg("websocket upgrade failed")
		return
	}

	if suspicious {
		s.metrics.rejected.WithLabelValues("reputation").Inc()
		s.logger.Warn().Str("remote_addr", addr).Err(ErrSuspiciousOrigin).Msg("connection refused")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "suspicious origin"),
			time.Now().Add(s.cfg.WriteTimeout))
		_ = ws.Close()
		return
	}

	t := newWSTransport(ws, s.cfg.MaxFrameSize, s.cfg.WriteTimeout)
	c := newConn(newConnectionID(), addr, t, s.connOptions())
	t.onPong(c.touch)

	if !s.admit(c) {
		_ = t.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	s.logger.Debug().Str("conn_id", c.ID).Str("remote_addr", addr).Msg("connection admitted")
}
