package realtime

import (
	"time"

	"github.com/gorilla/websocket"
)

func (s *Service) runPeriodic(interval time.Duration, task func()) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			task()
		}
	}
}

// sendHeartbeats queues a ping to every open connection. Pongs only refresh
// the connection's last-seen time.
func (s *Service) sendHeartbeats() int {
	sent := 0
	for _, c := range s.registry.All() {
		if c.enqueuePing() {
			sent++
		}
	}
	return sent
}

// enforceCapacity evicts the oldest connections beyond MaxConnections.
func (s *Service) enforceCapacity() int {
	conns := s.registry.All()
	excess := len(conns) - s.cfg.MaxConnections
	if excess <= 0 {
		return 0
	}
	evicted := 0
	for _, c := range conns[:excess] {
		if s.disconnect(c, websocket.CloseTryAgainLater, "server at capacity") {
			evicted++
		}
	}
	if evicted == 0 {
		return 0
	}
	s.metrics.evictions.Add(float64(evicted))
	s.logger.Warn().
		Int("evicted", evicted).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("connection capacity exceeded")
	return evicted
}
