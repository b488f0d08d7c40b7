package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/chainsyncstore/chainsync-notify/internal/httputil"
	"github.com/chainsyncstore/chainsync-notify/internal/log"
	"github.com/chainsyncstore/chainsync-notify/internal/notifications"
)

const (
	defaultPath              = "/ws/notifications"
	defaultHeartbeatInterval = 30 * time.Second
	defaultCapacityInterval  = 30 * time.Second
	defaultMaxConnections    = 1000
	defaultMaxFrameSize      = 16 * 1024
	defaultSendQueueSize     = 256
	defaultWriteTimeout      = 10 * time.Second
	defaultAuthTimeout       = 5 * time.Second
	defaultInboundRate       = 20
	defaultInboundBurst      = 40

	auditTimeout = 5 * time.Second
)

// Config is fixed at construction. Zero values take the defaults, except
// Enabled: a zero Config leaves the listener switched off and upgrades are
// answered with 503.
type Config struct {
	Path              string
	Enabled           bool
	HeartbeatInterval time.Duration
	CapacityInterval  time.Duration
	MaxConnections    int
	MaxFrameSize      int64
	SendQueueSize     int
	WriteTimeout      time.Duration
	AuthTimeout       time.Duration
	InboundRate       float64
	InboundBurst      int
	// AllowedOrigins lists the browser origins accepted on upgrade. Requests
	// without an Origin header are accepted.
	AllowedOrigins []string
	// TrustedProxies lists the peers allowed to name the client address in
	// X-Forwarded-For. Everyone else is judged by their socket address.
	TrustedProxies []string
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = defaultPath
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.CapacityInterval <= 0 {
		c.CapacityInterval = defaultCapacityInterval
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = defaultMaxFrameSize
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultAuthTimeout
	}
	if c.InboundRate <= 0 {
		c.InboundRate = defaultInboundRate
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = defaultInboundBurst
	}
	return c
}

// Identity is what a verified token asserts.
type Identity struct {
	SubjectID string
	TenantID  string
}

// TokenVerifier checks an auth token.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (Identity, error)
}

// VerifierFunc adapts a function to TokenVerifier.
type VerifierFunc func(ctx context.Context, token string) (Identity, error)

func (f VerifierFunc) VerifyToken(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// ReputationChecker decides whether a client address may connect.
type ReputationChecker interface {
	IsAddressSuspicious(ctx context.Context, addr string) bool
}

// ConnectionRecord is the audit entry written when a connection
// authenticates.
type ConnectionRecord struct {
	ConnectionID     string
	SubjectID        string
	TenantID         string
	RemoteAddr       string
	TokenFingerprint string
	ConnectedAt      time.Time
}

// ConnectionRecorder persists connection audit entries.
type ConnectionRecorder interface {
	RecordConnection(ctx context.Context, rec ConnectionRecord) error
	RetireConnection(ctx context.Context, connectionID, reason string, at time.Time) error
}

// Dependencies are the collaborators of a Service. Store and Verifier are
// required.
type Dependencies struct {
	Store      notifications.Store
	Verifier   TokenVerifier
	Reputation ReputationChecker
	Recorder   ConnectionRecorder
	Registerer prometheus.Registerer
}

// Service is the real-time fan-out service: it accepts WebSocket clients,
// tracks their subscriptions, and delivers published events to them.
type Service struct {
	cfg        Config
	store      notifications.Store
	verifier   TokenVerifier
	reputation ReputationChecker
	recorder   ConnectionRecorder
	registry   *Registry
	index      *ChannelIndex
	metrics    *metrics
	proxies    *httputil.TrustedProxies
	logger     zerolog.Logger
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New builds the service and starts its heartbeat and capacity tasks.
func New(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("realtime: notification store is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("realtime: token verifier is required")
	}
	cfg = cfg.withDefaults()
	proxies, err := httputil.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("realtime: %w", err)
	}

	index := NewChannelIndex()
	registry := NewRegistry(index)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		cfg:        cfg,
		store:      deps.Store,
		verifier:   deps.Verifier,
		reputation: deps.Reputation,
		recorder:   deps.Recorder,
		registry:   registry,
		index:      index,
		metrics:    newMetrics(deps.Registerer, registry, index),
		proxies:    proxies,
		logger:     log.WithComponent("realtime"),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	s.wg.Add(2)
	go s.runPeriodic(cfg.HeartbeatInterval, func() { s.sendHeartbeats() })
	go s.runPeriodic(cfg.CapacityInterval, func() { s.enforceCapacity() })

	s.logger.Info().
		Str("path", cfg.Path).
		Bool("enabled", cfg.Enabled).
		Int("max_connections", cfg.MaxConnections).
		Msg("realtime service started")
	return s, nil
}

// Path is the HTTP path the listener expects to be mounted on.
func (s *Service) Path() string { return s.cfg.Path }

// Registry exposes the connection registry for diagnostics.
func (s *Service) Registry() *Registry { return s.registry }

// Index exposes the channel index for diagnostics.
func (s *Service) Index() *ChannelIndex { return s.index }

func (s *Service) connOptions() connOptions {
	return connOptions{
		queueSize:    s.cfg.SendQueueSize,
		inboundRate:  s.cfg.InboundRate,
		inboundBurst: s.cfg.InboundBurst,
	}
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// admit registers c and starts its goroutines. It fails once Shutdown has
// begun.
func (s *Service) admit(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if err := s.registry.Admit(c); err != nil {
		s.logger.Error().Err(err).Msg("admit connection")
		return false
	}
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump(s.metrics.recordWrite)
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
	return true
}

// disconnect tears c down exactly once: registry and index entries go first,
// then the write pump flushes and closes the transport. It reports false when
// c was already closing.
func (s *Service) disconnect(c *Conn, code int, reason string) bool {
	prev, ok := c.beginClose()
	if !ok {
		return false
	}
	subs := s.registry.Remove(c.ID)
	c.stopWriter(code, reason)
	s.metrics.disconnects.WithLabelValues(strconv.Itoa(code)).Inc()

	if prev == StateAuthenticated && s.recorder != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.retireConnection(c.ID, reason)
		}()
	}

	s.logger.Debug().
		Str("conn_id", c.ID).
		Int("code", code).
		Str("reason", reason).
		Int("subscriptions", len(subs)).
		Msg("connection closed")
	return true
}

// Shutdown stops the background tasks, closes every connection, and waits
// for their goroutines or ctx expiry.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	for _, c := range s.registry.All() {
		s.disconnect(c, websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("realtime service stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ChannelStats summarises the channel index.
type ChannelStats struct {
	Total   int            `json:"total"`
	Details map[string]int `json:"details"`
}

// Stats is a point-in-time snapshot for diagnostics.
type Stats struct {
	TotalConnections         int          `json:"totalConnections"`
	AuthenticatedConnections int          `json:"authenticatedConnections"`
	HealthyConnections       int          `json:"healthyConnections"`
	HealthRatio              float64      `json:"healthRatio"`
	Channels                 ChannelStats `json:"channels"`
}

// Stats counts connections and channels. A connection is healthy when it is
// open and has been heard from within two heartbeat intervals.
func (s *Service) Stats() Stats {
	conns := s.registry.All()
	cutoff := time.Now().Add(-2 * s.cfg.HeartbeatInterval)

	st := Stats{TotalConnections: len(conns), HealthRatio: 1}
	for _, c := range conns {
		state := c.State()
		if state == StateAuthenticated {
			st.AuthenticatedConnections++
		}
		if state != StateClosed && c.LastSeen().After(cutoff) {
			st.HealthyConnections++
		}
	}
	if st.TotalConnections > 0 {
		st.HealthRatio = float64(st.HealthyConnections) / float64(st.TotalConnections)
	}
	counts := s.index.Counts()
	st.Channels = ChannelStats{Total: len(counts), Details: counts}
	return st
}

// ConnectionInfo describes one live connection.
type ConnectionInfo struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	SubjectID     string    `json:"subjectId,omitempty"`
	TenantID      string    `json:"tenantId,omitempty"`
	RemoteAddr    string    `json:"remoteAddr"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastSeen      time.Time `json:"lastSeen"`
	Subscriptions []string  `json:"subscriptions"`
}

// ConnectionDetails lists every live connection in admission order.
func (s *Service) ConnectionDetails() []ConnectionInfo {
	conns := s.registry.All()
	out := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		c.mu.Lock()
		info := ConnectionInfo{
			ID:            c.ID,
			State:         c.state.String(),
			SubjectID:     c.subjectID,
			TenantID:      c.tenantID,
			RemoteAddr:    c.RemoteAddr,
			ConnectedAt:   c.ConnectedAt,
			LastSeen:      c.lastSeen,
			Subscriptions: sortedKeys(c.subs),
		}
		c.mu.Unlock()
		out = append(out, info)
	}
	return out
}

// ServeHTTP lets the service be mounted directly on a router.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handleUpgrade(w, r)
}
