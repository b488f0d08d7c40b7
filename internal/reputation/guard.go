// Package reputation decides whether a client address may open a realtime
// connection.
package reputation

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/chainsyncstore/chainsync-notify/internal/log"
)

const (
	defaultConnectRate   = 5
	defaultConnectBurst  = 20
	defaultIdleTTL       = 3 * time.Minute
	defaultSweepInterval = time.Minute
)

// Config configures a Guard.
type Config struct {
	// Denylist holds CIDR blocks or single addresses that are always refused.
	Denylist      []string
	ConnectRate   float64 // attempts per second per address
	ConnectBurst  int
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

type attempts struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Guard flags denylisted addresses and addresses opening connections faster
// than their token bucket allows.
type Guard struct {
	denied []*net.IPNet
	rate   rate.Limit
	burst  int
	idle   time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	buckets map[string]*attempts

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New parses the denylist and starts the bucket sweeper. Call Stop to end it.
func New(cfg Config) (*Guard, error) {
	if cfg.ConnectRate <= 0 {
		cfg.ConnectRate = defaultConnectRate
	}
	if cfg.ConnectBurst <= 0 {
		cfg.ConnectBurst = defaultConnectBurst
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	denied := make([]*net.IPNet, 0, len(cfg.Denylist))
	for _, entry := range cfg.Denylist {
		n, err := parseNet(entry)
		if err != nil {
			return nil, err
		}
		denied = append(denied, n)
	}

	g := &Guard{
		denied:  denied,
		rate:    rate.Limit(cfg.ConnectRate),
		burst:   cfg.ConnectBurst,
		idle:    cfg.IdleTTL,
		logger:  log.WithComponent("reputation"),
		buckets: make(map[string]*attempts),
		stop:    make(chan struct{}),
	}

	g.wg.Add(1)
	go g.sweepLoop(cfg.SweepInterval)
	return g, nil
}

func parseNet(entry string) (*net.IPNet, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("reputation: invalid denylist entry %q: %w", entry, err)
		}
		return n, nil
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return nil, fmt.Errorf("reputation: invalid denylist entry %q", entry)
	}
	bits := 8 * net.IPv6len
	if v4 := ip.To4(); v4 != nil {
		ip, bits = v4, 8*net.IPv4len
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// IsAddressSuspicious reports whether addr should be refused. Every call
// counts as one connection attempt. Unparseable addresses are suspicious.
func (g *Guard) IsAddressSuspicious(_ context.Context, addr string) bool {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		g.logger.Warn().Str("remote_addr", addr).Msg("unparseable client address")
		return true
	}
	for _, n := range g.denied {
		if n.Contains(ip) {
			g.logger.Info().Str("remote_addr", addr).Str("network", n.String()).Msg("denylisted address")
			return true
		}
	}
	if !g.bucket(ip.String()).Allow() {
		g.logger.Warn().Str("remote_addr", addr).Msg("connection attempt rate exceeded")
		return true
	}
	return false
}

func (g *Guard) bucket(key string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if b, ok := g.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	b := &attempts{limiter: rate.NewLimiter(g.rate, g.burst), lastSeen: now}
	g.buckets[key] = b
	return b.limiter
}

func (g *Guard) sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := time.Now().Add(-g.idle)
	removed := 0
	for key, b := range g.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(g.buckets, key)
			removed++
		}
	}
	return removed
}

func (g *Guard) sweepLoop(interval time.Duration) {
	defer g.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.stop:
			return
		}
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
	g.wg.Wait()
}
