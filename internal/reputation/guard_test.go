package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newGuard(t *testing.T, cfg Config) *Guard {
	t.Helper()
	g, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(g.Stop)
	return g
}

func TestGuard_Denylist(t *testing.T) {
	g := newGuard(t, Config{Denylist: []string{"203.0.113.0/24", "198.51.100.7", "2001:db8::/32"}})
	ctx := context.Background()

	assert.True(t, g.IsAddressSuspicious(ctx, "203.0.113.42"))
	assert.True(t, g.IsAddressSuspicious(ctx, "198.51.100.7"))
	assert.True(t, g.IsAddressSuspicious(ctx, "2001:db8::1"))

	assert.False(t, g.IsAddressSuspicious(ctx, "198.51.100.8"))
	assert.False(t, g.IsAddressSuspicious(ctx, "192.0.2.1"))
}

func TestGuard_InvalidDenylistEntry(t *testing.T) {
	_, err := New(Config{Denylist: []string{"not-an-ip"}})
	assert.Error(t, err)
	_, err = New(Config{Denylist: []string{"10.0.0.0/99"}})
	assert.Error(t, err)
}

func TestGuard_UnparseableAddressIsSuspicious(t *testing.T) {
	g := newGuard(t, Config{})
	assert.True(t, g.IsAddressSuspicious(context.Background(), ""))
	assert.True(t, g.IsAddressSuspicious(context.Background(), "host.example:80"))
}

func TestGuard_ConnectionAttemptRate(t *testing.T) {
	g := newGuard(t, Config{ConnectRate: 0.01, ConnectBurst: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.False(t, g.IsAddressSuspicious(ctx, "192.0.2.10"), "attempt %d", i)
	}
	assert.True(t, g.IsAddressSuspicious(ctx, "192.0.2.10"))

	// Buckets are per address.
	assert.False(t, g.IsAddressSuspicious(ctx, "192.0.2.11"))
}

func TestGuard_SweepDropsIdleBuckets(t *testing.T) {
	g := newGuard(t, Config{IdleTTL: time.Millisecond, SweepInterval: time.Hour})
	g.IsAddressSuspicious(context.Background(), "192.0.2.10")
	g.IsAddressSuspicious(context.Background(), "192.0.2.11")

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 2, g.sweep())
	assert.Equal(t, 0, g.sweep())
}

func TestGuard_StopIsIdempotent(t *testing.T) {
	g, err := New(Config{})
	require.NoError(t, err)
	g.Stop()
	g.Stop()
}
