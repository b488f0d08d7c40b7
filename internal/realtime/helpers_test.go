package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/chainsyncstore/chainsync-notify/internal/notifications"
)

const waitFor = 2 * time.Second

var errTransportClosed = errors.New("fake transport closed")

// fakeTransport is an in-memory Transport. Frames written by the service
// arrive on out; frames for the service are pushed on in.
type fakeTransport struct {
	in       chan []byte
	readErr  chan error
	out      chan []byte
	closedCh chan struct{}

	mu          sync.Mutex
	pings       int
	closed      bool
	closeCode   int
	closeReason string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:       make(chan []byte, 16),
		readErr:  make(chan error, 1),
		out:      make(chan []byte, 1024),
		closedCh: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadFrame() ([]byte, error) {
	select {
	case d := <-f.in:
		return d, nil
	case err := <-f.readErr:
		return nil, err
	case <-f.closedCh:
		return nil, errTransportClosed
	}
}

func (f *fakeTransport) WriteFrame(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errTransportClosed
	}
	f.out <- data
	return nil
}

func (f *fakeTransport) WritePing() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errTransportClosed
	}
	f.pings++
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
	close(f.closedCh)
	return nil
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) send(t *testing.T, frameType string, data interface{}) {
	t.Helper()
	frame := map[string]interface{}{"type": frameType}
	if data != nil {
		frame["data"] = data
	}
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	f.in <- raw
}

func (f *fakeTransport) next(t *testing.T) Frame {
	t.Helper()
	select {
	case raw := <-f.out:
		var fr Frame
		require.NoError(t, json.Unmarshal(raw, &fr))
		return fr
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a frame")
		return Frame{}
	}
}

func (f *fakeTransport) expectNoFrame(t *testing.T) {
	t.Helper()
	select {
	case raw := <-f.out:
		t.Fatalf("unexpected frame: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *fakeTransport) waitClosed(t *testing.T) int {
	t.Helper()
	select {
	case <-f.closedCh:
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for transport close")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func frameData(t *testing.T, f Frame) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(f.Data, &out))
	return out
}

func requireErrorFrame(t *testing.T, f Frame, contains string) {
	t.Helper()
	require.Equal(t, FrameNotification, f.Type)
	msg, ok := frameData(t, f)["error"].(string)
	require.True(t, ok, "expected an error frame, got %s", f.Data)
	require.Contains(t, msg, contains)
}

// testVerifier accepts tokens of the form "valid:<subject>:<tenant>".
func testVerifier() TokenVerifier {
	return VerifierFunc(func(_ context.Context, token string) (Identity, error) {
		parts := strings.Split(token, ":")
		if len(parts) != 3 || parts[0] != "valid" {
			return Identity{}, errors.New("invalid token")
		}
		return Identity{SubjectID: parts[1], TenantID: parts[2]}, nil
	})
}

type failingStore struct{}

func (failingStore) Insert(context.Context, notifications.Event) (notifications.PersistedEvent, error) {
	return notifications.PersistedEvent{}, errors.New("database unavailable")
}

type recorder struct {
	mu      sync.Mutex
	records []ConnectionRecord
	retired map[string]string
}

func (r *recorder) RecordConnection(_ context.Context, rec ConnectionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) RetireConnection(_ context.Context, id, reason string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired == nil {
		r.retired = make(map[string]string)
	}
	r.retired[id] = reason
	return nil
}

func (r *recorder) snapshot() ([]ConnectionRecord, map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	retired := make(map[string]string, len(r.retired))
	for k, v := range r.retired {
		retired[k] = v
	}
	return append([]ConnectionRecord(nil), r.records...), retired
}

type staticReputation bool

func (s staticReputation) IsAddressSuspicious(context.Context, string) bool { return bool(s) }

type reputationFunc func(addr string) bool

func (f reputationFunc) IsAddressSuspicious(_ context.Context, addr string) bool { return f(addr) }

type option func(*Config, *Dependencies)

func newTestService(t *testing.T, opts ...option) *Service {
	t.Helper()
	cfg := Config{
		Enabled:           true,
		HeartbeatInterval: time.Hour,
		CapacityInterval:  time.Hour,
	}
	deps := Dependencies{
		Store:      notifications.NewMemoryStore(0),
		Verifier:   testVerifier(),
		Registerer: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	svc, err := New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, svc.Shutdown(ctx))
	})
	return svc
}

func admitFake(t *testing.T, svc *Service) (*Conn, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c := newConn(newConnectionID(), "10.0.0.1", ft, svc.connOptions())
	require.True(t, svc.admit(c))
	return c, ft
}

// authenticated admits a fake connection and completes the auth exchange.
func authenticated(t *testing.T, svc *Service, subject, tenant string) (*Conn, *fakeTransport) {
	t.Helper()
	c, ft := admitFake(t, svc)
	ft.send(t, FrameAuth, map[string]string{"token": "valid:" + subject + ":" + tenant})
	ack := ft.next(t)
	require.Equal(t, "authenticated", frameData(t, ack)["status"])
	return c, ft
}

func subscribe(t *testing.T, ft *fakeTransport, channel string) {
	t.Helper()
	ft.send(t, FrameSubscribe, map[string]string{"channel": channel})
	require.Equal(t, channel, frameData(t, ft.next(t))["subscribed"])
}

func testEvent(t *testing.T, tenant, subject string, priority notifications.Priority) notifications.Event {
	t.Helper()
	ev, err := notifications.NewEvent(notifications.KindInventoryAlert, tenant, subject, "Low stock", "SKU-1 below threshold", nil, priority)
	require.NoError(t, err)
	return ev
}
