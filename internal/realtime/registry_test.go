package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryConn(id string) *Conn {
	return newConn(id, "127.0.0.1", newFakeTransport(), connOptions{queueSize: 4, inboundRate: 1, inboundBurst: 1})
}

// requireSymmetric checks that every connection's subscription set matches
// the index exactly.
func requireSymmetric(t *testing.T, r *Registry) {
	t.Helper()
	fromConns := make(map[string]map[string]struct{})
	for _, c := range r.All() {
		for _, ch := range c.Subscriptions() {
			if fromConns[ch] == nil {
				fromConns[ch] = make(map[string]struct{})
			}
			fromConns[ch][c.ID] = struct{}{}
		}
	}
	counts := r.index.Counts()
	require.Len(t, counts, len(fromConns))
	for ch, n := range counts {
		require.Len(t, fromConns[ch], n, ch)
		for _, id := range r.index.SubscribersOf(ch) {
			_, ok := fromConns[ch][id]
			require.True(t, ok, "index holds %s on %s but the connection does not", id, ch)
		}
	}
}

func TestRegistry_AdmitAndAuthenticate(t *testing.T) {
	r := NewRegistry(NewChannelIndex())
	c := registryConn("c1")
	require.NoError(t, r.Admit(c))
	assert.Error(t, r.Admit(c), "duplicate admit")

	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 0, r.CountAuthenticated())

	_, err := r.Authenticate("c1", "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, c.State())
	assert.Equal(t, "u1", c.SubjectID())
	assert.Equal(t, "t1", c.TenantID())
	assert.Equal(t, 1, r.CountAuthenticated())

	_, err = r.Authenticate("missing", "u1", "t1")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestRegistry_AuthenticateClosedConnection(t *testing.T) {
	r := NewRegistry(NewChannelIndex())
	c := registryConn("c1")
	require.NoError(t, r.Admit(c))
	c.beginClose()

	_, err := r.Authenticate("c1", "u1", "t1")
	assert.ErrorIs(t, err, ErrUnknownConnection)
	assert.Equal(t, StateClosed, c.State())
}

func TestRegistry_RemoveUnwindsIndex(t *testing.T) {
	r := NewRegistry(NewChannelIndex())
	a, b := registryConn("a"), registryConn("b")
	require.NoError(t, r.Admit(a))
	require.NoError(t, r.Admit(b))

	for _, ch := range []string{"tenant:t1", "subject:u1", "critical:t1"} {
		require.NoError(t, r.Subscribe("a", ch))
	}
	require.NoError(t, r.Subscribe("b", "tenant:t1"))

	subs := r.Remove("a")
	assert.Equal(t, []string{"critical:t1", "subject:u1", "tenant:t1"}, subs)
	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, map[string]int{"tenant:t1": 1}, r.index.Counts())

	assert.Nil(t, r.Remove("a"), "second remove is a no-op")
	requireSymmetric(t, r)
}

func TestRegistry_UnknownConnection(t *testing.T) {
	r := NewRegistry(NewChannelIndex())
	assert.ErrorIs(t, r.Subscribe("ghost", "tenant:t1"), ErrUnknownConnection)
	assert.ErrorIs(t, r.Unsubscribe("ghost", "tenant:t1"), ErrUnknownConnection)
	assert.Equal(t, 0, r.index.Len())
}

func TestRegistry_AllInAdmissionOrder(t *testing.T) {
	r := NewRegistry(NewChannelIndex())
	ids := []string{"z", "a", "m", "b"}
	for _, id := range ids {
		require.NoError(t, r.Admit(registryConn(id)))
	}
	var got []string
	for _, c := range r.All() {
		got = append(got, c.ID)
	}
	assert.Equal(t, ids, got)
}

func TestRegistry_ConcurrentSubscriptionsStaySymmetric(t *testing.T) {
	r := NewRegistry(NewChannelIndex())
	const conns = 8
	for i := 0; i < conns; i++ {
		require.NoError(t, r.Admit(registryConn(fmt.Sprintf("c%d", i))))
	}

	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			for j := 0; j < 200; j++ {
				ch := fmt.Sprintf("store:%d", j%5)
				if j%3 == 0 {
					_ = r.Unsubscribe(id, ch)
				} else {
					_ = r.Subscribe(id, ch)
				}
			}
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	requireSymmetric(t, r)
	assert.Equal(t, conns/2, r.Len())
}
