package realtime

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds every live connection and keeps the ChannelIndex consistent
// with each connection's subscription set. Lock order is Registry, then Conn,
// then ChannelIndex.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	index *ChannelIndex
	seq   uint64
}

func NewRegistry(index *ChannelIndex) *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
		index: index,
	}
}

// Admit registers a new connection in StateConnected.
func (r *Registry) Admit(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[c.ID]; exists {
		return fmt.Errorf("realtime: connection %s already admitted", c.ID)
	}
	r.seq++
	c.seq = r.seq
	r.conns[c.ID] = c
	return nil
}

// Authenticate binds subject and tenant to the connection. A closed
// connection is not resurrected.
func (r *Registry) Authenticate(id, subjectID, tenantID string) (*Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, ErrUnknownConnection
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil, ErrUnknownConnection
	}
	c.state = StateAuthenticated
	c.subjectID = subjectID
	c.tenantID = tenantID
	return c, nil
}

// Subscribe adds channel to the connection's set and the index together.
// Subscribing twice is a no-op.
func (r *Registry) Subscribe(id, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	c.mu.Lock()
	c.subs[channel] = struct{}{}
	c.mu.Unlock()
	r.index.Subscribe(channel, id)
	return nil
}

// Unsubscribe removes channel from the connection's set and the index.
// Unsubscribing from a channel not held is a no-op.
func (r *Registry) Unsubscribe(id, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	c.mu.Lock()
	_, held := c.subs[channel]
	delete(c.subs, channel)
	c.mu.Unlock()
	if held {
		r.index.Unsubscribe(channel, id)
	}
	return nil
}

// Remove unwinds every index entry of the connection, then drops it. It
// returns the channels it held; removing an unknown id returns nil.
func (r *Registry) Remove(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	c.mu.Lock()
	subs := sortedKeys(c.subs)
	c.subs = make(map[string]struct{})
	c.mu.Unlock()
	r.index.UnsubscribeAll(id, subs)
	delete(r.conns, id)
	return subs
}

func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// All returns the live connections in admission order.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) CountAuthenticated() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conns {
		if c.State() == StateAuthenticated {
			n++
		}
	}
	return n
}
