package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// State is the lifecycle state of a connection.
type State int32

const (
	StateConnected State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type outboundKind int

const (
	outFrame outboundKind = iota
	outPing
	outClose
)

type outbound struct {
	kind   outboundKind
	data   []byte
	code   int
	reason string
}

// Conn is one client connection. The write pump is the only writer to its
// transport; everything else enqueues.
type Conn struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	seq       uint64
	transport Transport
	send      chan outbound
	limiter   *rate.Limiter
	done      chan struct{}

	mu        sync.Mutex
	state     State
	subjectID string
	tenantID  string
	subs      map[string]struct{}
	lastSeen  time.Time
}

type connOptions struct {
	queueSize    int
	inboundRate  float64
	inboundBurst int
}

func newConn(id, remoteAddr string, t Transport, opts connOptions) *Conn {
	now := time.Now().UTC()
	return &Conn{
		ID:          id,
		RemoteAddr:  remoteAddr,
		ConnectedAt: now,
		transport:   t,
		send:        make(chan outbound, opts.queueSize),
		limiter:     rate.NewLimiter(rate.Limit(opts.inboundRate), opts.inboundBurst),
		done:        make(chan struct{}),
		subs:        make(map[string]struct{}),
		lastSeen:    now,
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) SubjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subjectID
}

func (c *Conn) TenantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenantID
}

func (c *Conn) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Subscriptions returns the channels this connection is subscribed to, sorted.
func (c *Conn) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.subs)
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now().UTC()
	c.mu.Unlock()
}

// enqueue queues a text frame without blocking. It reports false when the
// connection is closed or its queue is full.
func (c *Conn) enqueue(data []byte) bool {
	return c.offer(outbound{kind: outFrame, data: data})
}

func (c *Conn) enqueuePing() bool {
	return c.offer(outbound{kind: outPing})
}

func (c *Conn) offer(item outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	select {
	case c.send <- item:
		return true
	default:
		return false
	}
}

// beginClose moves the connection to StateClosed. Only the first caller gets
// ok == true; prev is the state it left.
func (c *Conn) beginClose() (prev State, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return c.state, false
	}
	prev = c.state
	c.state = StateClosed
	return prev, true
}

// stopWriter asks the write pump to flush what is queued and close the
// transport. With a full queue the transport is closed directly, which fails
// the pending writes and ends the pump.
func (c *Conn) stopWriter(code int, reason string) {
	select {
	case c.send <- outbound{kind: outClose, code: code, reason: reason}:
	default:
		_ = c.transport.Close(code, reason)
	}
}

// writePump drains the send queue onto the transport until a close item or a
// write error.
func (c *Conn) writePump(onWrite func(outboundKind)) {
	defer close(c.done)
	for item := range c.send {
		switch item.kind {
		case outFrame:
			if err := c.transport.WriteFrame(item.data); err != nil {
				_ = c.transport.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case outPing:
			if err := c.transport.WritePing(); err != nil {
				_ = c.transport.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case outClose:
			_ = c.transport.Close(item.code, item.reason)
			return
		}
		if onWrite != nil {
			onWrite(item.kind)
		}
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
