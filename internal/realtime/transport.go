package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the per-connection wire. Only the connection's write pump
// calls the write methods; ReadFrame is called from the read loop alone.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	WritePing() error
	// Close sends a close frame with code and reason, then releases the
	// underlying connection. Calls after the first are no-ops.
	Close(code int, reason string) error
}

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func newWSTransport(conn *websocket.Conn, maxFrameSize int64, writeTimeout time.Duration) *wsTransport {
	conn.SetReadLimit(maxFrameSize)
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, ErrFrameTooLarge
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) WriteFrame(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) WritePing() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func (t *wsTransport) Close(code int, reason string) error {
	t.closeOnce.Do(func() {
		// A close frame may already be on the wire (gorilla sends 1009 on read
		// limit), in which case this write fails with ErrCloseSent.
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(t.writeTimeout))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// onPong installs a pong handler on the underlying websocket.
func (t *wsTransport) onPong(fn func()) {
	t.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}
