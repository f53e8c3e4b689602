package serverctl

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// wsTransport implements session.Transport over one switch-facing audio
// WebSocket connection. Grounded on httpapi.handleSessionWS's writer
// goroutine (buffered outbound channel, one writer owns the connection)
// — narrowed to a direct synchronous write since RealtimeSession already
// serializes its own outbound loop onto one goroutine per call, so a
// second buffering layer here would only add latency.
type wsTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

// SendAudio writes frame as a binary WebSocket message — raw audio
// bytes per the negotiated format.
func (t *wsTransport) SendAudio(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// SendControl marshals v as JSON and writes it as a text frame, e.g. the
// bridge->switch streamAudio/hangup shapes.
func (t *wsTransport) SendControl(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
