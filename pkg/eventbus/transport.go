package eventbus

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Transport is the wire-level contract EventBus needs: send one
// framed value, receive one framed message, close. A websocket
// connection is the reference implementation; anything that can
// frame JSON messages (a unix socket, stdio) could implement it too.
type Transport interface {
	Send(v any) error
	Receive() ([]byte, error)
	Close() error
}

// safeConn serializes concurrent writers the way
// genesis/pkg/channels/web/web_channel.go's SafeConn does — gorilla's
// *websocket.Conn permits only one writer at a time, and both the bus
// worker and the connection monitor write concurrently.
type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *safeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

// WebSocketTransport implements Transport over a single gorilla
// websocket connection, framework on one end, adapter on the other.
type WebSocketTransport struct {
	conn *safeConn
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Accept upgrades an inbound HTTP request to a websocket connection and
// wraps it as a Transport, mirroring handleWebSocket's upgrade step.
func Accept(w http.ResponseWriter, r *http.Request) (*WebSocketTransport, error) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade websocket: %w", err)
	}
	return &WebSocketTransport{conn: &safeConn{Conn: raw}}, nil
}

// Dial connects to a framework-hosted event-socket endpoint as a client.
func Dial(url string) (*WebSocketTransport, error) {
	raw, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial event socket %s: %w", url, err)
	}
	return &WebSocketTransport{conn: &safeConn{Conn: raw}}, nil
}

// Send marshals v and writes it as a single text frame.
func (t *WebSocketTransport) Send(v any) error {
	data, err := wireJSON.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event-socket message: %w", err)
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive blocks for the next inbound frame's raw bytes.
func (t *WebSocketTransport) Receive() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close closes the underlying connection.
func (t *WebSocketTransport) Close() error {
	return t.conn.Close()
}
