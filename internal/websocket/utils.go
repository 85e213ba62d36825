package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// ReadWait is how long a connection may stay silent before it is dropped.
	ReadWait = 5 * time.Minute
)

// Conn wraps a gorilla connection so that replies and pushed proctor
// commands can be written from different goroutines. Reads must still come
// from a single goroutine.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewConn wraps ws.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// WriteTyped sends a strongly-typed payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(reqID, code, errMsg string) error {
	return c.WriteTyped(ErrorResponse{
		Event: EventError,
		ReqID: reqID,
		Code:  code,
		Error: errMsg,
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func (c *Conn) ReadJSON(v interface{}) error {
	_ = c.ws.SetReadDeadline(time.Now().Add(ReadWait))
	return c.ws.ReadJSON(v)
}

// ReadRaw reads one text frame without decoding it.
func (c *Conn) ReadRaw() ([]byte, error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(ReadWait))
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Close sends a normal closure frame and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}
