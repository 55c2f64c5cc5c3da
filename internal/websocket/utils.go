package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// ReadWait bounds how long a connection may stay silent. Clients ping
	// well inside it.
	ReadWait = 2 * time.Minute
)

// Conn serializes writes to a gorilla connection, which allows only one
// concurrent writer.
type Conn struct {
	*websocket.Conn
	mu sync.Mutex
}

func NewConn(c *websocket.Conn) *Conn {
	return &Conn{Conn: c}
}

// WriteTyped sends a strongly-typed payload with a write deadline.
func (c *Conn) WriteTyped(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteJSON(v)
}

// WriteError answers request id with an error event.
func (c *Conn) WriteError(id uint64, code, msg string) error {
	return c.WriteTyped(Response{
		ID:    id,
		Event: EventError,
		Code:  code,
		Error: msg,
	})
}

// ReadJSON reads and decodes one message, resetting the read deadline.
func (c *Conn) ReadJSON(v any) error {
	_ = c.SetReadDeadline(time.Now().Add(ReadWait))
	return c.Conn.ReadJSON(v)
}
