package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errConnClosed = errors.New("websocket connection closed")

// conn adapts a gorilla connection to session.Conn. gorilla allows a single
// concurrent writer, so every write goes through mu.
type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu   sync.Mutex
	open bool
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *conn {
	return &conn{ws: ws, writeTimeout: writeTimeout, open: true}
}

func (c *conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return errConnClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code and reason, then drops the socket.
func (c *conn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}
	c.open = false

	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	return c.ws.Close()
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return errConnClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// release drops the socket without a close handshake; used once the read
// side has already failed.
func (c *conn) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return
	}
	c.open = false
	_ = c.ws.Close()
}
