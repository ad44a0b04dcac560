package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Identity is everything the handshake query string tells us about a
// connection. The token is opaque here; it is forwarded to the backend on
// every call made on this connection's behalf.
type Identity struct {
	UserID         string
	DeviceID       string
	IsAdmin        bool
	ConversationID string
	Token          string
	OnApp          bool
}

// Client is one live websocket connection. A user may own many Clients at
// once (one per device/tab); each Client belongs to exactly one user.
type Client struct {
	Identity
	SocketID string

	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	alive   atomic.Bool

	mu     sync.Mutex
	closed bool
}

func NewClient(conn *websocket.Conn, id Identity, sendBuffer, rps int) *Client {
	c := &Client{
		Identity: id,
		SocketID: uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
	}
	c.alive.Store(true)
	return c
}

// Push queues a payload for the writer goroutine. Returns false when the
// connection is closed or the buffer is full; such payloads are dropped,
// never retried.
func (c *Client) Push(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Open reports whether the connection can still accept payloads.
func (c *Client) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close is idempotent; connections are routinely closed twice (transport
// close racing a heartbeat timeout).
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) Alive() bool { return c.alive.Load() }

func (c *Client) MarkAlive() { c.alive.Store(true) }

func (c *Client) ClearAlive() { c.alive.Store(false) }

func (c *Client) AllowInbound() bool { return c.limiter.Allow() }

// Ping sends a control probe. The matching pong arrives on the reader
// goroutine and flips the liveness flag back.
func (c *Client) Ping(deadline time.Duration) error {
	if c.conn == nil {
		return nil
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(deadline))
}

// writePump drains the send channel onto the socket. One writer per
// connection; data frames never interleave.
func (c *Client) writePump(deadline time.Duration) {
	defer c.Close()
	for b := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(deadline))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
