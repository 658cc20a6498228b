package hub

import (
	"sync"
	"time"

	"github.com/Egcarson/chatroom/src/types"
)

// IngestFunc handles one raw inbound payload read from a client.
type IngestFunc func(c *Client, raw []byte)

// Client wraps a WebSocket connection admitted to a chatroom. It owns
// the bounded outbound channel drained by WritePump; the broadcaster
// only ever enqueues onto it.
type Client struct {
	ID          string
	Identity    types.Identity
	RoomID      string
	ConnectedAt time.Time

	conn types.Conn
	hub  *Hub
	send chan any
	done chan struct{}

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
	drops       int
}

// NewClient creates a client wrapper around an accepted connection.
// queueCap bounds the outbound channel; a peer that stops draining it
// is eventually evicted by the broadcaster.
func NewClient(id string, ident types.Identity, conn types.Conn, h *Hub, queueCap int) *Client {
	if queueCap <= 0 {
		queueCap = 256
	}
	return &Client{
		ID:          id,
		Identity:    ident,
		ConnectedAt: time.Now().UTC(),
		conn:        conn,
		hub:         h,
		send:        make(chan any, queueCap),
		done:        make(chan struct{}),
	}
}

// Info returns metadata about this client.
func (c *Client) Info() types.MemberInfo {
	return types.MemberInfo{
		ConnectionID: c.ID,
		UserID:       c.Identity.UserID,
		Username:     c.Identity.Username,
		ConnectedAt:  c.ConnectedAt,
	}
}

// Enqueue attempts a non-blocking delivery to this client's outbound
// channel. It reports false when the client is gone or its queue is
// full; the caller never waits.
func (c *Client) Enqueue(v any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- v:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// noteDrop records one failed enqueue and returns the consecutive-drop
// count so the broadcaster can decide on eviction.
func (c *Client) noteDrop() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drops++
	return c.drops
}

func (c *Client) resetDrops() {
	c.mu.Lock()
	c.drops = 0
	c.mu.Unlock()
}

// CloseWithCode transitions the client to closing exactly once,
// recording the close frame the write pump will deliver. Later calls
// with a different code are no-ops.
func (c *Client) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.done)
	c.mu.Unlock()
}

// Done is closed when the client enters the closing state.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) closeFrame() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		return types.CloseNormal, ""
	}
	return c.closeCode, c.closeReason
}

// ReadPump reads inbound payloads and hands them to ingest. It returns
// when the transport fails, the peer closes, or the connection is
// force-closed, and always deregisters the client on the way out.
func (c *Client) ReadPump(ingest IngestFunc) {
	defer func() {
		c.CloseWithCode(types.CloseNormal, "")
		c.hub.Remove(c)
		c.conn.Close()
	}()

	for {
		raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		ingest(c, raw)
	}
}

// WritePump drains the outbound channel to the transport and keeps the
// connection alive with pings. On exit it delivers the recorded close
// frame and closes the transport, which also unblocks ReadPump.
func (c *Client) WritePump(pingInterval time.Duration) {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		code, reason := c.closeFrame()
		c.conn.WriteClose(code, reason)
		c.conn.Close()
	}()

	for {
		select {
		case v := <-c.send:
			if err := c.conn.WriteJSON(v); err != nil {
				c.CloseWithCode(types.CloseNormal, "")
				c.hub.Remove(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(); err != nil {
				c.CloseWithCode(types.CloseNormal, "")
				c.hub.Remove(c)
				return
			}
		case <-c.done:
			// Flush whatever is already queued before closing.
			for {
				select {
				case v := <-c.send:
					if c.conn.WriteJSON(v) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
