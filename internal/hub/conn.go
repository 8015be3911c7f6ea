package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/token"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 90 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Conn is one live transport session belonging to exactly one identity.
// It is owned by the engine's registry for its lifetime; outbound traffic
// goes through the buffered send channel and a single writer goroutine.
type Conn struct {
	ID        string
	AgentID   string
	AgentName string
	OrgID     string
	Category  string

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce    sync.Once
	teardownOnce sync.Once
}

func newConn(ws *websocket.Conn, id token.Identity) *Conn {
	return &Conn{
		ID:        uuid.NewString(),
		AgentID:   id.AgentID,
		AgentName: id.Name,
		OrgID:     id.OrgID,
		Category:  id.Category,
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

// Send queues a payload for delivery without blocking. A full buffer means
// the peer is not draining; the payload is dropped and false returned, so
// the relay never stalls one channel's fan-out on a slow subscriber.
func (c *Conn) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close shuts the connection down exactly once. Safe from any goroutine.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			c.ws.Close()
		}
	})
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with periodic pings. One writer per connection; the
// gorilla API forbids concurrent writers.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
