// internal/websocket/client.go
package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"road-state-gateway/internal/config"
)

// Options tune a subscriber connection.
type Options struct {
	SendBuffer     int           // Outbound messages queued before the client counts as stalled.
	WriteWait      time.Duration // Time allowed to write a message to the peer.
	PongWait       time.Duration // Time allowed to read the next pong message from the peer.
	PingPeriod     time.Duration // Send pings to peer with this period. Must be less than PongWait.
	MaxMessageSize int64         // Maximum message size allowed from peer.
}

func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().WebSocket)
}

func OptionsFromConfig(cfg config.WebSocketConfig) Options {
	return Options{
		SendBuffer:     cfg.SendBuffer,
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		PingPeriod:     cfg.PingPeriod(),
		MaxMessageSize: cfg.MaxMessageSize,
	}
}

// Client is a middleman between one subscriber connection and the hub. It
// is bound to a single user for its whole lifetime.
type Client struct {
	ID     string
	UserID int64
	Conn   *websocket.Conn

	hub  *Hub
	opts Options
	log  logrus.FieldLogger

	// send is written and closed only by the hub, under the lock of the
	// subscriber set that holds this client.
	send      chan []byte
	closeOnce sync.Once
	done      atomic.Bool
}

// NewClient wraps conn for userID. conn may be nil when the client is only
// used against the hub, as the tests do.
func NewClient(hub *Hub, conn *websocket.Conn, userID int64, opts Options, log logrus.FieldLogger) *Client {
	id := uuid.NewString()
	fields := logrus.Fields{"client_id": id, "user_id": userID}
	if conn != nil {
		fields["remote_addr"] = conn.RemoteAddr().String()
	}
	return &Client{
		ID:     id,
		UserID: userID,
		Conn:   conn,
		hub:    hub,
		opts:   opts,
		log:    log.WithFields(fields),
		send:   make(chan []byte, opts.SendBuffer),
	}
}

// Closed reports whether the hub has released this client.
func (c *Client) Closed() bool {
	return c.done.Load()
}

// release closes the outbound queue, which tells WritePump to hang up.
func (c *Client) release() {
	c.closeOnce.Do(func() {
		c.done.Store(true)
		close(c.send)
	})
}

// ReadPump blocks until the peer disconnects or the connection fails, then
// unsubscribes the client. Inbound messages are treated as heartbeats.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unsubscribe(c.UserID, c)
		c.Conn.Close()
		c.log.Debug("read pump finished")
	}()
	c.Conn.SetReadLimit(c.opts.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Info("subscriber connection lost")
			}
			return
		}
		// Any inbound frame proves the peer is alive.
		c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	}
}

// WritePump pumps queued payloads to the connection, one frame per payload,
// and keeps the peer alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.log.Debug("write pump finished")
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				// The hub released the client.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Info("write to subscriber failed")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Debug("ping failed")
				return
			}
		}
	}
}
