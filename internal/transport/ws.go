// Package transport maintains the realtime channel carrying location updates
// to the backend. Delivery is fire-and-forget: the controller hands a
// position over and never waits; reconnection and backoff are handled here.
package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// locationUpdate is the wire frame for one position push.
type locationUpdate struct {
	Event     string  `json:"event"`
	SessionID string  `json:"sessionId"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

const (
	eventUpdateLocation = "update-location"

	writeTimeout   = 5 * time.Second
	minBackoff     = time.Second
	maxBackoff     = 30 * time.Second
	sendQueueDepth = 64
)

// Channel is a websocket TransportChannel. Updates queue through a bounded
// buffer; when the buffer is full new updates are dropped (at-most-once
// delivery, no retry).
type Channel struct {
	url    string
	dialer *websocket.Dialer

	sendq     chan locationUpdate
	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel starts a channel towards the given websocket URL. The
// connection is established lazily and re-established with exponential
// backoff after failures.
func NewChannel(url string) *Channel {
	c := &Channel{
		url:    url,
		dialer: websocket.DefaultDialer,
		sendq:  make(chan locationUpdate, sendQueueDepth),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

// EmitLocation enqueues one position push. Never blocks; the update is
// dropped when the channel is saturated or closed.
func (c *Channel) EmitLocation(sessionID string, lat, lng float64) {
	u := locationUpdate{Event: eventUpdateLocation, SessionID: sessionID, Lat: lat, Lng: lng}
	select {
	case c.sendq <- u:
	case <-c.done:
	default:
	}
}

// Close tears the channel down. Queued updates are discarded.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// run owns the connection: dial, drain the queue, reconnect on failure.
func (c *Channel) run() {
	backoff := minBackoff

	for {
		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			slog.Warn("realtime channel dial failed", "url", c.url, "backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
			case <-c.done:
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff
		slog.Info("realtime channel connected", "url", c.url)

		if !c.writeLoop(conn) {
			conn.Close()
			return
		}
		conn.Close()
	}
}

// writeLoop drains the queue onto conn until a write fails (reconnect) or
// the channel is closed. Returns false when the channel is done.
func (c *Channel) writeLoop(conn *websocket.Conn) bool {
	for {
		select {
		case u := <-c.sendq:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(u); err != nil {
				slog.Warn("location push failed", "session", u.SessionID, "error", err)
				return true
			}
		case <-c.done:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return false
		}
	}
}
