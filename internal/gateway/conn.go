// ABOUTME: Websocket connection handle with a read pump and a buffered write pump
// ABOUTME: Enqueue never blocks and Close is idempotent, so broadcasts tolerate departed peers

package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/config"
	"github.com/2389/chat-gateway/internal/realtime"
)

// connOptions are the per-connection transport limits.
type connOptions struct {
	sendBuffer     int
	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
}

func connOptionsFrom(cfg config.RealtimeConfig) connOptions {
	return connOptions{
		sendBuffer:     cfg.SendBuffer,
		maxMessageSize: int64(cfg.MaxMessageSize),
		writeWait:      cfg.WriteWait,
		pongWait:       cfg.PongWait,
		pingPeriod:     cfg.PingPeriod(),
	}
}

// Conn is one authenticated websocket connection. It implements
// realtime.Peer.
type Conn struct {
	id       string
	identity auth.Identity
	ws       *websocket.Conn
	opts     connOptions
	logger   *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, id auth.Identity, opts connOptions, logger *slog.Logger) *Conn {
	connID := uuid.New().String()
	return &Conn{
		id:       connID,
		identity: id,
		ws:       ws,
		opts:     opts,
		logger:   logger.With("conn_id", connID, "user_id", id.UserID),
		send:     make(chan []byte, opts.sendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.identity.UserID }

// Identity returns the verified identity behind the connection.
func (c *Conn) Identity() auth.Identity { return c.identity }

// Enqueue queues frame for the write pump. It returns false without
// blocking if the connection is closed or its queue is full.
func (c *Conn) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame and closes the
// socket. Safe to call from any goroutine, any number of times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// sendEvent encodes ev and enqueues it for this connection only.
func (c *Conn) sendEvent(ev realtime.Event) {
	frame, err := realtime.Encode(ev)
	if err != nil {
		c.logger.Error("failed to encode event", "event", ev.EventName(), "error", err)
		return
	}
	if !c.Enqueue(frame) {
		c.logger.Debug("dropped event for unavailable connection", "event", ev.EventName())
	}
}

// sendError reports err to this connection as a typed error event.
func (c *Conn) sendError(event string, err error) {
	c.sendEvent(realtime.NewErrorEvent(event, err))
}

// readPump reads frames until the socket fails and hands each to handle in
// arrival order. Frames are never processed concurrently for one
// connection.
func (c *Conn) readPump(ctx context.Context, handle func(ctx context.Context, c *Conn, frame []byte)) {
	defer c.Close()

	c.ws.SetReadLimit(c.opts.maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait))
	})

	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("connection read error", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(ctx, c, frame)
	}
}

// writePump drains the send queue and keeps the connection alive with
// pings. It owns closing the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is already queued so a closing connection still
// delivers events enqueued before Close.
func (c *Conn) flush() {
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

var _ realtime.Peer = (*Conn)(nil)
