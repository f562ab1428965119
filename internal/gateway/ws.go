// ABOUTME: Websocket accept, authenticate, dispatch, and teardown for chat connections
// ABOUTME: Credentials are verified before upgrade; presence changes are announced once per transition

package gateway

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/chaterr"
	"github.com/2389/chat-gateway/internal/conversation"
	"github.com/2389/chat-gateway/internal/realtime"
	"github.com/2389/chat-gateway/internal/store"
)

// statusMirrorTimeout bounds the best-effort presence write to the store.
const statusMirrorTimeout = 5 * time.Second

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return lo.Contains(allowedOrigins, origin) || lo.Contains(allowedOrigins, u.Host)
		},
	}
}

// handleWS authenticates the request and, only if that succeeds, upgrades
// it and runs the connection until it closes.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	id, err := auth.Authenticate(r, g.verifier)
	if err != nil {
		g.logger.Debug("rejected websocket connection", "remote", r.RemoteAddr, "error", err)
		auth.WriteAuthError(w, err)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		g.logger.Debug("websocket upgrade failed", "user_id", id.UserID, "error", err)
		return
	}

	c := newConn(ws, *id, g.connOpts, g.logger)

	g.conns.Add(1)
	defer g.conns.Done()

	g.connect(c)
	defer g.disconnect(c)

	go c.writePump()
	c.readPump(g.ctx, g.dispatch)
}

// connect registers c and announces the identity if it just came online.
// Registration and its announcement run under the identity's personal room
// sequence, so a racing disconnect of another device cannot reorder
// user-online and user-offline.
func (g *Gateway) connect(c *Conn) {
	id := c.Identity()
	_ = g.rooms.Sequence(realtime.UserRoom(id.UserID), func() error {
		first := g.presence.Register(id, c)
		g.rooms.Join(c, realtime.UserRoom(id.UserID))

		g.logger.Info("connection opened", "conn_id", c.ID(), "user_id", id.UserID, "first", first)

		if first {
			g.rooms.BroadcastAll(realtime.UserOnline{UserID: id.UserID, Username: id.Username}, c.ID())
			g.mirrorStatus(id, store.UserStatusOnline, time.Now())
		}
		return nil
	})
}

// disconnect tears c down. It runs after the read pump exits and is safe to
// repeat; presence and room removal are idempotent.
func (g *Gateway) disconnect(c *Conn) {
	c.Close()
	g.rooms.LeaveAll(c)

	id := c.Identity()
	_ = g.rooms.Sequence(realtime.UserRoom(id.UserID), func() error {
		last := g.presence.Deregister(id.UserID, c)

		g.logger.Info("connection closed", "conn_id", c.ID(), "user_id", id.UserID, "last", last)

		if !last {
			return nil
		}

		lastSeen, ok := g.presence.LastSeen(id.UserID)
		if !ok {
			lastSeen = time.Now()
		}
		g.rooms.BroadcastAll(realtime.UserOffline{
			UserID:   id.UserID,
			Username: id.Username,
			LastSeen: lastSeen,
		}, "")
		g.mirrorStatus(id, store.UserStatusOffline, lastSeen)
		return nil
	})
}

// mirrorStatus persists presence to the store. Failures are logged and
// never propagate.
func (g *Gateway) mirrorStatus(id auth.Identity, status store.UserStatus, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), statusMirrorTimeout)
	defer cancel()

	err := g.store.UpsertUser(ctx, &store.User{
		ID:       id.UserID,
		Username: id.Username,
		Status:   status,
		LastSeen: at,
	})
	if err != nil {
		g.logger.Warn("failed to persist presence", "user_id", id.UserID, "status", status, "error", err)
	}
}

// dispatch handles one inbound frame. Every failure goes back to the
// originating connection only.
func (g *Gateway) dispatch(ctx context.Context, c *Conn, frame []byte) {
	env, err := realtime.ParseEnvelope(frame)
	if err != nil {
		c.sendError("", err)
		return
	}

	if err := g.router.Route(ctx, c, env); err != nil {
		if chaterr.KindOf(err) == chaterr.KindStore {
			g.logger.Error("event failed", "event", env.Event, "conn_id", c.ID(), "error", err)
		} else {
			g.logger.Debug("event rejected", "event", env.Event, "conn_id", c.ID(), "error", err)
		}
		c.sendError(env.Event, err)
	}
}

// newEventRouter wires every client event to its handler.
func (g *Gateway) newEventRouter() *Router {
	r := NewRouter()
	r.Handle(realtime.EventJoinRoom, decoded(g.onJoinRoom))
	r.Handle(realtime.EventLeaveRoom, decoded(g.onLeaveRoom))
	r.Handle(realtime.EventSendMessage, decoded(g.onSendMessage))
	r.Handle(realtime.EventTyping, decoded(g.onTyping))
	r.Handle(realtime.EventMessageRead, decoded(g.onMessageRead))
	r.Handle(realtime.EventViewingChat, decoded(g.onViewingChat))
	r.Handle(realtime.EventMarkAllRead, decoded(g.onMarkAllRead))
	r.Handle(realtime.EventSetStatus, decoded(g.onSetStatus))
	return r
}

// onJoinRoom subscribes c to a conversation room it participates in. The
// check and the join share the room's sequence with removals, so a member
// removed concurrently is never left joined.
func (g *Gateway) onJoinRoom(ctx context.Context, c *Conn, req *realtime.RoomRequest) error {
	return g.rooms.Sequence(req.RoomID, func() error {
		if _, err := g.conversation.Get(ctx, c.UserID(), req.RoomID); err != nil {
			return err
		}
		g.rooms.Join(c, req.RoomID)
		return nil
	})
}

func (g *Gateway) onLeaveRoom(_ context.Context, c *Conn, req *realtime.RoomRequest) error {
	g.rooms.Leave(c, req.RoomID)
	return nil
}

// onSendMessage persists and broadcasts. A sender connection that has not
// joined the room still gets its own receive-message as confirmation.
func (g *Gateway) onSendMessage(ctx context.Context, c *Conn, req *realtime.SendMessageRequest) error {
	msg, err := g.conversation.SendMessage(ctx, conversation.SendRequest{
		ConversationID: req.RoomID,
		SenderID:       c.UserID(),
		Content:        req.Message.Content,
		Type:           req.Message.MessageType,
		FileURL:        req.Message.FileURL,
	})
	if err != nil {
		return err
	}

	if !g.rooms.IsMember(c.ID(), req.RoomID) {
		c.sendEvent(realtime.ReceiveMessage{Message: realtime.NewMessageView(msg), RoomID: req.RoomID})
	}
	return nil
}

// requireJoined guards broadcast-only events. Joining checks
// participation and removal evicts, so a joined connection is a
// participant.
func (g *Gateway) requireJoined(c *Conn, roomID string) error {
	if !g.rooms.IsMember(c.ID(), roomID) {
		return chaterr.Accessf("join %s before signalling it", roomID)
	}
	return nil
}

func (g *Gateway) onTyping(_ context.Context, c *Conn, req *realtime.TypingRequest) error {
	if err := g.requireJoined(c, req.RoomID); err != nil {
		return err
	}
	id := c.Identity()
	g.rooms.Broadcast(req.RoomID, realtime.UserTyping{
		UserID:   id.UserID,
		Username: id.Username,
		RoomID:   req.RoomID,
		IsTyping: req.IsTyping,
	}, c.ID())
	return nil
}

func (g *Gateway) onViewingChat(_ context.Context, c *Conn, req *realtime.RoomRequest) error {
	if err := g.requireJoined(c, req.RoomID); err != nil {
		return err
	}
	g.rooms.Broadcast(req.RoomID, realtime.UserViewing{UserID: c.UserID(), RoomID: req.RoomID}, c.ID())
	return nil
}

func (g *Gateway) onMessageRead(ctx context.Context, c *Conn, req *realtime.MessageReadRequest) error {
	msg, err := g.receipts.MarkRead(ctx, req.MessageID, c.UserID())
	if err != nil {
		return err
	}
	if msg.ConversationID != req.RoomID {
		g.logger.Debug("message-read room mismatch",
			"message_id", req.MessageID,
			"room_id", req.RoomID,
			"conversation_id", msg.ConversationID)
	}
	return nil
}

func (g *Gateway) onMarkAllRead(ctx context.Context, c *Conn, req *realtime.RoomRequest) error {
	_, err := g.receipts.MarkAllRead(ctx, req.RoomID, c.UserID())
	return err
}

// onSetStatus switches between online and away for every device of the
// identity and tells all connections.
func (g *Gateway) onSetStatus(_ context.Context, c *Conn, req *realtime.SetStatusRequest) error {
	if err := g.presence.SetStatus(c.UserID(), req.Status); err != nil {
		return chaterr.Validationf("%v", err)
	}
	g.rooms.BroadcastAll(realtime.UserStatus{UserID: c.UserID(), Status: req.Status}, "")
	g.mirrorStatus(c.Identity(), req.Status, time.Now())
	return nil
}
