// ABOUTME: Router maps realtime event names to typed handlers for a connection
// ABOUTME: Payloads are decoded and validated before a handler sees them

package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/2389/chat-gateway/internal/chaterr"
	"github.com/2389/chat-gateway/internal/realtime"
)

// ErrUnknownEvent means no handler is registered for an inbound event.
var ErrUnknownEvent = errors.New("unknown event")

// HandlerFunc processes one inbound envelope for a connection.
type HandlerFunc func(ctx context.Context, c *Conn, env *realtime.Envelope) error

// Router dispatches inbound events by name.
type Router struct {
	handlers map[string]HandlerFunc
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Handle registers h for event, replacing any previous handler.
func (r *Router) Handle(event string, h HandlerFunc) {
	r.handlers[event] = h
}

// Route runs the handler for env.Event.
// Returns an ErrValidation-classified ErrUnknownEvent if none is registered.
func (r *Router) Route(ctx context.Context, c *Conn, env *realtime.Envelope) error {
	h, ok := r.handlers[env.Event]
	if !ok {
		return fmt.Errorf("%w: %w: %q", chaterr.ErrValidation, ErrUnknownEvent, env.Event)
	}
	return h(ctx, c, env)
}

// Events returns the registered event names, sorted.
func (r *Router) Events() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decoded adapts a handler taking a typed payload into a HandlerFunc.
func decoded[T any](fn func(ctx context.Context, c *Conn, req *T) error) HandlerFunc {
	return func(ctx context.Context, c *Conn, env *realtime.Envelope) error {
		var req T
		if err := env.Decode(&req); err != nil {
			return err
		}
		return fn(ctx, c, &req)
	}
}
