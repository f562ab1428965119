// ABOUTME: Gateway orchestrator wiring store, presence, rooms, receipts, and HTTP/websocket serving
// ABOUTME: Owns the server lifecycle and the health endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/config"
	"github.com/2389/chat-gateway/internal/conversation"
	"github.com/2389/chat-gateway/internal/presence"
	"github.com/2389/chat-gateway/internal/receipt"
	"github.com/2389/chat-gateway/internal/room"
	"github.com/2389/chat-gateway/internal/store"
)

// shutdownTimeout bounds graceful shutdown after Run's context is canceled.
const shutdownTimeout = 5 * time.Second

// pinger is implemented by stores that can report reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// Gateway serves the chat websocket protocol and the JSON API.
type Gateway struct {
	config       *config.Config
	store        store.Store
	verifier     auth.TokenVerifier
	presence     *presence.Registry
	rooms        *room.Broadcaster
	receipts     *receipt.Tracker
	conversation *conversation.Service
	router       *Router
	upgrader     websocket.Upgrader
	connOpts     connOptions
	handler      http.Handler
	httpServer   *http.Server
	logger       *slog.Logger

	// ctx is canceled on shutdown and scopes every connection's handlers.
	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

// initStore opens the SQLite store named by config.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway backed by the configured SQLite database.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, s, logger), nil
}

// NewWithStore creates a Gateway over an already-open store. The gateway
// takes ownership and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	rooms := room.NewBroadcaster(logger)
	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		config:   cfg,
		store:    s,
		verifier: auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		presence: presence.NewRegistry(logger),
		rooms:    rooms,
		receipts: receipt.NewTracker(s, rooms, receipt.Config{
			CacheTTL:  cfg.Realtime.ReceiptCacheTTL,
			CacheSize: cfg.Realtime.ReceiptCacheSize,
		}, logger),
		conversation: conversation.New(s, rooms, logger),
		upgrader:     newUpgrader(cfg.Server.AllowedOrigins),
		connOpts:     connOptionsFrom(cfg.Realtime),
		logger:       logger.With("component", "gateway"),
		ctx:          ctx,
		cancel:       cancel,
	}
	g.router = g.newEventRouter()
	g.handler = g.routes()

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// routes builds the HTTP surface: health checks, the websocket endpoint,
// and the authenticated JSON API.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Health endpoints - no auth required
	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	// Websocket authenticates before upgrading
	r.Get(g.config.Server.WSPath, g.handleWS)

	r.Route("/api", func(api chi.Router) {
		api.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins(g.config.Server.AllowedOrigins),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
		api.Use(auth.HTTPAuthMiddleware(g.verifier))
		g.registerAPIRoutes(api)
	})

	return r
}

func corsOrigins(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"https://*", "http://*"}
	}
	return allowed
}

// Handler returns the gateway's HTTP handler, for embedding or tests.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// startServer serves HTTP on ln in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "ws_path", g.config.Server.WSPath)
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// Run starts serving and blocks until ctx is canceled or the server fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// The caller's context is already done; shut down on a fresh one.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, closes every live connection, waits
// for their teardown, and releases the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "connections", len(g.presence.All()))

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.cancel()
	for _, peer := range g.presence.All() {
		if c, ok := peer.(*Conn); ok {
			c.Close()
		}
	}

	drained := make(chan struct{})
	go func() {
		g.conns.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for connections: %w", ctx.Err()))
	}

	g.receipts.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := g.store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			g.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d online)", g.presence.Count())
}
