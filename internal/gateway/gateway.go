// ABOUTME: Gateway orchestrator that wires store, platform client, conversation manager and HTTP server
// ABOUTME: Manages the HTTP server lifecycle, live WebSocket connections, and health endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/2389/helpdesk-gateway/internal/auth"
	"github.com/2389/helpdesk-gateway/internal/config"
	"github.com/2389/helpdesk-gateway/internal/conversation"
	"github.com/2389/helpdesk-gateway/internal/dedupe"
	"github.com/2389/helpdesk-gateway/internal/graph"
	"github.com/2389/helpdesk-gateway/internal/realtime"
	"github.com/2389/helpdesk-gateway/internal/store"
)

// Version is reported by / and /health. Set by the CLI at build time.
var Version = "dev"

// Gateway orchestrates the helpdesk-gateway server components.
type Gateway struct {
	config     *config.Config
	store      *store.Store
	graph      *graph.Client
	manager    *conversation.Manager
	registry   *conversation.Registry
	dedupe     *dedupe.Cache
	verifier   *auth.JWTVerifier
	upgrader   *websocket.Upgrader
	engine     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger

	// connCtx is cancelled on shutdown to close live WebSocket connections,
	// which http.Server.Shutdown does not track once hijacked.
	connCtx    context.Context
	connCancel context.CancelFunc

	now func() time.Time
}

// initStore opens the configured database backend.
func initStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	opts := store.Options{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		Logger: logger,
	}
	if cfg.Database.Driver == store.DriverPostgres {
		opts.DSN = cfg.Database.PostgresDSN()
	}
	s, err := store.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	s, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	graphClient := graph.New(graph.Config{
		AppID:     cfg.Facebook.AppID,
		AppSecret: cfg.Facebook.AppSecret,
		BaseURL:   cfg.Facebook.GraphBaseURL,
		DialogURL: cfg.Facebook.DialogURL,
		Timeout:   cfg.Facebook.RequestTimeout,
		Logger:    logger,
	})

	dedupeCache := dedupe.New(cfg.Conversation.DedupeTTL, cfg.Conversation.DedupeMaxEntries)
	registry := conversation.NewRegistry(logger)
	manager := conversation.NewManager(s, graphClient, registry, conversation.Options{
		ContinuityWindow:  cfg.Conversation.ContinuityWindow,
		NameLookupTimeout: cfg.Facebook.NameLookupTimeout,
		DisplayZone:       conversation.FixedZone(cfg.Conversation.DisplayUTCOffset),
		Dedupe:            dedupeCache,
		Logger:            logger,
	})

	connCtx, connCancel := context.WithCancel(context.Background())
	gw := &Gateway{
		config:     cfg,
		store:      s,
		graph:      graphClient,
		manager:    manager,
		registry:   registry,
		dedupe:     dedupeCache,
		verifier:   verifier,
		upgrader:   realtime.NewUpgrader(cfg.CORS.AllowedOrigins),
		logger:     logger.With("component", "gateway"),
		connCtx:    connCtx,
		connCancel: connCancel,
		now:        time.Now,
	}

	if cfg.Facebook.AppSecret == "" {
		gw.logger.Warn("facebook.app_secret not set - every webhook delivery will be rejected")
	}

	gw.engine = gw.buildRouter()
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = g.gracefulShutdown()
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, closes live connections and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.connCancel()
	g.dedupe.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}
