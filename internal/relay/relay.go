// ABOUTME: Relay orchestrator wiring the session store, whitelist, guard, and delivery engine
// ABOUTME: Owns the HTTP server lifecycle and the health endpoint

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-relay/internal/admin"
	"github.com/2389/coven-relay/internal/audit"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/delivery"
	"github.com/2389/coven-relay/internal/loopguard"
	"github.com/2389/coven-relay/internal/session"
	"github.com/2389/coven-relay/internal/whitelist"
)

// shutdownTimeout bounds graceful HTTP drain on exit.
const shutdownTimeout = 5 * time.Second

// Relay orchestrates the coven-relay router components.
type Relay struct {
	cfg        *config.Config
	sessions   *session.Store
	registry   *whitelist.Registry
	guard      *loopguard.Guard
	engine     *delivery.Engine
	sink       *audit.Sink
	admin      *admin.Admin
	reports    *admin.Reports
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Relay instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	sink, err := audit.NewSink(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing audit sink: %w", err)
	}

	sessions := session.New()
	registry := whitelist.New()

	guard := loopguard.New(sessions, loopguard.Config{
		MaxPerMinute: cfg.Loop.MaxPerMinute,
		DefaultDelay: time.Duration(cfg.Loop.DefaultDelayMs) * time.Millisecond,
		BurstDelay:   time.Duration(cfg.Loop.BurstDelayMs) * time.Millisecond,
	}, logger)

	engine := delivery.New(delivery.Config{
		MaxRetries: cfg.Delivery.MaxRetries,
		BaseDelay:  time.Duration(cfg.Delivery.BaseDelayMs) * time.Millisecond,
	}, sink, logger)

	adminGuard, err := admin.New(cfg.Admin.Password, logger)
	if err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("initializing admin auth: %w", err)
	}

	r := &Relay{
		cfg:      cfg,
		sessions: sessions,
		registry: registry,
		guard:    guard,
		engine:   engine,
		sink:     sink,
		admin:    adminGuard,
		reports:  admin.NewReports(sink, logger),
		logger:   logger.With("component", "relay"),
	}

	mux := http.NewServeMux()
	r.registerRoutes(mux)

	r.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return r, nil
}

// registerRoutes wires the HTTP surface.
func (r *Relay) registerRoutes(mux *http.ServeMux) {
	// Agent-facing routes.
	mux.HandleFunc("POST /agents/register", r.handleRegister)
	mux.HandleFunc("POST /mcp/events/publish", r.handlePublish)
	mux.HandleFunc("GET /mcp/sessions/{sessionKey}/events", r.handlePullEvents)

	// Health - no auth required.
	mux.HandleFunc("GET /health", r.handleHealth)

	// Admin auth.
	mux.HandleFunc("POST /admin/login", r.admin.HandleLogin)
	mux.HandleFunc("POST /admin/logout", r.admin.HandleLogout)
	mux.HandleFunc("GET /admin/session", r.admin.HandleSession)

	// Admin agent lifecycle + reporting, behind the session middleware.
	guarded := func(h http.HandlerFunc) http.Handler {
		return r.admin.Middleware(h)
	}
	mux.Handle("GET /admin/agents/pending", guarded(r.handlePendingAgents))
	mux.Handle("GET /admin/agents/approved", guarded(r.handleApprovedAgents))
	mux.Handle("POST /admin/agents/approve", guarded(r.handleApprove))
	mux.Handle("POST /admin/agents/reject", guarded(r.handleReject))
	mux.Handle("GET /admin/api/metrics", guarded(r.reports.HandleMetrics))
	mux.Handle("GET /admin/api/sessions", guarded(r.reports.HandleSessions))
	mux.Handle("GET /admin/api/loops", guarded(r.reports.HandleLoops))
	mux.Handle("GET /admin/api/deliveries", guarded(r.reports.HandleDeliveries))
}

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (r *Relay) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", r.httpServer.Addr, err)
	}

	r.logger.Info("relay listening", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		r.logger.Info("context canceled, initiating shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return r.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown drains the HTTP server and releases component resources. Pending
// delivery retries are abandoned; that loss is accepted.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down relay")

	var errs []error
	if err := r.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	r.engine.Close()
	r.sessions.Close()
	r.registry.Close()

	if err := r.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("audit close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// healthResponse is the JSON body of GET /health.
type healthResponse struct {
	Status string      `json:"status"`
	Stats  healthStats `json:"stats"`
}

type healthStats struct {
	Events         int `json:"events"`
	Sessions       int `json:"sessions"`
	ApprovedAgents int `json:"approvedAgents"`
	PendingAgents  int `json:"pendingAgents"`
}

// handleHealth returns liveness plus small counters.
func (r *Relay) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Stats: healthStats{
			Events:         r.sessions.EventCount(),
			Sessions:       r.sessions.SessionCount(),
			ApprovedAgents: r.registry.CountByStatus(whitelist.StatusApproved),
			PendingAgents:  r.registry.CountByStatus(whitelist.StatusPending),
		},
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// logRequests logs each request at debug level.
func (r *Relay) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		r.logger.Debug("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
