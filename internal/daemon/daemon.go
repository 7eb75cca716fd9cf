// Package daemon wires storage, session state, the login provider, and the
// HTTP and control servers into one process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/al-bashkir/implicit-session/internal/claims"
	"github.com/al-bashkir/implicit-session/internal/config"
	"github.com/al-bashkir/implicit-session/internal/httpserver"
	"github.com/al-bashkir/implicit-session/internal/ipc"
	"github.com/al-bashkir/implicit-session/internal/kv"
	"github.com/al-bashkir/implicit-session/internal/metrics"
	"github.com/al-bashkir/implicit-session/internal/oidc"
	"github.com/al-bashkir/implicit-session/internal/redirect"
	"github.com/al-bashkir/implicit-session/internal/session"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 30 * time.Second

// Daemon represents the main daemon process that coordinates all components.
type Daemon struct {
	cfg        *config.Config
	backend    kv.Store
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	state      *session.State
	store      *session.Store
	provider   *oidc.Provider
	redirects  *redirect.Handler
	httpServer *httpserver.Server
	ipcServer  *ipc.Server
}

// New creates a new daemon with all components initialized.
// The persisted session is not read until Run.
func New(cfg *config.Config) (*Daemon, error) {
	timeout := time.Duration(cfg.OIDC.DiscoveryTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Initialize login provider
	provider, err := oidc.NewProvider(ctx, &cfg.OIDC)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OIDC provider: %w", err)
	}

	slog.Info("OIDC provider initialized",
		"issuer", cfg.OIDC.Issuer,
		"authorize_endpoint", provider.AuthorizeEndpoint(),
		"client_id", cfg.OIDC.ClientID,
	)

	// Open storage
	backend, err := OpenBackend(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}

	slog.Info("session storage opened",
		"driver", cfg.Storage.Driver,
		"key", cfg.Storage.Key,
	)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Session state and persistence
	state := session.NewState()
	store := session.NewStore(backend, state,
		session.WithKey(cfg.Storage.Key),
		session.WithMetrics(m),
	)

	extractor := claims.NewExtractor(cfg.Claims.Subject, cfg.Claims.Email)
	redirects := redirect.NewHandler(extractor, state, store, m)

	// Initialize HTTP server
	httpServer, err := httpserver.NewServer(cfg, provider, redirects, state, registry, m)
	if err != nil {
		store.Close()
		_ = backend.Close()
		return nil, fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	slog.Info("HTTP server initialized",
		"listen", cfg.Listen.HTTP,
		"tls", cfg.TLS.Enabled,
	)

	d := &Daemon{
		cfg:        cfg,
		backend:    backend,
		registry:   registry,
		metrics:    m,
		state:      state,
		store:      store,
		provider:   provider,
		redirects:  redirects,
		httpServer: httpServer,
	}

	// Initialize IPC server with control handler
	d.ipcServer = ipc.NewServer(cfg.Listen.Socket, d.handleControl)

	slog.Info("IPC server initialized",
		"socket", cfg.Listen.Socket,
	)

	return d, nil
}

// Run starts all daemon components and blocks until a shutdown signal is
// received.
func (d *Daemon) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.run(ctx)
}

// run restores the persisted session, then serves until ctx is done or the
// HTTP server fails.
func (d *Daemon) run(ctx context.Context) error {
	slog.Info("starting implicit-session daemon")

	// Restore before any redirect can be handled so the load result is
	// never raced by a fresh session.
	if d.store.Load(ctx) {
		current, _ := d.state.Current()
		slog.Info("signed in from persisted session", "email", current.Email)
	}

	// Start IPC server synchronously to catch startup errors
	if err := d.ipcServer.Start(ctx); err != nil {
		d.closeStorage()
		return fmt.Errorf("failed to start IPC server: %w", err)
	}

	// Start HTTP server in a goroutine (it blocks on ListenAndServe)
	httpErrCh := make(chan error, 1)
	go func() {
		if err := d.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested", "cause", context.Cause(ctx))
	case err := <-httpErrCh:
		if err != nil {
			slog.Error("HTTP server failed to start", "error", err)
			// Clean up IPC server before returning
			if stopErr := d.ipcServer.Stop(); stopErr != nil {
				slog.Error("error stopping IPC server after HTTP server startup failure", "error", stopErr)
			}
			d.closeStorage()
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	// Shutdown gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop IPC server
	if err := d.ipcServer.Stop(); err != nil {
		slog.Error("error stopping IPC server", "error", err)
	}

	// Stop HTTP server
	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error stopping HTTP server", "error", err)
	}

	d.closeStorage()

	slog.Info("daemon shutdown complete")
	return nil
}

func (d *Daemon) closeStorage() {
	d.store.Close()
	if err := d.backend.Close(); err != nil {
		slog.Error("error closing session storage", "error", err)
	}
}

// handleControl answers requests from the CLI over the IPC socket.
func (d *Daemon) handleControl(ctx context.Context, req *ipc.Request) (*ipc.SessionResponse, error) {
	switch req.Type {
	case ipc.MessageTypeStatusRequest:
		return ipc.NewSessionResponse(session.Summarize(d.state.Current())), nil

	case ipc.MessageTypeFragmentRequest:
		result := d.redirects.Handle(ctx, req.Fragment)
		return ipc.NewSessionResponse(session.Summarize(result.Session, result.Authenticated)), nil

	default:
		return nil, fmt.Errorf("unsupported request type %q", req.Type)
	}
}
