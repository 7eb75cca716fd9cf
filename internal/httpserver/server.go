package httpserver

import (
	"context"
	"crypto/tls"
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/al-bashkir/implicit-session/internal/config"
	"github.com/al-bashkir/implicit-session/internal/metrics"
	"github.com/al-bashkir/implicit-session/internal/redirect"
	"github.com/al-bashkir/implicit-session/internal/session"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*.js
var staticFS embed.FS

// LoginLinker produces the identity provider login URL.
type LoginLinker interface {
	LoginURL() string
}

// Server is the HTTP server for the login pages, the redirect route, and
// health checks
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	mux        *http.ServeMux
	templates  *template.Template
	login      LoginLinker
	redirects  *redirect.Handler
	state      *session.State
	metrics    *metrics.Metrics
	limiter    *clientLimiter
}

// NewServer creates a new HTTP server.
// login may be nil, in which case /login reports that login is unavailable.
// A nil state or redirect handler is replaced by a fresh in-memory one, and
// /metrics is only served when gatherer is non-nil.
func NewServer(
	cfg *config.Config,
	login LoginLinker,
	redirects *redirect.Handler,
	state *session.State,
	gatherer prometheus.Gatherer,
	m *metrics.Metrics,
) (*Server, error) {
	// Parse templates
	templates, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}

	if state == nil {
		state = session.NewState()
	}
	if redirects == nil {
		redirects = redirect.NewHandler(nil, state, nil, m)
	}

	s := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		templates: templates,
		login:     login,
		redirects: redirects,
		state:     state,
		metrics:   m,
		limiter:   newClientLimiter(defaultRequestRate, defaultRequestBurst),
	}

	// Register routes
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /login", s.handleLogin)
	s.mux.HandleFunc("GET /redirect", s.handleRedirectPage)
	s.mux.HandleFunc("POST /redirect/fragment", s.handleFragment)
	s.mux.HandleFunc("GET /session", s.handleSession)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	if gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// Wrap with middleware
	handler := loggingMiddleware(s.mux, m)
	handler = recoveryMiddleware(handler)
	handler = rateLimitMiddleware(handler, s.limiter)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         cfg.Listen.HTTP,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Configure TLS if enabled
	if cfg.TLS.Enabled {
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			},
		}
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting HTTP server",
		"addr", s.cfg.Listen.HTTP,
		"tls", s.cfg.TLS.Enabled,
	)

	if s.cfg.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
