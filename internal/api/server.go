package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"x402-sandbox/internal/config"
	"x402-sandbox/internal/monitor"
)

// HealthChecker reports the liveness of a dependency.
type HealthChecker func(ctx context.Context) bool

// Server is the HTTP front of the paid execution service.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time

	replayHealthy HealthChecker
	activeCount   func() int64
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, gateway Gateway, metrics *monitor.Metrics, languages []string, replayHealthy HealthChecker, activeCount func() int64) *Server {
	handlers := NewHandlers(gateway, metrics, languages)

	s := &Server{
		handlers:      handlers,
		cfg:           cfg,
		startTime:     time.Now(),
		replayHealthy: replayHealthy,
		activeCount:   activeCount,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", handlers.HandleExecute)
	mux.HandleFunc("GET /discovery", handlers.HandleDiscovery(cfg.Payment.Network, cfg.Payment.Asset, cfg.Payment.PayTo))
	mux.HandleFunc("GET /verify", handlers.HandleVerificationInfo(cfg.Payment.Network, cfg.Payment.Asset, cfg.Payment.PayTo))
	mux.HandleFunc("POST /verify", handlers.HandleVerifyProof)
	mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Warn().Msg("TLS not enabled — running plain HTTP (not recommended for production)")
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	replayOK := s.replayHealthy == nil || s.replayHealthy(r.Context())

	resp := HealthResponse{
		Status:      "ok",
		ReplayStore: replayOK,
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.activeCount != nil {
		resp.ActiveExecutions = s.activeCount()
	}

	if !replayOK {
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
