package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"threat-response-engine/internal/config"
	"threat-response-engine/internal/monitor"
	"threat-response-engine/internal/storage"
)

// Server is the main HTTP server for the response engine API.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, handlers *Handlers, db *storage.DB, metrics *monitor.Metrics) *Server {
	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
	}

	if len(cfg.Security.AllowedKeys) == 0 {
		log.Warn().Msg("no API keys configured — all requests will be accepted")
	}

	// Engine API — wrapped with auth and caller identity
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /actions", handlers.HandleExecuteAction)
	apiMux.HandleFunc("GET /actions/{id}", handlers.HandleGetAction)
	apiMux.HandleFunc("POST /actions/{id}/rollback", handlers.HandleRollbackAction)
	apiMux.HandleFunc("GET /incidents/{id}/actions", handlers.HandleListIncidentActions)
	apiMux.HandleFunc("POST /incidents/{id}/reopen", handlers.HandleReopenIncident)
	apiMux.HandleFunc("POST /incidents/{id}/close", handlers.HandleCloseIncident)
	apiMux.HandleFunc("GET /mode", handlers.HandleGetMode)
	apiMux.HandleFunc("PUT /mode", handlers.HandleSetMode)
	apiMux.HandleFunc("GET /mode/history", handlers.HandleModeHistory)
	apiMux.HandleFunc("POST /attestations/{id}/executor", handlers.HandleExecutorStatement)
	apiMux.HandleFunc("POST /attestations/{id}/approver", handlers.HandleApproverStatement)
	apiMux.HandleFunc("PUT /hosts/{id}", handlers.HandleRegisterHost)

	var authedAPI http.Handler = apiMux
	authedAPI = CallerMiddleware(authedAPI)
	authedAPI = AuthMiddleware(cfg.Security.AllowedKeys)(authedAPI)

	// Top-level mux: health/metrics bypass auth, everything else goes through auth
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth(db))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/", authedAPI)

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

func (s *Server) handleHealth(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbOK := db == nil || db.Healthy(r.Context())

		resp := HealthResponse{
			Status:   "ok",
			Database: dbOK,
			Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		}

		if !dbOK {
			resp.Status = "degraded"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	}
}
