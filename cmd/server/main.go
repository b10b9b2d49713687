package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"threat-response-engine/internal/api"
	"threat-response-engine/internal/audit"
	"threat-response-engine/internal/config"
	"threat-response-engine/internal/engine"
	"threat-response-engine/internal/monitor"
	"threat-response-engine/internal/signing"
	"threat-response-engine/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()
	tracer := monitor.NewTracer()

	// Signing keys. Generated on first start, loaded thereafter.
	keys, err := signing.LoadOrGenerateKeyPair(cfg.Keys.Dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Keys.Dir).Msg("failed to load signing keys")
	}
	log.Info().Str("key_id", string(keys.KeyID)).Msg("command signing key ready")

	// The audit ledger is load-bearing: no ledger, no engine.
	ledger, err := audit.Connect(cfg.Audit.URL, keys, cfg.Audit.Timeout, metrics)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.Audit.URL).Msg("audit ledger unreachable, refusing to start")
	}
	defer ledger.Close()

	// Database. Every record the engine writes lives here; unlike the ledger
	// there is no degraded mode without it.
	if cfg.Database.DSN == "" {
		log.Fatal().Msg("database.dsn is required")
	}
	db, err := storage.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	// Engine wiring.
	signer := signing.NewSigner(keys)
	dispatcher := engine.NewAgentDispatcher(cfg.Agent.Endpoint, cfg.Agent.Timeout, tracer)
	authorityClient := engine.NewHTTPAuthorityClient(cfg.Authority.BaseURL, cfg.Authority.Timeout)

	limiter := engine.NewRateLimiter(db, ledger, metrics)
	blast := engine.NewBlastValidator(db, db, ledger)
	authority := engine.NewAuthorityValidator(authorityClient, db)
	attest := engine.NewAttestationTracker(db, ledger)
	freeze := engine.NewFreezeGuard(db, attest, ledger)
	modes := engine.NewModeManager(db, ledger)

	pipeline := engine.NewPipeline(engine.PipelineConfig{
		Modes:      modes,
		Limiter:    limiter,
		Blast:      blast,
		Authority:  authority,
		Freeze:     freeze,
		Attest:     attest,
		Actions:    db,
		Signer:     signer,
		Dispatcher: dispatcher,
		Recorder:   ledger,
		Metrics:    metrics,
		Tracer:     tracer,
	})
	rollback := engine.NewRollbackManager(db, db, authority, signer, dispatcher, ledger, metrics)

	handlers := api.NewHandlers(pipeline, rollback, modes, freeze, attest, db, db)
	server := api.NewServer(cfg, handlers, db, metrics)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Str("audit_url", cfg.Audit.URL).
		Str("agent_endpoint", cfg.Agent.Endpoint).
		Msg("response engine starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
