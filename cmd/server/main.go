package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"x402-sandbox/internal/api"
	"x402-sandbox/internal/config"
	"x402-sandbox/internal/gate"
	"x402-sandbox/internal/monitor"
	"x402-sandbox/internal/payment"
	"x402-sandbox/internal/runtime"
	"x402-sandbox/internal/sandbox"
	"x402-sandbox/internal/settle"
	"x402-sandbox/internal/storage"
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
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("invalid config (set X402_PAY_TO or provide a config file)")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	// Replay store: the nonce space shared across concurrent requests, and
	// across instances when Redis or Postgres is configured.
	replayStore, replayHealthy, err := newReplayStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Replay.Backend).Msg("failed to open replay store")
	}
	defer replayStore.Close()

	verifier := payment.NewVerifier(payment.Config{
		PayTo:         common.HexToAddress(cfg.Payment.PayTo),
		Asset:         common.HexToAddress(cfg.Payment.Asset),
		Network:       cfg.Payment.Network,
		ChainID:       cfg.Payment.ChainID,
		DomainName:    cfg.Payment.AssetName,
		DomainVersion: cfg.Payment.AssetVersion,
		ClockSkew:     cfg.Payment.ClockSkew,
	}, replayStore)

	settler := settle.NewClient(cfg.Settlement.FacilitatorURL, cfg.Settlement.Timeout)

	runtimes := runtime.NewRegistry()
	runtimes.Register(runtime.NewJavaScript())
	engine := sandbox.NewEngine(runtimes, cfg.Sandbox.MaxConcurrent)

	gateway := gate.New(gate.Config{
		Network:    cfg.Payment.Network,
		PayTo:      cfg.Payment.PayTo,
		Asset:      cfg.Payment.Asset,
		AssetName:  cfg.Payment.AssetName,
		AssetV:     cfg.Payment.AssetVersion,
		ExecutorID: cfg.Sandbox.ExecutorID,
	}, verifier, settler, engine)

	server := api.NewServer(cfg, gateway, metrics, runtimes.Languages(), replayHealthy, engine.ActiveCount)

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
		if err := engine.Close(); err != nil {
			log.Error().Err(err).Msg("engine close error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Str("network", cfg.Payment.Network).
		Str("pay_to", cfg.Payment.PayTo).
		Str("facilitator", cfg.Settlement.FacilitatorURL).
		Str("replay_backend", cfg.Replay.Backend).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}

func newReplayStore(ctx context.Context, cfg *config.Config) (payment.ReplayStore, api.HealthChecker, error) {
	switch cfg.Replay.Backend {
	case "redis":
		store, err := storage.NewRedisReplayStore(ctx, cfg.Replay.RedisAddr, cfg.Replay.RedisPassword, cfg.Replay.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Healthy, nil
	case "postgres":
		store, err := storage.NewPostgresReplayStore(ctx, cfg.Replay.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Healthy, nil
	default:
		log.Warn().Msg("in-memory replay store: nonces are not shared across instances")
		return payment.NewMemoryReplayStore(), nil, nil
	}
}
