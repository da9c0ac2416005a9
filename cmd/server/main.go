// querygen — the adaptive query-generation service for the Ossature
// menuiserie ERP. It turns natural-language requests into SQL by routing
// to one of two model providers, with input safety checks, a two-tier
// response cache, bounded retry/fallback, and usage accounting.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ossature/querygen/internal/api"
	"github.com/ossature/querygen/internal/cache"
	"github.com/ossature/querygen/internal/config"
	"github.com/ossature/querygen/internal/dispatcher"
	"github.com/ossature/querygen/internal/provider"
	"github.com/ossature/querygen/internal/store"
	"github.com/ossature/querygen/internal/telemetry"
	"github.com/ossature/querygen/pkg/models"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()
	log.Info().Str("version", cfg.Version).Msg("querygen starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer shutdownTelemetry(ctx)

	// PostgreSQL when configured, in-memory otherwise (local dev).
	var dataStore store.Store
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize postgres store")
		}
		dataStore = pg
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		dataStore = store.NewMemoryStore()
	}
	defer dataStore.Close()

	drivers := provider.Registry{
		models.ProviderClaude: provider.NewAnthropicDriver(
			cfg.Providers.AnthropicEndpoint, cfg.Providers.AnthropicAPIKey, cfg.Providers.AnthropicModel),
		models.ProviderGPT: provider.NewOpenAIDriver(
			cfg.Providers.OpenAIEndpoint, cfg.Providers.OpenAIAPIKey, cfg.Providers.OpenAIModel),
	}

	svc := dispatcher.New(dataStore, drivers, cfg)
	defer svc.Recorder().Flush()

	janitor := cache.NewJanitor(svc.Cache(), cfg.Cache.JanitorInterval)
	go janitor.Start(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(svc),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down gracefully")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", cfg.Port).Msg("querygen ready")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}
