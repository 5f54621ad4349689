// convoengine server — the conversation intelligence and agent
// orchestration engine behind the sales chat product.
//
// It decides which persona responds at each turn, gates untrusted
// research before it reaches a prompt, validates generated responses
// against hard business rules, and extracts durable facts into
// per-identity memory.
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

	"github.com/closerlabs/convoengine/internal/api"
	"github.com/closerlabs/convoengine/internal/config"
	"github.com/closerlabs/convoengine/internal/engine"
	"github.com/closerlabs/convoengine/internal/llm"
	"github.com/closerlabs/convoengine/internal/store"
	"github.com/closerlabs/convoengine/internal/telemetry"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()
	ctx := context.Background()

	log.Info().Str("version", cfg.Version).Msg("convoengine starting")

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}
	defer shutdownTelemetry(ctx)

	st, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer st.Close()

	gen, err := llm.NewOpenAIGenerator(cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize generator")
	}

	eng, err := engine.New(cfg, st, gen)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize engine")
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(cfg, eng),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL == "" {
		log.Info().Msg("Using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.NewPostgresStore(ctx, cfg.Database.URL)
}
