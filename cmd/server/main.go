// Benchmark Engine — continuously scores LLM providers against a fixed
// code-generation task battery and serves the results over a read-only
// HTTP API.
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

	"github.com/modelbench/engine/pkg/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENGINE_LOG_FORMAT") != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	log.Info().Msg("benchmark engine starting")

	ctx := context.Background()
	eng, err := server.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize engine")
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", eng.Config.Port),
		Handler:      eng.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		httpServer.Shutdown(shutdownCtx)
		if err := eng.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error during engine shutdown")
		}
	}()

	log.Info().Int("port", eng.Config.Port).Msg("benchmark engine ready")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}
