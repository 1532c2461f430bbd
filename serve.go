package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lankasat/sentinel-bridge/internal/config"
	"github.com/lankasat/sentinel-bridge/internal/server"
	"github.com/rs/zerolog/log"
)

// serveHTTP runs the server until the process receives SIGINT or SIGTERM,
// then drains in-flight requests within the configured timeout. Shutdown
// hooks run after the drain, whatever its outcome.
func serveHTTP(cfg config.ServerConfig, srv *http.Server, hooks *server.ShutdownHooks) error {
	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		failed <- srv.ListenAndServe()
	}()

	select {
	case err := <-failed:
		// ListenAndServe only returns on failure. Hooks still run so
		// resources acquired before the failure are released.
		hooks.Execute(context.Background())
		return fmt.Errorf("listener failed: %w", err)

	case <-signalCtx.Done():
		stop()
		log.Info().Msg("shutdown signal received, draining requests")
	}

	drainCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	err := srv.Shutdown(drainCtx)
	if err != nil {
		log.Warn().Err(err).Msg("drain incomplete, closing remaining connections")
		err = srv.Close()
	}

	hooks.Execute(drainCtx)

	log.Info().Msg("server stopped")
	return err
}
