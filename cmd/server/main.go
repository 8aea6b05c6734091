package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/scikido/meter/internal/app"
	"github.com/scikido/meter/internal/clearnode"
	"github.com/scikido/meter/internal/config"
	"github.com/scikido/meter/internal/logging"
	"github.com/scikido/meter/internal/metrics"
	"github.com/scikido/meter/internal/registry"
	"github.com/scikido/meter/internal/server"
	"github.com/scikido/meter/internal/signing"
	"github.com/scikido/meter/internal/version"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// runGracefulShutdown closes the HTTP listener and settles every active
// session before the process exits, so no allocation is left unsplit on
// the channel network.
func runGracefulShutdown(srv *server.Server, appSvc *app.Service) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		for _, session := range appSvc.ListSessions() {
			if _, err := appSvc.EndSession(shutdownCtx, session.ID); err != nil {
				slog.Error("Failed to settle session during shutdown", "session_id", session.ID, "error", err)
			}
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	info := version.Get()
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.BuildTime, info.GoVersion).Set(1)

	participant, err := cfg.ParticipantWallet()
	if err != nil {
		slog.Error("Failed to load participant wallet", "error", err)
		os.Exit(1)
	}
	counterparty, err := cfg.CounterpartyWallet()
	if err != nil {
		slog.Error("Failed to load counterparty wallet", "error", err)
		os.Exit(1)
	}

	store := registry.New()
	dialer := clearnode.NewDialer(cfg.ClearnodeWSURL, cfg.TransportTimeout)
	signer := signing.NewCoordinator()

	settings := app.Settings{
		Asset:             cfg.SettlementAsset,
		InitialAllocation: cfg.Allocation(),
		DefaultUsageCost:  cfg.UsageCost(),
	}

	appSvc := app.NewService(store, dialer, signer, participant, counterparty, settings, clock)

	srv := server.NewServer(cfg, appSvc, clock)

	done := runGracefulShutdown(srv, appSvc)

	slog.Info("Server starting", "port", cfg.Port, "clearnode", cfg.ClearnodeWSURL)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
