// Elisa build engine server: provides the HTTP/WebSocket API and runs
// the plan/execute/test/deploy/judge pipeline for build sessions.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/elisa-build/elisa/pkg/api"
	"github.com/elisa-build/elisa/pkg/config"
	"github.com/elisa-build/elisa/pkg/memory"
	"github.com/elisa-build/elisa/pkg/session"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	cfg := config.FromEnv()

	slog.Info("Starting Elisa",
		"http_port", cfg.HTTPPort,
		"model", cfg.OpenAIModel,
		"workspace_root", cfg.WorkspaceRoot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := session.NewStore(cfg.SessionMaxAge, cfg.SessionGracePeriod)
	go store.StartPruning(ctx, cfg.PruneInterval)
	defer store.Stop()

	mem := memory.NewStore(cfg.MemoryPath)

	server := api.NewServer(cfg, store, mem)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
