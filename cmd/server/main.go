// Command server runs the blog: HTML pages, the JSON API and uploads.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blogger/internal/bootstrap"
	"blogger/internal/config"
	"blogger/internal/observability"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.Logger = observability.NewLogger(cfg.Env)
	slog.SetDefault(observability.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- app.Server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			observability.Logger.Error("server stopped", slog.String("error", err.Error()))
		}
	case <-ctx.Done():
		observability.Logger.Info("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		observability.Logger.Error("Server shutdown error", slog.String("error", err.Error()))
	}
	if err := app.Close(shutdownCtx); err != nil {
		observability.Logger.Error("Server resource shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
