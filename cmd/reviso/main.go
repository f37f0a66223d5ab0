// Reviso server — ingests learning events over HTTP, projects them into
// materialized views, and serves the read model.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/reviso/reviso/pkg/api"
	"github.com/reviso/reviso/pkg/config"
	"github.com/reviso/reviso/pkg/database"
	"github.com/reviso/reviso/pkg/ingest"
	"github.com/reviso/reviso/pkg/projector"
	"github.com/reviso/reviso/pkg/store/pgstore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg := config.LoadServerConfigFromEnv()
	slog.Info("Starting reviso",
		"http_port", cfg.HTTPPort,
		"projector_workers", cfg.Projector.WorkerCount)

	ctx := context.Background()

	// 1. Database (runs migrations on connect).
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 2. Store, ingestion, projection.
	eventStore := pgstore.New(dbClient.DB())
	ingestService := ingest.NewService(eventStore)
	proj := projector.New(eventStore, slog.Default())

	pool := projector.NewPool(proj, cfg.Projector, slog.Default())
	pool.Start()
	defer pool.Stop()

	// 3. Change feed: stored events flow to the projection workers over
	// a dedicated LISTEN connection.
	feed := pgstore.NewChangeFeed(dbConfig.DSN(), eventStore, pool.Submit, slog.Default())
	if err := feed.Start(ctx); err != nil {
		slog.Error("Failed to start change feed", "error", err)
		os.Exit(1)
	}
	defer feed.Stop(ctx)
	slog.Info("Change feed listening")

	// 4. HTTP server (non-blocking).
	server := api.NewServer(api.Params{
		Store:     eventStore,
		Ingest:    ingestService,
		Projector: proj,
		DB:        dbClient.DB(),
		Logger:    slog.Default(),
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 5. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 6. Graceful shutdown: stop accepting requests, then let the feed
	// and workers drain. Deferred Stops handle the rest.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
