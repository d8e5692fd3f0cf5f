package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tinoosan/tally/internal/config"
	"github.com/tinoosan/tally/internal/docstore"
	"github.com/tinoosan/tally/internal/docstore/memory"
	pgstore "github.com/tinoosan/tally/internal/docstore/postgres"
	"github.com/tinoosan/tally/internal/dispatch"
	"github.com/tinoosan/tally/internal/httpapi"
	"github.com/tinoosan/tally/internal/service/cascade"
	"github.com/tinoosan/tally/internal/service/rollup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg)
	slog.SetDefault(logger)

	var (
		store     docstore.Store
		events    <-chan docstore.Event
		closeFeed func()
		closeFn   func()
	)
	if dsn := strings.TrimSpace(cfg.DB.URL); dsn != "" {
		pg, err := pgstore.Open(ctx, dsn, pgstore.WithBatchLimit(cfg.Store.BatchLimit))
		if err != nil {
			logger.Error("failed to connect to postgres", "err", err)
			os.Exit(1)
		}
		store = pg
		events = pg.Subscribe(cfg.Dispatch.Buffer)
		closeFeed = pg.CloseFeed
		closeFn = pg.Close
		logger.Info("storage backend: postgres")
	} else {
		mem := memory.New(memory.WithBatchLimit(cfg.Store.BatchLimit))
		store = mem
		events = mem.Subscribe(cfg.Dispatch.Buffer)
		closeFeed = mem.CloseFeed
		closeFn = mem.Close
		logger.Info("storage backend: memory")
	}

	roll := rollup.New(store, logger)
	casc := cascade.New(store, logger,
		cascade.WithPageSize(cfg.Cascade.PageSize),
		cascade.WithBatchThreshold(cfg.Cascade.BatchThreshold),
	)
	disp := dispatch.New(events, roll, casc, logger, cfg.Dispatch.Workers)
	dispDone := make(chan struct{})
	go func() {
		// The dispatcher outlives the signal context: it must drain writes
		// accepted while the server was shutting down. Closing the store
		// below is what ends it.
		disp.Run(context.Background())
		close(dispDone)
	}()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpapi.New(store, logger).Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tally service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}

	// Stop the feed first: the dispatcher drains its backlog against the
	// still-open store, then the store itself is closed.
	closeFeed()
	<-dispDone
	closeFn()
}

// parseLogLevel maps config values to slog.Leveler
func parseLogLevel(s string) slog.Leveler {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Log.Level)
	if strings.ToLower(cfg.Log.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	// default to JSON
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
