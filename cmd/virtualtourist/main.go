package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Oxyrus/virtualtourist/internal/album"
	"github.com/Oxyrus/virtualtourist/internal/config"
	"github.com/Oxyrus/virtualtourist/internal/flickr"
	"github.com/Oxyrus/virtualtourist/internal/logging"
	"github.com/Oxyrus/virtualtourist/internal/router"
	"github.com/Oxyrus/virtualtourist/internal/storage/sqlite"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	bootstrapLogger := logging.New(slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		return 1
	}

	logger := logging.New(cfg.LogLevel)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open sqlite database", "path", cfg.DBPath, "error", err)
		return 1
	}

	gateway := flickr.NewClient(flickr.Config{
		APIKey:   cfg.FlickrAPIKey,
		APIURL:   cfg.FlickrAPIURL,
		ImageURL: cfg.FlickrImageURL,
		PerPage:  cfg.PerPage,
		Timeout:  cfg.HTTPTimeout,
	})

	// Persistence failures end the process.
	albums := album.NewManager(logger, store, gateway,
		album.WithDownloadLimit(cfg.DownloadConcurrency),
		album.WithFatalHandler(func(err error) {
			logger.Error("unrecoverable persistence failure", "error", err)
			_ = store.Close()
			os.Exit(1)
		}),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.New(cfg, logger, store, albums),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			exitCode = 1
		}
	}

	albums.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down server", "error", err)
		exitCode = 1
	}

	if err := store.Close(); err != nil {
		logger.Error("failed to close sqlite database", "error", err)
		exitCode = 1
	}
	return exitCode
}
