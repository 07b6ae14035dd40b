package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr     string
	DBPath   string
	LogLevel slog.Level

	FlickrAPIKey   string
	FlickrAPIURL   string
	FlickrImageURL string
	PerPage        int
	HTTPTimeout    time.Duration

	// DownloadConcurrency bounds parallel image downloads during a prefetch.
	DownloadConcurrency int
	// RenderTick is how often album streams flush queued store changes.
	RenderTick time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:                getString("VT_ADDR", ":8080"),
		DBPath:              getString("VT_DB_PATH", "data/virtualtourist.db"),
		LogLevel:            getLogLevel("VT_LOG_LEVEL", slog.LevelInfo),
		FlickrAPIKey:        strings.TrimSpace(os.Getenv("FLICKR_API_KEY")),
		FlickrAPIURL:        getString("FLICKR_API_URL", "https://www.flickr.com/services/rest"),
		FlickrImageURL:      getString("FLICKR_IMAGE_URL", "https://live.staticflickr.com"),
		PerPage:             getInt("VT_PER_PAGE", 30),
		HTTPTimeout:         getDuration("VT_HTTP_TIMEOUT", 15*time.Second),
		DownloadConcurrency: getInt("VT_DOWNLOAD_CONCURRENCY", 6),
		RenderTick:          getDuration("VT_RENDER_TICK", 250*time.Millisecond),
	}

	if cfg.FlickrAPIKey == "" {
		return nil, fmt.Errorf("FLICKR_API_KEY must be set")
	}
	if cfg.PerPage <= 0 || cfg.PerPage > 500 {
		return nil, fmt.Errorf("VT_PER_PAGE must be between 1 and 500, got %d", cfg.PerPage)
	}
	if cfg.DownloadConcurrency <= 0 {
		return nil, fmt.Errorf("VT_DOWNLOAD_CONCURRENCY must be positive, got %d", cfg.DownloadConcurrency)
	}
	if cfg.RenderTick <= 0 {
		return nil, fmt.Errorf("VT_RENDER_TICK must be positive")
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// getInt and getDuration return the fallback for unparsable values, the same
// way getLogLevel treats an unknown level.
func getInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getLogLevel(key string, fallback slog.Level) slog.Level {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "":
		return fallback
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
