package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Oxyrus/virtualtourist/internal/changefeed"
	"github.com/Oxyrus/virtualtourist/internal/storage"
)

// Store is a SQLite-backed implementation of the storage.Store interface.
type Store struct {
	db       *sql.DB
	changes  *changefeed.Feed[storage.Change]
	pins     *pinRepository
	photos   *photoRepository
	settings *settingsRepository
}

// Open initialises (or opens) a SQLite database located at the provided path.
// The directory is created if it does not already exist. The returned Store is
// safe for concurrent use; all writes go through a single connection.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path must not be empty")
	}

	if err := ensureDir(path); err != nil {
		return nil, fmt.Errorf("sqlite: ensure directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configure(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := bootstrap(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	changes := changefeed.New[storage.Change](changefeed.DefaultBuffer)

	return &Store{
		db:       db,
		changes:  changes,
		pins:     &pinRepository{db: db, changes: changes},
		photos:   &photoRepository{db: db, changes: changes},
		settings: &settingsRepository{db: db},
	}, nil
}

// Pins returns the pin repository.
func (s *Store) Pins() storage.Pins {
	return s.pins
}

// Photos returns the photo repository.
func (s *Store) Photos() storage.Photos {
	return s.photos
}

// Settings returns the settings repository.
func (s *Store) Settings() storage.Settings {
	return s.settings
}

// Changes returns the feed that committed inserts and deletes are published on.
func (s *Store) Changes() *changefeed.Feed[storage.Change] {
	return s.changes
}

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func configure(db *sql.DB) error {
	stmts := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: configure: %w", err)
		}
	}

	return nil
}

func bootstrap(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pins (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			generation INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pins_coordinate ON pins(latitude, longitude);`,
		`CREATE TABLE IF NOT EXISTS photos (
			id TEXT PRIMARY KEY,
			pin_id INTEGER NOT NULL,
			generation INTEGER NOT NULL,
			data BLOB NOT NULL,
			taken_at DATETIME,
			created_at DATETIME NOT NULL,
			FOREIGN KEY(pin_id) REFERENCES pins(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_photos_pin_created ON photos(pin_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: bootstrap: %w", err)
		}
	}

	return nil
}

// persistErr tags a driver failure as a storage.ErrPersistence.
func persistErr(op string, err error) error {
	return fmt.Errorf("sqlite: %s: %w: %w", op, storage.ErrPersistence, err)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

var _ storage.Store = (*Store)(nil)
