// Package album keeps a pin's photo grid in sync with the local store and the
// photo search service.
//
// A Session is one open album. It decides whether photos come from the store
// or from a fresh search, downloads cells lazily, replaces the collection on
// request and folds asynchronous store notifications into batched diffs.
package album

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Oxyrus/virtualtourist/internal/changefeed"
	"github.com/Oxyrus/virtualtourist/internal/flickr"
	"github.com/Oxyrus/virtualtourist/internal/storage"
)

const defaultDownloadLimit = 6

var (
	ErrSessionNotFound = errors.New("album: session not found")
	ErrSessionClosed   = errors.New("album: session closed")
	ErrBusy            = errors.New("album: session busy")
	ErrCellOutOfRange  = errors.New("album: cell index out of range")

	// ErrStaleDownload is returned when a finished download no longer has a
	// cell to land in, because the collection was replaced or the cell was
	// deleted while the image was in flight.
	ErrStaleDownload = errors.New("album: stale download")
)

// Gateway is the photo search service.
type Gateway interface {
	SearchPhotos(ctx context.Context, lat, lon float64) ([]flickr.Photo, error)
	DownloadPhoto(ctx context.Context, photo flickr.Photo) ([]byte, error)
}

// Manager owns the open album sessions.
type Manager struct {
	logger        *slog.Logger
	pins          storage.Pins
	photos        storage.Photos
	changes       *changefeed.Feed[storage.Change]
	gateway       Gateway
	fatal         func(error)
	downloadLimit int

	mu       sync.Mutex
	sessions map[string]*Session
}

type Option func(*Manager)

// WithFatalHandler sets the function called for unrecoverable persistence
// failures. The default only logs.
func WithFatalHandler(fn func(error)) Option {
	return func(m *Manager) {
		m.fatal = fn
	}
}

// WithDownloadLimit bounds the number of concurrent downloads in Prefetch.
func WithDownloadLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.downloadLimit = n
		}
	}
}

func NewManager(logger *slog.Logger, store storage.Store, gateway Gateway, opts ...Option) *Manager {
	m := &Manager{
		logger:        logger,
		pins:          store.Pins(),
		photos:        store.Photos(),
		changes:       store.Changes(),
		gateway:       gateway,
		downloadLimit: defaultDownloadLimit,
		sessions:      map[string]*Session{},
	}
	m.fatal = func(err error) {
		m.logger.Error("unrecoverable persistence failure", "error", err)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open starts an album session for the pin. Photos are read from the store
// when the pin already has some; otherwise a search is issued. A failed search
// does not fail Open: the session starts empty and the error is reported once
// through the next Flush.
func (m *Manager) Open(ctx context.Context, pinID int64) (*Session, error) {
	pin, err := m.pins.Get(ctx, pinID)
	if err != nil {
		m.escalate(err)
		return nil, fmt.Errorf("album: open pin %d: %w", pinID, err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         uuid.NewString(),
		pin:        pin,
		manager:    m,
		logger:     m.logger.With("pinID", pin.ID),
		ctx:        sctx,
		cancel:     cancel,
		state:      StateIdle,
		generation: pin.Generation,
		discarded:  map[string]struct{}{},
	}
	// Subscribe before loading so no notification between the load and the
	// first Flush is lost.
	s.sub = m.changes.Subscribe(storage.PhotosTopic(pin.ID))
	s.logger = s.logger.With("session", s.id)

	if err := s.load(ctx, false); err != nil {
		s.shutdown()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	s.logger.Info("album session opened", "fromNetwork", s.FromNetwork())
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close ends the session and cancels its in-flight downloads.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.shutdown()
	s.logger.Info("album session closed")
	return nil
}

// ClosePin ends every session open on the pin. It returns how many were closed.
func (m *Manager) ClosePin(pinID int64) int {
	m.mu.Lock()
	var closing []*Session
	for id, s := range m.sessions {
		if s.pin.ID == pinID {
			closing = append(closing, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range closing {
		s.shutdown()
	}
	return len(closing)
}

// CloseAll ends every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
	}
}

// escalate hands persistence failures to the fatal handler. Cancelled
// requests are not failures of the store.
func (m *Manager) escalate(err error) {
	if err == nil || !errors.Is(err, storage.ErrPersistence) {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	m.fatal(err)
}
