package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Oxyrus/virtualtourist/internal/changefeed"
)

var (
	// ErrNotFound indicates that the requested entity does not exist in the
	// underlying storage.
	ErrNotFound = errors.New("storage: not found")

	// ErrPersistence marks failures of the local store itself. The application
	// has no recovery path for these.
	ErrPersistence = errors.New("storage: persistence failure")

	// ErrStaleGeneration is returned when a photo is written for a collection
	// generation that has since been cleared.
	ErrStaleGeneration = errors.New("storage: stale photo generation")

	// ErrInvalidCoordinate is returned for latitudes outside [-90, 90] or
	// longitudes outside [-180, 180].
	ErrInvalidCoordinate = errors.New("storage: invalid coordinate")
)

// Store exposes the persistence primitives required by the application. It is
// expected to be safe for concurrent use.
type Store interface {
	Pins() Pins
	Photos() Photos
	Settings() Settings
	Changes() *changefeed.Feed[Change]
	Ping(ctx context.Context) error
	Close() error
}

// Coordinate is a point on the map in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c Coordinate) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, c.Longitude)
	}
	return nil
}

// Pin is a saved map location. Its coordinate never changes after creation.
type Pin struct {
	ID        int64
	Latitude  float64
	Longitude float64
	// Generation identifies the current photo collection of the pin. It is
	// bumped every time the collection is cleared.
	Generation int64
	CreatedAt  time.Time
}

func (p Pin) Coordinate() Coordinate {
	return Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
}

// Pins defines the operations supported for managing pins.
type Pins interface {
	Create(ctx context.Context, coord Coordinate) (Pin, error)
	Get(ctx context.Context, id int64) (Pin, error)
	// FindByCoordinate matches latitude and longitude exactly. When several
	// pins share a coordinate the most recently created one is returned.
	FindByCoordinate(ctx context.Context, coord Coordinate) (Pin, error)
	List(ctx context.Context) ([]Pin, error)
	Delete(ctx context.Context, id int64) error
}

// Photo is a downloaded image that belongs to exactly one pin.
type Photo struct {
	ID         string
	PinID      int64
	Generation int64
	Data       []byte
	TakenAt    *time.Time
	CreatedAt  time.Time
}

// PhotoCreate contains the data required to insert a new photo. ID is
// generated when empty.
type PhotoCreate struct {
	ID         string
	PinID      int64
	Generation int64
	Data       []byte
	TakenAt    *time.Time
}

// Photos defines the operations supported for managing photos.
type Photos interface {
	Create(ctx context.Context, input PhotoCreate) (Photo, error)
	Get(ctx context.Context, id string) (Photo, error)
	ListByPin(ctx context.Context, pinID int64) ([]Photo, error)
	CountByPin(ctx context.Context, pinID int64) (int, error)
	Delete(ctx context.Context, id string) error
	// Clear removes every photo of the pin and starts a new generation in a
	// single transaction. It returns the new generation.
	Clear(ctx context.Context, pinID int64) (int64, error)
}

// Region is the last visible map viewport.
type Region struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	LatitudeDelta  float64 `json:"latitudeDelta"`
	LongitudeDelta float64 `json:"longitudeDelta"`
}

// Settings is a small key-value store for user preferences.
type Settings interface {
	Region(ctx context.Context) (Region, error)
	SaveRegion(ctx context.Context, region Region) error
}

type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpDelete ChangeOp = "delete"
)

type ChangeKind string

const (
	KindPin   ChangeKind = "pin"
	KindPhoto ChangeKind = "photo"
)

// Change describes a committed insert or delete. Pin is set for pin inserts
// and Photo for photo inserts; deletes only carry identifiers.
type Change struct {
	Op         ChangeOp
	Kind       ChangeKind
	PinID      int64
	PhotoID    string
	Generation int64
	Pin        *Pin
	Photo      *Photo
}

// PinsTopic carries pin inserts and deletes.
const PinsTopic = "pins"

// PhotosTopic carries photo inserts and deletes for one pin.
func PhotosTopic(pinID int64) string {
	return fmt.Sprintf("pins:%d:photos", pinID)
}
