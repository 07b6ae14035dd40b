package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/virtualtourist/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubPins struct {
	list        []storage.Pin
	listErr     error
	byID        map[int64]storage.Pin
	createResp  storage.Pin
	createErr   error
	lastCreate  storage.Coordinate
	findResp    storage.Pin
	findErr     error
	lastFind    storage.Coordinate
	deleteErr   error
	deletedIDs  []int64
	createCalls int
}

func (s *stubPins) Create(_ context.Context, coord storage.Coordinate) (storage.Pin, error) {
	s.createCalls++
	s.lastCreate = coord
	if s.createErr != nil {
		return storage.Pin{}, s.createErr
	}
	return s.createResp, nil
}

func (s *stubPins) Get(_ context.Context, id int64) (storage.Pin, error) {
	if pin, ok := s.byID[id]; ok {
		return pin, nil
	}
	return storage.Pin{}, storage.ErrNotFound
}

func (s *stubPins) FindByCoordinate(_ context.Context, coord storage.Coordinate) (storage.Pin, error) {
	s.lastFind = coord
	if s.findErr != nil {
		return storage.Pin{}, s.findErr
	}
	return s.findResp, nil
}

func (s *stubPins) List(context.Context) ([]storage.Pin, error) {
	return s.list, s.listErr
}

func (s *stubPins) Delete(_ context.Context, id int64) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletedIDs = append(s.deletedIDs, id)
	return nil
}

type stubPhotos struct {
	byID   map[string]storage.Photo
	counts map[int64]int
}

func (s *stubPhotos) Create(context.Context, storage.PhotoCreate) (storage.Photo, error) {
	panic("unexpected call to Create")
}

func (s *stubPhotos) Get(_ context.Context, id string) (storage.Photo, error) {
	if photo, ok := s.byID[id]; ok {
		return photo, nil
	}
	return storage.Photo{}, storage.ErrNotFound
}

func (s *stubPhotos) ListByPin(context.Context, int64) ([]storage.Photo, error) {
	panic("unexpected call to ListByPin")
}

func (s *stubPhotos) CountByPin(_ context.Context, pinID int64) (int, error) {
	return s.counts[pinID], nil
}

func (s *stubPhotos) Delete(context.Context, string) error {
	panic("unexpected call to Delete")
}

func (s *stubPhotos) Clear(context.Context, int64) (int64, error) {
	panic("unexpected call to Clear")
}

type stubSettings struct {
	region    *storage.Region
	saved     *storage.Region
	regionErr error
}

func (s *stubSettings) Region(context.Context) (storage.Region, error) {
	if s.regionErr != nil {
		return storage.Region{}, s.regionErr
	}
	if s.region == nil {
		return storage.Region{}, storage.ErrNotFound
	}
	return *s.region, nil
}

func (s *stubSettings) SaveRegion(_ context.Context, region storage.Region) error {
	s.saved = &region
	return nil
}

type stubCloser struct {
	closed []int64
}

func (s *stubCloser) ClosePin(pinID int64) int {
	s.closed = append(s.closed, pinID)
	return 1
}

func testPin(id int64, lat, lon float64) storage.Pin {
	return storage.Pin{
		ID:        id,
		Latitude:  lat,
		Longitude: lon,
		CreatedAt: time.Date(2025, 2, 15, 10, 30, 0, 0, time.UTC),
	}
}
