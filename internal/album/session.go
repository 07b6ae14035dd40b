package album

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Oxyrus/virtualtourist/internal/changefeed"
	"github.com/Oxyrus/virtualtourist/internal/flickr"
	"github.com/Oxyrus/virtualtourist/internal/photometa"
	"github.com/Oxyrus/virtualtourist/internal/storage"
)

type State int

const (
	StateIdle State = iota
	StateLoadingLocal
	StateLoadingNetwork
	StateReady
	StateNewCollection
	StateDeleting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingLocal:
		return "loading-local"
	case StateLoadingNetwork:
		return "loading-network"
	case StateReady:
		return "ready"
	case StateNewCollection:
		return "new-collection"
	case StateDeleting:
		return "deleting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type CellStatus int

const (
	CellPending CellStatus = iota
	CellDownloading
	CellFilled
	CellFailed
)

func (s CellStatus) String() string {
	switch s {
	case CellPending:
		return "pending"
	case CellDownloading:
		return "downloading"
	case CellFilled:
		return "filled"
	case CellFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Cell is a read-only view of one grid position. Meta is set for cells that
// came from a search, Photo once the image is persisted.
type Cell struct {
	Key    string
	Status CellStatus
	Meta   *flickr.Photo
	Photo  *storage.Photo
}

type cell struct {
	key    string
	status CellStatus
	meta   *flickr.Photo
	photo  *storage.Photo
	// photoID is reserved when a download starts so the resulting insert
	// notification is recognised as our own.
	photoID string
}

func (c *cell) view() Cell {
	return Cell{Key: c.key, Status: c.status, Meta: c.meta, Photo: c.photo}
}

// Session is one open album. All methods are safe for concurrent use.
type Session struct {
	id      string
	pin     storage.Pin
	manager *Manager
	logger  *slog.Logger
	sub     *changefeed.Subscription[storage.Change]

	// ctx is cancelled when the session closes.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	fromNetwork    bool
	generation     int64
	cells          []*cell
	rendered       []string
	version        uint64
	flushedVersion uint64
	discarded      map[string]struct{}
	notice         error
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Pin() storage.Pin {
	return s.pin
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FromNetwork reports whether the current cells came from a search rather
// than from the store.
func (s *Session) FromNetwork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fromNetwork
}

// Snapshot is the session state at one point in time.
type Snapshot struct {
	ID          string
	PinID       int64
	State       State
	FromNetwork bool
	Generation  int64
	Cells       []Cell
}

// Snapshot returns the current cells without draining queued notifications.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:          s.id,
		PinID:       s.pin.ID,
		State:       s.state,
		FromNetwork: s.fromNetwork,
		Generation:  s.generation,
		Cells:       s.views(),
	}
}

func (s *Session) load(ctx context.Context, forceNetwork bool) error {
	if !forceNetwork {
		count, err := s.manager.photos.CountByPin(ctx, s.pin.ID)
		if err != nil {
			s.manager.escalate(err)
			return fmt.Errorf("album: count photos: %w", err)
		}
		if count > 0 {
			return s.loadLocal(ctx)
		}
	}
	return s.loadNetwork(ctx)
}

func (s *Session) loadLocal(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateLoadingLocal
	s.fromNetwork = false
	s.mu.Unlock()

	photos, err := s.manager.photos.ListByPin(ctx, s.pin.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if err != nil {
		s.state = StateReady
		s.manager.escalate(err)
		return fmt.Errorf("album: list photos: %w", err)
	}

	s.cells = make([]*cell, 0, len(photos))
	for i := range photos {
		p := photos[i]
		s.cells = append(s.cells, &cell{key: p.ID, status: CellFilled, photo: &p, photoID: p.ID})
	}
	s.state = StateReady
	s.version++
	return nil
}

// loadNetwork replaces the cells with the results of a new search. A failed
// search leaves the session ready and empty with the error kept as a notice.
func (s *Session) loadNetwork(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateLoadingNetwork
	s.fromNetwork = true
	s.mu.Unlock()

	sctx, done := s.bound(ctx)
	defer done()
	metas, err := s.manager.gateway.SearchPhotos(sctx, s.pin.Latitude, s.pin.Longitude)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}

	s.cells = nil
	if err != nil {
		s.logger.Warn("photo search failed", "error", err)
		s.notice = err
	} else {
		s.cells = make([]*cell, 0, len(metas))
		for i := range metas {
			meta := metas[i]
			s.cells = append(s.cells, &cell{key: uuid.NewString(), status: CellPending, meta: &meta})
		}
	}
	s.state = StateReady
	s.version++
	return nil
}

// Download fetches the image for the pending cell at index and persists it.
// Cells that are not pending are returned unchanged, so a failed cell stays
// failed.
func (s *Session) Download(ctx context.Context, index int) (Cell, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return Cell{}, ErrSessionClosed
	}
	if index < 0 || index >= len(s.cells) {
		s.mu.Unlock()
		return Cell{}, fmt.Errorf("%w: %d", ErrCellOutOfRange, index)
	}
	key := s.cells[index].key
	s.mu.Unlock()

	return s.fetch(ctx, key)
}

// Prefetch downloads every pending cell, at most the manager's download limit
// at a time. Failed downloads only mark their cell; the returned count is the
// number of cells filled.
func (s *Session) Prefetch(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	var keys []string
	for _, c := range s.cells {
		if c.status == CellPending {
			keys = append(keys, c.key)
		}
	}
	s.mu.Unlock()

	var filled atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.manager.downloadLimit)
	for _, key := range keys {
		g.Go(func() error {
			c, err := s.fetch(gctx, key)
			switch {
			case err == nil:
				if c.Status == CellFilled {
					filled.Add(1)
				}
				return nil
			case errors.Is(err, ErrSessionClosed), errors.Is(err, storage.ErrPersistence):
				return err
			default:
				return nil
			}
		})
	}
	err := g.Wait()
	return int(filled.Load()), err
}

func (s *Session) fetch(ctx context.Context, key string) (Cell, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return Cell{}, ErrSessionClosed
	}
	c := s.find(key)
	if c == nil {
		s.mu.Unlock()
		return Cell{}, ErrStaleDownload
	}
	if c.status != CellPending {
		v := c.view()
		s.mu.Unlock()
		return v, nil
	}
	c.status = CellDownloading
	c.photoID = uuid.NewString()
	meta, photoID, pinID, generation := *c.meta, c.photoID, s.pin.ID, s.generation
	s.version++
	s.mu.Unlock()

	dctx, done := s.bound(ctx)
	defer done()

	data, err := s.manager.gateway.DownloadPhoto(dctx, meta)
	if err != nil {
		s.markFailed(key, photoID)
		if s.ctx.Err() != nil {
			return Cell{}, ErrSessionClosed
		}
		s.logger.Warn("photo download failed", "photo", meta.ID, "error", err)
		return Cell{}, fmt.Errorf("album: download photo %s: %w", meta.ID, err)
	}
	if s.ctx.Err() != nil {
		return Cell{}, ErrSessionClosed
	}

	photo, err := s.manager.photos.Create(dctx, storage.PhotoCreate{
		ID:         photoID,
		PinID:      pinID,
		Generation: generation,
		Data:       data,
		TakenAt:    photometa.TakenAt(data),
	})
	switch {
	case errors.Is(err, storage.ErrStaleGeneration), errors.Is(err, storage.ErrNotFound):
		s.logger.Info("discarding download for replaced collection", "photo", meta.ID)
		s.markFailed(key, photoID)
		return Cell{}, ErrStaleDownload
	case err != nil:
		s.markFailed(key, photoID)
		if s.ctx.Err() != nil {
			return Cell{}, ErrSessionClosed
		}
		s.manager.escalate(err)
		return Cell{}, fmt.Errorf("album: save photo %s: %w", meta.ID, err)
	}

	s.mu.Lock()
	c = s.find(key)
	if c == nil || c.photoID != photoID {
		s.mu.Unlock()
		// The cell went away while downloading; the photo must not outlive it.
		if err := s.manager.photos.Delete(context.WithoutCancel(ctx), photo.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.manager.escalate(err)
			return Cell{}, fmt.Errorf("album: delete discarded photo %s: %w", photo.ID, err)
		}
		return Cell{}, ErrStaleDownload
	}
	c.status = CellFilled
	c.photo = &photo
	s.version++
	v := c.view()
	s.mu.Unlock()
	return v, nil
}

func (s *Session) markFailed(key, photoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.discarded, photoID)
	if c := s.find(key); c != nil && c.photoID == photoID && c.status == CellDownloading {
		c.status = CellFailed
		s.version++
	}
}

// NewCollection replaces the album with the results of a new search. The
// stored photos are cleared before the search is issued.
func (s *Session) NewCollection(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrBusy
	}
	previous := s.cells
	s.cells = nil
	s.state = StateNewCollection
	s.version++
	s.mu.Unlock()

	generation, err := s.manager.photos.Clear(ctx, s.pin.ID)
	if err != nil {
		s.mu.Lock()
		if s.state == StateNewCollection {
			s.cells = previous
			s.state = StateReady
			s.version++
		}
		s.mu.Unlock()
		s.manager.escalate(err)
		return fmt.Errorf("album: clear photos: %w", err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.generation = generation
	s.discarded = map[string]struct{}{}
	s.mu.Unlock()

	s.logger.Info("photo collection cleared", "generation", generation)
	return s.loadNetwork(ctx)
}

// Delete removes the cell at index. A stored photo is deleted with it.
func (s *Session) Delete(ctx context.Context, index int) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrBusy
	}
	if index < 0 || index >= len(s.cells) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrCellOutOfRange, index)
	}

	c := s.cells[index]
	s.cells = slices.Delete(s.cells, index, index+1)
	s.state = StateDeleting
	s.version++

	var photoID string
	switch c.status {
	case CellFilled:
		photoID = c.photo.ID
	case CellDownloading:
		s.discarded[c.photoID] = struct{}{}
	}
	s.mu.Unlock()

	var err error
	if photoID != "" {
		err = s.manager.photos.Delete(ctx, photoID)
		if errors.Is(err, storage.ErrNotFound) {
			err = nil
		}
	}

	s.mu.Lock()
	if s.state == StateDeleting {
		s.state = StateReady
	}
	s.mu.Unlock()

	if err != nil {
		s.manager.escalate(err)
		return fmt.Errorf("album: delete photo %s: %w", photoID, err)
	}
	return nil
}

// Diff is the change since the previous Flush. Deleted holds positions in the
// previously flushed cell list, Inserted positions in Cells.
type Diff struct {
	Deleted  []int
	Inserted []int
	Cells    []Cell
	State    State
	// Changed is set when anything about the cells moved since the previous
	// Flush, including in-place status updates.
	Changed bool
	Notice  string
}

// Empty reports whether the diff has nothing to render.
func (d Diff) Empty() bool {
	return !d.Changed && len(d.Deleted) == 0 && len(d.Inserted) == 0 && d.Notice == ""
}

// Flush applies the queued store notifications and returns them, together
// with the session's own changes, as one diff.
func (s *Session) Flush(ctx context.Context) (Diff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return Diff{}, ErrSessionClosed
	}

	s.drain()
	if s.sub.TakeOverflow() {
		photos, err := s.manager.photos.ListByPin(ctx, s.pin.ID)
		if err != nil {
			s.manager.escalate(err)
			return Diff{}, fmt.Errorf("album: resync photos: %w", err)
		}
		s.resync(photos)
		s.drain()
	}

	keys := make([]string, len(s.cells))
	for i, c := range s.cells {
		keys[i] = c.key
	}
	deleted, inserted := diffKeys(s.rendered, keys)

	d := Diff{
		Deleted:  deleted,
		Inserted: inserted,
		Cells:    s.views(),
		State:    s.state,
		Changed:  s.version != s.flushedVersion,
	}
	if s.notice != nil {
		d.Notice = s.notice.Error()
		s.notice = nil
	}
	s.rendered = keys
	s.flushedVersion = s.version
	return d, nil
}

func (s *Session) drain() {
	for {
		select {
		case change, ok := <-s.sub.C:
			if !ok {
				return
			}
			s.apply(change)
		default:
			return
		}
	}
}

func (s *Session) apply(change storage.Change) {
	if change.Kind != storage.KindPhoto || change.PinID != s.pin.ID {
		return
	}

	switch change.Op {
	case storage.OpInsert:
		if _, ok := s.discarded[change.PhotoID]; ok {
			delete(s.discarded, change.PhotoID)
			return
		}
		if change.Photo == nil || change.Generation != s.generation {
			return
		}
		if s.state == StateNewCollection || s.state == StateLoadingNetwork {
			return
		}
		if s.indexOfPhoto(change.PhotoID) >= 0 {
			return
		}
		p := *change.Photo
		s.cells = append(s.cells, &cell{key: p.ID, status: CellFilled, photo: &p, photoID: p.ID})
		s.version++
	case storage.OpDelete:
		i := s.indexOfPhoto(change.PhotoID)
		if i < 0 || s.cells[i].status != CellFilled {
			return
		}
		s.cells = slices.Delete(s.cells, i, i+1)
		s.version++
	}
}

// resync reconciles the cells with the stored photos after notifications
// were dropped.
func (s *Session) resync(photos []storage.Photo) {
	stored := make(map[string]struct{}, len(photos))
	for _, p := range photos {
		stored[p.ID] = struct{}{}
	}

	cells := make([]*cell, 0, len(s.cells))
	known := map[string]struct{}{}
	for _, c := range s.cells {
		if c.status == CellFilled {
			if _, ok := stored[c.photo.ID]; !ok {
				continue
			}
		}
		if c.photoID != "" {
			known[c.photoID] = struct{}{}
		}
		cells = append(cells, c)
	}

	for i := range photos {
		p := photos[i]
		if p.Generation != s.generation {
			continue
		}
		if _, ok := known[p.ID]; ok {
			continue
		}
		if _, ok := s.discarded[p.ID]; ok {
			continue
		}
		cells = append(cells, &cell{key: p.ID, status: CellFilled, photo: &p, photoID: p.ID})
	}

	s.cells = cells
	s.version++
	s.logger.Info("album resynchronised after dropped notifications", "cells", len(cells))
}

func (s *Session) find(key string) *cell {
	for _, c := range s.cells {
		if c.key == key {
			return c
		}
	}
	return nil
}

func (s *Session) indexOfPhoto(photoID string) int {
	for i, c := range s.cells {
		if c.photoID == photoID {
			return i
		}
	}
	return -1
}

func (s *Session) views() []Cell {
	out := make([]Cell, len(s.cells))
	for i, c := range s.cells {
		out[i] = c.view()
	}
	return out
}

// bound derives a context that is also cancelled when the session closes.
func (s *Session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Session) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.cancel()
	s.sub.Close()
}

// diffKeys compares two ordered key lists. Deleted indexes refer to before,
// inserted indexes to after.
func diffKeys(before, after []string) (deleted, inserted []int) {
	beforeSet := make(map[string]struct{}, len(before))
	for _, k := range before {
		beforeSet[k] = struct{}{}
	}
	afterSet := make(map[string]struct{}, len(after))
	for _, k := range after {
		afterSet[k] = struct{}{}
	}

	for i, k := range before {
		if _, ok := afterSet[k]; !ok {
			deleted = append(deleted, i)
		}
	}
	for i, k := range after {
		if _, ok := beforeSet[k]; !ok {
			inserted = append(inserted, i)
		}
	}
	return deleted, inserted
}
