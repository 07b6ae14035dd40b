package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Oxyrus/virtualtourist/internal/changefeed"
	"github.com/Oxyrus/virtualtourist/internal/storage"
)

type pinRepository struct {
	db      *sql.DB
	changes *changefeed.Feed[storage.Change]
}

func (r *pinRepository) Create(ctx context.Context, coord storage.Coordinate) (storage.Pin, error) {
	if err := coord.Validate(); err != nil {
		return storage.Pin{}, fmt.Errorf("sqlite: create pin: %w", err)
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO pins (latitude, longitude, generation, created_at)
		VALUES (?, ?, 0, ?)`,
		coord.Latitude,
		coord.Longitude,
		now,
	)
	if err != nil {
		return storage.Pin{}, persistErr("create pin", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return storage.Pin{}, persistErr("create pin", err)
	}

	pin, err := r.Get(ctx, id)
	if err != nil {
		return storage.Pin{}, err
	}

	r.changes.Publish(storage.PinsTopic, storage.Change{
		Op:    storage.OpInsert,
		Kind:  storage.KindPin,
		PinID: pin.ID,
		Pin:   &pin,
	})

	return pin, nil
}

func (r *pinRepository) Get(ctx context.Context, id int64) (storage.Pin, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, latitude, longitude, generation, created_at
		FROM pins
		WHERE id = ?`,
		id,
	)
	return scanPin(row)
}

func (r *pinRepository) FindByCoordinate(ctx context.Context, coord storage.Coordinate) (storage.Pin, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, latitude, longitude, generation, created_at
		FROM pins
		WHERE latitude = ? AND longitude = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		coord.Latitude,
		coord.Longitude,
	)
	return scanPin(row)
}

func (r *pinRepository) List(ctx context.Context) ([]storage.Pin, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, latitude, longitude, generation, created_at
		FROM pins
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, persistErr("list pins", err)
	}
	defer rows.Close()

	var result []storage.Pin
	for rows.Next() {
		pin, err := scanPin(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pin)
	}

	if err := rows.Err(); err != nil {
		return nil, persistErr("list pins", err)
	}

	return result, nil
}

// Delete removes the pin together with its photos.
func (r *pinRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("delete pin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var generation int64
	err = tx.QueryRowContext(ctx, `SELECT generation FROM pins WHERE id = ?`, id).Scan(&generation)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return persistErr("delete pin", err)
	}

	photoIDs, err := photoIDsForPin(ctx, tx, id)
	if err != nil {
		return persistErr("delete pin", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM photos WHERE pin_id = ?`, id); err != nil {
		return persistErr("delete pin", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pins WHERE id = ?`, id); err != nil {
		return persistErr("delete pin", err)
	}

	if err := tx.Commit(); err != nil {
		return persistErr("delete pin", err)
	}

	for _, photoID := range photoIDs {
		r.changes.Publish(storage.PhotosTopic(id), storage.Change{
			Op:         storage.OpDelete,
			Kind:       storage.KindPhoto,
			PinID:      id,
			PhotoID:    photoID,
			Generation: generation,
		})
	}
	r.changes.Publish(storage.PinsTopic, storage.Change{
		Op:    storage.OpDelete,
		Kind:  storage.KindPin,
		PinID: id,
	})

	return nil
}

type pinScanner interface {
	Scan(dest ...any) error
}

func scanPin(s pinScanner) (storage.Pin, error) {
	var (
		pin          storage.Pin
		createdAtRaw time.Time
	)

	err := s.Scan(
		&pin.ID,
		&pin.Latitude,
		&pin.Longitude,
		&pin.Generation,
		&createdAtRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Pin{}, storage.ErrNotFound
		}
		return storage.Pin{}, persistErr("scan pin", err)
	}

	pin.CreatedAt = createdAtRaw.UTC()

	return pin, nil
}
