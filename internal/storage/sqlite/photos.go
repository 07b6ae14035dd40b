package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"

	"github.com/Oxyrus/virtualtourist/internal/changefeed"
	"github.com/Oxyrus/virtualtourist/internal/storage"
)

const (
	clearAttempts = 3
	clearDelay    = 50 * time.Millisecond
)

type photoRepository struct {
	db      *sql.DB
	changes *changefeed.Feed[storage.Change]
}

// Create inserts the photo only while the pin is still at input.Generation,
// so a download issued before a Clear can never land in the new collection.
func (r *photoRepository) Create(ctx context.Context, input storage.PhotoCreate) (storage.Photo, error) {
	if len(input.Data) == 0 {
		return storage.Photo{}, fmt.Errorf("sqlite: create photo: empty image data")
	}

	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	var takenAt sql.NullTime
	if input.TakenAt != nil {
		takenAt = sql.NullTime{Time: input.TakenAt.UTC(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO photos (id, pin_id, generation, data, taken_at, created_at)
		SELECT ?, id, generation, ?, ?, ?
		FROM pins
		WHERE id = ? AND generation = ?`,
		id,
		input.Data,
		takenAt,
		now,
		input.PinID,
		input.Generation,
	)
	if err != nil {
		return storage.Photo{}, persistErr("create photo", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return storage.Photo{}, persistErr("create photo", err)
	}

	if rowsAffected == 0 {
		var current int64
		err := r.db.QueryRowContext(ctx, `SELECT generation FROM pins WHERE id = ?`, input.PinID).Scan(&current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.Photo{}, storage.ErrNotFound
			}
			return storage.Photo{}, persistErr("create photo", err)
		}
		return storage.Photo{}, fmt.Errorf("sqlite: create photo: generation %d, pin is at %d: %w",
			input.Generation, current, storage.ErrStaleGeneration)
	}

	photo := storage.Photo{
		ID:         id,
		PinID:      input.PinID,
		Generation: input.Generation,
		Data:       bytes.Clone(input.Data),
		CreatedAt:  now,
	}
	if takenAt.Valid {
		t := takenAt.Time
		photo.TakenAt = &t
	}

	r.changes.Publish(storage.PhotosTopic(photo.PinID), storage.Change{
		Op:         storage.OpInsert,
		Kind:       storage.KindPhoto,
		PinID:      photo.PinID,
		PhotoID:    photo.ID,
		Generation: photo.Generation,
		Photo:      &photo,
	})

	return photo, nil
}

func (r *photoRepository) Get(ctx context.Context, id string) (storage.Photo, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, pin_id, generation, data, taken_at, created_at
		FROM photos
		WHERE id = ?`,
		id,
	)
	return scanPhoto(row)
}

func (r *photoRepository) ListByPin(ctx context.Context, pinID int64) ([]storage.Photo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, pin_id, generation, data, taken_at, created_at
		FROM photos
		WHERE pin_id = ?
		ORDER BY created_at, rowid`,
		pinID,
	)
	if err != nil {
		return nil, persistErr("list photos", err)
	}
	defer rows.Close()

	var result []storage.Photo
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, photo)
	}

	if err := rows.Err(); err != nil {
		return nil, persistErr("list photos", err)
	}

	return result, nil
}

func (r *photoRepository) CountByPin(ctx context.Context, pinID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos WHERE pin_id = ?`, pinID).Scan(&count)
	if err != nil {
		return 0, persistErr("count photos", err)
	}
	return count, nil
}

func (r *photoRepository) Delete(ctx context.Context, id string) error {
	var pinID, generation int64
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM photos
		WHERE id = ?
		RETURNING pin_id, generation`,
		id,
	).Scan(&pinID, &generation)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return persistErr("delete photo", err)
	}

	r.changes.Publish(storage.PhotosTopic(pinID), storage.Change{
		Op:         storage.OpDelete,
		Kind:       storage.KindPhoto,
		PinID:      pinID,
		PhotoID:    id,
		Generation: generation,
	})

	return nil
}

func (r *photoRepository) Clear(ctx context.Context, pinID int64) (int64, error) {
	var (
		generation int64
		removed    []string
	)

	err := retry.Do(
		func() error {
			var err error
			generation, removed, err = r.clear(ctx, pinID)
			return err
		},
		retry.Attempts(clearAttempts),
		retry.Delay(clearDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isBusy),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, err
		}
		return 0, persistErr("clear photos", err)
	}

	for _, photoID := range removed {
		r.changes.Publish(storage.PhotosTopic(pinID), storage.Change{
			Op:         storage.OpDelete,
			Kind:       storage.KindPhoto,
			PinID:      pinID,
			PhotoID:    photoID,
			Generation: generation - 1,
		})
	}

	return generation, nil
}

func (r *photoRepository) clear(ctx context.Context, pinID int64) (int64, []string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE pins SET generation = generation + 1 WHERE id = ?`, pinID)
	if err != nil {
		return 0, nil, err
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, nil, err
	}
	if rowsAffected == 0 {
		return 0, nil, storage.ErrNotFound
	}

	removed, err := photoIDsForPin(ctx, tx, pinID)
	if err != nil {
		return 0, nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM photos WHERE pin_id = ?`, pinID); err != nil {
		return 0, nil, err
	}

	var generation int64
	if err := tx.QueryRowContext(ctx, `SELECT generation FROM pins WHERE id = ?`, pinID).Scan(&generation); err != nil {
		return 0, nil, err
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, err
	}

	return generation, removed, nil
}

func photoIDsForPin(ctx context.Context, tx *sql.Tx, pinID int64) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM photos WHERE pin_id = ? ORDER BY created_at, rowid`, pinID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type photoScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(s photoScanner) (storage.Photo, error) {
	var (
		photo        storage.Photo
		takenAtRaw   sql.NullTime
		createdAtRaw time.Time
	)

	err := s.Scan(
		&photo.ID,
		&photo.PinID,
		&photo.Generation,
		&photo.Data,
		&takenAtRaw,
		&createdAtRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Photo{}, storage.ErrNotFound
		}
		return storage.Photo{}, persistErr("scan photo", err)
	}

	if takenAtRaw.Valid {
		t := takenAtRaw.Time.UTC()
		photo.TakenAt = &t
	}

	photo.CreatedAt = createdAtRaw.UTC()

	return photo, nil
}
