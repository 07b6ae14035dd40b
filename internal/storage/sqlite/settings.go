package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/Oxyrus/virtualtourist/internal/storage"
)

const (
	keyRegionLatitude       = "region.latitude"
	keyRegionLongitude      = "region.longitude"
	keyRegionLatitudeDelta  = "region.latitude_delta"
	keyRegionLongitudeDelta = "region.longitude_delta"
)

type settingsRepository struct {
	db *sql.DB
}

// Region returns the saved viewport, or storage.ErrNotFound if none of its
// four values has been saved yet.
func (r *settingsRepository) Region(ctx context.Context) (storage.Region, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT key, value
		FROM settings
		WHERE key IN (?, ?, ?, ?)`,
		keyRegionLatitude,
		keyRegionLongitude,
		keyRegionLatitudeDelta,
		keyRegionLongitudeDelta,
	)
	if err != nil {
		return storage.Region{}, persistErr("load region", err)
	}
	defer rows.Close()

	values := make(map[string]float64, 4)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return storage.Region{}, persistErr("load region", err)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return storage.Region{}, fmt.Errorf("sqlite: load region: %s: %w", key, err)
		}
		values[key] = v
	}
	if err := rows.Err(); err != nil {
		return storage.Region{}, persistErr("load region", err)
	}

	if len(values) != 4 {
		return storage.Region{}, storage.ErrNotFound
	}

	return storage.Region{
		Latitude:       values[keyRegionLatitude],
		Longitude:      values[keyRegionLongitude],
		LatitudeDelta:  values[keyRegionLatitudeDelta],
		LongitudeDelta: values[keyRegionLongitudeDelta],
	}, nil
}

func (r *settingsRepository) SaveRegion(ctx context.Context, region storage.Region) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("save region", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	values := map[string]float64{
		keyRegionLatitude:       region.Latitude,
		keyRegionLongitude:      region.Longitude,
		keyRegionLatitudeDelta:  region.LatitudeDelta,
		keyRegionLongitudeDelta: region.LongitudeDelta,
	}
	for key, v := range values {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key,
			strconv.FormatFloat(v, 'g', -1, 64),
			now,
		)
		if err != nil {
			return persistErr("save region", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("save region", err)
	}
	return nil
}
