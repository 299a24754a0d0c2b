package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/geoattend/internal/attendance"
)

// SaveZone persists the monitored zone, replacing any previous one.
func (s *Store) SaveZone(ctx context.Context, z attendance.Zone) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zone_config (slot, zone_id, label, lat, lon, radius_m, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			zone_id = excluded.zone_id,
			label = excluded.label,
			lat = excluded.lat,
			lon = excluded.lon,
			radius_m = excluded.radius_m,
			updated_at = excluded.updated_at
	`, z.ID, z.DisplayLabel(), z.Center.Lat, z.Center.Lon, z.RadiusMeters, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save zone: %w", err)
	}
	return nil
}

// LoadZone returns the persisted zone. ok is false if none was saved.
func (s *Store) LoadZone(ctx context.Context) (z attendance.Zone, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT zone_id, label, lat, lon, radius_m
		FROM zone_config
		WHERE slot = 1
	`).Scan(&z.ID, &z.Label, &z.Center.Lat, &z.Center.Lon, &z.RadiusMeters)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Zone{}, false, nil
	}
	if err != nil {
		return attendance.Zone{}, false, fmt.Errorf("load zone: %w", err)
	}
	return z, true, nil
}
