package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/geoattend/internal/attendance"
)

// OpenSession creates the active record for userID unless one already exists.
//
// The insert relies on the one-active-record unique index: if another
// writer (in this process or another one) holds an active record for the
// user, ON CONFLICT DO NOTHING turns the insert into a no-op and the existing
// record is returned with created=false. A new record gets a UUIDv7 sync key.
func (s *Store) OpenSession(ctx context.Context, userID, zoneLabel string, at time.Time) (rec attendance.Record, created bool, err error) {
	if zoneLabel == "" {
		zoneLabel = attendance.DefaultZoneLabel
	}

	syncKey, err := uuid.NewV7()
	if err != nil {
		return attendance.Record{}, false, fmt.Errorf("open session: sync key: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return attendance.Record{}, false, fmt.Errorf("open session: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_records (zone_label, check_in_time, user_id, sync_key)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, zoneLabel, formatTime(at), nullString(userID), syncKey.String())
	if err != nil {
		return attendance.Record{}, false, fmt.Errorf("open session: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return attendance.Record{}, false, fmt.Errorf("open session: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Conflict - an active record already exists
		existing, ok, err := activeRecord(ctx, tx, userID)
		if err != nil {
			return attendance.Record{}, false, fmt.Errorf("open session: %w", err)
		}
		if !ok {
			return attendance.Record{}, false, fmt.Errorf("open session: insert ignored but no active record for user %q", userID)
		}
		if err := tx.Commit(); err != nil {
			return attendance.Record{}, false, fmt.Errorf("open session: commit (existing): %w", err)
		}
		return existing, false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return attendance.Record{}, false, fmt.Errorf("open session: last insert id: %w", err)
	}

	rec, err = readRecord(ctx, tx, id)
	if err != nil {
		return attendance.Record{}, false, fmt.Errorf("open session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return attendance.Record{}, false, fmt.Errorf("open session: commit: %w", err)
	}

	return rec, true, nil
}

// CloseSession sets the check-out time of the active record for userID.
//
// The update is conditional on check_out_time IS NULL, so a duplicate or
// concurrent close is a no-op reported as closed=false. A check-out earlier
// than the check-in (clock skew) is clamped to the check-in time.
func (s *Store) CloseSession(ctx context.Context, userID string, at time.Time) (rec attendance.Record, closed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return attendance.Record{}, false, fmt.Errorf("close session: begin tx: %w", err)
	}
	defer tx.Rollback()

	rec, ok, err := activeRecord(ctx, tx, userID)
	if err != nil {
		return attendance.Record{}, false, fmt.Errorf("close session: %w", err)
	}
	if !ok {
		return attendance.Record{}, false, nil
	}

	closeAt := at.UTC()
	if closeAt.Before(rec.CheckInTime) {
		closeAt = rec.CheckInTime
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE attendance_records
		SET check_out_time = ?
		WHERE id = ? AND check_out_time IS NULL
	`, formatTime(closeAt), rec.ID)
	if err != nil {
		return attendance.Record{}, false, fmt.Errorf("close session: update: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return attendance.Record{}, false, fmt.Errorf("close session: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return attendance.Record{}, false, nil
	}

	if err := tx.Commit(); err != nil {
		return attendance.Record{}, false, fmt.Errorf("close session: commit: %w", err)
	}

	rec.CheckOutTime = &closeAt
	return rec, true, nil
}

// MarkSynced records that the remote store accepted the record's content.
//
// synced and remote_id are written in one statement. The update only
// applies to completed records whose remote_id is unset or already equal to
// remoteID; anything else returns ErrRemoteIDConflict.
func (s *Store) MarkSynced(ctx context.Context, id int64, remoteID string) error {
	if remoteID == "" {
		return fmt.Errorf("mark synced %d: empty remote id", id)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET synced = 1, remote_id = ?
		WHERE id = ?
		  AND check_out_time IS NOT NULL
		  AND (remote_id IS NULL OR remote_id = ?)
	`, remoteID, id, remoteID)
	if err != nil {
		return fmt.Errorf("mark synced %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark synced %d: rows affected: %w", id, err)
	}
	if rowsAffected > 0 {
		return nil
	}

	if _, err := s.ReadRecord(ctx, id); err != nil {
		return fmt.Errorf("mark synced %d: %w", id, err)
	}
	return fmt.Errorf("mark synced %d: %w", id, ErrRemoteIDConflict)
}
