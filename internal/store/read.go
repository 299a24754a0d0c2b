package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/geoattend/internal/attendance"
)

const recordColumns = `id, zone_label, check_in_time, check_out_time, synced, remote_id, user_id, sync_key`

// ActiveRecord returns the open session for userID, if any.
// An empty userID matches records created without a user.
func (s *Store) ActiveRecord(ctx context.Context, userID string) (attendance.Record, bool, error) {
	return activeRecord(ctx, s.db, userID)
}

func activeRecord(ctx context.Context, q queryer, userID string) (attendance.Record, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE COALESCE(user_id, '') = ? AND check_out_time IS NULL
		LIMIT 1
	`, userID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Record{}, false, nil
	}
	if err != nil {
		return attendance.Record{}, false, fmt.Errorf("read active record: %w", err)
	}
	return rec, true, nil
}

// ReadRecord retrieves a single record by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) ReadRecord(ctx context.Context, id int64) (attendance.Record, error) {
	return readRecord(ctx, s.db, id)
}

func readRecord(ctx context.Context, q queryer, id int64) (attendance.Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Record{}, ErrNotFound
	}
	if err != nil {
		return attendance.Record{}, fmt.Errorf("read record %d: %w", id, err)
	}
	return rec, nil
}

// Count returns the total number of records for every user.
// Zero means the store was never used.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// EligibleRecords returns completed, unsynced records, oldest first.
//
// Rows that fail to decode are logged and left out; they stay unsynced in
// the database so a corrected row is picked up by a later pass.
func (s *Store) EligibleRecords(ctx context.Context) ([]attendance.Record, error) {
	return s.listRecords(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE completed = 1 AND synced = 0
		ORDER BY id ASC
	`)
}

// AllRecords returns every record, newest first.
func (s *Store) AllRecords(ctx context.Context) ([]attendance.Record, error) {
	return s.listRecords(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		ORDER BY id DESC
	`)
}

func (s *Store) listRecords(ctx context.Context, query string, args ...any) ([]attendance.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []attendance.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			if attendance.IsDataError(err) {
				slog.Warn("skipping malformed record", "error", err)
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return records, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord decodes one row. Timestamp decoding failures are reported as
// MALFORMED_RECORD errors so list queries can skip the row.
func scanRecord(row rowScanner) (attendance.Record, error) {
	var (
		rec      attendance.Record
		checkIn  string
		checkOut sql.NullString
		synced   int
		remoteID sql.NullString
		userID   sql.NullString
		syncKey  sql.NullString
	)

	if err := row.Scan(&rec.ID, &rec.ZoneLabel, &checkIn, &checkOut, &synced, &remoteID, &userID, &syncKey); err != nil {
		return attendance.Record{}, err
	}

	in, err := parseTime(checkIn)
	if err != nil {
		return attendance.Record{}, attendance.WrapError(attendance.ErrCodeMalformedRecord,
			fmt.Sprintf("record %d check_in_time", rec.ID), err)
	}
	rec.CheckInTime = in

	if checkOut.Valid {
		out, err := parseTime(checkOut.String)
		if err != nil {
			return attendance.Record{}, attendance.WrapError(attendance.ErrCodeMalformedRecord,
				fmt.Sprintf("record %d check_out_time", rec.ID), err)
		}
		rec.CheckOutTime = &out
	}

	rec.Synced = synced == 1
	rec.RemoteID = remoteID.String
	rec.UserID = userID.String
	rec.SyncKey = syncKey.String

	return rec, nil
}
