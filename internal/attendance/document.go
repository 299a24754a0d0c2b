package attendance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultCollection is the remote collection attendance documents live in.
const DefaultCollection = "attendance"

// DomainDocument separates document content hashes from any other hash.
const DomainDocument = "geoattend/document/v1"

// Remote document field names.
const (
	FieldOfficeName     = "officeName"
	FieldCheckInTime    = "checkInTime"
	FieldCheckOutTime   = "checkOutTime"
	FieldUserID         = "userId"
	FieldLocalID        = "localId"
	FieldSyncKey        = "syncKey"
	FieldIdempotencyKey = "idempotencyKey"
)

// DocumentTimeLayout is the wire format for timestamps in remote documents.
const DocumentTimeLayout = time.RFC3339

// Document builds the remote field set for a completed record.
//
// Returns a MISSING_USER error for records that cannot be attributed and a
// MALFORMED_RECORD error for records that are not completed or violate the
// check-in/check-out ordering.
func Document(r Record) (map[string]any, error) {
	const op = "build document"

	if r.UserID == "" {
		return nil, NewError(ErrCodeMissingUser, op, fmt.Sprintf("record %d has no user", r.ID))
	}
	if r.CheckOutTime == nil {
		return nil, NewError(ErrCodeMalformedRecord, op, fmt.Sprintf("record %d is still active", r.ID))
	}
	if r.SyncKey == "" {
		return nil, NewError(ErrCodeMalformedRecord, op, fmt.Sprintf("record %d has no sync key", r.ID))
	}
	if r.CheckInTime.IsZero() {
		return nil, NewError(ErrCodeMalformedRecord, op, fmt.Sprintf("record %d has no check-in time", r.ID))
	}
	if r.CheckOutTime.Before(r.CheckInTime) {
		return nil, NewError(ErrCodeMalformedRecord, op, fmt.Sprintf("record %d checks out before it checks in", r.ID))
	}

	label := r.ZoneLabel
	if label == "" {
		label = DefaultZoneLabel
	}

	return map[string]any{
		FieldOfficeName:     label,
		FieldCheckInTime:    r.CheckInTime.UTC().Format(DocumentTimeLayout),
		FieldCheckOutTime:   r.CheckOutTime.UTC().Format(DocumentTimeLayout),
		FieldUserID:         r.UserID,
		FieldLocalID:        r.ID,
		FieldSyncKey:        r.SyncKey,
		FieldIdempotencyKey: IdempotencyKey(r.UserID, r.SyncKey),
	}, nil
}

// IdempotencyKey identifies a record across remote create retries. The
// local id is not used: it restarts at 1 in every fresh database.
func IdempotencyKey(userID, syncKey string) string {
	return userID + ":" + syncKey
}

// ContentHash returns the domain-separated SHA-256 of the canonical
// encoding of fields.
func ContentHash(fields map[string]any) (string, error) {
	canonical, err := MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("content hash: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(DomainDocument))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
