// Package remote is the remote system of record for attendance documents.
//
// Documents live in a single gorm-managed table keyed by an opaque UUIDv7 id
// and scoped by collection. Production points it at PostgreSQL; local runs
// and tests use SQLite. Create deduplicates on the document's idempotency
// key, so a create that succeeded remotely but was never acknowledged
// locally returns the original id when retried.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/roach88/geoattend/internal/attendance"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("remote document not found")

// Document is one stored remote document.
type Document struct {
	ID             string         `gorm:"primaryKey;size:36"`
	Collection     string         `gorm:"size:64;not null;uniqueIndex:idx_remote_documents_key,priority:1"`
	IdempotencyKey *string        `gorm:"size:191;uniqueIndex:idx_remote_documents_key,priority:2"`
	Fields         datatypes.JSON `gorm:"not null"`
	ContentHash    string         `gorm:"size:64;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName pins the table name.
func (Document) TableName() string {
	return "remote_documents"
}

// Client implements the remote store contract over gorm.
type Client struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects with the named driver and migrates the schema.
func Open(driver, dsn string) (*Client, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("open remote: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open remote: %w", err)
	}
	if driver != DriverPostgres {
		// SQLite allows one writer; queue callers in the pool instead of
		// failing them with "database is locked".
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open remote: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Client, error) {
	if err := db.AutoMigrate(&Document{}); err != nil {
		return nil, fmt.Errorf("migrate remote: %w", err)
	}
	return &Client{db: db, logger: slog.Default().With("component", "remote")}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create stores fields as a new document and returns its id. If a document
// with the same idempotency key already exists in the collection, its id is
// returned and its content refreshed.
func (c *Client) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	const op = "remote.create"

	doc, err := newDocument(collection, fields)
	if err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", attendance.WrapError(attendance.ErrCodeRemoteUnavailable, op, err)
	}
	doc.ID = id.String()

	db := c.db.WithContext(ctx)
	if doc.IdempotencyKey == nil {
		if err := db.Create(&doc).Error; err != nil {
			return "", attendance.WrapError(attendance.ErrCodeRemoteUnavailable, op, err)
		}
		return doc.ID, nil
	}

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&doc)
	if result.Error != nil {
		return "", attendance.WrapError(attendance.ErrCodeRemoteUnavailable, op, result.Error)
	}
	if result.RowsAffected == 1 {
		return doc.ID, nil
	}

	var existing Document
	err = db.Where("collection = ? AND idempotency_key = ?", collection, *doc.IdempotencyKey).First(&existing).Error
	if err != nil {
		return "", attendance.WrapError(attendance.ErrCodeRemoteUnavailable, op, err)
	}
	if existing.ContentHash != doc.ContentHash {
		err = db.Model(&existing).Updates(map[string]any{
			"fields":       doc.Fields,
			"content_hash": doc.ContentHash,
		}).Error
		if err != nil {
			return "", attendance.WrapError(attendance.ErrCodeRemoteUnavailable, op, err)
		}
	}
	c.logger.Info("create deduplicated", "collection", collection, "remote_id", existing.ID)
	return existing.ID, nil
}

// Update upserts fields under id.
func (c *Client) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	const op = "remote.update"

	doc, err := newDocument(collection, fields)
	if err != nil {
		return err
	}
	doc.ID = id

	err = c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"fields", "content_hash", "updated_at"}),
	}).Create(&doc).Error
	if err != nil {
		return attendance.WrapError(attendance.ErrCodeRemoteUnavailable, op, err)
	}
	return nil
}

// Get returns the fields stored under id.
func (c *Client) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	var doc Document
	err := c.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get remote document: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(doc.Fields, &fields); err != nil {
		return nil, fmt.Errorf("decode remote document %s: %w", id, err)
	}
	return fields, nil
}

// Count returns the number of documents in collection.
func (c *Client) Count(ctx context.Context, collection string) (int64, error) {
	var n int64
	err := c.db.WithContext(ctx).Model(&Document{}).Where("collection = ?", collection).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count remote documents: %w", err)
	}
	return n, nil
}

func newDocument(collection string, fields map[string]any) (Document, error) {
	body, err := attendance.MarshalCanonical(fields)
	if err != nil {
		return Document{}, fmt.Errorf("encode remote document: %w", err)
	}
	hash, err := attendance.ContentHash(fields)
	if err != nil {
		return Document{}, fmt.Errorf("encode remote document: %w", err)
	}
	doc := Document{
		Collection:  collection,
		Fields:      datatypes.JSON(body),
		ContentHash: hash,
	}
	if key, ok := fields[attendance.FieldIdempotencyKey].(string); ok && key != "" {
		doc.IdempotencyKey = &key
	}
	return doc, nil
}
