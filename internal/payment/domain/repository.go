package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	// InsertIfMissing returns false when a record with the same id exists.
	InsertIfMissing(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	// FindByID returns nil, nil when the record does not exist.
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Payment, error)
	List(ctx context.Context, db *gorm.DB) ([]Payment, error)
	// UpdateStatus moves id from -> to only while the stored status is still
	// from. It returns false when another writer got there first.
	UpdateStatus(ctx context.Context, db *gorm.DB, id string, from Status, to Status, processedAt time.Time) (bool, error)

	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
