package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("ledger_entry_not_found")
	ErrDuplicateEntry = errors.New("ledger_entry_duplicate")
)

type Repository interface {
	// Append inserts a new ledger row. Rows are never updated or
	// deleted. A unique-index violation surfaces as ErrDuplicateEntry.
	Append(ctx context.Context, db *gorm.DB, entry *Entry) error
	// LatestPaid returns the most recent Paid row for the transaction
	// key, or ErrNotFound.
	LatestPaid(ctx context.Context, db *gorm.DB, transactionKey string) (*Entry, error)
	// Find returns the row for (transactionKey, status), or ErrNotFound.
	Find(ctx context.Context, db *gorm.DB, transactionKey string, status EntryStatus) (*Entry, error)

	// InsertEvent records a webhook delivery, reporting whether the row
	// was new. An existing row means the delivery is a replay.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, transactionKey, eventType string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
