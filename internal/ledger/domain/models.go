package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EntryStatus is the kind of ledger record.
type EntryStatus string

const (
	StatusPaid   EntryStatus = "Paid"
	StatusCancel EntryStatus = "Cancel"
)

// Entry is one immutable row of the billing ledger. A charge inserts a
// Paid row; its cancellation inserts a Cancel row sharing the same
// transaction key with the amount negated and the scheduling fields
// copied so the audit trail is self-contained.
//
// The unique index on (transaction_key, status) is the idempotency
// guard: concurrent or replayed webhooks cannot record the same period
// twice.
type Entry struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	TransactionKey string       `json:"transaction_key" gorm:"type:text;not null;index;uniqueIndex:ux_payment_transaction_status,priority:1"`
	Amount         int64        `json:"amount" gorm:"not null"`
	Status         EntryStatus  `json:"status" gorm:"type:text;not null;uniqueIndex:ux_payment_transaction_status,priority:2"`
	StartAt        time.Time    `json:"start_at" gorm:"not null"`
	EndAt          time.Time    `json:"end_at" gorm:"not null"`
	EndGraceAt     time.Time    `json:"end_grace_at" gorm:"not null"`
	NextScheduleAt time.Time    `json:"next_schedule_at" gorm:"not null"`
	NextScheduleID string       `json:"next_schedule_id" gorm:"type:text;not null"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "payment" }

// EventRecord deduplicates inbound webhook deliveries. The provider
// sends no event id, so the natural key is (provider, transaction_key,
// event_type) for the at-least-once delivery contract.
type EventRecord struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider       string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_delivery,priority:1"`
	TransactionKey string         `json:"transaction_key" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_delivery,priority:2"`
	EventType      string         `json:"event_type" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_delivery,priority:3"`
	Payload        datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt     time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt    *time.Time     `json:"processed_at"`
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "webhook_events" }
