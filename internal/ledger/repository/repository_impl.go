package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rebill/internal/ledger/domain"
	"github.com/smallbiznis/rebill/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Append(ctx context.Context, conn *gorm.DB, entry *domain.Entry) error {
	err := conn.WithContext(ctx).Create(entry).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrDuplicateEntry
		}
		return err
	}
	return nil
}

func (r *repo) LatestPaid(ctx context.Context, conn *gorm.DB, transactionKey string) (*domain.Entry, error) {
	var item domain.Entry
	err := conn.WithContext(ctx).Raw(
		`SELECT id, transaction_key, amount, status, start_at, end_at,
			end_grace_at, next_schedule_at, next_schedule_id, created_at
		 FROM payment
		 WHERE transaction_key = ? AND status = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		transactionKey,
		domain.StatusPaid,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *repo) Find(ctx context.Context, conn *gorm.DB, transactionKey string, status domain.EntryStatus) (*domain.Entry, error) {
	var item domain.Entry
	err := conn.WithContext(ctx).Raw(
		`SELECT id, transaction_key, amount, status, start_at, end_at,
			end_grace_at, next_schedule_at, next_schedule_id, created_at
		 FROM payment
		 WHERE transaction_key = ? AND status = ?
		 LIMIT 1`,
		transactionKey,
		status,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, provider, transaction_key, event_type, payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, transaction_key, event_type) DO NOTHING`,
		event.ID,
		event.Provider,
		event.TransactionKey,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, conn *gorm.DB, provider, transactionKey, eventType string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := conn.WithContext(ctx).Raw(
		`SELECT id, provider, transaction_key, event_type, payload, received_at, processed_at
		 FROM webhook_events
		 WHERE provider = ? AND transaction_key = ? AND event_type = ?
		 LIMIT 1`,
		provider,
		transactionKey,
		eventType,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkProcessed(ctx context.Context, conn *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}
