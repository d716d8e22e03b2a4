package propagation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// retryEntryRecord is the retry_entries row
type retryEntryRecord struct {
	ID             uuid.UUID      `gorm:"type:uuid;primary_key"`
	NotificationID uuid.UUID      `gorm:"type:uuid;not null;index"`
	Topic          string         `gorm:"not null;index"`
	Handler        string         `gorm:"not null"`
	Notification   datatypes.JSON `gorm:"type:jsonb;not null"`
	Attempts       int            `gorm:"not null"`
	LastError      string
	Status         string    `gorm:"not null;index"`
	NextAttemptAt  time.Time `gorm:"not null;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (retryEntryRecord) TableName() string { return "retry_entries" }

// GormRetryQueue is the durable RetryQueue backed by PostgreSQL
type GormRetryQueue struct {
	db *gorm.DB
}

// NewGormRetryQueue creates a queue on an open gorm connection
func NewGormRetryQueue(db *gorm.DB) *GormRetryQueue {
	return &GormRetryQueue{db: db}
}

func toRecord(e *RetryEntry) (*retryEntryRecord, error) {
	data, err := encodeNotification(e.Notification)
	if err != nil {
		return nil, err
	}
	return &retryEntryRecord{
		ID:             e.ID,
		NotificationID: e.Notification.ID,
		Topic:          string(e.Notification.Topic),
		Handler:        e.Handler,
		Notification:   datatypes.JSON(data),
		Attempts:       e.Attempts,
		LastError:      e.LastError,
		Status:         string(e.Status),
		NextAttemptAt:  e.NextAttemptAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}, nil
}

func fromRecord(r *retryEntryRecord) (*RetryEntry, error) {
	var n Notification
	if err := json.Unmarshal(r.Notification, &n); err != nil {
		return nil, fmt.Errorf("retry entry %s: %w", r.ID, err)
	}
	return &RetryEntry{
		ID:            r.ID,
		Notification:  n,
		Handler:       r.Handler,
		Attempts:      r.Attempts,
		LastError:     r.LastError,
		Status:        RetryStatus(r.Status),
		NextAttemptAt: r.NextAttemptAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

func (q *GormRetryQueue) Enqueue(ctx context.Context, entry *RetryEntry) error {
	record, err := toRecord(entry)
	if err != nil {
		return err
	}
	if err := q.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to enqueue retry entry: %w", err)
	}
	return nil
}

func (q *GormRetryQueue) Due(ctx context.Context, now time.Time, limit int) ([]*RetryEntry, error) {
	var records []retryEntryRecord
	query := q.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", string(RetryStatusPending), now).
		Order("next_attempt_at ASC, created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load due retry entries: %w", err)
	}

	out := make([]*RetryEntry, 0, len(records))
	for i := range records {
		e, err := fromRecord(&records[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (q *GormRetryQueue) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	return q.update(ctx, id, map[string]interface{}{
		"status":   string(RetryStatusSucceeded),
		"attempts": gorm.Expr("attempts + 1"),
	})
}

func (q *GormRetryQueue) MarkFailed(ctx context.Context, id uuid.UUID, lastErr string, nextAttemptAt time.Time, dead bool) error {
	updates := map[string]interface{}{
		"attempts":        gorm.Expr("attempts + 1"),
		"last_error":      lastErr,
		"next_attempt_at": nextAttemptAt,
	}
	if dead {
		updates["status"] = string(RetryStatusDead)
	}
	return q.update(ctx, id, updates)
}

func (q *GormRetryQueue) update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	result := q.db.WithContext(ctx).Model(&retryEntryRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update retry entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("retry entry %s not found", id)
	}
	return nil
}

func (q *GormRetryQueue) Pending(ctx context.Context) (int, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&retryEntryRecord{}).
		Where("status = ?", string(RetryStatusPending)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count retry entries: %w", err)
	}
	return int(n), nil
}
