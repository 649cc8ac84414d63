package db

import (
	"context"

	"github.com/google/uuid"

	"alertrelay/internal/types"
)

// HistoryRepository appends to notification_history. Rows are never
// updated or deleted.
type HistoryRepository struct {
	db DBTX
}

// NewHistoryRepository creates a HistoryRepository backed by db.
func NewHistoryRepository(db DBTX) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Record inserts rec, assigning an ID when empty.
func (r *HistoryRepository) Record(ctx context.Context, rec *types.NotificationHistoryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	eventData, err := encodeObject(rec.EventData)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode history event data", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO notification_history
		 (id, organization_id, rule_id, channel_id, event_type, event_data, status, error, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID,
		rec.OrganizationID,
		rec.RuleID,
		rec.ChannelID,
		string(rec.EventType),
		eventData,
		string(rec.Status),
		rec.Error,
		rec.SentAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record notification history", err)
	}
	return nil
}
