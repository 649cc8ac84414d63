package db

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"alertrelay/internal/types"
)

const channelColumns = `id, name, channel_type, config, is_enabled`

// ChannelRepository reads notification_channels.
type ChannelRepository struct {
	db DBTX
}

// NewChannelRepository creates a ChannelRepository backed by db.
func NewChannelRepository(db DBTX) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// ListEnabledByIDs resolves ids to enabled channels, preserving the order of
// ids. Missing and disabled channels are omitted without error.
func (r *ChannelRepository) ListEnabledByIDs(ctx context.Context, ids []string) ([]types.NotificationChannel, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+channelColumns+`
		 FROM notification_channels
		 WHERE id = ANY($1::text[]) AND is_enabled = TRUE
		 ORDER BY array_position($1::text[], id)`,
		ids,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list notification channels", err)
	}
	defer rows.Close()

	var channels []types.NotificationChannel
	for rows.Next() {
		ch, scanErr := scanChannel(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating notification channels", err)
	}
	return channels, nil
}

// GetByID returns a channel regardless of its enabled flag. A missing
// channel yields ErrCodeNotFoundChannel.
func (r *ChannelRepository) GetByID(ctx context.Context, id string) (*types.NotificationChannel, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM notification_channels WHERE id = $1`,
		id,
	)
	ch, err := scanChannel(row)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func scanChannel(row pgx.Row) (types.NotificationChannel, error) {
	var (
		ch          types.NotificationChannel
		channelType string
		configJSON  []byte
	)
	if err := row.Scan(&ch.ID, &ch.Name, &channelType, &configJSON, &ch.IsEnabled); err != nil {
		if isNoRows(err) {
			return ch, types.NewAppError(types.ErrCodeNotFoundChannel, "notification channel not found", err)
		}
		return ch, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification channel", err)
	}
	ch.Type = types.ChannelType(channelType)

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &ch.Config); err != nil {
			return ch, types.NewAppError(types.ErrCodeInternalDB, "failed to decode channel config", err)
		}
	}
	if ch.Config == nil {
		ch.Config = map[string]any{}
	}
	return ch, nil
}
