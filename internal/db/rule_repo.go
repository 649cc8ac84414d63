package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"alertrelay/internal/types"
)

const ruleColumns = `id, organization_id, name, event_type, channel_ids, filters,
	cooldown_minutes, is_enabled, created_at`

// RuleRepository reads notification_rules. Rules are managed by the admin
// surface; the engine never writes them.
type RuleRepository struct {
	db DBTX
}

// NewRuleRepository creates a RuleRepository backed by db.
func NewRuleRepository(db DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

// ListEnabledForEvent returns the enabled rules of an organization bound to
// the exact event type, oldest first.
func (r *RuleRepository) ListEnabledForEvent(ctx context.Context, orgID string, eventType types.EventType) ([]types.NotificationRule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ruleColumns+`
		 FROM notification_rules
		 WHERE organization_id = $1 AND event_type = $2 AND is_enabled = TRUE
		 ORDER BY created_at ASC, id ASC`,
		orgID, string(eventType),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list notification rules", err)
	}
	defer rows.Close()

	var rules []types.NotificationRule
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating notification rules", err)
	}
	return rules, nil
}

// GetByID returns a rule regardless of its enabled flag. A missing rule
// yields ErrCodeNotFoundRule.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*types.NotificationRule, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM notification_rules WHERE id = $1`,
		id,
	)
	rule, err := scanRule(row)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func scanRule(row pgx.Row) (types.NotificationRule, error) {
	var (
		rule        types.NotificationRule
		eventType   string
		filtersJSON []byte
		createdAt   time.Time
	)
	err := row.Scan(
		&rule.ID,
		&rule.OrganizationID,
		&rule.Name,
		&eventType,
		&rule.ChannelIDs,
		&filtersJSON,
		&rule.CooldownMinutes,
		&rule.IsEnabled,
		&createdAt,
	)
	if err != nil {
		if isNoRows(err) {
			return rule, types.NewAppError(types.ErrCodeNotFoundRule, "notification rule not found", err)
		}
		return rule, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification rule", err)
	}
	rule.EventType = types.EventType(eventType)
	rule.CreatedAt = createdAt

	if len(filtersJSON) > 0 {
		if err := json.Unmarshal(filtersJSON, &rule.Filters); err != nil {
			return rule, types.NewAppError(types.ErrCodeInternalDB, "failed to decode rule filters", err)
		}
	}
	return rule, nil
}
