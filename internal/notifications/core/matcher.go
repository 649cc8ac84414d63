package core

import (
	"context"
	"slices"
	"sort"

	"alertrelay/internal/types"
)

// RuleMatcher selects the enabled rules of an organization that apply to an
// event.
type RuleMatcher struct {
	rules  RuleStore
	logger types.Logger
}

// NewRuleMatcher creates a RuleMatcher over rules.
func NewRuleMatcher(rules RuleStore, logger types.Logger) *RuleMatcher {
	return &RuleMatcher{rules: rules, logger: logger}
}

// Match returns the rules whose event type and filters match event, ordered
// by rule ID. A store error is logged and yields no rules.
func (m *RuleMatcher) Match(ctx context.Context, event types.NotificationEvent) []types.NotificationRule {
	candidates, err := m.rules.ListEnabledForEvent(ctx, event.OrganizationID, event.Type)
	if err != nil {
		m.logger.Error("rule lookup failed",
			"organization_id", event.OrganizationID,
			"event_type", string(event.Type),
			"error", err.Error(),
		)
		return nil
	}

	matched := make([]types.NotificationRule, 0, len(candidates))
	for _, rule := range candidates {
		if !rule.IsEnabled || rule.EventType != event.Type || rule.OrganizationID != event.OrganizationID {
			continue
		}
		if FiltersMatch(rule.Filters, event) {
			matched = append(matched, rule)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched
}

// FiltersMatch applies filter intersection: every non-empty list must
// contain the event's corresponding identifier.
func FiltersMatch(f types.RuleFilters, event types.NotificationEvent) bool {
	return inFilter(f.DeviceIDs, resourceIdentifier(event, types.ResourceDevice, "device_id")) &&
		inFilter(f.AgentIDs, resourceIdentifier(event, types.ResourceAgent, "agent_id")) &&
		inFilter(f.CategoryIDs, event.DataString("category_id")) &&
		inFilter(f.SegmentIDs, event.DataString("segment_id"))
}

// resourceIdentifier is the event's resource ID when the event is about a
// resource of kind rt, otherwise the value of dataKey in the event data.
func resourceIdentifier(event types.NotificationEvent, rt types.ResourceType, dataKey string) string {
	if event.ResourceType == rt {
		return event.ResourceID
	}
	return event.DataString(dataKey)
}

func inFilter(list []string, id string) bool {
	if len(list) == 0 {
		return true
	}
	if id == "" {
		return false
	}
	return slices.Contains(list, id)
}
