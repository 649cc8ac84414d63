package core

import (
	"context"

	"alertrelay/internal/types"
)

// Dispatcher is the trigger entry point: match, gate on cooldown, deliver.
type Dispatcher struct {
	matcher      *RuleMatcher
	cooldowns    *CooldownTracker
	orchestrator *Orchestrator
	clock        types.Clock
	logger       types.Logger
}

// NewDispatcher wires a Dispatcher from its stages.
func NewDispatcher(matcher *RuleMatcher, cooldowns *CooldownTracker, orchestrator *Orchestrator, clock types.Clock, logger types.Logger) *Dispatcher {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Dispatcher{
		matcher:      matcher,
		cooldowns:    cooldowns,
		orchestrator: orchestrator,
		clock:        clock,
		logger:       logger,
	}
}

// Trigger runs the pipeline for event and returns one result per
// (rule, channel) delivery. The only error is a validation AppError for a
// malformed event; downstream failures are reported in the results.
func (d *Dispatcher) Trigger(ctx context.Context, event types.NotificationEvent) ([]ChannelResult, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.clock.Now()
	}

	rules := d.matcher.Match(ctx, event)
	if len(rules) == 0 {
		return []ChannelResult{}, nil
	}

	var results []ChannelResult
	for _, rule := range rules {
		hold, ok := d.cooldowns.Acquire(ctx, rule, event)
		if !ok {
			d.logger.Info("rule in cooldown, skipping",
				"rule_id", rule.ID,
				"resource_id", event.ResourceID,
			)
			continue
		}
		delivered := d.orchestrator.DeliverRule(ctx, event, rule)
		if !AnySucceeded(delivered) {
			d.cooldowns.Release(ctx, hold)
		}
		results = append(results, delivered...)
	}

	if results == nil {
		results = []ChannelResult{}
	}
	return results, nil
}
