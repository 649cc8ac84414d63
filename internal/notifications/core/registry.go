package core

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"alertrelay/internal/types"
)

// SenderRegistry dispatches sends to the Sender registered for a channel
// type. Adding a channel type means registering one more Sender; there is no
// other extension point.
type SenderRegistry struct {
	mu       sync.RWMutex
	senders  map[types.ChannelType]Sender
	limiters map[types.ChannelType]*rate.Limiter

	limit rate.Limit
	burst int
}

// RegistryOption configures a SenderRegistry.
type RegistryOption func(*SenderRegistry)

// WithRateLimit caps sends per second for each channel type. A
// non-positive perSecond disables limiting.
func WithRateLimit(perSecond float64, burst int) RegistryOption {
	return func(r *SenderRegistry) {
		if perSecond <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limit = rate.Limit(perSecond)
		r.burst = burst
	}
}

// NewSenderRegistry builds a registry holding senders.
func NewSenderRegistry(senders []Sender, opts ...RegistryOption) *SenderRegistry {
	r := &SenderRegistry{
		senders:  make(map[types.ChannelType]Sender, len(senders)),
		limiters: make(map[types.ChannelType]*rate.Limiter),
		limit:    rate.Inf,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, s := range senders {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the sender for s.Type().
func (r *SenderRegistry) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Type()] = s
	if r.limit != rate.Inf {
		r.limiters[s.Type()] = rate.NewLimiter(r.limit, r.burst)
	}
}

// Lookup returns the sender for t.
func (r *SenderRegistry) Lookup(t types.ChannelType) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[t]
	return s, ok
}

// Types lists the registered channel types.
func (r *SenderRegistry) Types() []types.ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ChannelType, 0, len(r.senders))
	for t := range r.senders {
		out = append(out, t)
	}
	return out
}

// Send routes to the sender for channel.Type. An unknown type is a
// non-retryable configuration failure.
func (r *SenderRegistry) Send(ctx context.Context, event types.NotificationEvent, rule types.NotificationRule, channel types.NotificationChannel) SendResult {
	s, ok := r.Lookup(channel.Type)
	if !ok {
		return ConfigFailure(fmt.Sprintf("unknown channel type %q", channel.Type))
	}

	r.mu.RLock()
	limiter := r.limiters[channel.Type]
	r.mu.RUnlock()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return TransientFailure(0, fmt.Sprintf("rate limiter: %v", err))
		}
	}

	return s.Send(ctx, event, rule, channel)
}
