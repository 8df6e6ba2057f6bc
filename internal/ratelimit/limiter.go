// Package ratelimit admits requests per caller address under fixed-window
// quotas. Each (tier, address) pair owns one bucket in an injected Store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/apierr"
	"github.com/ovaphlow/pitchfork/service-learning-auth/pkg/utilities"
)

var ErrRateLimited = apierr.ErrRateLimited

// Tier is a named quota: at most Max admissions per Window.
type Tier struct {
	Name   string
	Window time.Duration
	Max    int
}

var (
	General = Tier{Name: "general", Window: 15 * time.Minute, Max: 100}
	Auth    = Tier{Name: "auth", Window: 15 * time.Minute, Max: 5}
	Prompt  = Tier{Name: "prompt", Window: 15 * time.Minute, Max: 10}
)

// Decision is the state of a bucket right after an admission attempt.
type Decision struct {
	Allowed   bool
	Count     int
	Remaining int
	// ResetIn is the time left in the current window.
	ResetIn time.Duration
}

// Store owns the buckets. Take must increment-and-compare atomically per bucket
// and never let the stored count exceed tier.Max.
type Store interface {
	Take(ctx context.Context, tier Tier, address string) (Decision, error)
}

// Observer is told about every rejection.
type Observer interface {
	RateLimited(ctx context.Context, tier string)
}

// Limiter enforces tiers on top of a Store.
type Limiter struct {
	store    Store
	observer Observer
	logger   *zap.SugaredLogger
}

func New(store Store, observer Observer, logger *zap.SugaredLogger) *Limiter {
	return &Limiter{store: store, observer: observer, logger: utilities.Nop(logger)}
}

// Admit counts one request from address against tier. A rejection is a
// *apierr.RateLimitError carrying the time left in the window.
func (l *Limiter) Admit(ctx context.Context, address string, tier Tier) (Decision, error) {
	d, err := l.store.Take(ctx, tier, address)
	if err != nil {
		return Decision{}, fmt.Errorf("take %s bucket: %w", tier.Name, err)
	}
	if !d.Allowed {
		if l.observer != nil {
			l.observer.RateLimited(ctx, tier.Name)
		}
		l.logger.Infow("rate limited", "tier", tier.Name, "address", address, "retry_after", d.ResetIn)
		return d, &apierr.RateLimitError{Tier: tier.Name, Limit: tier.Max, RetryAfter: d.ResetIn}
	}
	return d, nil
}
