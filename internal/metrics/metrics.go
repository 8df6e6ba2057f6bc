// Package metrics counts authentication outcomes with OpenTelemetry instruments.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const scope = "github.com/ovaphlow/pitchfork/service-learning-auth"

// Recorder satisfies the observer interfaces of authz and ratelimit and is
// called by the account handlers.
type Recorder struct {
	logins      metric.Int64Counter
	registers   metric.Int64Counter
	rejected    metric.Int64Counter
	rateLimited metric.Int64Counter
}

// New builds a Recorder on provider. A nil provider records nothing.
func New(provider metric.MeterProvider) (*Recorder, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter(scope)

	var (
		r   Recorder
		err error
	)
	if r.logins, err = meter.Int64Counter("auth.login", metric.WithDescription("Login attempts by outcome.")); err != nil {
		return nil, fmt.Errorf("create auth.login counter: %w", err)
	}
	if r.registers, err = meter.Int64Counter("auth.register", metric.WithDescription("Registration attempts by outcome.")); err != nil {
		return nil, fmt.Errorf("create auth.register counter: %w", err)
	}
	if r.rejected, err = meter.Int64Counter("auth.rejected", metric.WithDescription("Requests refused by the authorization gates.")); err != nil {
		return nil, fmt.Errorf("create auth.rejected counter: %w", err)
	}
	if r.rateLimited, err = meter.Int64Counter("ratelimit.rejected", metric.WithDescription("Requests refused by the rate limiter.")); err != nil {
		return nil, fmt.Errorf("create ratelimit.rejected counter: %w", err)
	}
	return &r, nil
}

func (r *Recorder) Login(ctx context.Context, outcome string) {
	r.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Recorder) Register(ctx context.Context, outcome string) {
	r.registers.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Recorder) Rejected(ctx context.Context, reason string) {
	r.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (r *Recorder) RateLimited(ctx context.Context, tier string) {
	r.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}
