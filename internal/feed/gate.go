package feed

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Gate spaces out upstream calls. One Gate is shared by every client in a
// process so the spacing holds across regions fetched concurrently.
type Gate interface {
	Wait(ctx context.Context) error
}

// GateFunc adapts a function to the Gate interface
type GateFunc func(ctx context.Context) error

// Wait calls f(ctx)
func (f GateFunc) Wait(ctx context.Context) error {
	return f(ctx)
}

// IntervalGate admits one call per interval using a token bucket with a
// burst of 1
type IntervalGate struct {
	limiter *rate.Limiter
}

// NewIntervalGate creates a gate admitting at most one call per interval
func NewIntervalGate(interval time.Duration) *IntervalGate {
	return &IntervalGate{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Wait blocks until the next call may proceed or ctx is done
func (g *IntervalGate) Wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate gate: %w", err)
	}
	return nil
}

// Limiter returns the underlying limiter for testing purposes
func (g *IntervalGate) Limiter() *rate.Limiter {
	return g.limiter
}
