package ai

import (
	"context"

	"github.com/review-reconciler/internal/circuitbreaker"
)

// GuardedGenerator wraps a DraftGenerator with a circuit breaker so that
// a misbehaving completion API stops consuming daily quota and retries.
type GuardedGenerator struct {
	inner   DraftGenerator
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedGenerator wraps gen with the given circuit breaker.
// A nil config uses circuitbreaker.DefaultConfig("draft-generator").
func NewGuardedGenerator(gen DraftGenerator, config *circuitbreaker.Config) *GuardedGenerator {
	if config == nil {
		config = circuitbreaker.DefaultConfig("draft-generator")
	}
	return &GuardedGenerator{
		inner:   gen,
		breaker: circuitbreaker.NewCircuitBreaker(config),
	}
}

// GenerateDraft delegates to the wrapped generator while the circuit is
// closed. When the circuit is open it fails fast with ErrCircuitOpen.
func (g *GuardedGenerator) GenerateDraft(ctx context.Context, req DraftRequest) (string, error) {
	var draft string
	err := g.breaker.Execute(ctx, func() error {
		var genErr error
		draft, genErr = g.inner.GenerateDraft(ctx, req)
		return genErr
	})
	if err != nil {
		return "", err
	}
	return draft, nil
}

// BreakerStats exposes the underlying circuit breaker statistics.
func (g *GuardedGenerator) BreakerStats() *circuitbreaker.Stats {
	return g.breaker.GetStats()
}

var _ DraftGenerator = (*GuardedGenerator)(nil)
