package governance

import (
	"context"
	stderrors "errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/logger"
	"github.com/recoguard/recoguard/internal/reco"
)

// BreakerConfig configures a BreakerFallback.
type BreakerConfig struct {
	Name string
	// Failures is the number of consecutive provider failures that open the
	// breaker. Default 5.
	Failures uint32
	// OpenFor is how long the breaker stays open before probing. Default 30s.
	OpenFor time.Duration
	// OnStateChange receives 0 closed, 1 half-open, 2 open.
	OnStateChange func(name string, state int)
	Logger        *logger.Logger
}

// BreakerFallback guards a FallbackProvider with a circuit breaker so a failing
// provider is skipped quickly instead of being retried on every degraded
// request. A member with nothing left to recommend is not a provider failure.
type BreakerFallback struct {
	inner FallbackProvider
	cb    *gobreaker.CircuitBreaker[[]reco.Candidate]
	log   *logger.Logger
}

// NewBreakerFallback wraps inner.
func NewBreakerFallback(inner FallbackProvider, cfg BreakerConfig) *BreakerFallback {
	if cfg.Name == "" {
		cfg.Name = "fallback"
	}
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	log := logger.OrDefault(cfg.Logger).WithComponent("breaker")

	b := &BreakerFallback{inner: inner, log: log}
	b.cb = gobreaker.NewCircuitBreaker[[]reco.Candidate](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.IsCode(err, errors.CodeFallbackUnavailable) ||
				stderrors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, stateValue(to))
			}
		},
	})
	return b
}

// Fallback calls the wrapped provider unless the breaker is open.
func (b *BreakerFallback) Fallback(ctx context.Context, member reco.MemberContext, n int) ([]reco.Candidate, error) {
	out, err := b.cb.Execute(func() ([]reco.Candidate, error) {
		return b.inner.Fallback(ctx, member, n)
	})
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Wrap(errors.CodeUnavailable, "fallback provider circuit open", err)
	}
	return out, err
}

// State returns the breaker state name.
func (b *BreakerFallback) State() string {
	return b.cb.State().String()
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
