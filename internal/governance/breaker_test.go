package governance

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/logger"
	"github.com/recoguard/recoguard/internal/reco"
)

func TestBreakerFallback_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &stubFallback{err: stderrors.New("catalog offline")}
	var states []int
	b := NewBreakerFallback(inner, BreakerConfig{
		Failures: 2,
		OpenFor:  time.Hour,
		Logger:   logger.Discard(),
		OnStateChange: func(_ string, state int) {
			states = append(states, state)
		},
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := b.Fallback(ctx, reco.MemberContext{}, 3); err == nil {
			t.Fatalf("call %d: expected provider error", i)
		}
	}
	if b.State() != "open" {
		t.Fatalf("State() = %q, want open", b.State())
	}

	_, err := b.Fallback(ctx, reco.MemberContext{}, 3)
	if !errors.IsCode(err, errors.CodeUnavailable) {
		t.Errorf("open breaker error = %v, want SERVICE_UNAVAILABLE", err)
	}
	if inner.calls != 2 {
		t.Errorf("provider calls = %d, want 2", inner.calls)
	}
	if len(states) != 1 || states[0] != 2 {
		t.Errorf("state changes = %v, want [2]", states)
	}
}

func TestBreakerFallback_ExhaustedMemberDoesNotTrip(t *testing.T) {
	inner := &stubFallback{err: errors.New(errors.CodeFallbackUnavailable, "nothing left")}
	b := NewBreakerFallback(inner, BreakerConfig{Failures: 1, Logger: logger.Discard()})

	for i := 0; i < 3; i++ {
		_, err := b.Fallback(context.Background(), reco.MemberContext{}, 3)
		if !errors.IsCode(err, errors.CodeFallbackUnavailable) {
			t.Fatalf("call %d: error = %v, want FALLBACK_UNAVAILABLE", i, err)
		}
	}
	if b.State() != "closed" {
		t.Errorf("State() = %q, want closed", b.State())
	}
	if inner.calls != 3 {
		t.Errorf("provider calls = %d, want 3", inner.calls)
	}
}

func TestBreakerFallback_PassesThrough(t *testing.T) {
	inner := &stubFallback{candidates: candidates("x", "y")}
	b := NewBreakerFallback(inner, BreakerConfig{Logger: logger.Discard()})

	got, err := b.Fallback(context.Background(), reco.MemberContext{}, 2)
	if err != nil {
		t.Fatalf("Fallback() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}
