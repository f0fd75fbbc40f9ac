// Package monitor retains per-request governance records for a bounded time
// window and builds aggregate reports over them.
package monitor

import (
	"slices"
	"time"

	"github.com/recoguard/recoguard/internal/evaluator"
	"github.com/recoguard/recoguard/internal/quality"
	"github.com/recoguard/recoguard/internal/reco"
	"github.com/recoguard/recoguard/internal/span"
)

// Strategy tags.
const (
	StrategyStandard = "standard"
	StrategyDegraded = "degraded"

	// StrategyFallbackUnavailable marks a degraded request served its
	// original list because no fallback could be produced.
	StrategyFallbackUnavailable = "fallback_unavailable"
)

// Record is the unit of retention: one completed request.
type Record struct {
	RequestID      string            `json:"request_id"`
	MemberID       string            `json:"member_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Score          quality.Score     `json:"score"`
	Span           span.Metrics      `json:"span"`
	CandidateCount int               `json:"candidate_count"`
	Strategy       string            `json:"strategy"`
	Degraded       bool              `json:"degraded"`
	Reason         string            `json:"reason,omitempty"`
	Alerts         []evaluator.Alert `json:"alerts,omitempty"`

	// Candidates is the list actually served.
	Candidates []reco.Candidate `json:"candidates,omitempty"`
}

func (r Record) clone() Record {
	r.Alerts = slices.Clone(r.Alerts)
	r.Span.Stages = slices.Clone(r.Span.Stages)
	r.Candidates = slices.Clone(r.Candidates)
	return r
}
