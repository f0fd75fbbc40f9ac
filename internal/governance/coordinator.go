// Package governance decides, per request, whether a scored recommendation
// list is served as is or replaced by a fallback list, and records the outcome.
package governance

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/recoguard/recoguard/internal/bus"
	"github.com/recoguard/recoguard/internal/evaluator"
	"github.com/recoguard/recoguard/internal/monitor"
	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/logger"
	"github.com/recoguard/recoguard/internal/quality"
	"github.com/recoguard/recoguard/internal/reco"
	"github.com/recoguard/recoguard/internal/span"
	"github.com/recoguard/recoguard/internal/threshold"
)

// State is a step of the per-request state machine:
// scored -> evaluated -> accepted | degraded.
type State string

const (
	StateScored    State = "scored"
	StateEvaluated State = "evaluated"
	StateAccepted  State = "accepted"
	StateDegraded  State = "degraded"
)

// Degradation reasons.
const (
	ReasonQuality = "quality"
	ReasonLatency = "latency"
	ReasonBoth    = "quality_and_latency"
)

// Scorer rates a candidate list.
type Scorer interface {
	Score(candidates []reco.Candidate, member reco.MemberContext, history *reco.MemberHistory, catalog reco.Catalog) (quality.Score, error)
}

// FallbackProvider supplies the substitute list for a degraded request.
type FallbackProvider interface {
	Fallback(ctx context.Context, member reco.MemberContext, n int) ([]reco.Candidate, error)
}

// MetricsRecorder receives per-request observations.
type MetricsRecorder interface {
	RecordRequest(strategy string, degraded bool, reason string)
	RecordFallbackFailure()
	RecordScore(dimension string, value float64)
	RecordLatency(totalMs float64, stages map[string]float64)
	RecordDuplicate(kind string)
}

// Config wires a Coordinator. Scorer, Tracker, Thresholds and Store are
// required; the rest are optional.
type Config struct {
	Scorer       Scorer
	Tracker      *span.Tracker
	Thresholds   *threshold.Holder
	Store        *monitor.Store
	Catalog      reco.Catalog
	Fallback     FallbackProvider
	FallbackSize int
	Bus          bus.Bus
	Metrics      MetricsRecorder
	Logger       *logger.Logger
	NewID        func() string
	Now          func() time.Time
}

// Request is one ranked list awaiting governance.
type Request struct {
	RequestID  string
	Candidates []reco.Candidate
	Member     reco.MemberContext
	History    *reco.MemberHistory
}

// Result is what the caller serves and what was recorded.
type Result struct {
	RequestID   string                `json:"request_id"`
	State       State                 `json:"state"`
	Degraded    bool                  `json:"degraded"`
	Reason      string                `json:"reason,omitempty"`
	Strategy    string                `json:"strategy"`
	Candidates  []reco.Candidate      `json:"candidates"`
	Score       quality.Score         `json:"score"`
	Level       string                `json:"level"`
	Original    *quality.Score        `json:"original_score,omitempty"`
	Span        span.Metrics          `json:"span"`
	Quality     evaluator.CheckResult `json:"quality_check"`
	Performance evaluator.CheckResult `json:"performance_check"`
	Alerts      []evaluator.Alert     `json:"alerts"`

	// Duplicate is set when the request id was already governed; the result
	// then replays the first outcome and nothing is scored or recorded.
	Duplicate  bool `json:"duplicate,omitempty"`
	ScoreCount int  `json:"-"`
}

// Coordinator runs the governance state machine.
type Coordinator struct {
	cfg Config
	log *logger.Logger

	// flight collapses concurrent Govern calls for one request id.
	flight singleflight.Group
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.Scorer == nil:
		return nil, errors.New(errors.CodeValidation, "governance: scorer is required")
	case cfg.Tracker == nil:
		return nil, errors.New(errors.CodeValidation, "governance: span tracker is required")
	case cfg.Thresholds == nil:
		return nil, errors.New(errors.CodeValidation, "governance: threshold holder is required")
	case cfg.Store == nil:
		return nil, errors.New(errors.CodeValidation, "governance: monitoring store is required")
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		cfg: cfg,
		log: logger.OrDefault(cfg.Logger).WithComponent("governance"),
	}, nil
}

// Govern scores, evaluates and, when a degradation trigger fires, substitutes
// the fallback list. Only a nil candidate list fails; every later step
// completes, and exactly one record is written per request. A request id seen
// before gets the first outcome back with Duplicate set.
func (c *Coordinator) Govern(ctx context.Context, req Request) (Result, error) {
	if req.RequestID == "" {
		return Result{}, errors.InvalidInputError("request id is empty")
	}
	log := c.log.WithRequest(req.RequestID)

	ran := false
	v, err, _ := c.flight.Do(req.RequestID, func() (any, error) {
		ran = true
		if rec, ok := c.cfg.Store.Get(req.RequestID); ok {
			c.duplicate(log)
			return c.replay(rec), nil
		}
		return c.govern(ctx, log, req)
	})
	if !ran || (err == nil && v.(Result).Duplicate) {
		// The first span is sealed before Do returns, so a span open now
		// was started for this repeat.
		c.cfg.Tracker.Discard(req.RequestID)
	}
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	if !ran {
		c.duplicate(log)
		res = res.shared()
		res.Duplicate = true
		res.ScoreCount = 0
	}
	return res, nil
}

func (c *Coordinator) govern(ctx context.Context, log *logger.Logger, req Request) (Result, error) {
	score, err := c.cfg.Scorer.Score(req.Candidates, req.Member, req.History, c.cfg.Catalog)
	if err != nil {
		c.cfg.Tracker.Discard(req.RequestID)
		if !errors.IsInvalidInput(err) {
			log.WithError(err).Error("Scoring failed")
		}
		return Result{}, err
	}
	res := Result{
		RequestID:  req.RequestID,
		State:      StateScored,
		Strategy:   monitor.StrategyStandard,
		Candidates: req.Candidates,
		Score:      score,
		ScoreCount: 1,
	}

	c.cfg.Tracker.Mark(req.RequestID, threshold.StageEvaluate)
	res.Span = c.endSpan(req.RequestID, log)

	set := c.cfg.Thresholds.Load()
	res.Quality = evaluator.CheckQuality(score, set)
	res.Performance = evaluator.CheckPerformance(res.Span, set)
	res.Alerts = c.stamp(req.RequestID, evaluator.TriggerAlerts(score, res.Span, set))
	c.transition(log, &res, StateEvaluated)

	res.Reason = degradeReason(score, res.Span, set)
	if res.Reason == "" {
		c.transition(log, &res, StateAccepted)
	} else {
		c.degrade(ctx, log, req, &res)
		c.transition(log, &res, StateDegraded)
	}
	res.Level = res.Score.Level()

	c.record(ctx, log, req, res)
	return res, nil
}

// replay rebuilds the caller-facing result from a stored record. Checks are
// evaluated against the served score under the current thresholds.
func (c *Coordinator) replay(rec monitor.Record) Result {
	set := c.cfg.Thresholds.Load()
	res := Result{
		RequestID:   rec.RequestID,
		State:       StateAccepted,
		Degraded:    rec.Degraded,
		Reason:      rec.Reason,
		Strategy:    rec.Strategy,
		Candidates:  rec.Candidates,
		Score:       rec.Score,
		Level:       rec.Score.Level(),
		Span:        rec.Span,
		Quality:     evaluator.CheckQuality(rec.Score, set),
		Performance: evaluator.CheckPerformance(rec.Span, set),
		Alerts:      rec.Alerts,
		Duplicate:   true,
	}
	if rec.Degraded {
		res.State = StateDegraded
	}
	return res
}

func (c *Coordinator) duplicate(log *logger.Logger) {
	log.Warn("Duplicate request ignored, returning first outcome", "code", errors.CodeDuplicateRecord)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordDuplicate("record")
	}
}

// shared copies the slices of a result handed to more than one caller.
func (r Result) shared() Result {
	r.Candidates = slices.Clone(r.Candidates)
	r.Alerts = slices.Clone(r.Alerts)
	r.Span.Stages = slices.Clone(r.Span.Stages)
	return r
}

// degradeReason names the triggers that fired, or "" when none did.
func degradeReason(score quality.Score, m span.Metrics, set *threshold.Set) string {
	lowQuality := score.Overall() < set.Degradation.Quality
	slow := m.TotalMs > set.Degradation.LatencyMs
	switch {
	case lowQuality && slow:
		return ReasonBoth
	case lowQuality:
		return ReasonQuality
	case slow:
		return ReasonLatency
	}
	return ""
}

// degrade swaps in the fallback list and rescores it once. A missing or empty
// fallback keeps the original list; the request is still marked degraded.
func (c *Coordinator) degrade(ctx context.Context, log *logger.Logger, req Request, res *Result) {
	res.Degraded = true
	original := res.Score
	res.Original = &original

	if c.cfg.Fallback == nil {
		c.fallbackFailed(log, res, errors.ServiceUnavailableError("fallback"))
		return
	}
	candidates, err := c.cfg.Fallback.Fallback(ctx, req.Member, c.cfg.FallbackSize)
	if err == nil && len(candidates) == 0 {
		err = errors.New(errors.CodeFallbackUnavailable, "fallback returned no candidates")
	}
	if err != nil {
		c.fallbackFailed(log, res, err)
		return
	}

	score, err := c.cfg.Scorer.Score(candidates, req.Member, req.History, c.cfg.Catalog)
	res.ScoreCount++
	if err != nil {
		c.fallbackFailed(log, res, err)
		return
	}
	res.Candidates = candidates
	res.Score = score
	res.Strategy = monitor.StrategyDegraded
	log.Info("Request degraded to fallback",
		"reason", res.Reason,
		"original_overall", original.Overall(),
		"fallback_overall", score.Overall(),
		"total_ms", res.Span.TotalMs)
}

func (c *Coordinator) fallbackFailed(log *logger.Logger, res *Result, err error) {
	res.Strategy = monitor.StrategyFallbackUnavailable
	log.WithError(err).Warn("Fallback unavailable, serving original list", "reason", res.Reason)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordFallbackFailure()
	}
}

// endSpan seals the request span. A request that never started one is
// governed with an empty span rather than rejected.
func (c *Coordinator) endSpan(requestID string, log *logger.Logger) span.Metrics {
	m, err := c.cfg.Tracker.End(requestID)
	if err != nil {
		now := c.cfg.Now()
		if errors.IsNotFound(err) {
			log.Warn("Governing request without a span")
		} else {
			log.WithError(err).Warn("Span could not be sealed, governing without it")
		}
		return span.Metrics{RequestID: requestID, StartedAt: now, EndedAt: now}
	}
	return m
}

func (c *Coordinator) stamp(requestID string, alerts []evaluator.Alert) []evaluator.Alert {
	out := make([]evaluator.Alert, len(alerts))
	for i, a := range alerts {
		out[i] = a.Stamped(c.cfg.NewID(), requestID)
	}
	return out
}

func (c *Coordinator) transition(log *logger.Logger, res *Result, to State) {
	log.Debug("Governance transition", "from", res.State, "to", to)
	res.State = to
}

// record stores the outcome, then publishes it. Publishing failures are
// logged and never reach the caller.
func (c *Coordinator) record(ctx context.Context, log *logger.Logger, req Request, res Result) {
	rec := monitor.Record{
		RequestID:      req.RequestID,
		MemberID:       req.Member.MemberID,
		Timestamp:      res.Span.EndedAt,
		Score:          res.Score,
		Span:           res.Span,
		CandidateCount: len(res.Candidates),
		Strategy:       res.Strategy,
		Degraded:       res.Degraded,
		Reason:         res.Reason,
		Alerts:         res.Alerts,
		Candidates:     res.Candidates,
	}

	if err := c.cfg.Store.Record(rec); err != nil {
		if errors.IsDuplicate(err) && c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordDuplicate("record")
		}
		if !errors.IsDuplicate(err) {
			log.WithError(err).Error("Failed to store monitoring record")
		}
		return
	}
	c.observe(res)

	if c.cfg.Bus == nil {
		return
	}
	pubCtx := context.WithoutCancel(ctx)
	c.publish(pubCtx, log, bus.TopicRecords, bus.TypeRecordCreated, req.RequestID, rec)
	for _, a := range res.Alerts {
		c.publish(pubCtx, log, bus.TopicAlerts, bus.TypeAlertRaised, req.RequestID, a)
	}
}

func (c *Coordinator) publish(ctx context.Context, log *logger.Logger, topic, eventType, requestID string, payload any) {
	event, err := bus.NewEvent(eventType, "governance", requestID, payload)
	if err == nil {
		err = c.cfg.Bus.Publish(ctx, topic, event)
	}
	if err != nil {
		log.WithError(err).Warn("Failed to publish event", "topic", topic, "type", eventType)
	}
}

func (c *Coordinator) observe(res Result) {
	m := c.cfg.Metrics
	if m == nil {
		return
	}
	m.RecordRequest(res.Strategy, res.Degraded, res.Reason)
	m.RecordScore(string(quality.Overall), res.Score.Overall())
	for _, d := range quality.Dimensions {
		m.RecordScore(string(d), res.Score.Dimension(d))
	}
	m.RecordLatency(res.Span.TotalMs, res.Span.StageMap())
}
