package span

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/logger"
	"github.com/recoguard/recoguard/internal/pkg/ring"
)

const shardCount = 32

// Config configures a Tracker. Zero values take the defaults noted.
type Config struct {
	// ReapAfter drops spans still open after this long. Default 60s.
	ReapAfter time.Duration
	// SealedTTL is how long End stays idempotent for a request. Default 5m.
	SealedTTL time.Duration
	// RetainFor bounds the age of spans kept for Statistics. Default 1h.
	RetainFor time.Duration
	// MaxRetained bounds the number of spans kept for Statistics. Default 100000.
	MaxRetained int
	// SlowThresholdMs returns the p99 ceiling used to flag slow spans.
	SlowThresholdMs func() float64
	// OnSeal is called with every newly sealed span, outside any lock.
	OnSeal func(Metrics)
	// OnReap is called with the number of abandoned spans dropped per pass.
	OnReap func(n int)
	Logger *logger.Logger
	Now    func() time.Time
}

type openSpan struct {
	start  time.Time
	last   time.Time
	stages []StageTiming
}

type sealedSpan struct {
	metrics  Metrics
	sealedAt time.Time
}

type shard struct {
	mu     sync.Mutex
	open   map[string]*openSpan
	sealed map[string]sealedSpan
}

// Tracker records per-request stage timings. Requests hash to independent
// shards, so timing calls for different requests rarely contend.
type Tracker struct {
	shards [shardCount]*shard

	retainMu sync.Mutex
	retained *ring.Buffer[Metrics]

	cfg Config
	log *logger.Logger
	now func() time.Time
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.ReapAfter <= 0 {
		cfg.ReapAfter = 60 * time.Second
	}
	if cfg.SealedTTL <= 0 {
		cfg.SealedTTL = 5 * time.Minute
	}
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = time.Hour
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 100_000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	t := &Tracker{
		retained: ring.New[Metrics](cfg.MaxRetained),
		cfg:      cfg,
		log:      logger.OrDefault(cfg.Logger).WithComponent("span"),
		now:      cfg.Now,
	}
	for i := range t.shards {
		t.shards[i] = &shard{
			open:   make(map[string]*openSpan),
			sealed: make(map[string]sealedSpan),
		}
	}
	return t
}

func (t *Tracker) shardFor(requestID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(requestID))
	return t.shards[h.Sum32()%shardCount]
}

// Start opens a span. It fails with DUPLICATE_SPAN while a span for the same
// id is open; the existing span is left untouched.
func (t *Tracker) Start(requestID string) error {
	if requestID == "" {
		return errors.InvalidInputError("request id is empty")
	}
	now := t.now()
	sh := t.shardFor(requestID)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.open[requestID]; ok {
		t.log.Warn("Duplicate span start ignored", "request_id", requestID)
		return errors.DuplicateSpanError(requestID)
	}
	delete(sh.sealed, requestID)
	sh.open[requestID] = &openSpan{start: now, last: now}
	return nil
}

// Ensure opens a span unless one is already open for requestID, without the
// duplicate warning. It reports whether a new span was started.
func (t *Tracker) Ensure(requestID string) (bool, error) {
	if requestID == "" {
		return false, errors.InvalidInputError("request id is empty")
	}
	now := t.now()
	sh := t.shardFor(requestID)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.open[requestID]; ok {
		return false, nil
	}
	delete(sh.sealed, requestID)
	sh.open[requestID] = &openSpan{start: now, last: now}
	return true, nil
}

// Mark records the time since the previous checkpoint under stage. Marking the
// same stage twice adds to its total. Unknown or ended spans are ignored.
func (t *Tracker) Mark(requestID, stage string) {
	now := t.now()
	sh := t.shardFor(requestID)

	sh.mu.Lock()
	sp, ok := sh.open[requestID]
	if ok {
		elapsed := millis(now.Sub(sp.last))
		sp.last = now
		merged := false
		for i := range sp.stages {
			if sp.stages[i].Name == stage {
				sp.stages[i].Ms += elapsed
				merged = true
				break
			}
		}
		if !merged {
			sp.stages = append(sp.stages, StageTiming{Name: stage, Ms: elapsed})
		}
	}
	sh.mu.Unlock()

	if !ok {
		t.log.Warn("Mark on unknown span", "request_id", requestID, "stage", stage)
	}
}

// End seals the span and returns its metrics. A repeated End within SealedTTL
// returns the same sealed value; an id never started yields UNKNOWN_SPAN.
func (t *Tracker) End(requestID string) (Metrics, error) {
	now := t.now()
	sh := t.shardFor(requestID)

	sh.mu.Lock()
	sp, ok := sh.open[requestID]
	if !ok {
		prev, sealed := sh.sealed[requestID]
		sh.mu.Unlock()
		if sealed {
			return prev.metrics.clone(), nil
		}
		return Metrics{RequestID: requestID}, errors.UnknownSpanError(requestID)
	}
	delete(sh.open, requestID)

	m := Metrics{
		RequestID: requestID,
		Stages:    sp.stages,
		TotalMs:   millis(now.Sub(sp.start)),
		StartedAt: sp.start,
		EndedAt:   now,
	}
	if t.cfg.SlowThresholdMs != nil {
		m.Slow = m.TotalMs > t.cfg.SlowThresholdMs()
	}
	sh.sealed[requestID] = sealedSpan{metrics: m, sealedAt: now}
	sh.mu.Unlock()

	t.retainMu.Lock()
	t.retained.Push(m)
	t.retainMu.Unlock()

	if t.cfg.OnSeal != nil {
		t.cfg.OnSeal(m.clone())
	}
	return m.clone(), nil
}

// Discard drops an open span without sealing or retaining it.
func (t *Tracker) Discard(requestID string) {
	sh := t.shardFor(requestID)
	sh.mu.Lock()
	delete(sh.open, requestID)
	sh.mu.Unlock()
}

// InFlight returns the number of open spans.
func (t *Tracker) InFlight() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		n += len(sh.open)
		sh.mu.Unlock()
	}
	return n
}

// Reap drops abandoned open spans, expired sealed entries and spans past the
// retention window. It returns the number of abandoned spans dropped.
func (t *Tracker) Reap() int {
	now := t.now()
	openCutoff := now.Add(-t.cfg.ReapAfter)
	sealedCutoff := now.Add(-t.cfg.SealedTTL)

	reaped := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		for id, sp := range sh.open {
			if sp.start.Before(openCutoff) {
				delete(sh.open, id)
				reaped++
				t.log.Warn("Reaped abandoned span", "request_id", id, "age", now.Sub(sp.start))
			}
		}
		for id, s := range sh.sealed {
			if s.sealedAt.Before(sealedCutoff) {
				delete(sh.sealed, id)
			}
		}
		sh.mu.Unlock()
	}

	retainCutoff := now.Add(-t.cfg.RetainFor)
	t.retainMu.Lock()
	t.retained.DropFront(func(m Metrics) bool { return m.EndedAt.Before(retainCutoff) }, nil)
	t.retainMu.Unlock()

	if reaped > 0 && t.cfg.OnReap != nil {
		t.cfg.OnReap(reaped)
	}
	return reaped
}

// Run reaps on every tick until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Reap()
		}
	}
}
