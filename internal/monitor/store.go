package monitor

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/recoguard/recoguard/internal/evaluator"
	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/logger"
	"github.com/recoguard/recoguard/internal/pkg/ring"
	"github.com/recoguard/recoguard/internal/threshold"
)

// Config configures a Store. Zero values take the defaults noted.
type Config struct {
	// Retention is the age after which records are purged. Default 7 days.
	Retention time.Duration
	// Capacity bounds the number of records held. Default 100000.
	Capacity int
	// TrendScoreEpsilon is the overall-score change that counts as a trend. Default 5.
	TrendScoreEpsilon float64
	// TrendLatencyEpsilonMs is the mean latency change that counts as a trend. Default 50.
	TrendLatencyEpsilonMs float64
	// MinTrendRecords is the smallest window sample that gets a trend. Default 10.
	MinTrendRecords int
	// Thresholds supplies targets for suggestions. Default threshold.Defaults.
	Thresholds func() *threshold.Set
	// OnPurge observes the number of records dropped per purge.
	OnPurge func(n int)
	Logger  *logger.Logger
	Now     func() time.Time
}

// Store is an in-memory, time-windowed record store. Appends are serialized
// under a short write lock; readers copy what they need under a read lock and
// aggregate outside it, so reports never hold up the request path.
type Store struct {
	mu      sync.RWMutex
	records *ring.Buffer[Record]
	index   map[string]Record

	cfg Config
	log *logger.Logger
	now func() time.Time
}

// NewStore creates a store.
func NewStore(cfg Config) *Store {
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100_000
	}
	if cfg.TrendScoreEpsilon <= 0 {
		cfg.TrendScoreEpsilon = 5
	}
	if cfg.TrendLatencyEpsilonMs <= 0 {
		cfg.TrendLatencyEpsilonMs = 50
	}
	if cfg.MinTrendRecords <= 0 {
		cfg.MinTrendRecords = 10
	}
	if cfg.Thresholds == nil {
		defaults := threshold.Defaults()
		cfg.Thresholds = func() *threshold.Set { return defaults }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{
		records: ring.New[Record](cfg.Capacity),
		index:   make(map[string]Record),
		cfg:     cfg,
		log:     logger.OrDefault(cfg.Logger).WithComponent("monitor"),
		now:     cfg.Now,
	}
}

// Record appends r. A request id already held is rejected with
// DUPLICATE_RECORD and the stored record is kept. When the store is full the
// oldest record is evicted.
func (s *Store) Record(r Record) error {
	if r.RequestID == "" {
		return errors.InvalidInputError("record has no request id")
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}
	r = r.clone()

	s.mu.Lock()
	if _, dup := s.index[r.RequestID]; dup {
		s.mu.Unlock()
		s.log.Warn("Duplicate record rejected", "request_id", r.RequestID)
		return errors.DuplicateRecordError(r.RequestID)
	}
	if evicted, ok := s.records.Push(r); ok {
		delete(s.index, evicted.RequestID)
	}
	s.index[r.RequestID] = r
	s.mu.Unlock()
	return nil
}

// Get returns the retained record for requestID.
func (s *Store) Get(requestID string) (Record, bool) {
	s.mu.RLock()
	r, ok := s.index[requestID]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Len()
}

// Query returns records newer than window, oldest first. A non-empty member
// restricts the result to that member.
func (s *Store) Query(window time.Duration, member string) []Record {
	to := s.now()
	return s.queryRange(to.Add(-window), to, member)
}

// QueryRange returns records with from <= timestamp <= to, oldest first.
func (s *Store) QueryRange(from, to time.Time, member string) []Record {
	return s.queryRange(from, to, member)
}

func (s *Store) queryRange(from, to time.Time, member string) []Record {
	s.mu.RLock()
	out := s.records.Snapshot(func(r Record) bool {
		if r.Timestamp.Before(from) || r.Timestamp.After(to) {
			return false
		}
		return member == "" || r.MemberID == member
	})
	s.mu.RUnlock()

	// Timestamps are caller supplied and may arrive slightly out of order.
	slices.SortStableFunc(out, func(a, b Record) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	for i := range out {
		out[i] = out[i].clone()
	}
	return out
}

// Alerts lists alerts raised within window at or above min severity, newest first.
func (s *Store) Alerts(window time.Duration, min evaluator.Severity) []evaluator.Alert {
	var out []evaluator.Alert
	for _, r := range s.Query(window, "") {
		for _, a := range r.Alerts {
			if a.Severity.AtLeast(min) {
				out = append(out, a)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b evaluator.Alert) int {
		return cmp.Compare(b.Timestamp.UnixNano(), a.Timestamp.UnixNano())
	})
	return out
}

// Purge drops records older than the retention window and returns how many
// were removed. Records arrive close to timestamp order, so only the head of
// the ring is examined; a late record waits until the ones ahead of it expire.
func (s *Store) Purge() int {
	cutoff := s.now().Add(-s.cfg.Retention)

	s.mu.Lock()
	n := s.records.DropFront(
		func(r Record) bool { return r.Timestamp.Before(cutoff) },
		func(r Record) { delete(s.index, r.RequestID) },
	)
	s.mu.Unlock()

	if n > 0 {
		s.log.Debug("Purged expired records", "count", n)
		if s.cfg.OnPurge != nil {
			s.cfg.OnPurge(n)
		}
	}
	return n
}

// Run purges on every tick until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Purge()
		}
	}
}
