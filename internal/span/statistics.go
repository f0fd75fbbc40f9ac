package span

import (
	"time"

	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/stats"
)

// Statistics summarizes retained spans.
type Statistics struct {
	Window     time.Duration      `json:"window"`
	Count      int                `json:"count"`
	MeanMs     float64            `json:"mean_ms"`
	P50Ms      float64            `json:"p50_ms"`
	P95Ms      float64            `json:"p95_ms"`
	P99Ms      float64            `json:"p99_ms"`
	StageMeans map[string]float64 `json:"stage_means_ms"`
	SlowCount  int                `json:"slow_count"`
	SlowRate   float64            `json:"slow_rate"`
	NoData     bool               `json:"no_data"`
}

// Statistics covers spans that ended within window of now. An empty window
// returns zeros with NoData set.
func (t *Tracker) Statistics(window time.Duration) Statistics {
	cutoff := t.now().Add(-window)

	t.retainMu.Lock()
	sample := t.retained.Snapshot(func(m Metrics) bool { return !m.EndedAt.Before(cutoff) })
	t.retainMu.Unlock()

	if len(sample) == 0 {
		t.log.Debug("No spans in statistics window", "window", window, "code", errors.CodeNoData)
	}
	return Summarize(sample, window)
}

// Summarize computes Statistics over an arbitrary set of spans.
func Summarize(sample []Metrics, window time.Duration) Statistics {
	out := Statistics{Window: window, StageMeans: map[string]float64{}}
	if len(sample) == 0 {
		out.NoData = true
		return out
	}

	totals := make([]float64, len(sample))
	stageSums := make(map[string]float64)
	stageCounts := make(map[string]int)
	for i, m := range sample {
		totals[i] = m.TotalMs
		if m.Slow {
			out.SlowCount++
		}
		for _, s := range m.Stages {
			stageSums[s.Name] += s.Ms
			stageCounts[s.Name]++
		}
	}

	sum := stats.Summarize(totals)
	out.Count = sum.Count
	out.MeanMs = sum.Mean
	out.P50Ms = sum.P50
	out.P95Ms = sum.P95
	out.P99Ms = sum.P99
	out.SlowRate = float64(out.SlowCount) / float64(out.Count)
	for name, total := range stageSums {
		out.StageMeans[name] = total / float64(stageCounts[name])
	}
	return out
}
