package monitor

import (
	"fmt"
	"slices"
	"time"

	"github.com/recoguard/recoguard/internal/evaluator"
	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/stats"
	"github.com/recoguard/recoguard/internal/quality"
)

// Granularity names the window a report covers.
type Granularity string

const (
	GranularityHourly Granularity = "hourly"
	GranularityDaily  Granularity = "daily"
	GranularityCustom Granularity = "custom"
)

// Window returns the duration covered by g. Custom has no fixed window.
func (g Granularity) Window() (time.Duration, bool) {
	switch g {
	case GranularityHourly:
		return time.Hour, true
	case GranularityDaily:
		return 24 * time.Hour, true
	}
	return 0, false
}

// ParseGranularity accepts hourly, daily or custom. Empty means custom.
func ParseGranularity(v string) (Granularity, error) {
	switch g := Granularity(v); g {
	case GranularityHourly, GranularityDaily, GranularityCustom:
		return g, nil
	case "":
		return GranularityCustom, nil
	}
	return "", fmt.Errorf("unknown granularity %q", v)
}

// averaged lists the score axes a report averages, overall included.
var averaged = []quality.Dimension{
	quality.Overall, quality.Relevance, quality.Novelty, quality.Explainability, quality.Diversity,
}

// Trend classifies how a metric moved between the two halves of a window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Report aggregates the records of one window. An empty window yields a
// zero-valued report with Empty set.
type Report struct {
	Granularity Granularity   `json:"granularity"`
	Window      time.Duration `json:"window"`
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	GeneratedAt time.Time     `json:"generated_at"`
	Empty       bool          `json:"empty"`

	TotalRequests        int     `json:"total_requests"`
	UniqueMembers        int     `json:"unique_members"`
	AvgRequestsPerMember float64 `json:"avg_requests_per_member"`

	Averages   map[quality.Dimension]float64 `json:"averages"`
	Latency    stats.Summary                 `json:"latency_ms"`
	StageMeans map[string]float64            `json:"stage_means_ms,omitempty"`
	SlowCount  int                           `json:"slow_count"`
	SlowRate   float64                       `json:"slow_rate"`

	TotalAlerts      int                        `json:"total_alerts"`
	AlertsBySeverity map[evaluator.Severity]int `json:"alerts_by_severity"`
	AlertsByMetric   map[string]int             `json:"alerts_by_metric"`

	DegradedCount int     `json:"degraded_count"`
	DegradedRate  float64 `json:"degraded_rate"`

	ScoreTrend   Trend `json:"score_trend"`
	LatencyTrend Trend `json:"latency_trend"`

	Suggestions []string `json:"suggestions,omitempty"`
}

// Report aggregates the records of the last window.
func (s *Store) Report(window time.Duration) Report {
	return s.report(GranularityCustom, window)
}

// ReportFor aggregates over the window implied by g. Custom granularity uses
// the supplied window.
func (s *Store) ReportFor(g Granularity, window time.Duration) Report {
	if w, ok := g.Window(); ok {
		window = w
	}
	return s.report(g, window)
}

func (s *Store) report(g Granularity, window time.Duration) Report {
	to := s.now()
	from := to.Add(-window)
	records := s.queryRange(from, to, "")

	rep := Report{
		Granularity:      g,
		Window:           window,
		From:             from,
		To:               to,
		GeneratedAt:      to,
		Averages:         make(map[quality.Dimension]float64, len(averaged)),
		AlertsBySeverity: make(map[evaluator.Severity]int),
		AlertsByMetric:   make(map[string]int),
		ScoreTrend:       TrendStable,
		LatencyTrend:     TrendStable,
	}
	for _, d := range averaged {
		rep.Averages[d] = 0
	}
	if len(records) == 0 {
		s.log.Debug("No records in report window", "granularity", g, "window", window, "code", errors.CodeNoData)
		rep.Empty = true
		return rep
	}

	n := float64(len(records))
	members := make(map[string]struct{})
	latencies := make([]float64, 0, len(records))
	stageSums := make(map[string]float64)
	stageCounts := make(map[string]int)

	for _, r := range records {
		if r.MemberID != "" {
			members[r.MemberID] = struct{}{}
		}
		for _, d := range averaged {
			rep.Averages[d] += r.Score.Dimension(d)
		}
		latencies = append(latencies, r.Span.TotalMs)
		for _, st := range r.Span.Stages {
			stageSums[st.Name] += st.Ms
			stageCounts[st.Name]++
		}
		if r.Span.Slow {
			rep.SlowCount++
		}
		if r.Degraded {
			rep.DegradedCount++
		}
		for _, a := range r.Alerts {
			rep.TotalAlerts++
			rep.AlertsBySeverity[a.Severity]++
			rep.AlertsByMetric[a.Metric]++
		}
	}

	rep.TotalRequests = len(records)
	rep.UniqueMembers = len(members)
	if rep.UniqueMembers > 0 {
		rep.AvgRequestsPerMember = stats.Round2(n / float64(rep.UniqueMembers))
	}
	for _, d := range averaged {
		rep.Averages[d] = stats.Round2(rep.Averages[d] / n)
	}
	rep.Latency = stats.Summarize(latencies)
	if len(stageSums) > 0 {
		rep.StageMeans = make(map[string]float64, len(stageSums))
		for name, sum := range stageSums {
			rep.StageMeans[name] = stats.Round2(sum / float64(stageCounts[name]))
		}
	}
	rep.SlowRate = stats.Round2(float64(rep.SlowCount) / n)
	rep.DegradedRate = stats.Round2(float64(rep.DegradedCount) / n)

	rep.ScoreTrend, rep.LatencyTrend = s.trends(records)
	rep.Suggestions = suggest(rep, s.cfg.Thresholds())
	return rep
}

// trends splits records, oldest first, into two equal-count halves and
// compares their means. With an odd count the later half gets the extra one.
func (s *Store) trends(records []Record) (score, latency Trend) {
	if len(records) < max(s.cfg.MinTrendRecords, 2) {
		return TrendStable, TrendStable
	}
	sorted := slices.IsSortedFunc(records, func(a, b Record) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if !sorted {
		records = slices.Clone(records)
		slices.SortStableFunc(records, func(a, b Record) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
	}
	mid := len(records) / 2

	halfMeans := func(part []Record) (score, latency float64) {
		for _, r := range part {
			score += r.Score.Overall()
			latency += r.Span.TotalMs
		}
		n := float64(len(part))
		return score / n, latency / n
	}
	firstScore, firstLat := halfMeans(records[:mid])
	secondScore, secondLat := halfMeans(records[mid:])

	score = classify(secondScore-firstScore, s.cfg.TrendScoreEpsilon)
	// Lower latency is better, so the sign flips.
	latency = classify(firstLat-secondLat, s.cfg.TrendLatencyEpsilonMs)
	return score, latency
}

// classify maps a signed improvement onto a trend.
func classify(delta, epsilon float64) Trend {
	switch {
	case delta > epsilon:
		return TrendImproving
	case delta < -epsilon:
		return TrendDeclining
	}
	return TrendStable
}
