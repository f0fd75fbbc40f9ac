package evaluator

import (
	"fmt"

	"github.com/recoguard/recoguard/internal/quality"
	"github.com/recoguard/recoguard/internal/span"
	"github.com/recoguard/recoguard/internal/threshold"
)

// MetricTotalTime names the end-to-end latency metric.
const MetricTotalTime = "total_time_ms"

// QualityMetrics are checked in this order.
var QualityMetrics = []quality.Dimension{
	quality.Overall,
	quality.Relevance,
	quality.Novelty,
	quality.Explainability,
	quality.Diversity,
}

// CheckResult is the verdict for one side of the evaluation. Passed is true
// only when nothing failed and nothing warned.
type CheckResult struct {
	Passed        bool     `json:"passed"`
	FailedMetrics []string `json:"failed_metrics"`
	Warnings      []string `json:"warnings"`
}

func newResult() CheckResult {
	return CheckResult{FailedMetrics: []string{}, Warnings: []string{}}
}

func (r *CheckResult) finish() CheckResult {
	r.Passed = len(r.FailedMetrics) == 0 && len(r.Warnings) == 0
	return *r
}

// CheckQuality fails a metric below its critical floor and warns below its
// warning floor.
func CheckQuality(score quality.Score, set *threshold.Set) CheckResult {
	res := newResult()
	for _, d := range QualityMetrics {
		tier, _ := set.Quality.Tier(d)
		v := score.Dimension(d)
		switch {
		case v < tier.Critical:
			res.FailedMetrics = append(res.FailedMetrics, string(d))
		case v < tier.Warning:
			res.Warnings = append(res.Warnings, string(d))
		}
	}
	return res.finish()
}

// CheckPerformance fails total time above p99 and warns above p95. Each stage
// over its ceiling fails under the stage's name.
func CheckPerformance(m span.Metrics, set *threshold.Set) CheckResult {
	res := newResult()
	total := set.Performance.TotalMs
	switch {
	case m.TotalMs > total.P99:
		res.FailedMetrics = append(res.FailedMetrics, MetricTotalTime)
	case m.TotalMs > total.P95:
		res.Warnings = append(res.Warnings, MetricTotalTime)
	}

	for _, s := range m.Stages {
		if ceiling, ok := set.StageCeiling(s.Name); ok && s.Ms > ceiling {
			res.FailedMetrics = append(res.FailedMetrics, s.Name)
		}
	}
	return res.finish()
}

// TriggerAlerts returns one alert per breached metric, stamped with the
// span's end time. Passing metrics produce nothing.
func TriggerAlerts(score quality.Score, m span.Metrics, set *threshold.Set) []Alert {
	var alerts []Alert
	at := m.EndedAt

	for _, d := range QualityMetrics {
		tier, _ := set.Quality.Tier(d)
		v := score.Dimension(d)
		switch {
		case v < tier.Critical:
			alerts = append(alerts, Alert{
				Severity:  SeverityCritical,
				Metric:    string(d),
				Value:     v,
				Threshold: tier.Critical,
				Message:   fmt.Sprintf("%s score %.1f is below critical floor %.1f", d, v, tier.Critical),
				Timestamp: at,
			})
		case v < tier.Warning:
			alerts = append(alerts, Alert{
				Severity:  SeverityWarning,
				Metric:    string(d),
				Value:     v,
				Threshold: tier.Warning,
				Message:   fmt.Sprintf("%s score %.1f is below warning floor %.1f", d, v, tier.Warning),
				Timestamp: at,
			})
		}
	}

	total := set.Performance.TotalMs
	switch {
	case m.TotalMs > total.P99:
		alerts = append(alerts, Alert{
			Severity:  SeverityCritical,
			Metric:    MetricTotalTime,
			Value:     m.TotalMs,
			Threshold: total.P99,
			Message:   fmt.Sprintf("total time %.0fms exceeds p99 ceiling %.0fms", m.TotalMs, total.P99),
			Timestamp: at,
		})
	case m.TotalMs > total.P95:
		alerts = append(alerts, Alert{
			Severity:  SeverityWarning,
			Metric:    MetricTotalTime,
			Value:     m.TotalMs,
			Threshold: total.P95,
			Message:   fmt.Sprintf("total time %.0fms exceeds p95 ceiling %.0fms", m.TotalMs, total.P95),
			Timestamp: at,
		})
	}

	for _, s := range m.Stages {
		ceiling, ok := set.StageCeiling(s.Name)
		if !ok || s.Ms <= ceiling {
			continue
		}
		alerts = append(alerts, Alert{
			Severity:  SeverityWarning,
			Metric:    s.Name,
			Value:     s.Ms,
			Threshold: ceiling,
			Message:   fmt.Sprintf("stage %s took %.0fms, ceiling %.0fms", s.Name, s.Ms, ceiling),
			Timestamp: at,
		})
	}
	return alerts
}

// MaxSeverity returns the highest severity among alerts, or "" for none.
func MaxSeverity(alerts []Alert) Severity {
	var top Severity
	for _, a := range alerts {
		if a.Severity.Rank() > top.Rank() {
			top = a.Severity
		}
	}
	return top
}
