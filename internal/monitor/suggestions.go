package monitor

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/recoguard/recoguard/internal/evaluator"
	"github.com/recoguard/recoguard/internal/quality"
	"github.com/recoguard/recoguard/internal/threshold"
)

// remedies is the fixed advice per dimension that falls short of target.
var remedies = map[quality.Dimension]string{
	quality.Overall:        "review the overall recommendation strategy",
	quality.Relevance:      "strengthen member feature analysis and product matching",
	quality.Novelty:        "raise the share of new products and categories",
	quality.Explainability: "improve explanation generation",
	quality.Diversity:      "widen category and price variety",
}

type shortfall struct {
	dim    quality.Dimension
	avg    float64
	target float64
	gap    float64
	remedy string
}

// suggest builds improvement advice for a non-empty report. Dimensions below
// target come first, largest gap first, followed by latency, critical alerts
// and degradation.
func suggest(rep Report, set *threshold.Set) []string {
	var gaps []shortfall
	for _, d := range averaged {
		tier, ok := set.Quality.Tier(d)
		if !ok {
			continue
		}
		avg := rep.Averages[d]
		if avg >= tier.Target {
			continue
		}
		gaps = append(gaps, shortfall{dim: d, avg: avg, target: tier.Target, gap: tier.Target - avg, remedy: remedies[d]})
	}
	slices.SortStableFunc(gaps, func(a, b shortfall) int {
		return cmp.Compare(b.gap, a.gap)
	})

	var out []string
	for _, g := range gaps {
		out = append(out, fmt.Sprintf("%s averages %.1f against a target of %.0f: %s", g.dim, g.avg, g.target, g.remedy))
	}

	if ceiling := set.Performance.TotalMs.P95; rep.Latency.Count > 0 && rep.Latency.P95 > ceiling {
		out = append(out, fmt.Sprintf("p95 latency %.0fms exceeds %.0fms: speed up feature loading and model inference", rep.Latency.P95, ceiling))
	}
	if n := rep.AlertsBySeverity[evaluator.SeverityCritical]; n > 0 {
		out = append(out, fmt.Sprintf("%d critical alerts raised: check system health immediately", n))
	}
	if rep.DegradedCount > 0 {
		out = append(out, fmt.Sprintf("%d requests degraded to fallback: investigate quality and latency bottlenecks", rep.DegradedCount))
	}
	return out
}
