// Package quality scores a ranked candidate list along relevance, novelty,
// explainability and diversity, and folds them into one weighted overall score.
package quality

import (
	"math"
	"slices"

	json "github.com/goccy/go-json"

	"github.com/recoguard/recoguard/internal/pkg/stats"
)

// Dimension names one quality axis. Overall is the weighted aggregate.
type Dimension string

const (
	Relevance      Dimension = "relevance"
	Novelty        Dimension = "novelty"
	Explainability Dimension = "explainability"
	Diversity      Dimension = "diversity"
	Overall        Dimension = "overall"
)

// Dimensions lists the four scored axes in weighting order.
var Dimensions = []Dimension{Relevance, Novelty, Explainability, Diversity}

// Overall weights. They sum to 1.
const (
	WeightRelevance      = 0.40
	WeightNovelty        = 0.25
	WeightExplainability = 0.20
	WeightDiversity      = 0.15
)

// Weight returns the overall-score weight of d, 0 for Overall or unknown names.
func Weight(d Dimension) float64 {
	switch d {
	case Relevance:
		return WeightRelevance
	case Novelty:
		return WeightNovelty
	case Explainability:
		return WeightExplainability
	case Diversity:
		return WeightDiversity
	}
	return 0
}

// Component is one sub-metric of a dimension. Value is the sub-metric's own
// score on the 0-100 scale; Contribution is Weight*Value.
type Component struct {
	Name         string  `json:"name"`
	Weight       float64 `json:"weight"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// Breakdown maps each dimension to its components. The contributions of a
// dimension sum to that dimension's score.
type Breakdown map[Dimension][]Component

func (b Breakdown) clone() Breakdown {
	if b == nil {
		return nil
	}
	out := make(Breakdown, len(b))
	for d, parts := range b {
		out[d] = slices.Clone(parts)
	}
	return out
}

// Score is an immutable quality assessment. Build it with NewScore; the
// overall value is derived there and nowhere else.
type Score struct {
	relevance      float64
	novelty        float64
	explainability float64
	diversity      float64
	overall        float64
	breakdown      Breakdown
	sources        SourceMix
}

// NewScore clamps each dimension to [0,100] and computes the weighted overall.
func NewScore(relevance, novelty, explainability, diversity float64, breakdown Breakdown) Score {
	s := Score{
		relevance:      stats.Clamp(relevance, 0, 100),
		novelty:        stats.Clamp(novelty, 0, 100),
		explainability: stats.Clamp(explainability, 0, 100),
		diversity:      stats.Clamp(diversity, 0, 100),
		breakdown:      breakdown.clone(),
	}
	s.overall = WeightRelevance*s.relevance +
		WeightNovelty*s.novelty +
		WeightExplainability*s.explainability +
		WeightDiversity*s.diversity
	return s
}

func (s Score) Relevance() float64      { return s.relevance }
func (s Score) Novelty() float64        { return s.novelty }
func (s Score) Explainability() float64 { return s.explainability }
func (s Score) Diversity() float64      { return s.diversity }
func (s Score) Overall() float64        { return s.overall }

// Dimension returns the value for d, including Overall.
func (s Score) Dimension(d Dimension) float64 {
	switch d {
	case Relevance:
		return s.relevance
	case Novelty:
		return s.novelty
	case Explainability:
		return s.explainability
	case Diversity:
		return s.diversity
	case Overall:
		return s.overall
	}
	return math.NaN()
}

// Breakdown returns a copy of the sub-metric contributions.
func (s Score) Breakdown() Breakdown {
	return s.breakdown.clone()
}

// Component returns one sub-metric of d and whether it was recorded.
func (s Score) Component(d Dimension, name string) (Component, bool) {
	for _, c := range s.breakdown[d] {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// Sources returns how many scored candidates came from each generator.
func (s Score) Sources() SourceMix {
	return s.sources
}

// Level classifies the overall score.
func (s Score) Level() string {
	return Level(s.overall)
}

// Level maps an overall score to excellent, good, acceptable or poor.
func Level(overall float64) string {
	switch {
	case overall >= 80:
		return "excellent"
	case overall >= 60:
		return "good"
	case overall >= 40:
		return "acceptable"
	default:
		return "poor"
	}
}

type scoreJSON struct {
	Relevance      float64   `json:"relevance"`
	Novelty        float64   `json:"novelty"`
	Explainability float64   `json:"explainability"`
	Diversity      float64   `json:"diversity"`
	Overall        float64   `json:"overall"`
	Level          string    `json:"level"`
	Breakdown      Breakdown `json:"breakdown,omitempty"`
	Sources        SourceMix `json:"sources"`
}

// MarshalJSON implements json.Marshaler.
func (s Score) MarshalJSON() ([]byte, error) {
	return json.Marshal(scoreJSON{
		Relevance:      s.relevance,
		Novelty:        s.novelty,
		Explainability: s.explainability,
		Diversity:      s.diversity,
		Overall:        s.overall,
		Level:          s.Level(),
		Breakdown:      s.breakdown,
		Sources:        s.sources,
	})
}

// UnmarshalJSON rebuilds the score through NewScore; a serialized overall is
// ignored so a decoded value always satisfies the weighting.
func (s *Score) UnmarshalJSON(b []byte) error {
	var raw scoreJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = NewScore(raw.Relevance, raw.Novelty, raw.Explainability, raw.Diversity, raw.Breakdown)
	s.sources = raw.Sources
	return nil
}
