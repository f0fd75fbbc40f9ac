// Package threshold defines the tiered quality and latency thresholds, loads
// them from a YAML document, and publishes them through an atomically
// swapped holder so readers never observe a partial update.
package threshold

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/recoguard/recoguard/internal/quality"
)

// Stage names reported by the ranking pipeline.
const (
	StageFeatureLoad = "feature_load"
	StageInference   = "inference"
	StageMerge       = "merge"
	StageExplain     = "explain"
	StageEvaluate    = "evaluate"
)

// Tier is a floor triple: critical <= warning <= target.
type Tier struct {
	Critical float64 `yaml:"critical" json:"critical" validate:"gte=0,lte=100,ltefield=Warning"`
	Warning  float64 `yaml:"warning" json:"warning" validate:"gte=0,lte=100,ltefield=Target"`
	Target   float64 `yaml:"target" json:"target" validate:"gte=0,lte=100"`
}

// QualityThresholds holds one tier per dimension plus the overall score.
type QualityThresholds struct {
	Overall        Tier `yaml:"overall" json:"overall"`
	Relevance      Tier `yaml:"relevance" json:"relevance"`
	Novelty        Tier `yaml:"novelty" json:"novelty"`
	Explainability Tier `yaml:"explainability" json:"explainability"`
	Diversity      Tier `yaml:"diversity" json:"diversity"`
}

// Tier returns the tier configured for d.
func (q QualityThresholds) Tier(d quality.Dimension) (Tier, bool) {
	switch d {
	case quality.Overall:
		return q.Overall, true
	case quality.Relevance:
		return q.Relevance, true
	case quality.Novelty:
		return q.Novelty, true
	case quality.Explainability:
		return q.Explainability, true
	case quality.Diversity:
		return q.Diversity, true
	}
	return Tier{}, false
}

// Percentiles are latency ceilings in milliseconds.
type Percentiles struct {
	P50 float64 `yaml:"p50" json:"p50" validate:"gt=0,ltefield=P95"`
	P95 float64 `yaml:"p95" json:"p95" validate:"gt=0,ltefield=P99"`
	P99 float64 `yaml:"p99" json:"p99" validate:"gt=0"`
}

// PerformanceThresholds bounds total request time and individual stages.
type PerformanceThresholds struct {
	TotalMs Percentiles        `yaml:"total_time_ms" json:"total_time_ms"`
	Stages  map[string]float64 `yaml:"stages" json:"stages" validate:"dive,keys,required,endkeys,gt=0"`
}

// Degradation holds the two triggers for substituting a fallback list.
type Degradation struct {
	Quality   float64 `yaml:"quality" json:"quality" validate:"gte=0,lte=100"`
	LatencyMs float64 `yaml:"latency_ms" json:"latency_ms" validate:"gt=0"`
}

// Set is one complete threshold configuration. A published Set is shared by
// concurrent readers and must not be modified; use Clone to derive a new one.
type Set struct {
	Quality     QualityThresholds     `yaml:"quality" json:"quality"`
	Performance PerformanceThresholds `yaml:"performance" json:"performance"`
	Degradation Degradation           `yaml:"degradation" json:"degradation"`
}

// Defaults returns the built-in thresholds.
func Defaults() *Set {
	return &Set{
		Quality: QualityThresholds{
			Overall:        Tier{Critical: 40, Warning: 50, Target: 60},
			Relevance:      Tier{Critical: 50, Warning: 60, Target: 70},
			Novelty:        Tier{Critical: 15, Warning: 20, Target: 30},
			Explainability: Tier{Critical: 60, Warning: 70, Target: 80},
			Diversity:      Tier{Critical: 40, Warning: 50, Target: 60},
		},
		Performance: PerformanceThresholds{
			TotalMs: Percentiles{P50: 200, P95: 500, P99: 1000},
			Stages: map[string]float64{
				StageFeatureLoad: 100,
				StageInference:   200,
			},
		},
		Degradation: Degradation{Quality: 40, LatencyMs: 2000},
	}
}

// Clone returns a deep copy.
func (s *Set) Clone() *Set {
	out := *s
	out.Performance.Stages = maps.Clone(s.Performance.Stages)
	return &out
}

// StageCeiling returns the configured maximum for a stage.
func (s *Set) StageCeiling(stage string) (float64, bool) {
	v, ok := s.Performance.Stages[stage]
	return v, ok
}

// StageNames returns the stages with a ceiling, sorted.
func (s *Set) StageNames() []string {
	return slices.Sorted(maps.Keys(s.Performance.Stages))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every tier ordering and bound, reporting all violations.
func (s *Set) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating thresholds: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("threshold validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Set.")
	switch fe.Tag() {
	case "ltefield":
		return fmt.Sprintf("%s must not exceed %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "required":
		return fmt.Sprintf("%s is required", field)
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}

// Parse decodes a YAML document over the defaults and validates the result.
// Keys absent from the document keep their default values; a stages map, when
// present, replaces the default stage ceilings entirely.
func Parse(data []byte) (*Set, error) {
	set := Defaults()
	defaultStages := set.Performance.Stages
	set.Performance.Stages = nil
	if err := yaml.Unmarshal(data, set); err != nil {
		return nil, fmt.Errorf("decoding thresholds: %w", err)
	}
	if set.Performance.Stages == nil {
		set.Performance.Stages = defaultStages
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// LoadFile reads and parses a threshold document.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading thresholds: %w", err)
	}
	return Parse(data)
}

// Marshal renders s as a YAML document.
func (s *Set) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}
