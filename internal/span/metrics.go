// Package span times the stages of each recommendation request and keeps a
// rolling window of finished spans for latency statistics.
package span

import (
	"slices"
	"time"
)

// StageTiming is one checkpointed stage.
type StageTiming struct {
	Name string  `json:"name"`
	Ms   float64 `json:"ms"`
}

// Metrics is the sealed timing of one request. Values returned by the
// Tracker own their Stages slice.
type Metrics struct {
	RequestID string        `json:"request_id"`
	Stages    []StageTiming `json:"stages"`
	TotalMs   float64       `json:"total_ms"`
	Slow      bool          `json:"slow"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
}

// Stage returns the elapsed milliseconds recorded under name.
func (m Metrics) Stage(name string) (float64, bool) {
	for _, s := range m.Stages {
		if s.Name == name {
			return s.Ms, true
		}
	}
	return 0, false
}

// StageMap returns the stages keyed by name.
func (m Metrics) StageMap() map[string]float64 {
	out := make(map[string]float64, len(m.Stages))
	for _, s := range m.Stages {
		out[s.Name] = s.Ms
	}
	return out
}

func (m Metrics) clone() Metrics {
	m.Stages = slices.Clone(m.Stages)
	return m
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
