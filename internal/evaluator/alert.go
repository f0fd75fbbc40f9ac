// Package evaluator compares quality scores and span timings with the
// configured thresholds and derives graded alerts. Every function here is
// pure: the same inputs always produce the same verdicts and alerts.
package evaluator

import (
	"fmt"
	"strings"
	"time"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: info < warning < critical. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity accepts info, warning or critical in any case.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	if s.Rank() == 0 {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

// Alert is an immutable record of one breached metric.
type Alert struct {
	ID        string    `json:"id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Severity  Severity  `json:"severity"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Stamped returns a copy carrying the given ids.
func (a Alert) Stamped(id, requestID string) Alert {
	a.ID = id
	a.RequestID = requestID
	return a
}
