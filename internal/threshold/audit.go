package threshold

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// AuditEntry records one threshold swap that changed at least one value.
type AuditEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Version   uint64        `json:"version"`
	Source    string        `json:"source"` // "reload" or "store"
	Path      string        `json:"path,omitempty"`
	Changes   []FieldChange `json:"changes"`
}

// FieldChange is one modified threshold, keyed by its dotted YAML path.
type FieldChange struct {
	Field    string  `json:"field"`
	OldValue float64 `json:"old_value"`
	NewValue float64 `json:"new_value"`
	Added    bool    `json:"added,omitempty"`
	Removed  bool    `json:"removed,omitempty"`
}

// AuditLog appends threshold changes to a JSON lines file.
type AuditLog struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// OpenAuditLog opens path for appending, creating parent directories.
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &AuditLog{path: path, file: file}, nil
}

// Append writes entry as one line and syncs it to disk.
func (a *AuditLog) Append(entry AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return a.file.Sync()
}

// Entries returns up to limit entries, newest first. Malformed lines are
// skipped.
func (a *AuditLog) Entries(limit int) ([]AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []AuditEntry{}, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Close closes the underlying file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// Diff lists every value that differs between old and new, sorted by field.
func Diff(old, new *Set) []FieldChange {
	before, after := old.flatten(), new.flatten()

	var changes []FieldChange
	for field, ov := range before {
		nv, ok := after[field]
		switch {
		case !ok:
			changes = append(changes, FieldChange{Field: field, OldValue: ov, Removed: true})
		case nv != ov:
			changes = append(changes, FieldChange{Field: field, OldValue: ov, NewValue: nv})
		}
	}
	for field, nv := range after {
		if _, ok := before[field]; !ok {
			changes = append(changes, FieldChange{Field: field, NewValue: nv, Added: true})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}

func (s *Set) flatten() map[string]float64 {
	out := make(map[string]float64, 24)
	tiers := map[string]Tier{
		"overall":        s.Quality.Overall,
		"relevance":      s.Quality.Relevance,
		"novelty":        s.Quality.Novelty,
		"explainability": s.Quality.Explainability,
		"diversity":      s.Quality.Diversity,
	}
	for name, t := range tiers {
		out["quality."+name+".critical"] = t.Critical
		out["quality."+name+".warning"] = t.Warning
		out["quality."+name+".target"] = t.Target
	}
	out["performance.total_time_ms.p50"] = s.Performance.TotalMs.P50
	out["performance.total_time_ms.p95"] = s.Performance.TotalMs.P95
	out["performance.total_time_ms.p99"] = s.Performance.TotalMs.P99
	for stage, ceiling := range s.Performance.Stages {
		out["performance.stages."+stage] = ceiling
	}
	out["degradation.quality"] = s.Degradation.Quality
	out["degradation.latency_ms"] = s.Degradation.LatencyMs
	return out
}
