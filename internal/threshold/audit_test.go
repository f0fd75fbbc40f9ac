package threshold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/recoguard/recoguard/internal/pkg/logger"
)

func TestDiff(t *testing.T) {
	old := Defaults()
	next := Defaults().Clone()
	next.Quality.Novelty.Warning = 25
	next.Degradation.LatencyMs = 1500
	delete(next.Performance.Stages, StageFeatureLoad)
	next.Performance.Stages[StageMerge] = 80

	changes := Diff(old, next)
	want := []FieldChange{
		{Field: "degradation.latency_ms", OldValue: 2000, NewValue: 1500},
		{Field: "performance.stages." + StageFeatureLoad, OldValue: 100, Removed: true},
		{Field: "performance.stages." + StageMerge, NewValue: 80, Added: true},
		{Field: "quality.novelty.warning", OldValue: 20, NewValue: 25},
	}
	if len(changes) != len(want) {
		t.Fatalf("Diff() = %+v, want %d changes", changes, len(want))
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change[%d] = %+v, want %+v", i, changes[i], want[i])
		}
	}

	if got := Diff(old, Defaults()); len(got) != 0 {
		t.Errorf("Diff(equal sets) = %+v, want none", got)
	}
}

func TestHolder_AuditsChanges(t *testing.T) {
	dir := t.TempDir()
	audit, err := OpenAuditLog(filepath.Join(dir, "audit", "thresholds.jsonl"))
	if err != nil {
		t.Fatalf("OpenAuditLog() error = %v", err)
	}
	defer audit.Close()

	path := filepath.Join(dir, "thresholds.yaml")
	writeFile(t, path, "degradation:\n  quality: 30\n")
	h, err := NewHolder(HolderConfig{Path: path, Logger: logger.Discard(), Audit: audit})
	if err != nil {
		t.Fatalf("NewHolder() error = %v", err)
	}

	// Identical content reloads without an entry.
	if err := h.Reload(); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "degradation:\n  quality: 45\n")
	if err := h.Reload(); err != nil {
		t.Fatal(err)
	}
	next := h.Load().Clone()
	next.Performance.TotalMs.P99 = 1200
	if err := h.Store(next); err != nil {
		t.Fatal(err)
	}

	entries, err := audit.Entries(0)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want 2", entries)
	}
	newest, oldest := entries[0], entries[1]
	if newest.Source != "store" || newest.Version != 4 || newest.Changes[0].Field != "performance.total_time_ms.p99" {
		t.Errorf("newest = %+v", newest)
	}
	if oldest.Source != "reload" || oldest.Path != path || oldest.Changes[0].NewValue != 45 {
		t.Errorf("oldest = %+v", oldest)
	}

	limited, err := audit.Entries(1)
	if err != nil || len(limited) != 1 || limited[0].Version != 4 {
		t.Errorf("Entries(1) = %+v, %v", limited, err)
	}
}

func TestAuditLog_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := OpenAuditLog(path)
	if err != nil {
		t.Fatal(err)
	}
	defer audit.Close()

	if err := audit.Append(AuditEntry{Version: 1, Source: "store"}); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n")
	f.Close()

	entries, err := audit.Entries(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Timestamp.IsZero() {
		t.Errorf("entries = %+v", entries)
	}
}
