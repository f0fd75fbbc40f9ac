package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/recoguard/recoguard/internal/evaluator"
	"github.com/recoguard/recoguard/internal/monitor"
	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/quality"
	"github.com/recoguard/recoguard/internal/threshold"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeEnvelope(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": v,
		"meta": map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)},
	})
}

func TestThresholdsValidate(t *testing.T) {
	dir := t.TempDir()

	good, err := threshold.Defaults().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	goodPath := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(goodPath, good, 0o644); err != nil {
		t.Fatal(err)
	}

	badPath := filepath.Join(dir, "bad.yaml")
	bad := "quality:\n  overall:\n    critical: 80\n    warning: 50\n    target: 60\n"
	if err := os.WriteFile(badPath, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"valid file", goodPath, false},
		{"inverted tier", badPath, true},
		{"missing file", filepath.Join(dir, "nope.yaml"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "thresholds", "validate", tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !strings.Contains(out, "ok") {
				t.Errorf("output = %q", out)
			}
		})
	}
}

func TestThresholdsShow_Defaults(t *testing.T) {
	out, err := execute(t, "thresholds", "show", "--defaults")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"built-in defaults", "relevance", "p99 1000ms", "Degrade below quality 40.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestThresholdsShow_Server(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/thresholds" {
			http.NotFound(w, r)
			return
		}
		writeEnvelope(w, map[string]any{"version": 3, "thresholds": threshold.Defaults()})
	}))
	defer srv.Close()

	out, err := execute(t, "thresholds", "show", "--server", srv.URL, "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var set threshold.Set
	if err := json.Unmarshal([]byte(out), &set); err != nil {
		t.Fatalf("output is not a threshold set: %v\n%s", err, out)
	}
	if set.Degradation.LatencyMs != 2000 {
		t.Errorf("latency trigger = %v, want 2000", set.Degradation.LatencyMs)
	}
}

func TestReport(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		writeEnvelope(w, monitor.Report{
			Granularity:   monitor.GranularityHourly,
			TotalRequests: 12,
			UniqueMembers: 4,
			Averages:      map[quality.Dimension]float64{quality.Overall: 71.5},
			DegradedCount: 3,
			DegradedRate:  0.25,
			TotalAlerts:   2,
			AlertsBySeverity: map[evaluator.Severity]int{
				evaluator.SeverityCritical: 2,
			},
			AlertsByMetric: map[string]int{"total_time_ms": 2},
			ScoreTrend:     monitor.TrendImproving,
			LatencyTrend:   monitor.TrendStable,
			Suggestions:    []string{"investigate slow inference"},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "report", "--server", srv.URL, "-g", "hourly")
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "granularity=hourly" {
		t.Errorf("query = %q", gotQuery)
	}
	for _, want := range []string{"Requests: 12 from 4 members", "Degraded: 3 (25.0%)", "71.5", "critical 2", "score improving", "investigate slow inference"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReport_InvalidGranularity(t *testing.T) {
	if _, err := execute(t, "report", "-g", "yearly"); err == nil {
		t.Fatal("expected error for unknown granularity")
	}
}

func TestAlerts_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, errors.ValidationError("window must be a positive duration such as 30m or 24h"))
	}))
	defer srv.Close()

	_, err := execute(t, "alerts", "--server", srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), errors.CodeValidation) {
		t.Errorf("error = %v, want code %s", err, errors.CodeValidation)
	}
}

func TestAlerts_Table(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("severity"); got != "critical" {
			t.Errorf("severity = %q", got)
		}
		writeEnvelope(w, alertList{Count: 1, Alerts: []evaluator.Alert{{
			RequestID: "req-1",
			Severity:  evaluator.SeverityCritical,
			Metric:    "total_time_ms",
			Value:     2500,
			Threshold: 1000,
			Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}}})
	}))
	defer srv.Close()

	out, err := execute(t, "alerts", "--server", srv.URL, "--severity", "critical")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "req-1") || !strings.Contains(out, "2500.0") {
		t.Errorf("output = %q", out)
	}
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	if _, err := execute(t, "report", "--server", "not a url"); err == nil {
		t.Fatal("expected error")
	}
}
