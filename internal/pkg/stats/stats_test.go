package stats

import (
	"math"
	"testing"
)

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}

	tests := []struct {
		name string
		p    float64
		want float64
	}{
		{"p0", 0, 10},
		{"p25", 25, 20},
		{"p50", 50, 30},
		{"p90", 90, 46},
		{"p95", 95, 48},
		{"p99", 99, 49.6},
		{"p100", 100, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Percentile(sorted, tt.p); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestPercentile_Degenerate(t *testing.T) {
	if got := Percentile(nil, 50); got != 0 {
		t.Errorf("Percentile(nil) = %v, want 0", got)
	}
	if got := Percentile([]float64{7}, 99); got != 7 {
		t.Errorf("Percentile(single) = %v, want 7", got)
	}
}

func TestSummarize_OrderIndependent(t *testing.T) {
	a := []float64{900, 120, 45, 300, 1500, 80, 210, 95, 60, 400}
	b := []float64{60, 1500, 95, 45, 400, 300, 900, 210, 80, 120}

	sa, sb := Summarize(a), Summarize(b)
	if sa != sb {
		t.Errorf("Summarize differs by order: %+v vs %+v", sa, sb)
	}
	if a[0] != 900 {
		t.Error("Summarize mutated its input")
	}
	if sa.Count != 10 {
		t.Errorf("Count = %d, want 10", sa.Count)
	}
}

func TestSummarize_Empty(t *testing.T) {
	if got := Summarize(nil); got != (Summary{}) {
		t.Errorf("Summarize(nil) = %+v, want zero", got)
	}
}

func TestStdDevAndClamp(t *testing.T) {
	if got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}); math.Abs(got-2) > 1e-9 {
		t.Errorf("StdDev = %v, want 2", got)
	}
	if got := StdDev([]float64{3}); got != 0 {
		t.Errorf("StdDev(single) = %v, want 0", got)
	}
	if got := Clamp(math.NaN(), 0, 100); got != 0 {
		t.Errorf("Clamp(NaN) = %v, want 0", got)
	}
	if got := Clamp(120, 0, 100); got != 100 {
		t.Errorf("Clamp(120) = %v, want 100", got)
	}
	if got := Round2(3.14159); got != 3.14 {
		t.Errorf("Round2 = %v, want 3.14", got)
	}
}
