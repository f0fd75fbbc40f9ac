package sink

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/recoguard/recoguard/internal/bus"
	"github.com/recoguard/recoguard/internal/evaluator"
	"github.com/recoguard/recoguard/internal/monitor"
	"github.com/recoguard/recoguard/internal/pkg/logger"
	"github.com/recoguard/recoguard/internal/quality"
	"github.com/recoguard/recoguard/internal/span"
)

const testRedisURL = "redis://localhost:6379/15"

func newTestSink(t *testing.T) (*RedisSink, *atomic.Int32) {
	t.Helper()

	var writes atomic.Int32
	s, err := NewRedisSink(context.Background(), Options{
		URL:     testRedisURL,
		Prefix:  fmt.Sprintf("recoguard-test-%d", time.Now().UnixNano()),
		TTL:     time.Hour,
		OnWrite: func(string, error) { writes.Add(1) },
		Logger:  logger.Discard(),
	})
	if err != nil {
		t.Skip("Redis not available:", err)
	}
	t.Cleanup(func() {
		s.Clear(context.Background())
		s.Close()
	})
	return s, &writes
}

func testRecord(id string, ts time.Time) monitor.Record {
	return monitor.Record{
		RequestID: id,
		MemberID:  "m1",
		Timestamp: ts,
		Score:     quality.NewScore(70, 30, 80, 60, nil),
		Span:      span.Metrics{RequestID: id, TotalMs: 180, Stages: []span.StageTiming{{Name: "inference", Ms: 90}}},
		Strategy:  monitor.StrategyStandard,
	}
}

func TestNewRedisSink_InvalidURL(t *testing.T) {
	_, err := NewRedisSink(context.Background(), Options{URL: "invalid://url"})
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestNewRedisSink_ConnectionFailure(t *testing.T) {
	_, err := NewRedisSink(context.Background(), Options{URL: "redis://localhost:9999"})
	if err == nil {
		t.Fatal("expected error for connection failure")
	}
}

func TestRedisSink_SaveAndLoadRecords(t *testing.T) {
	s, writes := newTestSink(t)
	ctx := context.Background()
	now := time.Now()

	for i, age := range []time.Duration{30 * time.Minute, 10 * time.Minute, time.Minute} {
		if err := s.SaveRecord(ctx, testRecord(fmt.Sprintf("req-%d", i), now.Add(-age))); err != nil {
			t.Fatalf("SaveRecord() error = %v", err)
		}
	}
	if writes.Load() != 3 {
		t.Errorf("OnWrite calls = %d, want 3", writes.Load())
	}

	loaded, err := s.LoadRecords(ctx, now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("LoadRecords() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("LoadRecords() len = %d, want 2", len(loaded))
	}
	if loaded[0].RequestID != "req-1" || loaded[1].RequestID != "req-2" {
		t.Errorf("LoadRecords() order = %s,%s", loaded[0].RequestID, loaded[1].RequestID)
	}
	if got := loaded[0].Score.Overall(); got != quality.NewScore(70, 30, 80, 60, nil).Overall() {
		t.Errorf("restored overall = %v", got)
	}
}

func TestRedisSink_TrimsExpired(t *testing.T) {
	s, _ := newTestSink(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveRecord(ctx, testRecord("stale", now.Add(-2*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRecord(ctx, testRecord("fresh", now)); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadRecords(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].RequestID != "fresh" {
		t.Errorf("LoadRecords() = %d records, want only fresh", len(loaded))
	}
}

func TestRedisSink_Alerts(t *testing.T) {
	s, _ := newTestSink(t)
	ctx := context.Background()
	now := time.Now()

	for i := range 4 {
		a := evaluator.Alert{
			ID:        fmt.Sprintf("a%d", i),
			Severity:  evaluator.SeverityWarning,
			Metric:    "overall",
			Timestamp: now.Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveAlert(ctx, a); err != nil {
			t.Fatalf("SaveAlert() error = %v", err)
		}
	}

	got, err := s.LoadAlerts(ctx, now.Add(-time.Minute), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a0" {
		t.Errorf("LoadAlerts(limit 2) = %+v", got)
	}
}

func TestRedisSink_SubscribeAndRestore(t *testing.T) {
	s, _ := newTestSink(t)
	ctx := context.Background()

	b := bus.NewMemoryBus(logger.Discard())
	defer b.Close()
	if err := s.Subscribe(ctx, b); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	now := time.Now()
	event, err := bus.NewEvent(bus.TypeRecordCreated, "test", "req-9", testRecord("req-9", now))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, bus.TopicRecords, event); err != nil {
		t.Fatal(err)
	}
	b.DrainTimeout(time.Second)

	store := monitor.NewStore(monitor.Config{Logger: logger.Discard()})
	n, err := s.Restore(ctx, store, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if n != 1 || store.Len() != 1 {
		t.Errorf("Restore() = %d, store len %d; want 1, 1", n, store.Len())
	}

	// A second restore finds the record already present.
	n, _ = s.Restore(ctx, store, now.Add(-time.Hour))
	if n != 0 {
		t.Errorf("second Restore() = %d, want 0", n)
	}
}
