// Package sink persists governance records and alerts beyond the in-memory
// retention window.
package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/recoguard/recoguard/internal/bus"
	"github.com/recoguard/recoguard/internal/evaluator"
	"github.com/recoguard/recoguard/internal/monitor"
	"github.com/recoguard/recoguard/internal/pkg/logger"
)

// Options configures a RedisSink.
type Options struct {
	URL    string
	Prefix string        // key prefix, default "recoguard"
	TTL    time.Duration // age after which entries are trimmed, default 7 days
	// OnWrite observes every write; kind is "record" or "alert".
	OnWrite func(kind string, err error)
	Logger  *logger.Logger
}

// RedisSink stores records and alerts in two sorted sets scored by
// timestamp, so reload by time range is a single range query.
type RedisSink struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	onWrite func(string, error)
	log     *logger.Logger
	now     func() time.Time
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, opts Options) (*RedisSink, error) {
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	if opts.Prefix == "" {
		opts.Prefix = "recoguard"
	}
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}

	return &RedisSink{
		client:  client,
		prefix:  opts.Prefix,
		ttl:     opts.TTL,
		onWrite: opts.OnWrite,
		log:     logger.OrDefault(opts.Logger).WithComponent("sink"),
		now:     time.Now,
	}, nil
}

func (s *RedisSink) recordsKey() string { return s.prefix + ":records" }
func (s *RedisSink) alertsKey() string  { return s.prefix + ":alerts" }

// SaveRecord appends r and trims entries older than the TTL.
func (s *RedisSink) SaveRecord(ctx context.Context, r monitor.Record) error {
	err := s.save(ctx, s.recordsKey(), r.Timestamp, r)
	s.observe("record", err)
	return err
}

// SaveAlert appends a and trims entries older than the TTL.
func (s *RedisSink) SaveAlert(ctx context.Context, a evaluator.Alert) error {
	err := s.save(ctx, s.alertsKey(), a.Timestamp, a)
	s.observe("alert", err)
	return err
}

func (s *RedisSink) save(ctx context.Context, key string, ts time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s entry: %w", key, err)
	}

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: string(data),
	})
	minScore := s.now().Add(-s.ttl).UnixMilli()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(minScore, 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving to %s: %w", key, err)
	}
	return nil
}

// LoadRecords returns records stored at or after since, oldest first.
// Undecodable entries are skipped.
func (s *RedisSink) LoadRecords(ctx context.Context, since time.Time) ([]monitor.Record, error) {
	return load[monitor.Record](ctx, s, s.recordsKey(), since, 0)
}

// LoadAlerts returns up to limit alerts stored at or after since, oldest
// first. A non-positive limit returns all of them.
func (s *RedisSink) LoadAlerts(ctx context.Context, since time.Time, limit int) ([]evaluator.Alert, error) {
	return load[evaluator.Alert](ctx, s, s.alertsKey(), since, limit)
}

func load[T any](ctx context.Context, s *RedisSink, key string, since time.Time, limit int) ([]T, error) {
	rng := &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}
	if limit > 0 {
		rng.Count = int64(limit)
	}

	members, err := s.client.ZRangeByScore(ctx, key, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}

	out := make([]T, 0, len(members))
	for _, m := range members {
		var v T
		if err := json.Unmarshal([]byte(m), &v); err != nil {
			s.log.Warn("Skipping undecodable sink entry", "key", key, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Subscribe persists every record and alert published on b.
func (s *RedisSink) Subscribe(ctx context.Context, b bus.Bus) error {
	if err := b.Subscribe(ctx, bus.TopicRecords, func(ctx context.Context, e bus.Event) error {
		r, err := bus.Decode[monitor.Record](e)
		if err != nil {
			return err
		}
		return s.SaveRecord(ctx, r)
	}); err != nil {
		return err
	}

	return b.Subscribe(ctx, bus.TopicAlerts, func(ctx context.Context, e bus.Event) error {
		a, err := bus.Decode[evaluator.Alert](e)
		if err != nil {
			return err
		}
		return s.SaveAlert(ctx, a)
	})
}

// Restore loads records newer than since into store and returns how many
// were accepted. Records the store already holds are skipped.
func (s *RedisSink) Restore(ctx context.Context, store *monitor.Store, since time.Time) (int, error) {
	records, err := s.LoadRecords(ctx, since)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, r := range records {
		if err := store.Record(r); err == nil {
			restored++
		}
	}
	s.log.Info("Restored records from sink", "loaded", len(records), "restored", restored)
	return restored, nil
}

// Clear deletes every key the sink owns.
func (s *RedisSink) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.recordsKey(), s.alertsKey()).Err()
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func (s *RedisSink) observe(kind string, err error) {
	if err != nil {
		s.log.Warn("Sink write failed", "kind", kind, "error", err)
	}
	if s.onWrite != nil {
		s.onWrite(kind, err)
	}
}
