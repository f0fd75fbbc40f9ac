package bus

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	json "github.com/goccy/go-json"

	"github.com/recoguard/recoguard/internal/pkg/logger"
)

func TestNewSaramaConfig(t *testing.T) {
	base := KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "recoguard"}

	tests := []struct {
		name    string
		mutate  func(*KafkaConfig)
		wantErr bool
		check   func(*testing.T, *sarama.Config)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, sc *sarama.Config) {
				if sc.ClientID != "recoguard" {
					t.Errorf("ClientID = %q, want recoguard", sc.ClientID)
				}
				if sc.Producer.Compression != sarama.CompressionSnappy {
					t.Errorf("Compression = %v, want snappy", sc.Producer.Compression)
				}
				if !sc.Producer.Return.Successes {
					t.Error("sync producer needs Return.Successes")
				}
				if sc.Consumer.Offsets.Initial != sarama.OffsetNewest {
					t.Errorf("Offsets.Initial = %d, want newest", sc.Consumer.Offsets.Initial)
				}
			},
		},
		{
			name:   "from oldest with zstd",
			mutate: func(c *KafkaConfig) { c.FromOldest = true; c.Compression = "zstd" },
			check: func(t *testing.T, sc *sarama.Config) {
				if sc.Consumer.Offsets.Initial != sarama.OffsetOldest {
					t.Errorf("Offsets.Initial = %d, want oldest", sc.Consumer.Offsets.Initial)
				}
				if sc.Producer.Compression != sarama.CompressionZSTD {
					t.Errorf("Compression = %v, want zstd", sc.Producer.Compression)
				}
			},
		},
		{name: "empty brokers", mutate: func(c *KafkaConfig) { c.Brokers = nil }, wantErr: true},
		{name: "empty group", mutate: func(c *KafkaConfig) { c.ConsumerGroup = "" }, wantErr: true},
		{name: "bad version", mutate: func(c *KafkaConfig) { c.Version = "invalid" }, wantErr: true},
		{name: "bad compression", mutate: func(c *KafkaConfig) { c.Compression = "brotli" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			sc, err := newSaramaConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newSaramaConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, sc)
			}
		})
	}
}

func TestNewKafkaBus_Connect(t *testing.T) {
	b, err := NewKafkaBus(KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "recoguard-test"})
	if err != nil {
		t.Skip("Skipping test - Kafka not running")
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestParseKafkaBrokers(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"localhost:9092", []string{"localhost:9092"}},
		{"b1:9092,b2:9092,b3:9092", []string{"b1:9092", "b2:9092", "b3:9092"}},
		{"b1:9092 , ,b2:9092,", []string{"b1:9092", "b2:9092"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseKafkaBrokers(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseKafkaBrokers(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func headerValue(msg *sarama.ProducerMessage, key string) (string, bool) {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func TestEncodeMessage(t *testing.T) {
	event, err := NewEvent(TypeAlertRaised, "governance", "req-7", map[string]string{"metric": "overall"})
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}

	msg, err := encodeMessage("staging."+TopicAlerts, event)
	if err != nil {
		t.Fatalf("encodeMessage() error = %v", err)
	}
	if msg.Topic != "staging."+TopicAlerts {
		t.Errorf("Topic = %s", msg.Topic)
	}
	if key, _ := msg.Key.Encode(); string(key) != "req-7" {
		t.Errorf("Key = %s, want req-7", key)
	}
	for k, want := range map[string]string{headerEventType: TypeAlertRaised, headerSource: "governance", headerRequestID: "req-7"} {
		if got, _ := headerValue(msg, k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}
	if msg.Timestamp.UnixMilli() != event.Timestamp {
		t.Errorf("Timestamp = %v, want event time %d", msg.Timestamp, event.Timestamp)
	}

	// Without a request id the event id keys the message and the header is absent.
	event.RequestID = ""
	msg, _ = encodeMessage(TopicAlerts, event)
	if key, _ := msg.Key.Encode(); string(key) != event.ID {
		t.Errorf("Key = %s, want event id %s", key, event.ID)
	}
	if _, ok := headerValue(msg, headerRequestID); ok {
		t.Error("request_id header set for event without request id")
	}
}

func TestClaimHandler_Deliver(t *testing.T) {
	b := &KafkaBus{handlers: make(map[string][]Handler), log: logger.Discard()}
	var order []string
	b.handlers[TopicRecords] = []Handler{
		func(ctx context.Context, e Event) error { order = append(order, "first:"+e.ID); return context.Canceled },
		func(ctx context.Context, e Event) error { order = append(order, "second:"+e.ID); return nil },
	}
	h := &claimHandler{bus: b, topic: TopicRecords}

	event, err := NewEvent(TypeRecordCreated, "test", "req-1", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(event)

	h.deliver(context.Background(), &sarama.ConsumerMessage{Topic: TopicRecords, Value: data})
	if len(order) != 2 || order[0] != "first:"+event.ID || order[1] != "second:"+event.ID {
		t.Fatalf("deliveries = %v, want both handlers in order despite the first failing", order)
	}

	h.deliver(context.Background(), &sarama.ConsumerMessage{Topic: TopicRecords, Value: []byte("{not json")})
	if len(order) != 2 {
		t.Errorf("undecodable message reached handlers: %v", order)
	}
}

func TestKafkaBus_Closed(t *testing.T) {
	var _ Bus = (*KafkaBus)(nil)

	b := &KafkaBus{handlers: make(map[string][]Handler), closed: true}
	if err := b.Close(); err != nil {
		t.Errorf("Close() on closed bus = %v", err)
	}
	if err := b.Publish(context.Background(), TopicRecords, Event{ID: "x"}); err == nil {
		t.Error("Publish() after Close() should fail")
	}
	err := b.Subscribe(context.Background(), TopicRecords, func(context.Context, Event) error { return nil })
	if err == nil {
		t.Error("Subscribe() after Close() should fail")
	}
}
