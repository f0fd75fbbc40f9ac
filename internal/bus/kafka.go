package bus

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	json "github.com/goccy/go-json"

	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/logger"
)

// Message headers set on every published record.
const (
	headerEventType = "event_type"
	headerRequestID = "request_id"
	headerSource    = "source"
)

// KafkaConfig holds Kafka connection settings.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string // default "recoguard"
	Version       string // default "2.8.0"

	// TopicPrefix is prepended to every bus topic, e.g. "staging." gives
	// "staging.recoguard.records".
	TopicPrefix string

	// Compression is none, gzip, snappy, lz4 or zstd. Default snappy.
	Compression string

	// FromOldest starts a new consumer group at the oldest retained offset
	// instead of the newest.
	FromOldest bool

	Logger *logger.Logger
}

// KafkaBus publishes governance events to Kafka and runs one consumer group
// session loop per subscribed topic.
type KafkaBus struct {
	cfg      KafkaConfig
	client   sarama.Client
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	log      *logger.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool

	consumers sync.WaitGroup
	stop      context.CancelFunc
	stopCtx   context.Context
}

func (c KafkaConfig) withDefaults() KafkaConfig {
	if c.ClientID == "" {
		c.ClientID = "recoguard"
	}
	if c.Version == "" {
		c.Version = "2.8.0"
	}
	return c
}

// newSaramaConfig validates cfg and builds the client configuration. Sync
// publishing needs Return.Successes.
func newSaramaConfig(cfg KafkaConfig) (*sarama.Config, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.CodeValidation, "kafka brokers cannot be empty")
	}
	if cfg.ConsumerGroup == "" {
		return nil, errors.New(errors.CodeValidation, "kafka consumer group cannot be empty")
	}

	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "invalid kafka version", err)
	}
	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	sc := sarama.NewConfig()
	sc.Version = version
	sc.ClientID = cfg.ClientID

	sc.Producer.Return.Successes = true
	sc.Producer.Retry.Max = 3
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Compression = codec
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	sc.Consumer.Return.Errors = true
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.FromOldest {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	sc.Net.DialTimeout = 10 * time.Second
	sc.Net.ReadTimeout = 10 * time.Second
	sc.Net.WriteTimeout = 10 * time.Second

	if err := sc.Validate(); err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "invalid kafka configuration", err)
	}
	return sc, nil
}

func parseCompression(name string) (sarama.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return sarama.CompressionSnappy, nil
	case "none":
		return sarama.CompressionNone, nil
	case "gzip":
		return sarama.CompressionGZIP, nil
	case "lz4":
		return sarama.CompressionLZ4, nil
	case "zstd":
		return sarama.CompressionZSTD, nil
	}
	return sarama.CompressionNone, errors.New(errors.CodeValidation, fmt.Sprintf("unknown kafka compression %q", name))
}

// NewKafkaBus connects to the brokers. The consumer group joins lazily on the
// first Subscribe for each topic.
func NewKafkaBus(cfg KafkaConfig) (*KafkaBus, error) {
	cfg = cfg.withDefaults()
	sc, err := newSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to create kafka client", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to create kafka producer", err)
	}
	group, err := sarama.NewConsumerGroupFromClient(cfg.ConsumerGroup, client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to create kafka consumer group", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &KafkaBus{
		cfg:      cfg,
		client:   client,
		producer: producer,
		group:    group,
		log:      logger.OrDefault(cfg.Logger).WithComponent("bus.kafka"),
		handlers: make(map[string][]Handler),
		stop:     cancel,
		stopCtx:  ctx,
	}
	go b.logGroupErrors()
	return b, nil
}

// topicName maps a bus topic to its Kafka topic.
func (b *KafkaBus) topicName(topic string) string {
	return b.cfg.TopicPrefix + topic
}

// Publish sends event synchronously. Events of one request share a
// partition, so their order is kept.
func (b *KafkaBus) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	msg, err := encodeMessage(b.topicName(topic), event)
	if err != nil {
		return err
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return errors.Wrap(errors.CodeUnavailable, "failed to publish to kafka", err)
	}
	return nil
}

func encodeMessage(topic string, event Event) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, errors.InternalError("failed to marshal event", err)
	}

	key := event.RequestID
	if key == "" {
		key = event.ID
	}
	headers := []sarama.RecordHeader{
		{Key: []byte(headerEventType), Value: []byte(event.Type)},
		{Key: []byte(headerSource), Value: []byte(event.Source)},
	}
	if event.RequestID != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(headerRequestID), Value: []byte(event.RequestID)})
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(data),
		Headers: headers,
	}
	if event.Timestamp > 0 {
		msg.Timestamp = time.UnixMilli(event.Timestamp)
	}
	return msg, nil
}

// Subscribe adds handler for topic. The first handler of a topic starts its
// consumer loop.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	first := len(b.handlers[topic]) == 0
	b.handlers[topic] = append(b.handlers[topic], handler)
	if first {
		b.consumers.Add(1)
		go b.consume(topic)
	}
	return nil
}

func (b *KafkaBus) handlersFor(topic string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handlers[topic]
}

// consume rejoins the group after every rebalance until Close.
func (b *KafkaBus) consume(topic string) {
	defer b.consumers.Done()

	claim := &claimHandler{bus: b, topic: topic}
	kafkaTopic := []string{b.topicName(topic)}
	for {
		if err := b.group.Consume(b.stopCtx, kafkaTopic, claim); err != nil &&
			!stderrors.Is(err, sarama.ErrClosedConsumerGroup) {
			b.log.Warn("Kafka consume session ended with error", "topic", topic, "error", err)
		}
		select {
		case <-b.stopCtx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (b *KafkaBus) logGroupErrors() {
	for err := range b.group.Errors() {
		b.log.Warn("Kafka consumer group error", "error", err)
	}
}

// Close stops the consumer loops, then closes group, producer and client.
// Calling Close again is a no-op.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.stop()
	b.consumers.Wait()

	var errs []error
	if err := b.group.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close consumer group: %w", err))
	}
	if err := b.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close producer: %w", err))
	}
	if err := b.client.Close(); err != nil && !stderrors.Is(err, sarama.ErrClosedClient) {
		errs = append(errs, fmt.Errorf("close client: %w", err))
	}

	b.mu.Lock()
	b.handlers = nil
	b.mu.Unlock()

	if err := stderrors.Join(errs...); err != nil {
		return errors.InternalError("kafka bus close failed", err)
	}
	return nil
}

// claimHandler implements sarama.ConsumerGroupHandler for one bus topic.
type claimHandler struct {
	bus   *KafkaBus
	topic string
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.deliver(ctx, msg)
			session.MarkMessage(msg, "")
		}
	}
}

// deliver decodes msg and runs every handler of the topic in order. A bad
// payload or failing handler is logged; the offset is committed regardless.
func (h *claimHandler) deliver(ctx context.Context, msg *sarama.ConsumerMessage) {
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.bus.log.Warn("Dropping undecodable kafka message",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return
	}
	for _, handler := range h.bus.handlersFor(h.topic) {
		if err := handler(ctx, event); err != nil {
			h.bus.log.Warn("Event handler failed",
				"topic", h.topic, "event_id", event.ID, "request_id", event.RequestID, "error", err)
		}
	}
}

// ParseKafkaBrokers splits a comma-separated broker list, dropping blanks.
func ParseKafkaBrokers(s string) []string {
	var brokers []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			brokers = append(brokers, part)
		}
	}
	return brokers
}
