package bus

import (
	"context"
	"time"
)

// MetricsRecorder receives publish and delivery timings. Implemented by
// metrics.Metrics; declared here so bus does not import metrics.
type MetricsRecorder interface {
	RecordBusPublish(topic string, d time.Duration, err error)
	RecordBusHandled(topic string, d time.Duration, err error)
}

// InstrumentedBus times every publish and every subscriber delivery.
type InstrumentedBus struct {
	inner Bus
	rec   MetricsRecorder
}

// NewInstrumentedBus wraps inner. A nil recorder makes it a pass-through.
func NewInstrumentedBus(inner Bus, rec MetricsRecorder) *InstrumentedBus {
	return &InstrumentedBus{inner: inner, rec: rec}
}

func (b *InstrumentedBus) Publish(ctx context.Context, topic string, event Event) error {
	if b.rec == nil {
		return b.inner.Publish(ctx, topic, event)
	}
	start := time.Now()
	err := b.inner.Publish(ctx, topic, event)
	b.rec.RecordBusPublish(topic, time.Since(start), err)
	return err
}

// Subscribe registers handler wrapped so each delivery is timed and its
// outcome counted.
func (b *InstrumentedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if b.rec == nil {
		return b.inner.Subscribe(ctx, topic, handler)
	}
	return b.inner.Subscribe(ctx, topic, func(ctx context.Context, e Event) error {
		start := time.Now()
		err := handler(ctx, e)
		b.rec.RecordBusHandled(topic, time.Since(start), err)
		return err
	})
}

func (b *InstrumentedBus) Close() error {
	return b.inner.Close()
}
