package metrics

import (
	"context"

	"github.com/recoguard/recoguard/internal/bus"
	"github.com/recoguard/recoguard/internal/evaluator"
)

// EventSubscriber counts alerts from the event bus, so alerts raised by any
// instance sharing a Kafka topic show up in this instance's metrics.
type EventSubscriber struct {
	metrics *Metrics
	bus     bus.Bus
}

// NewEventSubscriber creates a new event subscriber.
func NewEventSubscriber(metrics *Metrics, eventBus bus.Bus) *EventSubscriber {
	return &EventSubscriber{
		metrics: metrics,
		bus:     eventBus,
	}
}

// SubscribeToEvents subscribes to the alert topic.
func (es *EventSubscriber) SubscribeToEvents(ctx context.Context) error {
	return es.bus.Subscribe(ctx, bus.TopicAlerts, es.handleAlert)
}

func (es *EventSubscriber) handleAlert(ctx context.Context, event bus.Event) error {
	alert, err := bus.Decode[evaluator.Alert](event)
	if err != nil {
		return err
	}
	es.metrics.RecordAlert(string(alert.Severity), alert.Metric)
	return nil
}
