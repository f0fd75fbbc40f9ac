package bus

import (
	"context"

	"github.com/recoguard/recoguard/internal/pkg/logger"
)

// JournaledBus writes every published event to a Journal before handing it
// to the inner bus. Journal failures are logged and never block publishing.
type JournaledBus struct {
	inner   Bus
	journal *Journal
	log     *logger.Logger
}

// NewJournaledBus wraps inner.
func NewJournaledBus(inner Bus, journal *Journal, log *logger.Logger) *JournaledBus {
	return &JournaledBus{
		inner:   inner,
		journal: journal,
		log:     logger.OrDefault(log).WithComponent("bus.journal"),
	}
}

// Publish journals the event and then delegates to the inner bus.
func (b *JournaledBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := b.journal.Append(topic, event); err != nil {
		b.log.Warn("Failed to journal event", "topic", topic, "event_id", event.ID, "error", err)
	}
	return b.inner.Publish(ctx, topic, event)
}

// Subscribe delegates to the inner bus.
func (b *JournaledBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close closes the journal and the inner bus.
func (b *JournaledBus) Close() error {
	if err := b.journal.Close(); err != nil {
		b.log.Warn("Failed to close journal", "error", err)
	}
	return b.inner.Close()
}
