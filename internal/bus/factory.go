package bus

import (
	"fmt"
	"strings"

	"github.com/recoguard/recoguard/internal/config"
	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration. A configured
// journal path wraps the result in a JournaledBus.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	var inner Bus

	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		inner = NewMemoryBus(log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		consumerGroup := cfg.KafkaGroup
		if consumerGroup == "" {
			consumerGroup = "recoguard"
		}

		kafka, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: consumerGroup,
			ClientID:      "recoguard-bus",
			TopicPrefix:   cfg.KafkaTopicPrefix,
			Compression:   cfg.KafkaCompression,
			Logger:        log,
		})
		if err != nil {
			return nil, err
		}
		inner = kafka

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if cfg.JournalPath == "" {
		return inner, nil
	}

	journal, err := OpenJournal(cfg.JournalPath)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	return NewJournaledBus(inner, journal, log), nil
}
