package notifications

import (
	"strings"

	"github.com/chainsyncstore/chainsync-notify/internal/config"
	"github.com/chainsyncstore/chainsync-notify/internal/log"
)

// NewBroker returns a KafkaBroker when KAFKA_BROKERS is set and an
// InMemoryBroker otherwise.
func NewBroker(cfg *config.Config) (MessageBroker, error) {
	logger := log.WithComponent("notifications")
	if cfg.KafkaBrokers != "" {
		var brokers []string
		for _, b := range strings.Split(cfg.KafkaBrokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		logger.Info().Strs("brokers", brokers).Str("group", cfg.KafkaConsumerGroup).Msg("using kafka ingest broker")
		return NewKafkaBroker(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		})
	}

	logger.Info().Msg("using in-memory ingest broker (KAFKA_BROKERS not set)")
	return NewInMemoryBroker(), nil
}
