package notifications

import "context"

// TopicPrefix namespaces ingest topics; each Kind has its own topic.
const TopicPrefix = "notifications."

// TopicFor returns the ingest topic carrying events of kind k.
func TopicFor(k Kind) string { return TopicPrefix + string(k) }

// EventHandler is invoked for every event received on a subscribed topic.
type EventHandler func(ctx context.Context, event Event)

// MessageBroker carries events from producers to the fan-out service.
// InMemoryBroker serves single-process deployments; KafkaBroker lets
// producers running elsewhere hand events to this process.
type MessageBroker interface {
	// Publish sends an event to the given topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe registers a handler called for every event published to
	// topic and returns a subscription id.
	Subscribe(topic string, handler EventHandler) (string, error)

	// Close releases connections and goroutines. Publish and Subscribe fail
	// afterwards.
	Close() error
}
