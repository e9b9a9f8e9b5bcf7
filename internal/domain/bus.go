package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community), NATS (Pro) or Kafka.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message. Metadata carries the publisher's
// trace id under "trace_id" when one is active.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel", "nats" or "kafka"
	Type string `json:"type" mapstructure:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" mapstructure:"channelbuffersize"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl" mapstructure:"natsurl"`
	NATSToken         string `json:"-" mapstructure:"natstoken"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" mapstructure:"natsmaxreconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" mapstructure:"natsreconnectwait"` // seconds
	NATSQueueGroup    string `json:"natsQueueGroup" mapstructure:"natsqueuegroup"`

	// Kafka settings
	KafkaBrokers []string `json:"kafkaBrokers" mapstructure:"kafkabrokers"`
	KafkaGroupID string   `json:"kafkaGroupId" mapstructure:"kafkagroupid"`
}

// Standard topic names for the case pipeline.
const (
	TopicCaseSubmitted = "kestrel.case.submitted"
	TopicCaseCompleted = "kestrel.case.completed"
	TopicCaseFailed    = "kestrel.case.failed"
)

// CaseSubmission is the payload published on TopicCaseSubmitted.
type CaseSubmission struct {
	CaseID string    `json:"caseId"`
	Input  CaseInput `json:"input"`
}

// CaseNotification is the payload published when a case finishes.
type CaseNotification struct {
	CaseID         string `json:"caseId"`
	ExternalRef    string `json:"externalRef,omitempty"`
	Status         Status `json:"status"`
	Label          string `json:"label,omitempty"`
	Action         string `json:"action,omitempty"`
	LatencyMs      int64  `json:"latencyMs"`
	Error          string `json:"error,omitempty"`
	OccurredAtUnix int64  `json:"occurredAt"`
}
