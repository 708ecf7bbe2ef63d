package domain

import "context"

// EventBus moves events and classifier requests between components.
// Delivery is scoped by account: a subscriber never sees another account's messages.
type EventBus interface {
	Publish(ctx context.Context, accountID string, topic string, payload []byte) error

	// Subscribe runs handler for each message on topic until the subscription is dropped.
	Subscribe(ctx context.Context, accountID string, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes payload and blocks for the first Reply.
	Request(ctx context.Context, accountID string, topic string, payload []byte) ([]byte, error)

	// Reply answers a message received through Request.
	Reply(ctx context.Context, msg *Message, payload []byte) error

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler consumes one delivered message. Errors are logged by the bus, never redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is one delivery. ReplyTo is set only on requests.
type Message struct {
	ID        string
	AccountID string
	Topic     string
	Payload   []byte
	Metadata  map[string]string
	ReplyTo   string
	Timestamp int64 // unix nanoseconds at publish
}

type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus.
type EventBusConfig struct {
	// Type is "channel" or "nats".
	Type string `mapstructure:"type"`

	// ChannelBufferSize is each in-process subscriber's inbox size.
	ChannelBufferSize int `mapstructure:"channelBufferSize"`

	NATSUrl           string `mapstructure:"natsUrl"`
	NATSToken         string `mapstructure:"natsToken"`
	NATSMaxReconnects int    `mapstructure:"natsMaxReconnects"`
	NATSReconnectWait int    `mapstructure:"natsReconnectWait"` // seconds
}

// SystemAccountID scopes bus traffic that belongs to no single account,
// such as classifier requests and the global submission subscription.
const SystemAccountID = "_system"

// Standard topic names.
const (
	TopicTransactionSubmitted = "harrier.transaction.submitted"
	TopicRecordAppended       = "harrier.record.appended"
	TopicFraudAlert           = "harrier.fraud.alert"
	TopicClassifierPredict    = "harrier.classifier.predict"
)

// RecordEvent is published on TopicRecordAppended and TopicFraudAlert.
type RecordEvent struct {
	RecordID  RecordID        `json:"recordId"`
	AccountID string          `json:"accountId"`
	Type      TransactionType `json:"type"`
	Amount    float64         `json:"amount"`
	Verdict   Verdict         `json:"result"`
	TraceID   string          `json:"traceId,omitempty"`
}
