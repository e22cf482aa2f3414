// Package events delivers engine events to watermill publishers. The
// in-process gochannel backend supports local subscribers; the Kafka
// backend forwards events to a broker cluster.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/JonMunkholm/ledgermigrate/internal/core"
)

// Backend names accepted by New.
const (
	BackendNone      = "none"
	BackendGoChannel = "gochannel"
	BackendKafka     = "kafka"
)

// ErrNoSubscriber is returned by Listen when the backend cannot deliver
// events back into this process.
var ErrNoSubscriber = errors.New("events: backend does not support local subscribers")

// Publisher is a closable core.EventPublisher.
type Publisher interface {
	core.EventPublisher
	Close() error
}

// Config holds configuration for the event publisher.
type Config struct {
	Backend      string
	KafkaBrokers []string
	TopicPrefix  string
	Logger       *slog.Logger
}

// Envelope is the JSON body of every published message.
type Envelope struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	OccurredAt time.Time        `json:"occurredAt"`
	Meta       core.RequestMeta `json:"meta"`
	Payload    json.RawMessage  `json:"payload"`
}

// WatermillPublisher publishes events as JSON messages, one topic per
// event name.
type WatermillPublisher struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
	prefix     string
}

// New builds the publisher selected by cfg.Backend.
func New(cfg Config) (Publisher, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	switch strings.ToLower(cfg.Backend) {
	case "", BackendNone:
		return nopPublisher{}, nil
	case BackendGoChannel:
		return NewGoChannelPublisher(cfg), nil
	case BackendKafka:
		return NewKafkaPublisher(cfg)
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

// NewGoChannelPublisher creates an in-process publisher. Messages published
// to a topic with no subscriber are dropped.
func NewGoChannelPublisher(cfg Config) *WatermillPublisher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NewSlogLogger(cfg.Logger))

	return &WatermillPublisher{
		publisher:  pubSub,
		subscriber: pubSub,
		logger:     cfg.Logger,
		prefix:     cfg.TopicPrefix,
	}
}

// NewKafkaPublisher creates a Kafka-backed publisher using watermill.
func NewKafkaPublisher(cfg Config) (*WatermillPublisher, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}

	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, watermill.NewSlogLogger(cfg.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
	}

	return &WatermillPublisher{
		publisher: publisher,
		logger:    cfg.Logger,
		prefix:    cfg.TopicPrefix,
	}, nil
}

// Topic returns the topic an event name is published to.
func (p *WatermillPublisher) Topic(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "." + name
}

// Publish implements core.EventPublisher.
func (p *WatermillPublisher) Publish(ctx context.Context, event core.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event.Name, err)
	}

	env := Envelope{
		ID:         uuid.NewString(),
		Name:       event.Name,
		OccurredAt: event.OccurredAt,
		Meta:       event.Meta,
		Payload:    payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Name, err)
	}

	msg := message.NewMessage(env.ID, body)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_name", event.Name)
	msg.Metadata.Set("occurred_at", event.OccurredAt.Format(time.RFC3339))
	if event.Meta.IPAddress != "" {
		msg.Metadata.Set("ip_address", event.Meta.IPAddress)
	}

	topic := p.Topic(event.Name)
	if err := p.publisher.Publish(topic, msg); err != nil {
		p.logger.Error("failed to publish event",
			"event_id", env.ID,
			"event", event.Name,
			"error", err)
		return fmt.Errorf("failed to publish %s: %w", event.Name, err)
	}

	p.logger.Debug("published event",
		"event_id", env.ID,
		"event", event.Name,
		"topic", topic)
	return nil
}

// Listen subscribes to one event name and calls handle for each envelope
// until ctx is cancelled. Handler errors are logged and the message is
// still acknowledged.
func (p *WatermillPublisher) Listen(ctx context.Context, name string, handle func(Envelope) error) error {
	if p.subscriber == nil {
		return ErrNoSubscriber
	}
	messages, err := p.subscriber.Subscribe(ctx, p.Topic(name))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", name, err)
	}

	go func() {
		for msg := range messages {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				p.logger.Warn("dropping malformed event", "message_id", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			if err := handle(env); err != nil {
				p.logger.Warn("event handler failed", "event", env.Name, "error", err)
			}
			msg.Ack()
		}
	}()
	return nil
}

// Close releases the underlying publisher.
func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}

type nopPublisher struct{ core.NopPublisher }

func (nopPublisher) Close() error { return nil }
