// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"avatar-control-service/internal/models"
	"avatar-control-service/internal/observability/metrics"
)

// Sink receives avatar activity events.
type Sink interface {
	PublishSpeak(ctx context.Context, event models.SpeakChunkEvent) error
	PublishTurn(ctx context.Context, event models.TurnEvent) error
}

// Publisher publishes avatar events to separate Kafka topics for speak
// chunks and completed turns.
type Publisher struct {
	writerSpeak *kafka.Writer
	writerTurn  *kafka.Writer
	principal   string
	topicSpeak  string
	topicTurn   string
	enabled     bool
	metrics     *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers    []string
	TopicSpeak string
	TopicTurn  string
	Principal  string
	Enabled    bool
}

// New creates a new Kafka event publisher. Without brokers it runs in
// log-only mode.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:  cfg.Principal,
			topicSpeak: cfg.TopicSpeak,
			topicTurn:  cfg.TopicTurn,
			enabled:    false,
			metrics:    m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicSpeak", cfg.TopicSpeak).
		Str("topicTurn", cfg.TopicTurn).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerSpeak: newWriter(cfg.TopicSpeak),
		writerTurn:  newWriter(cfg.TopicTurn),
		principal:   cfg.Principal,
		topicSpeak:  cfg.TopicSpeak,
		topicTurn:   cfg.TopicTurn,
		enabled:     true,
		metrics:     m,
	}
}

// PublishSpeak publishes a speak chunk event keyed by channel, so a
// channel's chunks stay ordered within one partition.
func (p *Publisher) PublishSpeak(ctx context.Context, event models.SpeakChunkEvent) error {
	return p.publish(ctx, p.writerSpeak, p.topicSpeak, event.EventType, event.ChannelID, event)
}

// PublishTurn publishes a turn finished or interrupted event.
func (p *Publisher) PublishTurn(ctx context.Context, event models.TurnEvent) error {
	return p.publish(ctx, p.writerTurn, p.topicTurn, event.EventType, event.ChannelID, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerSpeak != nil {
		if e := p.writerSpeak.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing speak writer")
			err = e
		}
	}
	if p.writerTurn != nil {
		if e := p.writerTurn.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing turn writer")
			err = e
		}
	}
	return err
}
