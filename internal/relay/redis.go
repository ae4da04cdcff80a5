package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"avatar-control-service/internal/models"
	"avatar-control-service/internal/observability/metrics"
)

// RedisBus is a Bus over Redis Pub/Sub, for control and projection windows
// attached to different service instances.
type RedisBus struct {
	client *redis.Client
	prefix string
	buffer int
	logger zerolog.Logger
	m      *metrics.Metrics
}

// NewRedisBus wraps a Redis client. Channel names are prefixed with prefix.
func NewRedisBus(client *redis.Client, prefix string, logger zerolog.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		prefix: prefix,
		buffer: defaultSubscriberBuffer,
		logger: logger,
		m:      metrics.DefaultMetrics,
	}
}

// Ping checks the Redis connection.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) key(channel string) string {
	return b.prefix + channel
}

// Publish sends msg on channel, tagged with origin.
func (b *RedisBus) Publish(ctx context.Context, channel, origin string, msg models.RelayMessage) error {
	payload, err := encodeEnvelope(origin, msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH %s: %w", b.key(channel), err)
	}
	return nil
}

// Subscribe listens on channel, skipping messages published under origin.
func (b *RedisBus) Subscribe(ctx context.Context, channel, origin string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, b.key(channel))
	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis SUBSCRIBE %s: %w", b.key(channel), err)
	}

	sub := &redisSubscription{
		ps:     ps,
		out:    make(chan models.RelayMessage, b.buffer),
		done:   make(chan struct{}),
		logger: b.logger.With().Str("relay_channel", channel).Str("origin", origin).Logger(),
	}
	go sub.pump(origin, b.m)
	return sub, nil
}

// Close closes the Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps     *redis.PubSub
	out    chan models.RelayMessage
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func (s *redisSubscription) pump(origin string, m *metrics.Metrics) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case raw, ok := <-s.ps.Channel():
			if !ok {
				return
			}
			env, err := decodeEnvelope([]byte(raw.Payload))
			if err != nil {
				s.logger.Warn().Err(err).Msg("Dropping malformed relay message")
				m.RecordRelayDropped("malformed")
				continue
			}
			if env.Origin == origin {
				continue
			}
			select {
			case s.out <- env.Message:
			default:
				m.RecordRelayDropped("subscriber_full")
				s.logger.Warn().Str("type", string(env.Message.Type)).Msg("Subscriber queue full, dropping relay message")
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan models.RelayMessage {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
