package relay

import (
	"context"
	"sync"

	"avatar-control-service/internal/models"
	"avatar-control-service/internal/observability/metrics"
)

const defaultSubscriberBuffer = 64

// MemoryBus is an in-process Bus. Each subscriber has its own bounded
// queue; a full queue drops the message for that subscriber only.
type MemoryBus struct {
	mu       sync.RWMutex
	channels map[string]map[*memorySubscription]struct{}
	buffer   int
	closed   bool
	m        *metrics.Metrics
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		channels: make(map[string]map[*memorySubscription]struct{}),
		buffer:   defaultSubscriberBuffer,
		m:        metrics.DefaultMetrics,
	}
}

type memorySubscription struct {
	bus     *MemoryBus
	channel string
	origin  string
	ch      chan models.RelayMessage
	once    sync.Once
}

func (s *memorySubscription) Messages() <-chan models.RelayMessage {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.bus.remove(s)
	return nil
}

// Publish delivers msg to every other subscriber of channel.
func (b *MemoryBus) Publish(ctx context.Context, channel, origin string, msg models.RelayMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	for sub := range b.channels[channel] {
		if sub.origin == origin {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			b.m.RecordRelayDropped("subscriber_full")
		}
	}
	return nil
}

// Subscribe registers a listener for channel under origin.
func (b *MemoryBus) Subscribe(ctx context.Context, channel, origin string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &memorySubscription{
		bus:     b,
		channel: channel,
		origin:  origin,
		ch:      make(chan models.RelayMessage, b.buffer),
	}
	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[*memorySubscription]struct{})
		b.channels[channel] = subs
	}
	subs[sub] = struct{}{}
	return sub, nil
}

func (b *MemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.channels[sub.channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.channels, sub.channel)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}

// Subscribers returns the number of listeners on channel.
func (b *MemoryBus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

// Close ends every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.channels {
		for sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	b.channels = make(map[string]map[*memorySubscription]struct{})
	return nil
}
