package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"avatar-control-service/internal/models"
	"avatar-control-service/internal/observability/metrics"
)

const maxQueuedCommands = 256

// Relay is the control-window side of the channel. It only produces
// commands; the one thing it listens for is avatar_window_ready.
//
// Until a projection window announces itself, commands are held in order
// and flushed on the announcement or after the ready timeout, whichever
// comes first.
type Relay struct {
	bus          Bus
	channel      string
	readyTimeout time.Duration
	link         *Link
	logger       zerolog.Logger
	m            *metrics.Metrics

	mu         sync.Mutex
	ready      bool
	queue      []models.RelayMessage
	queuedAt   time.Time
	timer      *time.Timer
	gen        uint64
	sub        Subscription
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewRelay creates a control-side relay on channel.
func NewRelay(bus Bus, channel string, readyTimeout time.Duration, logger zerolog.Logger) *Relay {
	return &Relay{
		bus:          bus,
		channel:      channel,
		readyTimeout: readyTimeout,
		link:         NewLink(uuid.NewString()),
		logger:       logger.With().Str("relay_channel", channel).Logger(),
		m:            metrics.DefaultMetrics,
	}
}

// ID returns the relay's origin id on the bus.
func (r *Relay) ID() string {
	return r.link.ID()
}

// Open subscribes to the channel and starts watching for the ready signal.
func (r *Relay) Open(ctx context.Context) error {
	if err := r.link.Listen(); err != nil {
		return err
	}

	sub, err := r.bus.Subscribe(ctx, r.channel, r.link.ID())
	if err != nil {
		r.link.Close()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.sub = sub
	r.cancelLoop = cancel
	r.loopDone = make(chan struct{})
	done := r.loopDone
	r.mu.Unlock()

	go r.watch(loopCtx, sub, done)
	r.logger.Debug().Str("origin", r.link.ID()).Msg("Relay listening")
	return nil
}

func (r *Relay) watch(ctx context.Context, sub Subscription, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if msg.Type == models.MessageAvatarWindowReady {
				r.logger.Info().Msg("Projection window announced ready")
				r.markReady(ctx)
			}
		}
	}
}

// Ready reports whether a projection window has announced itself (or the
// ready timeout already released the queue).
func (r *Relay) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Disarm makes the relay wait for a fresh announcement before sending again.
// Called when projection ends, since the window tears down its avatar.
// Commands still held for the ended session are dropped so the next window
// never replays them.
func (r *Relay) Disarm() {
	r.mu.Lock()
	r.ready = false
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	dropped := len(r.queue)
	r.queue = nil
	r.mu.Unlock()

	if dropped > 0 {
		for i := 0; i < dropped; i++ {
			r.m.RecordRelayDropped("disarmed")
		}
		r.logger.Debug().Int("dropped", dropped).Msg("Relay disarmed, discarding queued commands")
	}
}

// Pending returns the number of queued commands.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Publish sends msg to projection windows, or queues it if none has
// announced itself yet. destroy is never held.
func (r *Relay) Publish(ctx context.Context, msg models.RelayMessage) error {
	if r.link.State() == LinkClosed {
		return ErrLinkClosed
	}
	if msg.Type == models.MessageDestroy {
		return r.send(ctx, msg)
	}

	r.mu.Lock()
	if !r.ready && r.readyTimeout > 0 {
		if len(r.queue) >= maxQueuedCommands {
			r.mu.Unlock()
			r.m.RecordRelayDropped("queue_full")
			r.logger.Warn().Str("type", string(msg.Type)).Msg("Relay queue full, dropping command")
			return nil
		}
		if len(r.queue) == 0 {
			r.queuedAt = time.Now()
			gen := r.gen
			r.timer = time.AfterFunc(r.readyTimeout, func() { r.onReadyTimeout(gen) })
		}
		r.queue = append(r.queue, msg)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	return r.send(ctx, msg)
}

func (r *Relay) send(ctx context.Context, msg models.RelayMessage) error {
	if err := r.bus.Publish(ctx, r.channel, r.link.ID(), msg); err != nil {
		r.m.RecordRelayDropped("publish_error")
		return err
	}
	r.m.RecordRelayPublished(string(msg.Type))
	return nil
}

// onReadyTimeout releases the queue armed in generation gen. A timer that
// fires after Disarm belongs to an ended session and does nothing.
func (r *Relay) onReadyTimeout(gen uint64) {
	if r.link.State() == LinkClosed {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return
	}
	r.logger.Warn().Dur("timeout", r.readyTimeout).Msg("No projection window announced, flushing queued commands")
	r.releaseLocked(context.Background())
}

// markReady releases the queue in order. Holding mu across the flush keeps
// concurrent Publish calls behind the queued commands.
func (r *Relay) markReady(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(ctx)
}

func (r *Relay) releaseLocked(ctx context.Context) {
	r.ready = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if len(r.queue) == 0 {
		return
	}

	r.m.RecordReadyWait(time.Since(r.queuedAt).Seconds())
	queued := r.queue
	r.queue = nil
	for _, msg := range queued {
		if err := r.send(ctx, msg); err != nil {
			r.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("Failed to flush queued command")
		}
	}
}

// Close unsubscribes and discards anything still queued. Idempotent.
func (r *Relay) Close() error {
	if !r.link.Close() {
		return nil
	}

	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	dropped := len(r.queue)
	r.queue = nil
	sub, cancel, done := r.sub, r.cancelLoop, r.loopDone
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Warn().Int("dropped", dropped).Msg("Relay closed with queued commands")
	}

	var err error
	if cancel != nil {
		cancel()
		<-done
	}
	if sub != nil {
		err = sub.Close()
	}
	if errors.Is(err, ErrBusClosed) {
		err = nil
	}
	return err
}
