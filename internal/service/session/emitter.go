package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"avatar-control-service/internal/events"
	"avatar-control-service/internal/models"
)

const (
	eventQueueSize      = 256
	eventPublishTimeout = 5 * time.Second
)

// emitter publishes a session's events in order on its own goroutine so
// a slow broker never stalls speech.
type emitter struct {
	sink   events.Sink
	ch     chan func(context.Context, events.Sink) error
	done   chan struct{}
	logger zerolog.Logger
}

func newEmitter(sink events.Sink, logger zerolog.Logger) *emitter {
	e := &emitter{
		sink:   sink,
		ch:     make(chan func(context.Context, events.Sink) error, eventQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go e.run()
	return e
}

func (e *emitter) run() {
	defer close(e.done)
	for fn := range e.ch {
		ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
		if err := fn(ctx, e.sink); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to publish avatar event")
		}
		cancel()
	}
}

func (e *emitter) submit(fn func(context.Context, events.Sink) error) {
	select {
	case e.ch <- fn:
	default:
		e.logger.Warn().Msg("Event queue full, dropping avatar event")
	}
}

func (e *emitter) speak(ev models.SpeakChunkEvent) {
	e.submit(func(ctx context.Context, s events.Sink) error { return s.PublishSpeak(ctx, ev) })
}

func (e *emitter) turn(ev models.TurnEvent) {
	e.submit(func(ctx context.Context, s events.Sink) error { return s.PublishTurn(ctx, ev) })
}

// close drains queued events and stops the goroutine.
func (e *emitter) close() {
	close(e.ch)
	<-e.done
}
