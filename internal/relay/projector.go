package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"avatar-control-service/internal/avatar"
	"avatar-control-service/internal/models"
	"avatar-control-service/internal/observability/metrics"
)

// ErrUnknownMessage is returned by Handle for message types it ignores.
var ErrUnknownMessage = errors.New("unknown relay message type")

// Projector is the projection-window side of the channel: it applies every
// received command to its local avatar binding.
type Projector struct {
	bus     Bus
	channel string
	binding avatar.Binding
	link    *Link
	logger  zerolog.Logger
	m       *metrics.Metrics

	announceGate <-chan struct{}
}

// NewProjector creates a projection-side consumer for binding.
func NewProjector(bus Bus, channel string, binding avatar.Binding, logger zerolog.Logger) *Projector {
	return &Projector{
		bus:     bus,
		channel: channel,
		binding: binding,
		link:    NewLink(uuid.NewString()),
		logger:  logger.With().Str("relay_channel", channel).Logger(),
		m:       metrics.DefaultMetrics,
	}
}

// ID returns the projector's origin id on the bus.
func (p *Projector) ID() string {
	return p.link.ID()
}

// State returns the link state.
func (p *Projector) State() LinkState {
	return p.link.State()
}

// AnnounceWhen holds the avatar_window_ready announcement until ready is
// closed, so the control side keeps its commands until the avatar can take
// them. Call before Listen.
func (p *Projector) AnnounceWhen(ready <-chan struct{}) {
	p.announceGate = ready
}

func (p *Projector) announce(ctx context.Context) error {
	if err := p.bus.Publish(ctx, p.channel, p.link.ID(), models.NewWindowReadyMessage()); err != nil {
		return fmt.Errorf("announce projection window: %w", err)
	}
	p.logger.Info().Str("origin", p.link.ID()).Msg("Projection window announced")
	return nil
}

// Listen subscribes, announces the window and applies messages until ctx
// is done or the subscription ends.
func (p *Projector) Listen(ctx context.Context) error {
	if err := p.link.Listen(); err != nil {
		return err
	}
	defer p.link.Close()

	sub, err := p.bus.Subscribe(ctx, p.channel, p.link.ID())
	if err != nil {
		return err
	}
	defer sub.Close()

	gate := p.announceGate
	if gate == nil {
		if err := p.announce(ctx); err != nil {
			return err
		}
	}
	p.logger.Info().Str("origin", p.link.ID()).Msg("Projection window listening")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-gate:
			gate = nil
			if err := p.announce(ctx); err != nil {
				return err
			}
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			if err := p.Handle(msg); err != nil && !errors.Is(err, ErrUnknownMessage) {
				p.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("Relay command not applied")
			}
		}
	}
}

// Handle applies one message to the binding. destroy always goes through;
// every other command requires a connected binding.
func (p *Projector) Handle(msg models.RelayMessage) error {
	if msg.Type == models.MessageDestroy {
		p.m.RecordRelayDelivered(string(msg.Type))
		return p.binding.Disconnect()
	}
	if !msg.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
	if msg.Type == models.MessageAvatarWindowReady {
		// Another projection window; nothing to apply.
		return nil
	}
	if !p.binding.IsConnected() {
		p.m.RecordRelayDropped("not_connected")
		return avatar.ErrNotConnected
	}

	var err error
	switch msg.Type {
	case models.MessageSpeak:
		var cmd models.SpeakCommand
		if cmd, err = msg.SpeakPayload(); err == nil {
			err = p.binding.Speak(cmd.Text, cmd.IsStart, cmd.IsEnd)
		}
	case models.MessageStop:
		err = p.binding.Stop()
	case models.MessageSubtitle:
		var sp models.SubtitlePayload
		if sp, err = msg.SubtitlePayload(); err == nil {
			err = p.binding.UpdateSubtitle(sp.Text)
		}
	case models.MessageExternalApp:
		var ep models.ExternalAppPayload
		if ep, err = msg.ExternalAppPayload(); err == nil {
			err = p.binding.OpenExternalApp(ep.URL)
		}
	}
	if err != nil {
		return err
	}
	p.m.RecordRelayDelivered(string(msg.Type))
	return nil
}
