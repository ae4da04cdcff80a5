// Package dispatch routes avatar commands either to the control window's own
// binding or, in projection mode, over the relay to a projection window.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"avatar-control-service/internal/avatar"
	"avatar-control-service/internal/models"
)

const publishTimeout = 2 * time.Second

// Publisher sends relay messages to projection windows.
type Publisher interface {
	Publish(ctx context.Context, msg models.RelayMessage) error
}

// Switch implements chunker.Dispatcher. Commands are fire and forget:
// failures are logged, never returned to the chunker.
type Switch struct {
	mu         sync.RWMutex
	binding    avatar.Binding
	relay      Publisher
	projection bool
	logger     zerolog.Logger
}

// New creates a switch in local mode. binding may be nil until a control
// window attaches.
func New(binding avatar.Binding, relay Publisher, logger zerolog.Logger) *Switch {
	return &Switch{
		binding: binding,
		relay:   relay,
		logger:  logger,
	}
}

// SetBinding replaces the local binding.
func (s *Switch) SetBinding(b avatar.Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.binding = b
}

// Binding returns the local binding, or nil.
func (s *Switch) Binding() avatar.Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.binding
}

// SetProjectionMode flips where commands go.
func (s *Switch) SetProjectionMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projection = on
}

// IsProjectionMode reports whether commands go over the relay.
func (s *Switch) IsProjectionMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projection
}

// route returns the local binding, or nil when the relay should be used.
func (s *Switch) route() (avatar.Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.binding, s.projection
}

// Speak forwards one chunk.
func (s *Switch) Speak(cmd models.SpeakCommand) {
	b, projection := s.route()
	if projection {
		s.publish(models.NewSpeakMessage(cmd))
		return
	}
	if b == nil {
		s.logger.Warn().Msg("No avatar binding attached, dropping speak")
		return
	}
	if err := b.Speak(cmd.Text, cmd.IsStart, cmd.IsEnd); err != nil {
		s.logger.Warn().Err(err).Msg("Avatar speak failed")
	}
}

// Stop interrupts the avatar.
func (s *Switch) Stop() {
	b, projection := s.route()
	if projection {
		s.publish(models.NewStopMessage())
		return
	}
	if b == nil {
		return
	}
	if err := b.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Avatar stop failed")
	}
}

// Ready reports whether agent text can be spoken. In projection mode the
// projection window applies its own connectivity gate.
func (s *Switch) Ready() bool {
	b, projection := s.route()
	if projection {
		return true
	}
	return b != nil && b.IsConnected()
}

// Subtitle shows text on whichever avatar is active.
func (s *Switch) Subtitle(text string) {
	b, projection := s.route()
	if projection {
		s.publish(models.NewSubtitleMessage(text))
		return
	}
	if b == nil {
		return
	}
	if err := b.UpdateSubtitle(text); err != nil {
		s.logger.Warn().Err(err).Msg("Avatar subtitle failed")
	}
}

// ExternalApp asks whichever avatar window is active to open url.
func (s *Switch) ExternalApp(url string) {
	b, projection := s.route()
	if projection {
		s.publish(models.NewExternalAppMessage(url))
		return
	}
	if b == nil {
		return
	}
	if err := b.OpenExternalApp(url); err != nil {
		s.logger.Warn().Err(err).Str("url", url).Msg("Open external app failed")
	}
}

// Destroy tells projection windows to tear down their avatar. Sent even
// when the switch is already back in local mode.
func (s *Switch) Destroy() {
	s.publish(models.NewDestroyMessage())
}

func (s *Switch) publish(msg models.RelayMessage) {
	if s.relay == nil {
		s.logger.Warn().Str("type", string(msg.Type)).Msg("No relay configured, dropping command")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.relay.Publish(ctx, msg); err != nil {
		s.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("Relay publish failed")
	}
}
