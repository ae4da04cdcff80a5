// Package schema validates messages entering the service from windows and
// transcript producers.
package schema

import (
	"errors"
	"fmt"
	"net/url"

	"avatar-control-service/internal/models"
)

var (
	ErrUnknownType     = errors.New("unknown message type")
	ErrMissingPayload  = errors.New("payload required")
	ErrEmptyText       = errors.New("text must not be empty")
	ErrInvalidURL      = errors.New("invalid external app url")
	ErrMissingChannel  = errors.New("channelId required")
	ErrUnknownRole     = errors.New("unknown speaker role")
	ErrUnexpectedField = errors.New("payload not allowed")
)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks a relay message arriving from a window socket.
func (v *Validator) Validate(msg models.RelayMessage) error {
	if !msg.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	switch msg.Type {
	case models.MessageSpeak:
		if len(msg.Payload) == 0 {
			return fmt.Errorf("speak: %w", ErrMissingPayload)
		}
		cmd, err := msg.SpeakPayload()
		if err != nil {
			return err
		}
		// An end marker may carry no text.
		if cmd.Text == "" && !cmd.IsEnd {
			return fmt.Errorf("speak: %w", ErrEmptyText)
		}
	case models.MessageSubtitle:
		if len(msg.Payload) == 0 {
			return fmt.Errorf("subtitle: %w", ErrMissingPayload)
		}
		if _, err := msg.SubtitlePayload(); err != nil {
			return err
		}
	case models.MessageExternalApp:
		if len(msg.Payload) == 0 {
			return fmt.Errorf("external_app: %w", ErrMissingPayload)
		}
		p, err := msg.ExternalAppPayload()
		if err != nil {
			return err
		}
		u, err := url.Parse(p.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidURL, p.URL)
		}
	default:
		if len(msg.Payload) != 0 && string(msg.Payload) != "null" {
			return fmt.Errorf("%s: %w", msg.Type, ErrUnexpectedField)
		}
	}
	return nil
}

// ValidateUpdate checks a transcript update arriving over gRPC or HTTP.
func (v *Validator) ValidateUpdate(u models.TranscriptUpdate) error {
	if u.ChannelID == "" {
		return ErrMissingChannel
	}
	if !u.SpeakerRole.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, u.SpeakerRole)
	}
	return nil
}
