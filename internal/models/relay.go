package models

import (
	"encoding/json"
	"fmt"
)

// DefaultRelayChannel is the broadcast channel shared by control and projection windows.
const DefaultRelayChannel = "avatar_control"

// MessageType tags a RelayMessage.
type MessageType string

const (
	MessageSpeak             MessageType = "speak"
	MessageStop              MessageType = "stop"
	MessageDestroy           MessageType = "destroy"
	MessageSubtitle          MessageType = "subtitle"
	MessageExternalApp       MessageType = "external_app"
	MessageAvatarWindowReady MessageType = "avatar_window_ready"
)

// Known reports whether t is part of the relay wire contract.
func (t MessageType) Known() bool {
	switch t {
	case MessageSpeak, MessageStop, MessageDestroy, MessageSubtitle, MessageExternalApp, MessageAvatarWindowReady:
		return true
	}
	return false
}

// RelayMessage is the wire format carried on the broadcast channel:
// {"type": "...", "payload": {...}}.
type RelayMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubtitlePayload is the payload of a subtitle message.
type SubtitlePayload struct {
	Text string `json:"text"`
}

// ExternalAppPayload is the payload of an external_app message.
type ExternalAppPayload struct {
	URL string `json:"url"`
}

func withPayload(t MessageType, v any) RelayMessage {
	// Payload types in this package always marshal.
	raw, _ := json.Marshal(v)
	return RelayMessage{Type: t, Payload: raw}
}

// NewSpeakMessage wraps a speak command.
func NewSpeakMessage(cmd SpeakCommand) RelayMessage {
	return withPayload(MessageSpeak, cmd)
}

// NewStopMessage builds a stop message.
func NewStopMessage() RelayMessage {
	return RelayMessage{Type: MessageStop}
}

// NewDestroyMessage builds a destroy message.
func NewDestroyMessage() RelayMessage {
	return RelayMessage{Type: MessageDestroy}
}

// NewSubtitleMessage builds a subtitle message.
func NewSubtitleMessage(text string) RelayMessage {
	return withPayload(MessageSubtitle, SubtitlePayload{Text: text})
}

// NewExternalAppMessage builds an external_app message.
func NewExternalAppMessage(url string) RelayMessage {
	return withPayload(MessageExternalApp, ExternalAppPayload{URL: url})
}

// NewWindowReadyMessage builds the avatar_window_ready announcement.
func NewWindowReadyMessage() RelayMessage {
	return RelayMessage{Type: MessageAvatarWindowReady}
}

// SpeakPayload decodes the payload of a speak message.
func (m RelayMessage) SpeakPayload() (SpeakCommand, error) {
	var cmd SpeakCommand
	if err := m.decode(MessageSpeak, &cmd); err != nil {
		return SpeakCommand{}, err
	}
	return cmd, nil
}

// SubtitlePayload decodes the payload of a subtitle message.
func (m RelayMessage) SubtitlePayload() (SubtitlePayload, error) {
	var p SubtitlePayload
	if err := m.decode(MessageSubtitle, &p); err != nil {
		return SubtitlePayload{}, err
	}
	return p, nil
}

// ExternalAppPayload decodes the payload of an external_app message.
func (m RelayMessage) ExternalAppPayload() (ExternalAppPayload, error) {
	var p ExternalAppPayload
	if err := m.decode(MessageExternalApp, &p); err != nil {
		return ExternalAppPayload{}, err
	}
	return p, nil
}

func (m RelayMessage) decode(want MessageType, v any) error {
	if m.Type != want {
		return fmt.Errorf("relay message is %q, not %q", m.Type, want)
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("relay message %q has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %q payload: %w", m.Type, err)
	}
	return nil
}
