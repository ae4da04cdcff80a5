package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"avatar-control-service/internal/models"
)

func TestValidator_Validate(t *testing.T) {
	v := New()
	tests := []struct {
		name    string
		msg     models.RelayMessage
		wantErr error
	}{
		{"speak", models.NewSpeakMessage(models.SpeakCommand{Text: "你好", IsStart: true}), nil},
		{"empty end marker", models.NewSpeakMessage(models.SpeakCommand{IsEnd: true}), nil},
		{"empty speak", models.NewSpeakMessage(models.SpeakCommand{IsStart: true}), ErrEmptyText},
		{"speak without payload", models.RelayMessage{Type: models.MessageSpeak}, ErrMissingPayload},
		{"stop", models.NewStopMessage(), nil},
		{"destroy", models.NewDestroyMessage(), nil},
		{"window ready", models.NewWindowReadyMessage(), nil},
		{"stop with payload", models.RelayMessage{Type: models.MessageStop, Payload: json.RawMessage(`{"x":1}`)}, ErrUnexpectedField},
		{"subtitle", models.NewSubtitleMessage("字幕"), nil},
		{"subtitle without payload", models.RelayMessage{Type: models.MessageSubtitle}, ErrMissingPayload},
		{"external app", models.NewExternalAppMessage("https://example.com/x"), nil},
		{"external app bad scheme", models.NewExternalAppMessage("javascript:alert(1)"), ErrInvalidURL},
		{"external app no host", models.NewExternalAppMessage("https://"), ErrInvalidURL},
		{"unknown", models.RelayMessage{Type: "dance"}, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.msg)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected err: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_MalformedPayload(t *testing.T) {
	msg := models.RelayMessage{Type: models.MessageSpeak, Payload: json.RawMessage(`"text"`)}
	if err := New().Validate(msg); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestValidator_ValidateUpdate(t *testing.T) {
	v := New()
	tests := []struct {
		name    string
		update  models.TranscriptUpdate
		wantErr error
	}{
		{"agent", models.TranscriptUpdate{ChannelID: "c1", SpeakerRole: models.RoleAgent, Text: "hi"}, nil},
		{"user", models.TranscriptUpdate{ChannelID: "c1", SpeakerRole: models.RoleUser}, nil},
		{"no channel", models.TranscriptUpdate{SpeakerRole: models.RoleAgent}, ErrMissingChannel},
		{"bad role", models.TranscriptUpdate{ChannelID: "c1", SpeakerRole: "BOT"}, ErrUnknownRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateUpdate(tt.update)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
