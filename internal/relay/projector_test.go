package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"avatar-control-service/internal/avatar"
	"avatar-control-service/internal/avatar/mock"
	"avatar-control-service/internal/models"
)

func TestProjector_Handle(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		msg       models.RelayMessage
		wantErr   error
		wantOp    string
		wantText  string
	}{
		{"speak", true, models.NewSpeakMessage(models.SpeakCommand{Text: "你好", IsStart: true}), nil, "speak", "你好"},
		{"stop", true, models.NewStopMessage(), nil, "stop", ""},
		{"subtitle", true, models.NewSubtitleMessage("字幕"), nil, "subtitle", "字幕"},
		{"external app", true, models.NewExternalAppMessage("https://example.com/app"), nil, "external_app", "https://example.com/app"},
		{"destroy while connected", true, models.NewDestroyMessage(), nil, "disconnect", ""},
		{"destroy bypasses gate", false, models.NewDestroyMessage(), nil, "disconnect", ""},
		{"speak gated", false, models.NewSpeakMessage(models.SpeakCommand{Text: "x"}), avatar.ErrNotConnected, "", ""},
		{"stop gated", false, models.NewStopMessage(), avatar.ErrNotConnected, "", ""},
		{"unknown ignored", true, models.RelayMessage{Type: "dance"}, ErrUnknownMessage, "", ""},
		{"window ready ignored", true, models.NewWindowReadyMessage(), nil, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b *mock.Binding
			if tt.connected {
				b = mock.NewConnected(zerolog.Nop())
			} else {
				b = mock.New(zerolog.Nop())
			}
			p := NewProjector(NewMemoryBus(), "ch", b, zerolog.Nop())

			err := p.Handle(tt.msg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}

			calls := b.Calls()
			if tt.wantOp == "" {
				if len(calls) != 0 {
					t.Errorf("binding got %+v, want nothing", calls)
				}
				return
			}
			if len(calls) != 1 || calls[0].Op != tt.wantOp || calls[0].Text != tt.wantText {
				t.Errorf("binding got %+v, want one %s(%q)", calls, tt.wantOp, tt.wantText)
			}
		})
	}
}

func TestProjector_MalformedPayload(t *testing.T) {
	b := mock.NewConnected(zerolog.Nop())
	p := NewProjector(NewMemoryBus(), "ch", b, zerolog.Nop())

	if err := p.Handle(models.RelayMessage{Type: models.MessageSpeak}); err == nil {
		t.Fatal("speak without payload should fail")
	}
	if len(b.Calls()) != 0 {
		t.Errorf("binding got %+v", b.Calls())
	}
}

func TestProjector_AnnounceWhenGate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()
	defer bus.Close()

	control, _ := bus.Subscribe(ctx, "ch", "control")
	ready := make(chan struct{})
	p := NewProjector(bus, "ch", mock.NewConnected(zerolog.Nop()), zerolog.Nop())
	p.AnnounceWhen(ready)
	go func() { _ = p.Listen(ctx) }()

	eventually(t, func() bool { return bus.Subscribers("ch") == 2 }, "projector never subscribed")
	assertEmpty(t, control)

	close(ready)
	if got := receive(t, control); got.Type != models.MessageAvatarWindowReady {
		t.Errorf("got %q, want avatar_window_ready", got.Type)
	}
	assertEmpty(t, control)
}
