package models

import (
	"encoding/json"
	"testing"
)

func TestRelayMessage_WireFormat(t *testing.T) {
	msg := NewSpeakMessage(SpeakCommand{Text: "你好，", IsStart: true})
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"speak","payload":{"text":"你好，","isStart":true,"isEnd":false}}`
	if string(raw) != want {
		t.Errorf("wire = %s, want %s", raw, want)
	}

	raw, _ = json.Marshal(NewStopMessage())
	if string(raw) != `{"type":"stop"}` {
		t.Errorf("stop wire = %s", raw)
	}
}

func TestRelayMessage_SpeakPayload(t *testing.T) {
	var msg RelayMessage
	if err := json.Unmarshal([]byte(`{"type":"speak","payload":{"text":"hi","isStart":false,"isEnd":true}}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cmd, err := msg.SpeakPayload()
	if err != nil {
		t.Fatalf("SpeakPayload: %v", err)
	}
	if cmd.Text != "hi" || cmd.IsStart || !cmd.IsEnd {
		t.Errorf("unexpected command %+v", cmd)
	}
}

func TestRelayMessage_PayloadMismatch(t *testing.T) {
	if _, err := NewStopMessage().SpeakPayload(); err == nil {
		t.Error("expected error decoding speak payload from stop message")
	}
	if _, err := (RelayMessage{Type: MessageSubtitle}).SubtitlePayload(); err == nil {
		t.Error("expected error for missing payload")
	}
}

func TestMessageType_Known(t *testing.T) {
	tests := []struct {
		t    MessageType
		want bool
	}{
		{MessageSpeak, true},
		{MessageExternalApp, true},
		{MessageAvatarWindowReady, true},
		{MessageType("reboot"), false},
	}
	for _, tt := range tests {
		if got := tt.t.Known(); got != tt.want {
			t.Errorf("%q.Known() = %v, want %v", tt.t, got, tt.want)
		}
	}
}
