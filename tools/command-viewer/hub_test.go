package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		filter  string
		wantOK  bool
		wantErr bool
	}{
		{"speak chunk", `{"eventType":"avatar.speak.chunk","channelId":"k1","turnId":"k1-turn-1","seq":1,"text":"你好"}`, "", true, false},
		{"filtered out", `{"eventType":"avatar.turn.finished","channelId":"k2","turnId":"k2-turn-1"}`, "k1", false, false},
		{"filter match", `{"eventType":"avatar.turn.finished","channelId":"k1","turnId":"k1-turn-1","chunks":3}`, "k1", true, false},
		{"malformed", `{not json`, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := decodeEvent([]byte(tt.value), tt.filter)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("你好，欢迎来到展厅", 4); got != "你好，欢..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 40); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}

func TestHub_BroadcastsToClients(t *testing.T) {
	hub := newHub()
	go hub.run()
	defer hub.stop()

	srv := httptest.NewServer(wsHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.broadcast <- ViewerEvent{EventType: "avatar.speak.chunk", ChannelID: "k1", TurnID: "k1-turn-1", Text: "你好", IsStart: true}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got ViewerEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Text != "你好" || !got.IsStart || got.TurnID != "k1-turn-1" {
		t.Errorf("event = %+v", got)
	}
}
