package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"avatar-control-service/internal/avatar/mock"
	"avatar-control-service/internal/models"
	"avatar-control-service/internal/relay"
	"avatar-control-service/internal/service/chunker"
)

type recordingSink struct {
	mu     sync.Mutex
	speaks []models.SpeakChunkEvent
	turns  []models.TurnEvent
}

func (r *recordingSink) PublishSpeak(ctx context.Context, ev models.SpeakChunkEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speaks = append(r.speaks, ev)
	return nil
}

func (r *recordingSink) PublishTurn(ctx context.Context, ev models.TurnEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, ev)
	return nil
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func agent(text string, final bool) models.TranscriptUpdate {
	return models.TranscriptUpdate{ChannelID: "k1", SpeakerRole: models.RoleAgent, Text: text, IsFinal: final}
}

func user(text string) models.TranscriptUpdate {
	return models.TranscriptUpdate{ChannelID: "k1", SpeakerRole: models.RoleUser, Text: text}
}

type fixture struct {
	bus     *relay.MemoryBus
	local   *mock.Binding
	sink    *recordingSink
	hub     *Hub
	session *Session
}

func newFixture(t *testing.T, readyTimeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		bus:   relay.NewMemoryBus(),
		local: mock.NewConnected(zerolog.Nop()),
		sink:  &recordingSink{},
		hub:   NewHub(),
	}
	s, err := New(context.Background(), Config{
		ChannelID:    "k1",
		Chunker:      chunker.DefaultConfig(),
		RelayChannel: models.DefaultRelayChannel,
		ReadyTimeout: readyTimeout,
	}, f.bus, f.local, f.sink, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Attach(f.hub)
	f.session = s
	t.Cleanup(func() {
		_ = s.Close()
		_ = f.bus.Close()
	})
	return f
}

func TestSession_LocalTurn(t *testing.T) {
	f := newFixture(t, time.Second)

	f.hub.PublishText(agent("你好，", false))
	if !f.hub.DigitalHumanSpeaking() {
		t.Error("digital human should be speaking after the first chunk")
	}
	f.hub.PublishText(agent("你好，欢迎光临", false))
	f.hub.PublishText(agent("你好，欢迎光临。", true))

	speaks := f.local.CallsOf("speak")
	if len(speaks) != 2 {
		t.Fatalf("speak calls = %+v, want 2", speaks)
	}
	if speaks[0].Text != "你好，" || !speaks[0].IsStart || speaks[0].IsEnd {
		t.Errorf("first = %+v", speaks[0])
	}
	if speaks[1].Text != "欢迎光临。" || speaks[1].IsStart || !speaks[1].IsEnd {
		t.Errorf("second = %+v", speaks[1])
	}
	if f.hub.DigitalHumanSpeaking() {
		t.Error("digital human should stop speaking after the end marker")
	}

	st := f.session.Status()
	if st.TurnID != "k1-turn-1" || st.TurnState != "FINISHED" || st.TurnChunks != 2 {
		t.Errorf("status = %+v", st)
	}

	_ = f.session.Close()
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	if len(f.sink.speaks) != 2 {
		t.Fatalf("speak events = %d, want 2", len(f.sink.speaks))
	}
	if f.sink.speaks[1].Seq != 2 || f.sink.speaks[1].Mode != "local" || f.sink.speaks[1].TurnID != "k1-turn-1" {
		t.Errorf("second speak event = %+v", f.sink.speaks[1])
	}
	if len(f.sink.turns) != 1 {
		t.Fatalf("turn events = %d, want 1", len(f.sink.turns))
	}
	if got := f.sink.turns[0]; got.EventType != models.EventTurnFinished || got.Text != "你好，欢迎光临。" || got.Chunks != 2 {
		t.Errorf("turn event = %+v", got)
	}
}

func TestSession_ProjectionEndOfTurn(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := RelayChannelFor(models.DefaultRelayChannel, "k1")
	observer, err := f.bus.Subscribe(ctx, channel, "observer")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := f.session.EnterProjection(); err != nil {
		t.Fatalf("EnterProjection: %v", err)
	}
	if f.local.IsConnected() {
		t.Error("local binding should be disconnected in projection mode")
	}

	remote := mock.NewConnected(zerolog.Nop())
	projector := relay.NewProjector(f.bus, channel, remote, zerolog.Nop())
	go func() { _ = projector.Listen(ctx) }()
	eventually(t, func() bool { return f.session.Status().RelayReady }, "projection window never announced")

	out := f.session.HandleUpdate(agent("大家好。", true))
	if out.Action != chunker.ActionEmitted {
		t.Fatalf("outcome = %+v", out)
	}

	var ends []models.SpeakCommand
	timeout := time.After(100 * time.Millisecond)
collect:
	for {
		select {
		case msg := <-observer.Messages():
			if msg.Type != models.MessageSpeak {
				continue
			}
			cmd, err := msg.SpeakPayload()
			if err != nil {
				t.Fatalf("SpeakPayload: %v", err)
			}
			if cmd.IsEnd {
				ends = append(ends, cmd)
			}
		case <-timeout:
			break collect
		}
	}
	if len(ends) != 1 {
		t.Fatalf("speak messages with isEnd = %d, want 1", len(ends))
	}
	if ends[0].Text != "大家好。" {
		t.Errorf("relayed text = %q", ends[0].Text)
	}

	eventually(t, func() bool { return len(remote.CallsOf("speak")) == 1 }, "projection binding never spoke")
	if got := remote.CallsOf("speak")[0]; got.Text != "大家好。" || !got.IsEnd {
		t.Errorf("projection speak = %+v", got)
	}
	if len(f.local.CallsOf("speak")) != 0 {
		t.Error("local binding should not speak in projection mode")
	}
}

func TestSession_ExitProjection(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = f.session.EnterProjection()
	remote := mock.NewConnected(zerolog.Nop())
	projector := relay.NewProjector(f.bus, RelayChannelFor(models.DefaultRelayChannel, "k1"), remote, zerolog.Nop())
	go func() { _ = projector.Listen(ctx) }()
	eventually(t, func() bool { return f.session.Status().RelayReady }, "projection window never announced")

	if err := f.session.ExitProjection(); err != nil {
		t.Fatalf("ExitProjection: %v", err)
	}
	eventually(t, func() bool { return !remote.IsConnected() }, "destroy never reached the projection window")

	st := f.session.Status()
	if st.ProjectionMode || st.RelayReady {
		t.Errorf("status after exit = %+v", st)
	}
	if !f.local.IsConnected() {
		t.Error("local binding should reconnect after projection ends")
	}

	// Second exit is a no-op.
	if err := f.session.ExitProjection(); err != nil {
		t.Errorf("second ExitProjection: %v", err)
	}
}

func TestSession_ExitProjectionBeforeWindowReady(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Projection session that ends before a window ever announces itself.
	_ = f.session.EnterProjection()
	if err := f.session.Speak("欢迎光临。"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if err := f.session.ExitProjection(); err != nil {
		t.Fatalf("ExitProjection: %v", err)
	}

	// A later projection session must not replay the stale speak or destroy.
	_ = f.session.EnterProjection()
	remote := mock.NewConnected(zerolog.Nop())
	projector := relay.NewProjector(f.bus, RelayChannelFor(models.DefaultRelayChannel, "k1"), remote, zerolog.Nop())
	go func() { _ = projector.Listen(ctx) }()
	eventually(t, func() bool { return f.session.Status().RelayReady }, "projection window never announced")

	if err := f.session.Speak("大家好。"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	eventually(t, func() bool { return len(remote.CallsOf("speak")) == 1 }, "projection binding never spoke")
	if got := remote.CallsOf("speak")[0]; got.Text != "大家好。" {
		t.Errorf("projection speak = %+v, want only the new session's command", got)
	}
	if !remote.IsConnected() {
		t.Error("stale destroy tore down the new projection window")
	}
}

func TestSession_UserBargeIn(t *testing.T) {
	f := newFixture(t, time.Second)

	f.hub.PublishText(agent("我来介绍一下，", false))
	f.hub.PublishText(agent("我来介绍一下，这里", false))
	f.hub.PublishText(user("等"))
	f.hub.PublishText(user("等一下"))

	if n := len(f.local.CallsOf("stop")); n != 1 {
		t.Errorf("stop calls = %d, want 1", n)
	}
	if st := f.session.Status(); st.TurnState != "INTERRUPTED" || st.Chunker.PendingBuffer != "" {
		t.Errorf("status = %+v", st)
	}

	f.hub.PublishText(agent("好的。", false))
	speaks := f.local.CallsOf("speak")
	last := speaks[len(speaks)-1]
	if last.Text != "好的。" || !last.IsStart {
		t.Errorf("next turn first chunk = %+v", last)
	}
	if f.session.Status().TurnID != "k1-turn-2" {
		t.Errorf("turn id = %s", f.session.Status().TurnID)
	}

	_ = f.session.Close()
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	if len(f.sink.turns) != 1 || f.sink.turns[0].EventType != models.EventTurnInterrupted {
		t.Errorf("turn events = %+v", f.sink.turns)
	}
}

func TestSession_UserSpeakingYields(t *testing.T) {
	f := newFixture(t, time.Second)

	f.hub.PublishText(agent("你好，", false))
	if !f.hub.DigitalHumanSpeaking() {
		t.Fatal("expected speaking")
	}
	f.hub.PublishUserSpeaking(false)
	if !f.hub.DigitalHumanSpeaking() {
		t.Error("silence should not change speaking state")
	}
	f.hub.PublishUserSpeaking(true)
	if f.hub.DigitalHumanSpeaking() {
		t.Error("user speech should make the digital human yield")
	}
}

func TestSession_RemoteUser(t *testing.T) {
	f := newFixture(t, time.Second)

	f.hub.PublishRemoteUser(RemoteUser{UserID: "agent-1", HasAudio: true})
	st := f.session.Status()
	if st.RemoteUser == nil || st.RemoteUser.UserID != "agent-1" || !st.RemoteUser.HasAudio {
		t.Errorf("remote user = %+v", st.RemoteUser)
	}
}

func TestSession_SelectGraphResetsChunker(t *testing.T) {
	f := newFixture(t, time.Second)

	f.hub.PublishText(agent("abc", false))
	if f.session.Status().Chunker.PendingBuffer != "abc" {
		t.Fatalf("pending = %q", f.session.Status().Chunker.PendingBuffer)
	}
	f.session.SelectGraph("voice_assistant")

	st := f.session.Status()
	if st.GraphID != "voice_assistant" || st.Chunker.PendingBuffer != "" || !st.Chunker.IsFirstChunk {
		t.Errorf("status = %+v", st)
	}
}

func TestSession_ManualSpeak(t *testing.T) {
	f := newFixture(t, time.Second)

	if err := f.session.Speak(""); err != ErrEmptyText {
		t.Errorf("empty Speak err = %v", err)
	}
	if err := f.session.Speak("欢迎光临"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	speaks := f.local.CallsOf("speak")
	if len(speaks) != 1 || speaks[0].Text != "欢迎光临" || !speaks[0].IsStart || !speaks[0].IsEnd {
		t.Errorf("speaks = %+v", speaks)
	}
	if f.session.Status().TurnState != "FINISHED" {
		t.Errorf("turn state = %s", f.session.Status().TurnState)
	}
}

func TestSession_NotConnectedDrops(t *testing.T) {
	f := newFixture(t, time.Second)
	_ = f.local.Disconnect()

	out := f.session.HandleUpdate(agent("你好，", false))
	if out.Action != chunker.ActionDropped || out.Reason != chunker.DropNotConnected {
		t.Errorf("outcome = %+v", out)
	}
}

func TestSession_SubtitleAndExternalApp(t *testing.T) {
	f := newFixture(t, time.Second)

	f.session.Subtitle("欢迎")
	f.session.ExternalApp("https://example.com/menu")
	if got := f.local.CallsOf("subtitle"); len(got) != 1 || got[0].Text != "欢迎" {
		t.Errorf("subtitle calls = %+v", got)
	}
	if got := f.local.CallsOf("external_app"); len(got) != 1 || got[0].Text != "https://example.com/menu" {
		t.Errorf("external_app calls = %+v", got)
	}
}

func TestSession_BindingSwap(t *testing.T) {
	f := newFixture(t, time.Second)

	other := mock.NewConnected(zerolog.Nop())
	f.session.AttachBinding(other)
	_ = f.session.Speak("一")
	if len(other.CallsOf("speak")) != 1 || len(f.local.CallsOf("speak")) != 0 {
		t.Error("speak should reach the attached binding only")
	}

	// Detaching a binding that is no longer current is a no-op.
	f.session.DetachBinding(f.local)
	if !f.session.Status().BindingConnected {
		t.Error("stale detach should not clear the binding")
	}
	f.session.DetachBinding(other)
	if f.session.Status().BindingConnected {
		t.Error("binding should be cleared")
	}
}

func TestSession_Close(t *testing.T) {
	f := newFixture(t, time.Second)

	if err := f.session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.session.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if f.hub.Listeners() != 0 {
		t.Errorf("listeners after close = %d", f.hub.Listeners())
	}

	out := f.session.HandleUpdate(agent("你好，", false))
	if out.Reason != DropSessionClosed {
		t.Errorf("outcome after close = %+v", out)
	}
	if err := f.session.Speak("x"); err != ErrClosed {
		t.Errorf("Speak after close err = %v", err)
	}
	if err := f.session.EnterProjection(); err != ErrClosed {
		t.Errorf("EnterProjection after close err = %v", err)
	}
}

func TestSession_ConcatenationProperty(t *testing.T) {
	f := newFixture(t, time.Second)

	final := "今天天气很好，适合出去走走。你想去哪里呢？"
	runes := []rune(final)
	for i := 1; i < len(runes); i++ {
		f.session.HandleUpdate(agent(string(runes[:i]), false))
	}
	f.session.HandleUpdate(agent(final, true))

	speaks := f.local.CallsOf("speak")
	var b strings.Builder
	for i, c := range speaks {
		b.WriteString(c.Text)
		if c.IsStart != (i == 0) {
			t.Errorf("chunk %d isStart = %v", i, c.IsStart)
		}
		if c.IsEnd != (i == len(speaks)-1) {
			t.Errorf("chunk %d isEnd = %v", i, c.IsEnd)
		}
	}
	if b.String() != final {
		t.Errorf("concatenation = %q, want %q", b.String(), final)
	}
}

func TestRelayChannelFor(t *testing.T) {
	if got := RelayChannelFor("avatar_control", ""); got != "avatar_control" {
		t.Errorf("got %q", got)
	}
	if got := RelayChannelFor("avatar_control", "k1"); got != "avatar_control.k1" {
		t.Errorf("got %q", got)
	}
}
