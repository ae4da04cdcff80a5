package relay

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"avatar-control-service/internal/avatar/mock"
	"avatar-control-service/internal/models"
)

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

func openRelay(t *testing.T, bus Bus, timeout time.Duration) *Relay {
	t.Helper()
	r := NewRelay(bus, "ch", timeout, zerolog.Nop())
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRelay_QueuesUntilWindowReady(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()
	r := openRelay(t, bus, time.Minute)

	window, _ := bus.Subscribe(ctx, "ch", "window")

	_ = r.Publish(ctx, models.NewSpeakMessage(models.SpeakCommand{Text: "你好，", IsStart: true}))
	_ = r.Publish(ctx, models.NewSpeakMessage(models.SpeakCommand{Text: "欢迎", IsEnd: true}))
	if r.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", r.Pending())
	}
	assertEmpty(t, window)

	_ = bus.Publish(ctx, "ch", "window", models.NewWindowReadyMessage())
	eventually(t, r.Ready, "relay never became ready")

	first, _ := receive(t, window).SpeakPayload()
	second, _ := receive(t, window).SpeakPayload()
	if first.Text != "你好，" || !first.IsStart {
		t.Errorf("first flushed = %+v", first)
	}
	if second.Text != "欢迎" || !second.IsEnd {
		t.Errorf("second flushed = %+v", second)
	}

	_ = r.Publish(ctx, models.NewStopMessage())
	if got := receive(t, window); got.Type != models.MessageStop {
		t.Errorf("after ready got %q, want stop", got.Type)
	}
}

func TestRelay_FlushesAfterTimeout(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()
	r := openRelay(t, bus, 30*time.Millisecond)

	window, _ := bus.Subscribe(ctx, "ch", "window")
	_ = r.Publish(ctx, models.NewStopMessage())

	if got := receive(t, window); got.Type != models.MessageStop {
		t.Errorf("got %q, want stop", got.Type)
	}
	if !r.Ready() {
		t.Error("relay should be released after the ready timeout")
	}
}

func TestRelay_ZeroTimeoutSendsImmediately(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()
	r := openRelay(t, bus, 0)

	window, _ := bus.Subscribe(ctx, "ch", "window")
	_ = r.Publish(ctx, models.NewDestroyMessage())
	if got := receive(t, window); got.Type != models.MessageDestroy {
		t.Errorf("got %q, want destroy", got.Type)
	}
}

func TestRelay_DisarmWaitsForNextAnnouncement(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()
	r := openRelay(t, bus, time.Minute)

	_ = bus.Publish(ctx, "ch", "window", models.NewWindowReadyMessage())
	eventually(t, r.Ready, "relay never became ready")

	r.Disarm()
	if r.Ready() {
		t.Fatal("Disarm should clear readiness")
	}
	_ = r.Publish(ctx, models.NewStopMessage())
	if r.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", r.Pending())
	}
}

func TestRelay_CloseDiscardsQueueAndRejectsPublish(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()
	r := NewRelay(bus, "ch", time.Minute, zerolog.Nop())
	if err := r.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	_ = r.Publish(ctx, models.NewStopMessage())
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending after close = %d", r.Pending())
	}
	if err := r.Publish(ctx, models.NewStopMessage()); err != ErrLinkClosed {
		t.Errorf("Publish after close err = %v, want ErrLinkClosed", err)
	}
	if n := bus.Subscribers("ch"); n != 0 {
		t.Errorf("Subscribers after close = %d", n)
	}
}

func TestRelay_EndToEndWithProjector(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()
	defer bus.Close()

	r := openRelay(t, bus, time.Minute)
	// Commands issued before the window exists are held, not lost.
	_ = r.Publish(ctx, models.NewSpeakMessage(models.SpeakCommand{Text: "大家好。", IsStart: true, IsEnd: true}))

	binding := mock.NewConnected(zerolog.Nop())
	p := NewProjector(bus, "ch", binding, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- p.Listen(ctx) }()

	eventually(t, func() bool { return len(binding.CallsOf("speak")) == 1 }, "projector never spoke")
	got := binding.CallsOf("speak")[0]
	if got.Text != "大家好。" || !got.IsStart || !got.IsEnd {
		t.Errorf("speak = %+v", got)
	}

	_ = r.Publish(ctx, models.NewDestroyMessage())
	eventually(t, func() bool { return !binding.IsConnected() }, "destroy did not disconnect")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after cancel")
	}
	if p.State() != LinkClosed {
		t.Errorf("projector link = %v, want CLOSED", p.State())
	}
}

func TestRelay_DisarmDropsHeldCommands(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()
	r := openRelay(t, bus, time.Minute)

	// Projection session that ends before any window shows up.
	_ = r.Publish(ctx, models.NewSpeakMessage(models.SpeakCommand{Text: "你好。", IsStart: true, IsEnd: true}))
	_ = r.Publish(ctx, models.NewDestroyMessage())
	r.Disarm()
	if r.Pending() != 0 {
		t.Fatalf("Pending after Disarm = %d, want 0", r.Pending())
	}

	// The next window must start clean.
	next, _ := bus.Subscribe(ctx, "ch", "window2")
	_ = bus.Publish(ctx, "ch", "window2", models.NewWindowReadyMessage())
	eventually(t, r.Ready, "relay never became ready")
	assertEmpty(t, next)

	_ = r.Publish(ctx, models.NewStopMessage())
	if got := receive(t, next); got.Type != models.MessageStop {
		t.Errorf("got %q, want stop", got.Type)
	}
}

func TestRelay_DestroyIsNeverHeld(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()
	r := openRelay(t, bus, time.Minute)

	window, _ := bus.Subscribe(ctx, "ch", "window")
	_ = r.Publish(ctx, models.NewDestroyMessage())
	if got := receive(t, window); got.Type != models.MessageDestroy {
		t.Errorf("got %q, want destroy", got.Type)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", r.Pending())
	}
	if r.Ready() {
		t.Error("destroy should not release the ready gate")
	}
}

func TestRelay_DisarmCancelsReadyTimer(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()
	r := openRelay(t, bus, 30*time.Millisecond)

	window, _ := bus.Subscribe(ctx, "ch", "window")
	_ = r.Publish(ctx, models.NewStopMessage())
	r.Disarm()

	// Well past the timeout: nothing is flushed and the gate stays shut.
	select {
	case msg := <-window.Messages():
		t.Fatalf("stale command flushed after Disarm: %q", msg.Type)
	case <-time.After(100 * time.Millisecond):
	}
	if r.Ready() {
		t.Error("timer from the ended session released the gate")
	}
}
