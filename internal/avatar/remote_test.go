package avatar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeConn is an in-memory window socket.
type fakeConn struct {
	mu      sync.Mutex
	written []Frame
	in      chan Frame
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan Frame, 16), closed: make(chan struct{})}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v.(Frame))
	return nil
}

func (c *fakeConn) ReadJSON(v interface{}) error {
	select {
	case f := <-c.in:
		*v.(*Frame) = f
		return nil
	case <-c.closed:
		return errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ops []string
	for _, f := range c.written {
		ops = append(ops, f.Op)
	}
	return ops
}

func (c *fakeConn) hasOp(op string) bool {
	for _, o := range c.ops() {
		if o == op {
			return true
		}
	}
	return false
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func statusFrame(s Status) Frame {
	return Frame{Op: OpStatus, Status: &s}
}

func startBinding(t *testing.T) (*RemoteBinding, *fakeConn, context.CancelFunc) {
	t.Helper()
	conn := newFakeConn()
	b := NewRemoteBinding(conn, time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Run(ctx) }()
	return b, conn, cancel
}

func TestRemoteBinding_ConnectHandshake(t *testing.T) {
	b, conn, cancel := startBinding(t)
	defer cancel()

	if err := b.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if b.ConnState() != ConnConnecting {
		t.Errorf("expected connecting, got %v", b.ConnState())
	}

	conn.in <- statusFrame(StatusUninitialized)
	eventually(t, func() bool { return conn.hasOp(OpInit) }, "expected init frame for uninitialized status")

	conn.in <- Frame{Op: OpState, State: "ready"}
	eventually(t, b.IsConnected, "expected binding to become connected")

	if err := b.Speak("你好", true, false); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if !conn.hasOp(OpSpeak) {
		t.Error("expected speak frame")
	}
}

func TestRemoteBinding_InitSentOnce(t *testing.T) {
	b, conn, cancel := startBinding(t)
	defer cancel()

	_ = b.Connect()
	conn.in <- statusFrame(StatusOffline)
	conn.in <- statusFrame(StatusStopped)
	eventually(t, func() bool { return b.Status() == StatusStopped }, "expected status update")

	inits := 0
	for _, op := range conn.ops() {
		if op == OpInit {
			inits++
		}
	}
	if inits != 1 {
		t.Errorf("expected one init frame, got %d", inits)
	}
}

func TestRemoteBinding_DownloadCompleteIsReady(t *testing.T) {
	b, conn, cancel := startBinding(t)
	defer cancel()

	_ = b.Connect()
	conn.in <- Frame{Op: OpDownloadProgress, Progress: 42}
	conn.in <- Frame{Op: OpDownloadProgress, Progress: 100}
	eventually(t, b.IsConnected, "expected download completion to mark ready")
}

func TestRemoteBinding_SpeakRequiresConnection(t *testing.T) {
	b, conn, cancel := startBinding(t)
	defer cancel()

	if err := b.Speak("hello", true, true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Errorf("Stop on idle binding should be a no-op, got %v", err)
	}
	if len(conn.ops()) != 0 {
		t.Errorf("expected no frames, got %v", conn.ops())
	}
}

func TestRemoteBinding_InitErrorSetsErrorState(t *testing.T) {
	b, conn, cancel := startBinding(t)
	defer cancel()

	_ = b.Connect()
	conn.in <- Frame{Op: OpError, Message: "bad app secret"}
	eventually(t, func() bool { return b.ConnState() == ConnError }, "expected error state")
}

func TestRemoteBinding_DisconnectFromAnyState(t *testing.T) {
	b, conn, cancel := startBinding(t)
	defer cancel()

	_ = b.Connect()
	if err := b.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if b.ConnState() != ConnInit || b.IsConnected() {
		t.Errorf("expected init state after disconnect, got %v", b.ConnState())
	}
	if !conn.hasOp(OpDestroy) {
		t.Error("expected destroy frame")
	}

	// A fresh connect is allowed after disconnect.
	if err := b.Connect(); err != nil {
		t.Errorf("reconnect: %v", err)
	}
}

func TestRemoteBinding_RunReleasesOnClose(t *testing.T) {
	conn := newFakeConn()
	b := NewRemoteBinding(conn, time.Hour, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	_ = b.Connect()
	conn.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected read error from Run")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	if err := b.Speak("late", true, true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestRemoteBinding_Subtitle(t *testing.T) {
	b, conn, cancel := startBinding(t)
	defer cancel()

	if err := b.UpdateSubtitle("欢迎"); err != nil {
		t.Fatalf("UpdateSubtitle: %v", err)
	}
	if b.Subtitle() != "欢迎" || !conn.hasOp(OpSubtitle) {
		t.Errorf("subtitle not applied: %q %v", b.Subtitle(), conn.ops())
	}
}

func TestRemoteBinding_ReadyClosesOnce(t *testing.T) {
	b, conn, cancel := startBinding(t)
	defer cancel()

	_ = b.Connect()
	select {
	case <-b.Ready():
		t.Fatal("Ready closed before the avatar reported readiness")
	case <-time.After(20 * time.Millisecond):
	}

	conn.in <- Frame{Op: OpState, State: "ready"}
	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Ready never closed")
	}
	if !b.IsConnected() {
		t.Error("binding should be connected once Ready is closed")
	}

	// A reconnect after destroy must not close the channel again.
	_ = b.Disconnect()
	_ = b.Connect()
	conn.in <- Frame{Op: OpState, State: "ready"}
	eventually(t, b.IsConnected, "expected reconnect")
}
