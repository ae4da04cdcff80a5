package avatar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Conn is the subset of *websocket.Conn a RemoteBinding needs.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// Frame ops exchanged with the browser window that hosts the rendering SDK.
const (
	OpSpeak            = "speak"
	OpIdle             = "idle"
	OpConnect          = "connect"
	OpInit             = "init"
	OpDestroy          = "destroy"
	OpSubtitle         = "subtitle"
	OpExternalApp      = "external_app"
	OpGetStatus        = "get_status"
	OpStatus           = "status"
	OpState            = "state"
	OpDownloadProgress = "download_progress"
	OpError            = "error"
	OpClosed           = "closed"
)

// Frame is one JSON message on the window socket.
type Frame struct {
	Op       string  `json:"op"`
	Text     string  `json:"text,omitempty"`
	IsStart  bool    `json:"isStart,omitempty"`
	IsEnd    bool    `json:"isEnd,omitempty"`
	URL      string  `json:"url,omitempty"`
	Status   *Status `json:"status,omitempty"`
	State    string  `json:"state,omitempty"`
	Progress float64 `json:"progress,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// RemoteBinding drives an avatar SDK instance living in a browser window,
// over that window's WebSocket.
type RemoteBinding struct {
	conn         Conn
	pollInterval time.Duration
	logger       zerolog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	state    ConnState
	status   Status
	subtitle string
	watcher  *Watcher
	initSent bool
	closed   bool

	ready     chan struct{}
	readyOnce sync.Once
}

// NewRemoteBinding wraps a window connection. Call Run to start reading.
func NewRemoteBinding(conn Conn, pollInterval time.Duration, logger zerolog.Logger) *RemoteBinding {
	return &RemoteBinding{
		conn:         conn,
		pollInterval: pollInterval,
		logger:       logger,
		state:        ConnInit,
		status:       StatusUninitialized,
		ready:        make(chan struct{}),
	}
}

// Ready is closed the first time the avatar finishes connecting.
func (b *RemoteBinding) Ready() <-chan struct{} {
	return b.ready
}

// Run reads frames from the window until the connection fails or ctx ends.
// The readiness poll is always released on return.
func (b *RemoteBinding) Run(ctx context.Context) error {
	defer b.teardown()

	go func() {
		<-ctx.Done()
		_ = b.conn.Close()
	}()

	for {
		var f Frame
		if err := b.conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read window frame: %w", err)
		}
		b.handleFrame(f)
	}
}

func (b *RemoteBinding) handleFrame(f Frame) {
	switch f.Op {
	case OpStatus:
		if f.Status == nil {
			return
		}
		b.onStatus(*f.Status)
	case OpState:
		b.logger.Debug().Str("state", f.State).Msg("Avatar state changed")
		if f.State == "ready" || f.State == "idle" {
			b.notifyReady()
		}
	case OpDownloadProgress:
		if f.Progress >= 100 {
			b.notifyReady()
		}
	case OpError:
		b.logger.Error().Str("message", f.Message).Msg("Avatar SDK init failed")
		b.mu.Lock()
		b.state = ConnError
		w := b.watcher
		b.watcher = nil
		b.mu.Unlock()
		if w != nil {
			w.Stop()
		}
	case OpClosed:
		b.logger.Info().Msg("Avatar SDK connection closed")
		b.mu.Lock()
		b.state = ConnInit
		b.status = StatusClose
		b.mu.Unlock()
	default:
		b.logger.Debug().Str("op", f.Op).Msg("Ignoring unknown window frame")
	}
}

func (b *RemoteBinding) onStatus(s Status) {
	b.mu.Lock()
	b.status = s
	sendInit := b.state == ConnConnecting && s.NeedsInit() && !b.initSent
	if sendInit {
		b.initSent = true
	}
	b.mu.Unlock()

	if sendInit {
		b.logger.Info().Str("status", s.String()).Msg("Avatar requires initialization")
		if err := b.write(Frame{Op: OpInit}); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to send init")
		}
	}
}

func (b *RemoteBinding) notifyReady() {
	b.mu.Lock()
	w := b.watcher
	b.mu.Unlock()
	if w != nil {
		w.NotifyReady()
	}
}

func (b *RemoteBinding) markConnected(path string) {
	b.mu.Lock()
	connected := b.state == ConnConnecting
	if connected {
		b.state = ConnConnected
	}
	b.mu.Unlock()
	b.logger.Info().Str("path", path).Msg("Avatar ready")
	if connected {
		b.readyOnce.Do(func() { close(b.ready) })
	}
}

// pollStatus asks the window for a fresh status and returns the cached one.
func (b *RemoteBinding) pollStatus() (Status, error) {
	if err := b.write(Frame{Op: OpGetStatus}); err != nil {
		return StatusUninitialized, err
	}
	return b.Status(), nil
}

// Connect starts the SDK instance in the window. No-op when one exists.
func (b *RemoteBinding) Connect() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrNotConnected
	}
	if b.state == ConnConnecting || b.state == ConnConnected {
		b.mu.Unlock()
		b.logger.Warn().Msg("Avatar already initializing or initialized, skipping")
		return nil
	}
	b.state = ConnConnecting
	b.initSent = false
	w := NewWatcher(b.pollInterval, b.pollStatus, b.markConnected)
	w.OnError(func(err error) {
		b.logger.Error().Err(err).Msg("Avatar status poll failed")
	})
	b.watcher = w
	b.mu.Unlock()

	if err := b.write(Frame{Op: OpConnect}); err != nil {
		b.mu.Lock()
		b.state = ConnError
		b.watcher = nil
		b.mu.Unlock()
		return fmt.Errorf("connect avatar: %w", err)
	}
	w.Start()
	return nil
}

// Disconnect destroys the SDK instance. It works from any state so a
// half-initialized instance can be cleaned up.
func (b *RemoteBinding) Disconnect() error {
	b.mu.Lock()
	w := b.watcher
	b.watcher = nil
	b.state = ConnInit
	b.status = StatusUninitialized
	b.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	return b.write(Frame{Op: OpDestroy})
}

// Speak forwards a chunk to the SDK.
func (b *RemoteBinding) Speak(text string, isStart, isEnd bool) error {
	if !b.IsConnected() {
		b.logger.Warn().Str("text", text).Msg("Avatar not connected, cannot speak")
		return ErrNotConnected
	}
	return b.write(Frame{Op: OpSpeak, Text: text, IsStart: isStart, IsEnd: isEnd})
}

// Stop interrupts current speech and returns the avatar to idle.
func (b *RemoteBinding) Stop() error {
	if !b.IsConnected() {
		return nil
	}
	return b.write(Frame{Op: OpIdle})
}

// UpdateSubtitle sets the caption shown under the avatar.
func (b *RemoteBinding) UpdateSubtitle(text string) error {
	b.mu.Lock()
	b.subtitle = text
	b.mu.Unlock()
	return b.write(Frame{Op: OpSubtitle, Text: text})
}

// OpenExternalApp asks the window to embed an external tool.
func (b *RemoteBinding) OpenExternalApp(url string) error {
	return b.write(Frame{Op: OpExternalApp, URL: url})
}

// IsConnected reports whether the SDK instance is ready.
func (b *RemoteBinding) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == ConnConnected
}

// Status returns the last status the window reported.
func (b *RemoteBinding) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// ConnState returns the connection lifecycle state.
func (b *RemoteBinding) ConnState() ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subtitle returns the current caption.
func (b *RemoteBinding) Subtitle() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subtitle
}

func (b *RemoteBinding) write(f Frame) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrNotConnected
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Op, err)
	}
	return nil
}

func (b *RemoteBinding) teardown() {
	b.mu.Lock()
	w := b.watcher
	b.watcher = nil
	b.closed = true
	b.state = ConnInit
	b.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}
