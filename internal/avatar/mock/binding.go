// Package mock provides an in-memory avatar binding for headless runs and
// tests. It records every command and answers readiness like a real SDK
// instance that connects immediately.
package mock

import (
	"sync"

	"github.com/rs/zerolog"

	"avatar-control-service/internal/avatar"
)

// Call is one recorded binding command.
type Call struct {
	Op      string
	Text    string
	IsStart bool
	IsEnd   bool
}

// Binding implements avatar.Binding without a rendering SDK.
type Binding struct {
	mu        sync.Mutex
	connected bool
	status    avatar.Status
	calls     []Call
	logger    zerolog.Logger
}

// New creates a disconnected mock binding. A zero logger discards output.
func New(logger zerolog.Logger) *Binding {
	return &Binding{status: avatar.StatusUninitialized, logger: logger}
}

// NewConnected creates a mock binding that is already connected.
func NewConnected(logger zerolog.Logger) *Binding {
	b := New(logger)
	b.connected = true
	b.status = avatar.StatusOnline
	return b
}

func (b *Binding) record(c Call) {
	b.calls = append(b.calls, c)
	b.logger.Debug().Str("op", c.Op).Str("text", c.Text).Bool("is_start", c.IsStart).Bool("is_end", c.IsEnd).Msg("Avatar command")
}

// Speak records a speak command.
func (b *Binding) Speak(text string, isStart, isEnd bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return avatar.ErrNotConnected
	}
	b.record(Call{Op: "speak", Text: text, IsStart: isStart, IsEnd: isEnd})
	return nil
}

// Stop records a stop command.
func (b *Binding) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Call{Op: "stop"})
	return nil
}

// IsConnected reports the simulated connection.
func (b *Binding) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Connect marks the binding connected.
func (b *Binding) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	b.status = avatar.StatusOnline
	b.record(Call{Op: "connect"})
	return nil
}

// Disconnect marks the binding disconnected.
func (b *Binding) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.status = avatar.StatusStopped
	b.record(Call{Op: "disconnect"})
	return nil
}

// Status returns the simulated SDK status.
func (b *Binding) Status() avatar.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// UpdateSubtitle records a subtitle update.
func (b *Binding) UpdateSubtitle(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Call{Op: "subtitle", Text: text})
	return nil
}

// OpenExternalApp records an external app request.
func (b *Binding) OpenExternalApp(url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Call{Op: "external_app", Text: url})
	return nil
}

// Calls returns a copy of the recorded commands.
func (b *Binding) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallsOf returns the recorded commands with the given op.
func (b *Binding) CallsOf(op string) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the recorded commands.
func (b *Binding) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

var _ avatar.Binding = (*Binding)(nil)
