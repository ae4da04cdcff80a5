package turn

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of an agent turn.
type State int

const (
	// StateIdle - no turn in progress.
	StateIdle State = iota
	// StateSpeaking - first chunk sent, more may follow.
	StateSpeaking
	// StateFinished - end marker sent.
	StateFinished
	// StateInterrupted - the user barged in before the end marker.
	// Terminal; the rest of the turn is discarded.
	StateInterrupted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSpeaking:
		return "SPEAKING"
	case StateFinished:
		return "FINISHED"
	case StateInterrupted:
		return "INTERRUPTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the turn is over (FINISHED or INTERRUPTED).
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateInterrupted
}

// Errors for invalid state transitions.
var (
	ErrTurnNotStarted = errors.New("turn not started")
	ErrTurnOver       = errors.New("turn is over")
)

// Lifecycle tracks the current turn of one channel. Thread-safe.
//
//	IDLE → SPEAKING → FINISHED
//	          │
//	          └── Interrupt() ──→ INTERRUPTED
//
// Begin() from any state starts a new turn with a fresh ID.
type Lifecycle struct {
	mu     sync.RWMutex
	turnId string
	state  State
	chunks int
}

// NewLifecycle creates an idle lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// TurnId returns the current (or last) turn ID.
func (l *Lifecycle) TurnId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.turnId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Chunks returns the number of chunks sent in the current turn.
func (l *Lifecycle) Chunks() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chunks
}

// Begin starts a new turn.
func (l *Lifecycle) Begin(turnId string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turnId = turnId
	l.state = StateSpeaking
	l.chunks = 0
}

// Chunk records one chunk of the current turn.
func (l *Lifecycle) Chunk() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateSpeaking:
		l.chunks++
		return nil
	case StateIdle:
		return ErrTurnNotStarted
	default:
		return ErrTurnOver
	}
}

// Finish transitions SPEAKING → FINISHED.
func (l *Lifecycle) Finish() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateSpeaking:
		l.state = StateFinished
		return nil
	case StateIdle:
		return ErrTurnNotStarted
	default:
		return ErrTurnOver
	}
}

// Interrupt transitions SPEAKING → INTERRUPTED. Returns false if no turn
// was in progress.
func (l *Lifecycle) Interrupt() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateSpeaking {
		return false
	}
	l.state = StateInterrupted
	return true
}
