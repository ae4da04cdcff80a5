package relay

import (
	"errors"
	"fmt"
	"sync"
)

// LinkState is the lifecycle state of one window's attachment to the channel.
type LinkState int

const (
	// LinkUninitialized - window mounted, not yet subscribed.
	LinkUninitialized LinkState = iota
	// LinkListening - subscribed, messages flow.
	LinkListening
	// LinkClosed - unmounted. Terminal.
	LinkClosed
)

// String returns the string representation of the state.
func (s LinkState) String() string {
	switch s {
	case LinkUninitialized:
		return "UNINITIALIZED"
	case LinkListening:
		return "LISTENING"
	case LinkClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Errors for invalid link transitions.
var (
	ErrLinkClosed       = errors.New("relay link is closed")
	ErrAlreadyListening = errors.New("relay link is already listening")
)

// Link tracks the mount/unmount lifecycle of a window on the relay channel.
// Thread-safe.
//
//	UNINITIALIZED → LISTENING → CLOSED
//	      │                        ▲
//	      └────────── Close() ─────┘
type Link struct {
	mu    sync.RWMutex
	id    string
	state LinkState
}

// NewLink creates a link in UNINITIALIZED state.
func NewLink(id string) *Link {
	return &Link{id: id}
}

// ID returns the origin id of the window.
func (l *Link) ID() string {
	return l.id
}

// State returns the current state.
func (l *Link) State() LinkState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Listen transitions UNINITIALIZED → LISTENING.
func (l *Link) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case LinkUninitialized:
		l.state = LinkListening
		return nil
	case LinkListening:
		return ErrAlreadyListening
	default:
		return ErrLinkClosed
	}
}

// Close moves the link to CLOSED. Returns false if it was already closed.
func (l *Link) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return false
	}
	l.state = LinkClosed
	return true
}
