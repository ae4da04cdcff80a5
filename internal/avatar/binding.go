// Package avatar models the avatar rendering binding consumed by the control core.
package avatar

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a command reaches a binding that is not ready.
var ErrNotConnected = errors.New("avatar binding not connected")

// Binding is the capability set of an avatar rendering binding.
type Binding interface {
	Speak(text string, isStart, isEnd bool) error
	Stop() error
	IsConnected() bool
	Connect() error
	Disconnect() error
	Status() Status
	UpdateSubtitle(text string) error
	OpenExternalApp(url string) error
}

// Status is the rendering SDK's own status code.
type Status int

const (
	StatusUninitialized Status = -1
	StatusOnline        Status = 0
	StatusOffline       Status = 1
	StatusNetworkOn     Status = 2
	StatusNetworkOff    Status = 3
	StatusClose         Status = 4
	StatusInvisible     Status = 5
	StatusVisible       Status = 6
	StatusStopped       Status = 7
)

// String returns the SDK name of the status.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	case StatusNetworkOn:
		return "network_on"
	case StatusNetworkOff:
		return "network_off"
	case StatusClose:
		return "close"
	case StatusInvisible:
		return "invisible"
	case StatusVisible:
		return "visible"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Ready reports whether the avatar can take speak commands.
func (s Status) Ready() bool {
	return s == StatusOnline || s == StatusVisible
}

// NeedsInit reports whether the SDK instance must be explicitly initialized.
func (s Status) NeedsInit() bool {
	switch s {
	case StatusUninitialized, StatusOffline, StatusClose, StatusStopped:
		return true
	}
	return false
}

// ConnState is the binding's connection lifecycle as shown to operators.
type ConnState int

const (
	ConnInit ConnState = iota
	ConnConnecting
	ConnConnected
	ConnError
)

// String returns the display name of the state.
func (c ConnState) String() string {
	switch c {
	case ConnInit:
		return "init"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnError:
		return "error"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(c))
	}
}
