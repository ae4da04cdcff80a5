// Package models defines the data structures that flow through the avatar control core.
package models

// SpeakerRole identifies who produced a transcript update.
type SpeakerRole string

const (
	// RoleUser is the human talking to the kiosk.
	RoleUser SpeakerRole = "USER"
	// RoleAgent is the language-model backend.
	RoleAgent SpeakerRole = "AGENT"
)

// Valid reports whether r is a known role.
func (r SpeakerRole) Valid() bool {
	return r == RoleUser || r == RoleAgent
}

// TranscriptUpdate is one textChanged event from the realtime layer.
// Text is cumulative for the utterance, not a delta.
type TranscriptUpdate struct {
	ChannelID   string      `json:"channelId"`
	SpeakerRole SpeakerRole `json:"role"`
	Text        string      `json:"text"`
	IsFinal     bool        `json:"isFinal"`
	Timestamp   int64       `json:"timestamp"`
}

// SpeakCommand is the unit sent to an avatar binding, locally or across the relay.
type SpeakCommand struct {
	Text    string `json:"text"`
	IsStart bool   `json:"isStart"`
	IsEnd   bool   `json:"isEnd"`
}
