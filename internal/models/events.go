package models

// Event types published to Kafka.
const (
	EventSpeakChunk      = "avatar.speak.chunk"
	EventTurnFinished    = "avatar.turn.finished"
	EventTurnInterrupted = "avatar.turn.interrupted"
)

// SpeakChunkEvent records one chunk handed to an avatar.
type SpeakChunkEvent struct {
	EventType string `json:"eventType"`
	ChannelID string `json:"channelId"`
	TurnID    string `json:"turnId"`
	Seq       int    `json:"seq"`
	Text      string `json:"text"`
	IsStart   bool   `json:"isStart"`
	IsEnd     bool   `json:"isEnd"`
	Mode      string `json:"mode"`
	Timestamp int64  `json:"timestamp"`
}

// TurnEvent records the end of an agent turn, spoken in full or cut off.
type TurnEvent struct {
	EventType string `json:"eventType"`
	ChannelID string `json:"channelId"`
	TurnID    string `json:"turnId"`
	Chunks    int    `json:"chunks"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}
