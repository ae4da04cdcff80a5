// Package chunker turns a cumulative, re-entrant transcript stream into
// speakable chunks for an avatar binding.
package chunker

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"avatar-control-service/internal/models"
	"avatar-control-service/internal/observability/metrics"
)

// Punctuation is the clause and sentence boundary class that forces a flush.
const Punctuation = "，。！？；：、,.!?;:"

// RegressionPolicy decides what a shrinking agent transcript means.
type RegressionPolicy int

const (
	// RegressionStrict treats any shrink as a restarted utterance and resets.
	RegressionStrict RegressionPolicy = iota
	// RegressionTolerant resets only on a large shrink and drops small ones as noise.
	RegressionTolerant
)

// String returns the config name of the policy.
func (p RegressionPolicy) String() string {
	switch p {
	case RegressionStrict:
		return "strict"
	case RegressionTolerant:
		return "tolerant"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(p))
	}
}

// ParseRegressionPolicy maps a config value to a policy. Unknown values are strict.
func ParseRegressionPolicy(s string) RegressionPolicy {
	if strings.EqualFold(s, "tolerant") {
		return RegressionTolerant
	}
	return RegressionStrict
}

// Config holds the chunking policy.
type Config struct {
	// ChunkSize is the steady-state flush threshold in runes.
	ChunkSize int
	// FirstChunkSize, when > 0, replaces ChunkSize for the first chunk of a turn.
	FirstChunkSize int
	Regression     RegressionPolicy
	// RegressionTolerance is the shrink (in runes) a tolerant chunker ignores.
	RegressionTolerance int
	// RestartFloor: under the tolerant policy, a transcript shorter than this
	// always counts as a restart.
	RestartFloor int
}

// DefaultConfig returns the shipped policy: size 6, strict regression.
func DefaultConfig() Config {
	return Config{
		ChunkSize:           6,
		Regression:          RegressionStrict,
		RegressionTolerance: 10,
		RestartFloor:        10,
	}
}

// Dispatcher receives the chunker's effects.
type Dispatcher interface {
	// Speak forwards one chunk. Fire and forget.
	Speak(cmd models.SpeakCommand)
	// Stop interrupts the avatar's current speech.
	Stop()
	// Ready reports whether agent text can be spoken right now. A projection
	// dispatcher is always ready; a local one is ready when its binding is connected.
	Ready() bool
}

// Action is what an update did to the chunker.
type Action int

const (
	ActionBuffered Action = iota
	ActionEmitted
	ActionInterrupted
	ActionUserReset
	ActionDropped
)

// String returns the name of the action.
func (a Action) String() string {
	switch a {
	case ActionBuffered:
		return "BUFFERED"
	case ActionEmitted:
		return "EMITTED"
	case ActionInterrupted:
		return "INTERRUPTED"
	case ActionUserReset:
		return "USER_RESET"
	case ActionDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(a))
	}
}

// Drop reasons.
const (
	DropNotConnected  = "not_connected"
	DropSmallShrink   = "small_regression"
	DropNoNewContent  = "no_new_content"
	DropEmptyText     = "empty_text"
	DropUnknownSender = "unknown_role"
)

// Outcome reports the result of one update.
type Outcome struct {
	Action  Action
	Reason  string // set for ActionDropped
	Command *models.SpeakCommand
}

// State is a snapshot of the chunker's per-turn fields.
type State struct {
	LastEmittedText string
	PendingBuffer   string
	IsFirstChunk    bool
	IsInterrupted   bool
}

// Chunker is the per-window streaming state machine. Updates are processed
// strictly in call order; the mutex serializes callers.
type Chunker struct {
	mu     sync.Mutex
	cfg    Config
	out    Dispatcher
	logger zerolog.Logger
	m      *metrics.Metrics

	lastEmitted string
	lastRunes   int
	pending     string
	firstChunk  bool
	interrupted bool
}

// New creates a chunker that dispatches to out.
func New(cfg Config, out Dispatcher, logger zerolog.Logger) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.RegressionTolerance <= 0 {
		cfg.RegressionTolerance = DefaultConfig().RegressionTolerance
	}
	if cfg.RestartFloor <= 0 {
		cfg.RestartFloor = DefaultConfig().RestartFloor
	}
	return &Chunker{
		cfg:        cfg,
		out:        out,
		logger:     logger,
		m:          metrics.DefaultMetrics,
		firstChunk: true,
	}
}

// State returns a snapshot of the current fields.
func (c *Chunker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		LastEmittedText: c.lastEmitted,
		PendingBuffer:   c.pending,
		IsFirstChunk:    c.firstChunk,
		IsInterrupted:   c.interrupted,
	}
}

// Reset returns every field to its initial value. Used when the active
// graph or session changes.
func (c *Chunker) Reset(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(reason)
	c.interrupted = false
}

// OnTranscriptUpdate feeds one textChanged event through the state machine.
func (c *Chunker) OnTranscriptUpdate(u models.TranscriptUpdate) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch u.SpeakerRole {
	case models.RoleUser:
		return c.onUser()
	case models.RoleAgent:
		return c.onAgent(u)
	default:
		return c.drop(DropUnknownSender, u)
	}
}

func (c *Chunker) onUser() Outcome {
	action := ActionUserReset
	if !c.interrupted {
		c.logger.Debug().Msg("User speech started, interrupting avatar")
		c.out.Stop()
		c.interrupted = true
		c.m.RecordInterrupt()
		action = ActionInterrupted
	}
	// Pending agent text is discarded, never flushed.
	c.firstChunk = true
	c.lastEmitted = ""
	c.lastRunes = 0
	c.pending = ""
	return Outcome{Action: action}
}

func (c *Chunker) onAgent(u models.TranscriptUpdate) Outcome {
	if c.firstChunk {
		c.interrupted = false
	}

	if !c.out.Ready() {
		return c.drop(DropNotConnected, u)
	}
	if u.Text == "" {
		return c.drop(DropEmptyText, u)
	}

	textRunes := utf8.RuneCountInString(u.Text)
	if textRunes < c.lastRunes {
		diff := c.lastRunes - textRunes
		restart := c.cfg.Regression == RegressionStrict ||
			diff > c.cfg.RegressionTolerance ||
			textRunes < c.cfg.RestartFloor
		if !restart {
			return c.drop(DropSmallShrink, u)
		}
		c.logger.Debug().
			Int("previousRunes", c.lastRunes).
			Int("currentRunes", textRunes).
			Str("policy", c.cfg.Regression.String()).
			Msg("Agent transcript regressed, starting new utterance")
		c.resetLocked("regression")
	}

	if c.lastEmitted == "" && !c.firstChunk {
		c.logger.Warn().Msg("Empty emitted text with first-chunk flag cleared, forcing start")
		c.firstChunk = true
	}

	newContent := string([]rune(u.Text)[c.lastRunes:])
	if newContent == "" && !u.IsFinal {
		return c.drop(DropNoNewContent, u)
	}

	c.pending += newContent
	c.lastEmitted = u.Text
	c.lastRunes = textRunes

	trigger := c.flushTrigger(u.IsFinal)
	if trigger == "" {
		return Outcome{Action: ActionBuffered}
	}

	cmd := models.SpeakCommand{
		Text:    c.pending,
		IsStart: c.firstChunk,
		IsEnd:   u.IsFinal,
	}
	c.out.Speak(cmd)
	c.m.RecordChunk(trigger, utf8.RuneCountInString(cmd.Text))
	c.logger.Debug().
		Str("text", cmd.Text).
		Bool("isStart", cmd.IsStart).
		Bool("isEnd", cmd.IsEnd).
		Str("trigger", trigger).
		Msg("Speak chunk dispatched")

	c.pending = ""
	if cmd.IsStart {
		c.firstChunk = false
	}
	if u.IsFinal {
		c.resetLocked("final")
	}
	return Outcome{Action: ActionEmitted, Command: &cmd}
}

// flushTrigger names the first flush condition that holds, or "".
func (c *Chunker) flushTrigger(final bool) string {
	if final {
		return "final"
	}
	if strings.ContainsAny(c.pending, Punctuation) {
		return "punctuation"
	}
	threshold := c.cfg.ChunkSize
	if c.firstChunk && c.cfg.FirstChunkSize > 0 {
		threshold = c.cfg.FirstChunkSize
	}
	if utf8.RuneCountInString(c.pending) >= threshold {
		return "size"
	}
	return ""
}

func (c *Chunker) resetLocked(reason string) {
	c.firstChunk = true
	c.lastEmitted = ""
	c.lastRunes = 0
	c.pending = ""
	c.m.RecordChunkerReset(reason)
}

func (c *Chunker) drop(reason string, u models.TranscriptUpdate) Outcome {
	c.m.RecordUpdateDropped(reason)
	c.logger.Debug().
		Str("reason", reason).
		Str("role", string(u.SpeakerRole)).
		Int("textLen", len(u.Text)).
		Bool("isFinal", u.IsFinal).
		Msg("Transcript update dropped")
	return Outcome{Action: ActionDropped, Reason: reason}
}
