package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"avatar-control-service/internal/avatar"
	"avatar-control-service/internal/events"
	"avatar-control-service/internal/models"
	"avatar-control-service/internal/observability/logging"
	"avatar-control-service/internal/observability/metrics"
	"avatar-control-service/internal/relay"
	"avatar-control-service/internal/service/chunker"
	"avatar-control-service/internal/service/dispatch"
	"avatar-control-service/internal/service/turn"
)

var (
	ErrClosed    = errors.New("session closed")
	ErrEmptyText = errors.New("text must not be empty")
)

// DropSessionClosed is the outcome reason for updates that reach a closed session.
const DropSessionClosed = "session_closed"

// Config holds per-session settings.
type Config struct {
	ChannelID    string
	Chunker      chunker.Config
	RelayChannel string
	ReadyTimeout time.Duration
}

// RelayChannelFor scopes the broadcast channel to one kiosk channel so
// projection windows of different kiosks never see each other's commands.
func RelayChannelFor(base, channelID string) string {
	if channelID == "" {
		return base
	}
	return base + "." + channelID
}

// Session is the control side of one kiosk channel. Transcript updates are
// processed strictly in arrival order.
type Session struct {
	id     string
	logger zerolog.Logger
	m      *metrics.Metrics

	sw      *dispatch.Switch
	relay   *relay.Relay
	chunker *chunker.Chunker
	turns   *turn.Generator
	turn    *turn.Lifecycle
	events  *emitter

	mu       sync.Mutex
	manager  Manager
	unsubs   []func()
	graphID  string
	remote   *RemoteUser
	turnText strings.Builder
	seq      int
	closed   bool
}

// New creates a session and opens its relay. binding may be nil until a
// control window attaches; sink may be nil to disable events.
func New(ctx context.Context, cfg Config, bus relay.Bus, binding avatar.Binding, sink events.Sink, turns *turn.Generator, logger zerolog.Logger) (*Session, error) {
	if cfg.RelayChannel == "" {
		cfg.RelayChannel = models.DefaultRelayChannel
	}
	if turns == nil {
		turns = turn.New()
	}

	r := relay.NewRelay(bus, RelayChannelFor(cfg.RelayChannel, cfg.ChannelID), cfg.ReadyTimeout, logger)
	if err := r.Open(ctx); err != nil {
		return nil, err
	}

	s := &Session{
		id:     cfg.ChannelID,
		logger: logger,
		m:      metrics.DefaultMetrics,
		sw:     dispatch.New(binding, r, logger),
		relay:  r,
		turns:  turns,
		turn:   turn.NewLifecycle(),
	}
	if sink != nil {
		s.events = newEmitter(sink, logger)
	}
	s.chunker = chunker.New(cfg.Chunker, tracker{s}, logger)
	return s, nil
}

// ID returns the channel id.
func (s *Session) ID() string {
	return s.id
}

// Attach subscribes the session to a session manager's events, replacing
// any previous manager.
func (s *Session) Attach(m Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detachLocked()
	s.manager = m
	s.unsubs = []func(){
		m.OnTextChanged(func(u models.TranscriptUpdate) { s.HandleUpdate(u) }),
		m.OnRemoteUserChanged(s.onRemoteUser),
		m.OnUserSpeaking(s.onUserSpeaking),
	}
}

// Detach removes the session's listeners from its manager.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
}

func (s *Session) detachLocked() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.manager = nil
}

func (s *Session) onRemoteUser(u RemoteUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = &u
	s.logger.Info().Str("user_id", u.UserID).Bool("audio", u.HasAudio).Bool("video", u.HasVideo).Msg("Remote user changed")
}

// onUserSpeaking lets the room know the avatar yields when the user barges in.
func (s *Session) onUserSpeaking(speaking bool) {
	if !speaking {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSpeakingLocked(false)
}

func (s *Session) setSpeakingLocked(speaking bool) {
	if s.manager != nil {
		s.manager.SetDigitalHumanSpeaking(speaking)
	}
}

// HandleUpdate feeds one transcript update through the chunker.
func (s *Session) HandleUpdate(u models.TranscriptUpdate) chunker.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return chunker.Outcome{Action: chunker.ActionDropped, Reason: DropSessionClosed}
	}
	s.m.RecordTranscriptUpdate(string(u.SpeakerRole))
	return s.chunker.OnTranscriptUpdate(u)
}

// Speak sends text as one complete utterance, bypassing the chunker.
func (s *Session) Speak(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.speakLocked(models.SpeakCommand{Text: text, IsStart: true, IsEnd: true})
	return nil
}

// Subtitle shows text on the active avatar.
func (s *Session) Subtitle(text string) {
	s.sw.Subtitle(text)
}

// ExternalApp asks the active avatar window to open url.
func (s *Session) ExternalApp(url string) {
	s.sw.ExternalApp(url)
}

// Publish sends a raw relay message to the channel's projection windows,
// subject to the same ready gate as speech.
func (s *Session) Publish(ctx context.Context, msg models.RelayMessage) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.relay.Publish(ctx, msg)
}

// EnterProjection disconnects the local avatar and routes commands over
// the relay.
func (s *Session) EnterProjection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.sw.IsProjectionMode() {
		return nil
	}

	if b := s.sw.Binding(); b != nil {
		if err := b.Disconnect(); err != nil {
			s.logger.Warn().Err(err).Msg("Local avatar disconnect failed")
		}
	}
	s.sw.SetProjectionMode(true)
	s.logger.Info().Msg("Projection mode on")
	return nil
}

// ExitProjection tears down the projection window's avatar and returns to
// the local one.
func (s *Session) ExitProjection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.sw.IsProjectionMode() {
		return nil
	}

	s.sw.Destroy()
	s.relay.Disarm()
	s.sw.SetProjectionMode(false)
	if b := s.sw.Binding(); b != nil {
		if err := b.Connect(); err != nil {
			s.logger.Warn().Err(err).Msg("Local avatar reconnect failed")
		}
	}
	s.logger.Info().Msg("Projection mode off")
	return nil
}

// SelectGraph switches the conversation graph, starting the chunker clean.
func (s *Session) SelectGraph(graphID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graphID == graphID {
		return
	}
	s.graphID = graphID
	s.chunker.Reset("graph_changed")
	s.logger.Info().Str("graph_id", graphID).Msg("Graph selected")
}

// AttachBinding makes b the local avatar binding.
func (s *Session) AttachBinding(b avatar.Binding) {
	s.sw.SetBinding(b)
}

// DetachBinding clears the local binding if it is still b.
func (s *Session) DetachBinding(b avatar.Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sw.Binding() == b {
		s.sw.SetBinding(nil)
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	ChannelID        string        `json:"channelId"`
	GraphID          string        `json:"graphId,omitempty"`
	ProjectionMode   bool          `json:"projectionMode"`
	RelayReady       bool          `json:"relayReady"`
	BindingConnected bool          `json:"bindingConnected"`
	TurnID           string        `json:"turnId,omitempty"`
	TurnState        string        `json:"turnState"`
	TurnChunks       int           `json:"turnChunks"`
	Chunker          chunker.State `json:"chunker"`
	RemoteUser       *RemoteUser   `json:"remoteUser,omitempty"`
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ChannelID:      s.id,
		GraphID:        s.graphID,
		ProjectionMode: s.sw.IsProjectionMode(),
		RelayReady:     s.relay.Ready(),
		TurnID:         s.turn.TurnId(),
		TurnState:      s.turn.State().String(),
		TurnChunks:     s.turn.Chunks(),
		Chunker:        s.chunker.State(),
	}
	if b := s.sw.Binding(); b != nil {
		st.BindingConnected = b.IsConnected()
	}
	if s.remote != nil {
		r := *s.remote
		st.RemoteUser = &r
	}
	return st
}

// Close detaches the session, closes its relay and flushes its events.
// Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.detachLocked()
	s.mu.Unlock()

	err := s.relay.Close()
	if s.events != nil {
		s.events.close()
	}
	return err
}

func (s *Session) mode() string {
	if s.sw.IsProjectionMode() {
		return "projection"
	}
	return "local"
}

// speakLocked dispatches one chunk and keeps the turn bookkeeping. Caller
// holds s.mu.
func (s *Session) speakLocked(cmd models.SpeakCommand) {
	if cmd.IsStart {
		if s.turn.State() == turn.StateSpeaking {
			// The previous turn was restarted before its end marker.
			s.endTurnLocked(models.EventTurnInterrupted)
		}
		turnID := s.turns.Next(s.id)
		s.turn.Begin(turnID)
		turnLogger := logging.WithTurn("session", s.id, turnID)
		turnLogger.Debug().Str("mode", s.mode()).Msg("Agent turn started")
		s.turnText.Reset()
		s.seq = 0
		s.setSpeakingLocked(true)
	}
	if err := s.turn.Chunk(); err != nil {
		s.logger.Debug().Err(err).Msg("Chunk outside a turn")
	}
	s.seq++
	s.turnText.WriteString(cmd.Text)

	s.sw.Speak(cmd)

	if s.events != nil {
		s.events.speak(models.SpeakChunkEvent{
			EventType: models.EventSpeakChunk,
			ChannelID: s.id,
			TurnID:    s.turn.TurnId(),
			Seq:       s.seq,
			Text:      cmd.Text,
			IsStart:   cmd.IsStart,
			IsEnd:     cmd.IsEnd,
			Mode:      s.mode(),
			Timestamp: time.Now().UnixMilli(),
		})
	}

	if cmd.IsEnd {
		if err := s.turn.Finish(); err == nil {
			s.publishTurnLocked(models.EventTurnFinished)
		}
		s.setSpeakingLocked(false)
	}
}

// stopLocked interrupts the avatar. Caller holds s.mu.
func (s *Session) stopLocked() {
	s.sw.Stop()
	s.endTurnLocked(models.EventTurnInterrupted)
	s.setSpeakingLocked(false)
}

func (s *Session) endTurnLocked(eventType string) {
	if s.turn.Interrupt() {
		s.publishTurnLocked(eventType)
	}
}

func (s *Session) publishTurnLocked(eventType string) {
	if s.events == nil {
		return
	}
	s.events.turn(models.TurnEvent{
		EventType: eventType,
		ChannelID: s.id,
		TurnID:    s.turn.TurnId(),
		Chunks:    s.turn.Chunks(),
		Text:      s.turnText.String(),
		Timestamp: time.Now().UnixMilli(),
	})
}

// tracker is the chunker's dispatcher. The chunker only calls it from
// inside HandleUpdate, so s.mu is already held.
type tracker struct {
	s *Session
}

func (t tracker) Speak(cmd models.SpeakCommand) { t.s.speakLocked(cmd) }
func (t tracker) Stop()                         { t.s.stopLocked() }
func (t tracker) Ready() bool                   { return t.s.sw.Ready() }
