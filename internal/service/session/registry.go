package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"avatar-control-service/internal/avatar"
	"avatar-control-service/internal/events"
	"avatar-control-service/internal/observability/logging"
	"avatar-control-service/internal/relay"
	"avatar-control-service/internal/service/chunker"
	"avatar-control-service/internal/service/turn"
)

// RegistryConfig holds the settings every session is created with.
type RegistryConfig struct {
	Chunker      chunker.Config
	RelayChannel string
	ReadyTimeout time.Duration
	// NewBinding, when set, gives a new session its initial local binding.
	NewBinding func(channelID string) avatar.Binding
}

type entry struct {
	session *Session
	hub     *Hub
}

// Registry owns one session and one hub per channel id.
type Registry struct {
	cfg   RegistryConfig
	bus   relay.Bus
	sink  events.Sink
	turns *turn.Generator

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig, bus relay.Bus, sink events.Sink) *Registry {
	return &Registry{
		cfg:     cfg,
		bus:     bus,
		sink:    sink,
		turns:   turn.New(),
		entries: make(map[string]*entry),
	}
}

// Get returns the channel's session and hub, creating them on first use.
func (r *Registry) Get(ctx context.Context, channelID string) (*Session, *Hub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[channelID]; ok {
		return e.session, e.hub, nil
	}

	logger := logging.WithChannel("session", channelID)
	var binding avatar.Binding
	if r.cfg.NewBinding != nil {
		binding = r.cfg.NewBinding(channelID)
	}

	s, err := New(ctx, Config{
		ChannelID:    channelID,
		Chunker:      r.cfg.Chunker,
		RelayChannel: r.cfg.RelayChannel,
		ReadyTimeout: r.cfg.ReadyTimeout,
	}, r.bus, binding, r.sink, r.turns, logger)
	if err != nil {
		return nil, nil, err
	}

	hub := NewHub()
	s.Attach(hub)
	r.entries[channelID] = &entry{session: s, hub: hub}
	logger.Info().Msg("Session created")
	return s, hub, nil
}

// Lookup returns an existing session.
func (r *Registry) Lookup(channelID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[channelID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Channels returns the ids of all open sessions, sorted.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove closes and forgets one session.
func (r *Registry) Remove(channelID string) error {
	r.mu.Lock()
	e, ok := r.entries[channelID]
	delete(r.entries, channelID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return e.session.Close()
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for id, e := range entries {
		if err := e.session.Close(); err != nil {
			logger := logging.WithChannel("session", id)
			logger.Warn().Err(err).Msg("Error closing session")
		}
	}
}
