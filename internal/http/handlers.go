package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"avatar-control-service/internal/agent"
	"avatar-control-service/internal/models"
	"avatar-control-service/internal/service/session"

	"github.com/go-chi/chi/v5"
)

const (
	graphFetchTimeout = 5 * time.Second
	simulationTimeout = 5 * time.Minute
)

type textRequest struct {
	Text string `json:"text"`
}

type urlRequest struct {
	URL string `json:"url"`
}

type graphRequest struct {
	GraphID string `json:"graphId"`
}

type graphResponse struct {
	GraphID   string                 `json:"graphId"`
	Greetings []agent.GreetingScript `json:"greetings"`
}

type graphSummary struct {
	GraphID   string                 `json:"graphId"`
	Name      string                 `json:"name"`
	AutoStart bool                   `json:"autoStart"`
	Greetings []agent.GreetingScript `json:"greetings"`
}

type transcriptAck struct {
	ChannelID string `json:"channelId"`
	Accepted  int    `json:"accepted"`
	Rejected  int    `json:"rejected"`
}

type agentRequest struct {
	UserID    string `json:"userId"`
	GraphName string `json:"graphName"`
	Language  string `json:"language"`
	VoiceType string `json:"voiceType"`
}

type agentStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	GraphName string `json:"graphName,omitempty"`
}

type vadRequest struct {
	Enabled     *bool    `json:"enabled"`
	Threshold   *float64 `json:"threshold"`
	Consecutive *int     `json:"consecutive"`
}

type speakingRequest struct {
	Speaking bool `json:"speaking"`
}

func (h *handlers) listChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"channels": h.app.Sessions.Channels()})
}

func (h *handlers) channelStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := h.app.Sessions.Lookup(chi.URLParam(r, "channel"))
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

// postTranscripts accepts one TranscriptUpdate or an array of them and
// feeds them to the channel's session manager in order.
func (h *handlers) postTranscripts(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeBody(r, &raw); err != nil || len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "invalid transcript body")
		return
	}

	var updates []models.TranscriptUpdate
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &updates); err != nil {
			writeError(w, http.StatusBadRequest, "invalid transcript body")
			return
		}
	} else {
		var u models.TranscriptUpdate
		if err := json.Unmarshal(trimmed, &u); err != nil {
			writeError(w, http.StatusBadRequest, "invalid transcript body")
			return
		}
		updates = append(updates, u)
	}

	_, hub, ok := h.session(w, r)
	if !ok {
		return
	}

	channel := chi.URLParam(r, "channel")
	ack := transcriptAck{ChannelID: channel}
	for _, u := range updates {
		if u.ChannelID == "" {
			u.ChannelID = channel
		}
		if u.ChannelID != channel {
			ack.Rejected++
			h.m.RecordUpdateDropped("channel_mismatch")
			continue
		}
		if err := h.app.Validator.ValidateUpdate(u); err != nil {
			ack.Rejected++
			h.m.RecordUpdateDropped("invalid")
			h.logger.Debug().Err(err).Str("channelId", channel).Msg("Rejected transcript update")
			continue
		}
		if u.Timestamp == 0 {
			u.Timestamp = time.Now().UnixMilli()
		}
		hub.PublishText(u)
		ack.Accepted++
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *handlers) speak(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid speak body")
		return
	}
	s, _, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Speak(req.Text); err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.Status())
}

func (h *handlers) subtitle(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid subtitle body")
		return
	}
	s, _, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Subtitle(req.Text)
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) externalApp(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid external app body")
		return
	}
	if err := h.app.Validator.Validate(models.NewExternalAppMessage(req.URL)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, _, ok := h.session(w, r)
	if !ok {
		return
	}
	s.ExternalApp(req.URL)
	w.WriteHeader(http.StatusAccepted)
}

// publishRelay lets an operator push a raw relay message to the channel's
// projection windows.
func (h *handlers) publishRelay(w http.ResponseWriter, r *http.Request) {
	var msg models.RelayMessage
	if err := decodeBody(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid relay message")
		return
	}
	if err := h.app.Validator.Validate(msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg.Type == models.MessageAvatarWindowReady {
		writeError(w, http.StatusBadRequest, "avatar_window_ready is sent by projection windows only")
		return
	}
	s, _, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Publish(r.Context(), msg); err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) enterProjection(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.EnterProjection(); err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

func (h *handlers) exitProjection(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.ExitProjection(); err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

// selectGraph switches the channel's graph and returns its greeting scripts.
func (h *handlers) selectGraph(w http.ResponseWriter, r *http.Request) {
	var req graphRequest
	if err := decodeBody(r, &req); err != nil || req.GraphID == "" {
		writeError(w, http.StatusBadRequest, "graphId required")
		return
	}
	s, _, ok := h.session(w, r)
	if !ok {
		return
	}
	s.SelectGraph(req.GraphID)

	g := agent.Graph{GraphID: req.GraphID}
	if graphs, err := h.fetchGraphs(r.Context()); err == nil {
		if found, ok := agent.FindGraph(graphs, req.GraphID); ok {
			g = found
		}
	}
	greetings := agent.Greetings(g, h.app.Greetings)
	if greetings == nil {
		greetings = []agent.GreetingScript{}
	}
	writeJSON(w, http.StatusOK, graphResponse{GraphID: req.GraphID, Greetings: greetings})
}

func (h *handlers) listGraphs(w http.ResponseWriter, r *http.Request) {
	graphs, err := h.fetchGraphs(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to fetch graphs")
		writeError(w, http.StatusBadGateway, "failed to fetch graphs")
		return
	}

	out := make([]graphSummary, 0, len(graphs))
	for _, g := range graphs {
		greetings := agent.Greetings(g, h.app.Greetings)
		if greetings == nil {
			greetings = []agent.GreetingScript{}
		}
		out = append(out, graphSummary{
			GraphID:   g.ID(),
			Name:      g.Name,
			AutoStart: g.AutoStart,
			Greetings: greetings,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) fetchGraphs(ctx context.Context) ([]agent.Graph, error) {
	if h.app.Graphs == nil {
		return nil, errors.New("agent backend not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, graphFetchTimeout)
	defer cancel()
	return h.app.Graphs.Graphs(ctx)
}

func (h *handlers) connector(w http.ResponseWriter, r *http.Request) (*agent.Connector, bool) {
	if h.app.Agents == nil {
		writeError(w, http.StatusServiceUnavailable, "agent backend not configured")
		return nil, false
	}
	return h.app.Agents.Get(chi.URLParam(r, "channel")), true
}

func (h *handlers) agentStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := h.connector(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, agentStatus{
		ChannelID: chi.URLParam(r, "channel"),
		Connected: c.Check(r.Context()),
		GraphName: c.GraphName(),
	})
}

func (h *handlers) startAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeBody(r, &req); err != nil || req.GraphName == "" {
		writeError(w, http.StatusBadRequest, "graphName required")
		return
	}
	c, ok := h.connector(w, r)
	if !ok {
		return
	}

	err := c.Connect(r.Context(), agent.StartRequest{
		UserID:    req.UserID,
		GraphName: req.GraphName,
		Language:  req.Language,
		VoiceType: req.VoiceType,
	})
	switch {
	case err == nil:
	case errors.Is(err, agent.ErrCapacityExceeded):
		writeError(w, http.StatusTooManyRequests, agent.ErrCapacityExceeded.Error())
		return
	default:
		h.logger.Warn().Err(err).Str("channelId", chi.URLParam(r, "channel")).Msg("Agent start failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, agentStatus{
		ChannelID: chi.URLParam(r, "channel"),
		Connected: c.Connected(),
		GraphName: c.GraphName(),
	})
}

func (h *handlers) stopAgent(w http.ResponseWriter, r *http.Request) {
	c, ok := h.connector(w, r)
	if !ok {
		return
	}
	if err := c.Disconnect(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agentStatus{ChannelID: chi.URLParam(r, "channel")})
}

func (h *handlers) getVAD(w http.ResponseWriter, r *http.Request) {
	_, hub, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, hub.VAD())
}

// putVAD toggles VAD when enabled is set, otherwise updates the given
// fields in place.
func (h *handlers) putVAD(w http.ResponseWriter, r *http.Request) {
	var req vadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid vad body")
		return
	}
	_, hub, ok := h.session(w, r)
	if !ok {
		return
	}

	cur := hub.VAD()
	switch {
	case req.Enabled != nil && *req.Enabled:
		threshold, consecutive := cur.Threshold, cur.Consecutive
		if req.Threshold != nil {
			threshold = *req.Threshold
		}
		if req.Consecutive != nil {
			consecutive = *req.Consecutive
		}
		hub.EnableVAD(threshold, consecutive)
	case req.Enabled != nil:
		hub.DisableVAD()
	default:
		if req.Threshold != nil {
			hub.UpdateVADThreshold(*req.Threshold)
		}
		if req.Consecutive != nil {
			hub.UpdateVADConsecutive(*req.Consecutive)
		}
	}
	writeJSON(w, http.StatusOK, hub.VAD())
}

func (h *handlers) userSpeaking(w http.ResponseWriter, r *http.Request) {
	var req speakingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user speaking body")
		return
	}
	_, hub, ok := h.session(w, r)
	if !ok {
		return
	}
	hub.PublishUserSpeaking(req.Speaking)
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) remoteUser(w http.ResponseWriter, r *http.Request) {
	var req session.RemoteUser
	if err := decodeBody(r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	_, hub, ok := h.session(w, r)
	if !ok {
		return
	}
	hub.PublishRemoteUser(req)
	w.WriteHeader(http.StatusAccepted)
}

// simulate plays the scripted streaming agent into the channel in the
// background. One simulation per channel at a time.
func (h *handlers) simulate(w http.ResponseWriter, r *http.Request) {
	if h.app.Simulator == nil {
		writeError(w, http.StatusServiceUnavailable, "simulation not configured")
		return
	}
	_, hub, ok := h.session(w, r)
	if !ok {
		return
	}

	channel := chi.URLParam(r, "channel")
	if _, running := h.simulating.LoadOrStore(channel, struct{}{}); running {
		writeError(w, http.StatusConflict, "simulation already running")
		return
	}

	src := h.app.Simulator()
	go func() {
		defer h.simulating.Delete(channel)
		ctx, cancel := context.WithTimeout(context.Background(), simulationTimeout)
		defer cancel()

		logger := h.logger.With().Str("channelId", channel).Logger()
		logger.Info().Msg("Simulation started")
		if err := src.Run(ctx, channel, hub.PublishText); err != nil {
			logger.Warn().Err(err).Msg("Simulation stopped")
			return
		}
		logger.Info().Msg("Simulation finished")
	}()
	w.WriteHeader(http.StatusAccepted)
}
