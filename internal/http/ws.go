package http

import (
	"context"
	"errors"
	"net/http"

	"avatar-control-service/internal/avatar"
	"avatar-control-service/internal/observability/logging"
	"avatar-control-service/internal/relay"
	"avatar-control-service/internal/service/session"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	roleControl    = "control"
	roleProjection = "projection"
)

// controlSocket binds the control window's avatar SDK to the channel's
// session as its local avatar. The avatar is only started when the session
// is not projecting.
func (h *handlers) controlSocket(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	s, _, ok := h.session(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("channelId", channel).Msg("Control window upgrade failed")
		return
	}

	logger := logging.WithWindow("window", channel, roleControl, uuid.NewString())
	b := avatar.NewRemoteBinding(conn, h.pollInterval, logger)

	h.m.RecordWindowAttached(roleControl)
	defer h.m.RecordWindowDetached(roleControl)
	logger.Info().Msg("Control window attached")

	s.AttachBinding(b)
	defer s.DetachBinding(b)

	if !s.Status().ProjectionMode {
		if err := b.Connect(); err != nil {
			logger.Warn().Err(err).Msg("Control avatar connect failed")
		}
	}

	if err := b.Run(r.Context()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug().Err(err).Msg("Control window read loop ended")
	}
	logger.Info().Msg("Control window detached")
}

// projectionSocket runs a Projector for a projection window: relay
// commands for the channel are applied to the window's avatar SDK.
func (h *handlers) projectionSocket(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	// The control side must be subscribed before the window announces itself.
	if _, _, ok := h.session(w, r); !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("channelId", channel).Msg("Projection window upgrade failed")
		return
	}

	logger := logging.WithWindow("window", channel, roleProjection, uuid.NewString())
	b := avatar.NewRemoteBinding(conn, h.pollInterval, logger)
	p := relay.NewProjector(h.app.Bus, session.RelayChannelFor(h.relayBase, channel), b, logger)
	p.AnnounceWhen(b.Ready())

	h.m.RecordWindowAttached(roleProjection)
	defer h.m.RecordWindowDetached(roleProjection)
	logger.Info().Msg("Projection window attached")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := b.Connect(); err != nil {
		logger.Warn().Err(err).Msg("Projection avatar connect failed")
	}

	listenDone := make(chan struct{})
	go func() {
		defer close(listenDone)
		if err := p.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Msg("Projector stopped")
		}
	}()

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug().Err(err).Msg("Projection window read loop ended")
	}
	cancel()
	<-listenDone
	logger.Info().Msg("Projection window detached")
}
