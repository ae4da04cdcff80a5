// Package grpcapi is the gRPC ingress for transcript streams produced by
// the RTC layer.
package grpcapi

import (
	"context"
	"errors"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"avatar-control-service/internal/observability/logging"
	"avatar-control-service/internal/observability/metrics"
	"avatar-control-service/internal/schema"
	"avatar-control-service/internal/service/session"
)

// StreamLimits bounds a single transcript stream.
type StreamLimits struct {
	MaxUpdates  int           // updates per stream, valid or not
	MaxDuration time.Duration // wall time per stream
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() StreamLimits {
	return StreamLimits{
		MaxUpdates:  10000,
		MaxDuration: 30 * time.Minute,
	}
}

// Sessions resolves the session of a channel.
type Sessions interface {
	Get(ctx context.Context, channelID string) (*session.Session, *session.Hub, error)
}

// Server implements the transcript service.
type Server struct {
	sessions  Sessions
	validator *schema.Validator
	limits    StreamLimits
	m         *metrics.Metrics
}

// NewServer creates the transcript service.
func NewServer(sessions Sessions, validator *schema.Validator, limits StreamLimits) *Server {
	return &Server{
		sessions:  sessions,
		validator: validator,
		limits:    limits,
		m:         metrics.DefaultMetrics,
	}
}

// Register creates the transcript service and registers it on g.
func Register(g *grpc.Server, sessions Sessions, validator *schema.Validator, limits StreamLimits) *Server {
	s := NewServer(sessions, validator, limits)
	RegisterTranscriptServiceServer(g, s)
	return s
}

// StreamTranscripts feeds a client stream of updates for one channel into
// that channel's session hub. The first valid update fixes the channel;
// invalid updates and updates for other channels are dropped and counted.
func (s *Server) StreamTranscripts(stream TranscriptStream) error {
	ctx := stream.Context()
	start := time.Now()
	s.m.RecordStreamStart()
	success := false
	defer func() {
		s.m.RecordStreamEnd(success, time.Since(start).Seconds())
	}()

	logger := logging.WithComponent("grpc")
	ack := &StreamAck{}
	var hub *session.Hub

	for {
		u, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			success = true
			logger.Info().
				Int("updates", ack.Updates).
				Int("rejected", ack.Rejected).
				Dur("duration", time.Since(start)).
				Msg("Transcript stream closed")
			return stream.SendAndClose(ack)
		}
		if err != nil {
			logger.Warn().Err(err).Msg("Transcript stream receive failed")
			return err
		}

		if s.limits.MaxDuration > 0 && time.Since(start) > s.limits.MaxDuration {
			logger.Warn().Dur("limit", s.limits.MaxDuration).Msg("Transcript stream exceeded max duration")
			return status.Error(codes.ResourceExhausted, "stream exceeded max duration")
		}
		if s.limits.MaxUpdates > 0 && ack.Updates+ack.Rejected >= s.limits.MaxUpdates {
			logger.Warn().Int("limit", s.limits.MaxUpdates).Msg("Transcript stream exceeded max updates")
			return status.Error(codes.ResourceExhausted, "stream exceeded max updates")
		}

		if err := s.validator.ValidateUpdate(*u); err != nil {
			ack.Rejected++
			s.m.RecordUpdateDropped("invalid")
			logger.Debug().Err(err).Msg("Dropping invalid transcript update")
			continue
		}

		if hub == nil {
			_, h, err := s.sessions.Get(ctx, u.ChannelID)
			if err != nil {
				logger.Error().Err(err).Str("channelId", u.ChannelID).Msg("Failed to open session")
				return status.Errorf(codes.Unavailable, "open session %s: %v", u.ChannelID, err)
			}
			hub = h
			ack.ChannelID = u.ChannelID
			logger = logging.WithChannel("grpc", u.ChannelID)
			logger.Info().Msg("Transcript stream opened")
		} else if u.ChannelID != ack.ChannelID {
			ack.Rejected++
			s.m.RecordUpdateDropped("channel_mismatch")
			logger.Debug().Str("got", u.ChannelID).Msg("Dropping update for another channel")
			continue
		}

		if u.Timestamp == 0 {
			u.Timestamp = time.Now().UnixMilli()
		}
		hub.PublishText(*u)
		ack.Updates++
	}
}
