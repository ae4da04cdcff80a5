package http

import (
	"net/http"
	"sync"
	"time"

	"avatar-control-service/internal/app"
	"avatar-control-service/internal/models"
	"avatar-control-service/internal/observability/logging"
	"avatar-control-service/internal/observability/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultPollInterval = time.Second

type handlers struct {
	app          *app.Application
	logger       zerolog.Logger
	m            *metrics.Metrics
	upgrader     websocket.Upgrader
	relayBase    string
	pollInterval time.Duration

	// channels with a simulation in flight
	simulating sync.Map
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	h := &handlers{
		app:    application,
		logger: logging.WithComponent("http"),
		m:      metrics.DefaultMetrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Kiosk windows are served from the device itself.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		relayBase:    models.DefaultRelayChannel,
		pollInterval: defaultPollInterval,
	}
	if cfg := application.Cfg; cfg != nil {
		if cfg.Relay.ChannelName != "" {
			h.relayBase = cfg.Relay.ChannelName
		}
		if cfg.Avatar.PollInterval > 0 {
			h.pollInterval = cfg.Avatar.PollInterval
		}
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, r *http.Request) {
		if err := application.Ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/graphs", h.listGraphs)
		r.Get("/channels", h.listChannels)

		r.Route("/channels/{channel}", func(r chi.Router) {
			r.Get("/", h.channelStatus)
			r.Post("/transcripts", h.postTranscripts)
			r.Post("/speak", h.speak)
			r.Post("/subtitle", h.subtitle)
			r.Post("/external-app", h.externalApp)
			r.Post("/relay", h.publishRelay)

			r.Post("/projection", h.enterProjection)
			r.Delete("/projection", h.exitProjection)
			r.Put("/graph", h.selectGraph)

			r.Get("/agent", h.agentStatus)
			r.Post("/agent", h.startAgent)
			r.Delete("/agent", h.stopAgent)

			r.Get("/vad", h.getVAD)
			r.Put("/vad", h.putVAD)
			r.Post("/user-speaking", h.userSpeaking)
			r.Post("/remote-user", h.remoteUser)
			r.Post("/simulate", h.simulate)
		})
	})

	// Avatar window sockets
	r.Get("/ws/{channel}/control", h.controlSocket)
	r.Get("/ws/{channel}/projection", h.projectionSocket)

	return r
}
