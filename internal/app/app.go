package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"avatar-control-service/internal/agent"
	"avatar-control-service/internal/config"
	"avatar-control-service/internal/observability/logging"
	"avatar-control-service/internal/relay"
	"avatar-control-service/internal/schema"
	"avatar-control-service/internal/service/session"
	"avatar-control-service/internal/service/transcript"

	"github.com/rs/zerolog"
)

// ErrNotStarted is returned by Ready before Start or after Shutdown.
var ErrNotStarted = errors.New("service not started")

// GraphLister is the part of the agent API the graph endpoint needs.
type GraphLister interface {
	Graphs(ctx context.Context) ([]agent.Graph, error)
}

// Pinger is implemented by buses that can check their backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Sessions  *session.Registry
	Agents    *agent.Pool
	Graphs    GraphLister
	Greetings agent.GreetingMap
	Bus       relay.Bus
	Validator *schema.Validator
	// Simulator builds the transcript source behind the simulate endpoint.
	Simulator func() transcript.Source

	mu      sync.Mutex
	started bool
}

// New constructs a new Application from the provided configuration and
// initializes the global logger from it.
func New(cfg *config.Configuration) *Application {
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	a := &Application{
		Cfg:       cfg,
		Logger:    logging.WithComponent("application"),
		Validator: schema.New(),
	}

	a.Logger.Info().
		Str("logLevel", cfg.Observability.LogLevel).
		Str("relayTransport", cfg.Relay.Transport).
		Msg("Avatar control service application created")
	return a
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	if a.Sessions == nil {
		return errors.New("session registry not configured")
	}

	a.mu.Lock()
	a.StartupTime = time.Now().UTC()
	a.started = true
	a.mu.Unlock()

	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Avatar control service starting")
	return nil
}

// Ready reports whether the service can take traffic: it must be started
// and its relay bus reachable.
func (a *Application) Ready(ctx context.Context) error {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if p, ok := a.Bus.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Shutdown closes every session and agent connector.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.mu.Lock()
	a.started = false
	a.mu.Unlock()

	if a.Sessions != nil {
		a.Sessions.CloseAll()
	}
	if a.Agents != nil {
		a.Agents.Close()
	}
	shutdownLogger.Info().Msg("Avatar control service shutting down")
}
