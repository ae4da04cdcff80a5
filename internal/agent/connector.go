package agent

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"avatar-control-service/internal/observability/logging"
)

// Backend is the part of the agent API a Connector drives.
type Backend interface {
	Start(ctx context.Context, req StartRequest) error
	Stop(ctx context.Context, channel string) error
	Ping(ctx context.Context, channel string) error
}

// Connector is the agent connection state of one channel: connect starts
// the agent and its pinger, disconnect stops both.
type Connector struct {
	backend Backend
	channel string
	logger  zerolog.Logger
	pinger  *Pinger

	mu        sync.Mutex
	connected bool
	graphName string
}

// NewConnector creates a disconnected connector for channel.
func NewConnector(backend Backend, channel string, pingInterval time.Duration, logger zerolog.Logger) *Connector {
	c := &Connector{
		backend: backend,
		channel: channel,
		logger:  logger,
	}
	c.pinger = NewPinger(pingInterval, func(ctx context.Context) error {
		return backend.Ping(ctx, channel)
	}, logger)
	return c
}

// Connect starts the agent with req. Already connected is a no-op.
func (c *Connector) Connect(ctx context.Context, req StartRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	req.Channel = c.channel
	if err := c.backend.Start(ctx, req); err != nil {
		return err
	}
	c.connected = true
	c.graphName = req.GraphName
	c.pinger.Start()
	c.logger.Info().Str("graph", req.GraphName).Msg("Agent connected")
	return nil
}

// Disconnect stops the agent. The pinger stops and the connector reads as
// disconnected even if the backend call fails.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pinger.Stop()
	wasConnected := c.connected
	c.connected = false
	c.graphName = ""
	if !wasConnected {
		return nil
	}
	if err := c.backend.Stop(ctx, c.channel); err != nil {
		c.logger.Warn().Err(err).Msg("Agent stop failed")
		return err
	}
	c.logger.Info().Msg("Agent disconnected")
	return nil
}

// Check pings once and marks the connector connected if the agent is
// already running, e.g. after a page reload.
func (c *Connector) Check(ctx context.Context) bool {
	if err := c.backend.Ping(ctx, c.channel); err != nil {
		return c.Connected()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return true
}

// Connected reports the last known agent state.
func (c *Connector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// GraphName returns the graph the agent was started with.
func (c *Connector) GraphName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graphName
}

// Close stops the pinger without stopping the agent.
func (c *Connector) Close() {
	c.pinger.Stop()
}

// Pool holds one Connector per channel.
type Pool struct {
	backend      Backend
	pingInterval time.Duration

	mu         sync.Mutex
	connectors map[string]*Connector
}

// NewPool creates an empty pool.
func NewPool(backend Backend, pingInterval time.Duration) *Pool {
	return &Pool{
		backend:      backend,
		pingInterval: pingInterval,
		connectors:   make(map[string]*Connector),
	}
}

// Get returns the channel's connector, creating it on first use.
func (p *Pool) Get(channel string) *Connector {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.connectors[channel]
	if !ok {
		c = NewConnector(p.backend, channel, p.pingInterval, logging.WithChannel("agent", channel))
		p.connectors[channel] = c
	}
	return c
}

// Close stops every pinger.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.connectors {
		c.Close()
	}
}
