package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Pinger keeps an agent alive by pinging on an interval. It is an explicit
// handle: started on connect, stopped on disconnect or shutdown.
type Pinger struct {
	interval time.Duration
	ping     func(ctx context.Context) error
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	pings  atomic.Int64
	fails  atomic.Int64
}

// NewPinger creates a stopped pinger.
func NewPinger(interval time.Duration, ping func(ctx context.Context) error, logger zerolog.Logger) *Pinger {
	return &Pinger{interval: interval, ping: ping, logger: logger}
}

// Start begins pinging, replacing any previous run.
func (p *Pinger) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.run(ctx, done)
}

func (p *Pinger) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, p.interval)
			err := p.ping(reqCtx)
			cancel()
			p.pings.Add(1)
			if err != nil && ctx.Err() == nil {
				p.fails.Add(1)
				p.logger.Warn().Err(err).Msg("Agent ping failed")
			}
		}
	}
}

// Stop ends the current run and waits for it. Safe to call when stopped.
func (p *Pinger) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Pinger) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

// Running reports whether the pinger is active.
func (p *Pinger) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Pings returns the number of pings sent so far.
func (p *Pinger) Pings() int64 {
	return p.pings.Load()
}

// Failures returns the number of failed pings.
func (p *Pinger) Failures() int64 {
	return p.fails.Load()
}
