// Package mock provides a scripted transcript source for demos and load
// tests without an RTC room. It simulates what an LLM-backed agent emits:
// a user utterance, then the agent's reply as progressively longer
// cumulative text ending in exactly one final update.
package mock

import (
	"context"
	"sync"
	"time"

	"avatar-control-service/internal/models"
	"avatar-control-service/internal/service/transcript"
)

// Exchange is one scripted user line and the agent's reply.
type Exchange struct {
	User     string   // empty for an agent-initiated turn
	Partials []string // cumulative agent text, each a prefix of Final
	Final    string
}

// DefaultExchanges provides sample exchanges for simulation.
var DefaultExchanges = []Exchange{
	{
		User:     "你好",
		Partials: []string{"你好", "你好，欢迎", "你好，欢迎来到展厅"},
		Final:    "你好，欢迎来到展厅。",
	},
	{
		User:     "介绍一下这台示波器",
		Partials: []string{"这是", "这是我们最新", "这是我们最新的示波器，", "这是我们最新的示波器，带宽高达"},
		Final:    "这是我们最新的示波器，带宽高达两吉赫兹。",
	},
	{
		User:     "What can you do?",
		Partials: []string{"I can", "I can answer", "I can answer questions"},
		Final:    "I can answer questions about the exhibits.",
	},
	{
		Partials: []string{"还有", "还有什么", "还有什么可以帮您"},
		Final:    "还有什么可以帮您？",
	},
}

// exchangeCounter picks where a new source starts in the script.
var (
	exchangeCounter int
	counterMu       sync.Mutex
)

// Source implements transcript.Source over a fixed script.
type Source struct {
	exchanges []Exchange
	delay     time.Duration
	now       func() time.Time
}

// New creates a source that plays the default script, starting at the
// next exchange in rotation, with delay between updates.
func New(delay time.Duration) *Source {
	counterMu.Lock()
	start := exchangeCounter % len(DefaultExchanges)
	exchangeCounter++
	counterMu.Unlock()

	script := append(append([]Exchange{}, DefaultExchanges[start:]...), DefaultExchanges[:start]...)
	return NewScript(script, delay)
}

// NewScript creates a source that plays exchanges in order.
func NewScript(exchanges []Exchange, delay time.Duration) *Source {
	return &Source{exchanges: exchanges, delay: delay, now: time.Now}
}

// Run plays the script for channelID.
func (s *Source) Run(ctx context.Context, channelID string, emit transcript.Emit) error {
	for _, ex := range s.exchanges {
		if ex.User != "" {
			if err := s.send(ctx, emit, channelID, models.RoleUser, ex.User, true); err != nil {
				return err
			}
		}
		for _, p := range ex.Partials {
			if err := s.send(ctx, emit, channelID, models.RoleAgent, p, false); err != nil {
				return err
			}
		}
		if err := s.send(ctx, emit, channelID, models.RoleAgent, ex.Final, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) send(ctx context.Context, emit transcript.Emit, channelID string, role models.SpeakerRole, text string, final bool) error {
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	emit(models.TranscriptUpdate{
		ChannelID:   channelID,
		SpeakerRole: role,
		Text:        text,
		IsFinal:     final,
		Timestamp:   s.now().UnixMilli(),
	})
	return nil
}

var _ transcript.Source = (*Source)(nil)
