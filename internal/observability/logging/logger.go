// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339, Unix, etc.
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global zerolog logger.
func Init(cfg Config) {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.Kitchen,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "avatar-control-service").
		Logger()
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return log.Logger
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithChannel returns a logger scoped to one RTC channel.
func WithChannel(component, channelId string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("channelId", channelId).
		Logger()
}

// WithTurn returns a logger scoped to one conversational turn.
func WithTurn(component, channelId, turnId string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("channelId", channelId).
		Str("turnId", turnId).
		Logger()
}

// WithWindow returns a logger scoped to one browser window attached to a channel.
func WithWindow(component, channelId, role, windowId string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("channelId", channelId).
		Str("windowRole", role).
		Str("windowId", windowId).
		Logger()
}
