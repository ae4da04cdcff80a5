// Package relay bridges the control window and projection windows over a
// named broadcast channel.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"avatar-control-service/internal/models"
)

// ErrBusClosed is returned by a Bus after Close.
var ErrBusClosed = errors.New("relay bus closed")

// Bus is a process-wide broadcast primitive. A published message reaches
// every subscriber of the channel except the one registered under the
// sender's origin. Delivery is at-most-once and FIFO per subscriber.
type Bus interface {
	Publish(ctx context.Context, channel, origin string, msg models.RelayMessage) error
	Subscribe(ctx context.Context, channel, origin string) (Subscription, error)
	Close() error
}

// Subscription is one listener on a channel.
type Subscription interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan models.RelayMessage
	Close() error
}

// envelope carries the sender identity next to the wire message so a
// shared transport can skip echoing it back.
type envelope struct {
	Origin  string              `json:"origin"`
	Message models.RelayMessage `json:"message"`
}

func encodeEnvelope(origin string, msg models.RelayMessage) ([]byte, error) {
	b, err := json.Marshal(envelope{Origin: origin, Message: msg})
	if err != nil {
		return nil, fmt.Errorf("encode relay envelope: %w", err)
	}
	return b, nil
}

func decodeEnvelope(b []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return envelope{}, fmt.Errorf("decode relay envelope: %w", err)
	}
	if env.Message.Type == "" {
		return envelope{}, fmt.Errorf("decode relay envelope: missing message type")
	}
	return env, nil
}
