// Package transcript defines producers of transcript updates.
package transcript

import (
	"context"

	"avatar-control-service/internal/models"
)

// Emit receives one update. Updates are delivered in order on the
// source's goroutine.
type Emit func(models.TranscriptUpdate)

// Source produces the transcript stream of one channel, the way the RTC
// layer does for a live conversation.
type Source interface {
	// Run emits updates for channelID until the script ends or ctx is done.
	Run(ctx context.Context, channelID string, emit Emit) error
}
