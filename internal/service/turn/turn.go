// Package turn provides agent turn ID generation and lifecycle tracking.
// A turn is one agent utterance, from its first speak chunk (isStart) to
// its end marker (isEnd) or a user interruption.
package turn

import (
	"fmt"
	"sync/atomic"
)

type Generator struct {
	counter uint64
}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) Next(channelId string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-turn-%d", channelId, n)
}
