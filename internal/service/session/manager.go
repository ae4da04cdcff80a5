// Package session drives one kiosk channel: it feeds transcript updates
// through the chunker and routes the resulting commands to the local avatar
// or, in projection mode, over the relay.
package session

import (
	"sync"

	"avatar-control-service/internal/models"
)

// RemoteUser describes the agent's media presence in the RTC room.
type RemoteUser struct {
	UserID   string `json:"userId"`
	HasAudio bool   `json:"hasAudio"`
	HasVideo bool   `json:"hasVideo"`
}

// VADSettings is the voice activity detection configuration of the room.
type VADSettings struct {
	Enabled     bool    `json:"enabled"`
	Threshold   float64 `json:"threshold"`
	Consecutive int     `json:"consecutive"`
}

// Manager is the RTC session manager capability set a Session consumes.
// Each On* method returns a function that removes the listener.
type Manager interface {
	OnTextChanged(fn func(models.TranscriptUpdate)) (unsubscribe func())
	OnRemoteUserChanged(fn func(RemoteUser)) (unsubscribe func())
	OnUserSpeaking(fn func(speaking bool)) (unsubscribe func())

	SetDigitalHumanSpeaking(speaking bool)
	EnableVAD(threshold float64, consecutive int)
	DisableVAD()
	UpdateVADThreshold(threshold float64)
	UpdateVADConsecutive(consecutive int)
}

// Hub is the in-process Manager. Transport handlers push room events into
// it and it fans them out to attached sessions. Listeners run synchronously
// on the pushing goroutine, in registration order.
type Hub struct {
	mu                   sync.RWMutex
	nextID               int
	text                 map[int]func(models.TranscriptUpdate)
	remote               map[int]func(RemoteUser)
	speaking             map[int]func(bool)
	order                []int
	vad                  VADSettings
	digitalHumanSpeaking bool
}

// NewHub creates a hub with VAD disabled.
func NewHub() *Hub {
	return &Hub{
		text:     make(map[int]func(models.TranscriptUpdate)),
		remote:   make(map[int]func(RemoteUser)),
		speaking: make(map[int]func(bool)),
	}
}

func (h *Hub) add(register func(id int)) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	register(id)
	h.order = append(h.order, id)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.text, id)
			delete(h.remote, id)
			delete(h.speaking, id)
			for i, v := range h.order {
				if v == id {
					h.order = append(h.order[:i], h.order[i+1:]...)
					break
				}
			}
		})
	}
}

// OnTextChanged registers a transcript listener.
func (h *Hub) OnTextChanged(fn func(models.TranscriptUpdate)) func() {
	return h.add(func(id int) { h.text[id] = fn })
}

// OnRemoteUserChanged registers a remote user listener.
func (h *Hub) OnRemoteUserChanged(fn func(RemoteUser)) func() {
	return h.add(func(id int) { h.remote[id] = fn })
}

// OnUserSpeaking registers a voice activity listener.
func (h *Hub) OnUserSpeaking(fn func(bool)) func() {
	return h.add(func(id int) { h.speaking[id] = fn })
}

// PublishText delivers a transcript update to every text listener.
func (h *Hub) PublishText(u models.TranscriptUpdate) {
	h.mu.RLock()
	fns := make([]func(models.TranscriptUpdate), 0, len(h.text))
	for _, id := range h.order {
		if fn, ok := h.text[id]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(u)
	}
}

// PublishRemoteUser delivers a remote user change.
func (h *Hub) PublishRemoteUser(u RemoteUser) {
	h.mu.RLock()
	fns := make([]func(RemoteUser), 0, len(h.remote))
	for _, id := range h.order {
		if fn, ok := h.remote[id]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(u)
	}
}

// PublishUserSpeaking delivers a voice activity change.
func (h *Hub) PublishUserSpeaking(speaking bool) {
	h.mu.RLock()
	fns := make([]func(bool), 0, len(h.speaking))
	for _, id := range h.order {
		if fn, ok := h.speaking[id]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(speaking)
	}
}

// Listeners returns the number of registered listeners of all kinds.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}

func (h *Hub) SetDigitalHumanSpeaking(speaking bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.digitalHumanSpeaking = speaking
}

// DigitalHumanSpeaking reports the last value set by SetDigitalHumanSpeaking.
func (h *Hub) DigitalHumanSpeaking() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.digitalHumanSpeaking
}

func (h *Hub) EnableVAD(threshold float64, consecutive int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vad = VADSettings{Enabled: true, Threshold: threshold, Consecutive: consecutive}
}

func (h *Hub) DisableVAD() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vad.Enabled = false
}

func (h *Hub) UpdateVADThreshold(threshold float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vad.Threshold = threshold
}

func (h *Hub) UpdateVADConsecutive(consecutive int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vad.Consecutive = consecutive
}

// VAD returns the current voice activity settings.
func (h *Hub) VAD() VADSettings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.vad
}

var _ Manager = (*Hub)(nil)
