package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"avatar-control-service/internal/service/session"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// session resolves the channel's session, creating it on first use. It
// writes the error response itself and returns ok=false on failure.
func (h *handlers) session(w http.ResponseWriter, r *http.Request) (*session.Session, *session.Hub, bool) {
	channel := chi.URLParam(r, "channel")
	s, hub, err := h.app.Sessions.Get(r.Context(), channel)
	if err != nil {
		h.logger.Error().Err(err).Str("channelId", channel).Msg("Failed to open session")
		writeError(w, http.StatusInternalServerError, "failed to open session")
		return nil, nil, false
	}
	return s, hub, true
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
