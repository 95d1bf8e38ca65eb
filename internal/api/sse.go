// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/submaker/submaker/internal/activity"
)

// handleActivity streams translation progress as server-sent events.
//
//	GET /activity?config=<config hash>
//
// At the listener cap the response is 204 with Retry-After so well-behaved
// players back off instead of hammering reconnects.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	configHash := r.URL.Query().Get("config")
	if configHash == "" {
		writeError(w, fmt.Errorf("%w: missing config", errBadRequest))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}

	sub, err := s.bus.Subscribe(configHash)
	if err != nil {
		if errors.Is(err, activity.ErrTooManyListeners) {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, err)
		return
	}
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	// Proxies must neither buffer nor recompress the stream.
	h.Set("X-Accel-Buffering", "no")
	h.Set("Content-Encoding", "identity")
	w.WriteHeader(http.StatusOK)

	// Clients that drop mid-stream should come back quickly.
	_, _ = fmt.Fprint(w, "retry: 5000\n\n")
	flusher.Flush()

	s.logger.Info().
		Str("event", "sse.connected").
		Str("config", configHash).
		Msg("activity listener connected")

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-sub.Events():
			if !ok {
				// Pruned by the bus: too old or too slow.
				return
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
			flusher.Flush()
		}
	}
}
