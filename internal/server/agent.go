// internal/server/agent.go
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/user/webjourney/internal/bridge"
)

var errSessionGone = errors.New("session no longer exists")

// defaultAgentWait is how long /agent/commands holds the poll open when
// the agent does not say.
const defaultAgentWait = 25 * time.Second

// handleAgentCommands is the capture agent's long poll. It blocks until
// a command is pending or the wait expires, whichever comes first; an
// empty poll returns {"command":null} so the agent reconnects.
func (s *Server) handleAgentCommands(w http.ResponseWriter, r *http.Request) {
	wait := defaultAgentWait
	if q := r.URL.Query().Get("wait"); q != "" {
		if secs, err := strconv.Atoi(q); err == nil && secs > 0 && secs <= 60 {
			wait = time.Duration(secs) * time.Second
		}
	}

	cmd, err := s.bridge.NextCommand(r.Context(), wait)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "poll failed")
		return
	}
	writeJSON(w, map[string]any{"command": cmd})
}

func (s *Server) handleAgentResults(w http.ResponseWriter, r *http.Request) {
	var res bridge.Result
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil || res.ID == "" {
		httpError(w, http.StatusBadRequest, "result id required")
		return
	}
	s.bridge.Resolve(&res)
	writeJSON(w, map[string]bool{"success": true})
}

// handleStatusStream pushes recording-status changes as server-sent
// events. The current status is sent immediately so a client never
// renders without one.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.status.Subscribe()
	defer s.status.Unsubscribe(ch)

	send := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	send(s.status.Get())

	for {
		select {
		case <-r.Context().Done():
			return
		case st, open := <-ch:
			if !open {
				return
			}
			send(st)
		}
	}
}
