// internal/server/server.go

// Package server exposes the daemon over HTTP: a command envelope
// endpoint mirroring the extension's message protocol, REST reads for
// tooling, an SSE status stream, and the long-poll surface the capture
// agent connects to.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/user/webjourney/internal/bridge"
	"github.com/user/webjourney/internal/config"
	"github.com/user/webjourney/internal/recorder"
	"github.com/user/webjourney/internal/status"
	"github.com/user/webjourney/internal/types"
)

// maxNotifications bounds the undelivered capture-failure buffer.
const maxNotifications = 100

// Server routes HTTP traffic to the stores and the ingestion pipeline.
type Server struct {
	cfg      *config.Live
	sessions types.SessionStore
	media    types.MediaStore
	status   *status.Store
	watchdog *status.Watchdog
	recorder *recorder.Recorder
	bridge   *bridge.Bridge
	router   *mux.Router

	notifMu       sync.Mutex
	notifications []string
}

// New wires a Server over the given components and registers it as the
// recorder's capture-failure sink.
func New(cfg *config.Live, sessions types.SessionStore, media types.MediaStore, st *status.Store, wd *status.Watchdog, rec *recorder.Recorder, br *bridge.Bridge) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		media:    media,
		status:   st,
		watchdog: wd,
		recorder: rec,
		bridge:   br,
		router:   mux.NewRouter(),
	}
	if rec != nil {
		rec.SetOnCaptureError(s.pushNotification)
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/message", s.handleMessage).Methods("POST")

	s.router.HandleFunc("/api/sessions", s.handleListSessions).Methods("GET")
	s.router.HandleFunc("/api/sessions/{id}/actions", s.handleSessionActions).Methods("GET")
	s.router.HandleFunc("/api/screenshots/{id}", s.handleScreenshot).Methods("GET")
	s.router.HandleFunc("/api/storage", s.handleStorage).Methods("GET")
	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/status/stream", s.handleStatusStream).Methods("GET")
	s.router.HandleFunc("/api/heartbeat", s.handleHeartbeat).Methods("POST")
	s.router.HandleFunc("/api/notifications", s.handleNotifications).Methods("GET")

	s.router.HandleFunc("/agent/commands", s.handleAgentCommands).Methods("GET")
	s.router.HandleFunc("/agent/results", s.handleAgentResults).Methods("POST")

	return s
}

// ServeHTTP delegates to the router without middleware; tests use this.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped with CORS and panic recovery for
// the real listener. Origins come from config; "*" allows any.
func (s *Server) Handler() http.Handler {
	cfg := s.cfg.Get()
	origins := strings.Split(cfg.HTTP.AllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.RecoveryHandler()(cors(s.router))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	metas, err := s.sessions.GetSessionsMetadata(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, metas)
}

func (s *Server) handleSessionActions(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(mux.Vars(r)["id"])
	actions, err := s.sessions.GetSessionActions(r.Context(), id)
	if err != nil {
		// A missing shard reads as empty, so an error here is real I/O
		// or corruption, not an unknown id.
		httpError(w, http.StatusInternalServerError, "failed to load actions")
		return
	}
	writeJSON(w, actions)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	data, err := s.media.Get(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "screenshot lookup failed")
		return
	}
	if data == "" {
		writeJSON(w, map[string]any{"data": nil})
		return
	}
	writeJSON(w, map[string]any{"data": data})
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	info, err := s.media.UsageInfo(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "storage info failed")
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status.Get())
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID types.SessionID `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		httpError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	if s.watchdog != nil {
		s.watchdog.Ping(req.SessionID)
	}
	writeJSON(w, map[string]bool{"success": true})
}

// handleNotifications drains pending capture-failure messages. Each
// message is delivered at most once.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	s.notifMu.Lock()
	pending := s.notifications
	s.notifications = nil
	s.notifMu.Unlock()
	if pending == nil {
		pending = []string{}
	}
	writeJSON(w, pending)
}

func (s *Server) pushNotification(err error) {
	s.notifMu.Lock()
	defer s.notifMu.Unlock()
	if len(s.notifications) >= maxNotifications {
		s.notifications = s.notifications[1:]
	}
	s.notifications = append(s.notifications, err.Error())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
