// internal/server/message.go
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/webjourney/internal/recorder"
	"github.com/user/webjourney/internal/types"
)

// stopFlushTimeout bounds how long STOP_RECORDING waits for queued
// actions to drain before the session is returned.
const stopFlushTimeout = 5 * time.Second

// envelope is the message protocol the extension speaks: one POST per
// command, payload shape depending on the type.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var env envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	switch env.Type {
	case "START_RECORDING":
		s.msgStartRecording(w, r, env.Payload)
	case "STOP_RECORDING":
		s.msgStopRecording(w, r)
	case "PAUSE_RECORDING":
		s.msgSetPaused(w, true)
	case "RESUME_RECORDING":
		s.msgSetPaused(w, false)
	case "ACTION_RECORDED":
		s.msgActionRecorded(w, env.Payload)
	case "GET_SESSIONS":
		s.handleListSessions(w, r)
	case "GET_SESSION_ACTIONS":
		s.msgSessionActions(w, r, env.Payload)
	case "GET_SCREENSHOT":
		s.msgScreenshot(w, r, env.Payload)
	case "GET_SCREENSHOTS_BATCH":
		s.msgScreenshotsBatch(w, r, env.Payload)
	case "GET_STORAGE_INFO":
		s.handleStorage(w, r)
	case "CLEAR_STORAGE":
		s.msgClearStorage(w, r)
	case "DELETE_SESSION":
		s.msgDeleteSession(w, r, env.Payload)
	case "DELETE_ACTION":
		s.msgDeleteAction(w, r, env.Payload)
	case "UPDATE_TITLE":
		s.msgUpdateTitle(w, r, env.Payload)
	case "REORDER_ACTIONS":
		s.msgReorderActions(w, r, env.Payload)
	case "GET_STATUS":
		s.handleStatus(w, r)
	case "PING_HEARTBEAT":
		s.msgHeartbeat(w, env.Payload)
	case "GET_CONFIG":
		s.msgGetConfig(w)
	case "SAVE_CONFIG":
		s.msgSaveConfig(w, env.Payload)
	default:
		httpError(w, http.StatusBadRequest, "unknown message type: "+env.Type)
	}
}

type startPayload struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	TabID int    `json:"tabId"`
}

func (s *Server) msgStartRecording(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	var req startPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid payload")
			return
		}
	}

	st := s.status.Get()
	if st.IsRecording {
		httpError(w, http.StatusConflict, "recording already in progress")
		return
	}

	meta, err := s.sessions.CreateSession(r.Context(), req.Title, req.URL)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UnixMilli()
	rec, fls := true, false
	if _, err := s.status.Update(types.StatusPatch{
		IsRecording: &rec,
		IsPaused:    &fls,
		SessionID:   &meta.ID,
		StartTime:   &now,
		Stale:       &fls,
	}); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to update status")
		return
	}
	if s.watchdog != nil {
		s.watchdog.Ping(meta.ID)
	}

	// The first action on every session is the page it was launched from.
	if req.URL != "" && s.recorder != nil {
		launch := &types.Action{
			ID:        types.NewActionID(),
			Type:      types.ActionNavigation,
			Timestamp: now,
			Data: map[string]any{
				"url":      req.URL,
				"selector": "window",
				"tagName":  "BROWSER",
			},
		}
		if err := s.recorder.Submit(&recorder.Submission{Action: launch, TabID: req.TabID, TabURL: req.URL}); err != nil {
			slog.Warn("launch action not recorded", "session_id", meta.ID, "error", err)
		}
	}

	writeJSON(w, map[string]any{"success": true, "sessionId": meta.ID})
}

func (s *Server) msgStopRecording(w http.ResponseWriter, r *http.Request) {
	st := s.status.Get()
	if st.SessionID == "" {
		httpError(w, http.StatusConflict, "no active recording")
		return
	}
	id := st.SessionID

	// Let queued actions land before the session snapshot is taken.
	if s.recorder != nil && !s.recorder.WaitIdle(stopFlushTimeout) {
		slog.Warn("stop: queue did not drain in time", "session_id", id)
	}

	if err := s.sessions.SetStatus(r.Context(), id, types.SessionCompleted); err != nil {
		slog.Warn("stop: mark completed failed", "session_id", id, "error", err)
	}

	fls := false
	var zero int64
	empty := types.SessionID("")
	if _, err := s.status.Update(types.StatusPatch{
		IsRecording: &fls,
		IsPaused:    &fls,
		SessionID:   &empty,
		StartTime:   &zero,
		Stale:       &fls,
	}); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to update status")
		return
	}

	session, err := s.loadSession(r, id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, map[string]any{"success": true, "session": session})
}

func (s *Server) loadSession(r *http.Request, id types.SessionID) (*types.Session, error) {
	metas, err := s.sessions.GetSessionsMetadata(r.Context())
	if err != nil {
		return nil, err
	}
	var meta *types.SessionMeta
	for _, m := range metas {
		if m.ID == id {
			meta = m
			break
		}
	}
	if meta == nil {
		return nil, errSessionGone
	}
	actions, err := s.sessions.GetSessionActions(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return &types.Session{SessionMeta: *meta, Actions: actions}, nil
}

func (s *Server) msgSetPaused(w http.ResponseWriter, paused bool) {
	st := s.status.Get()
	if !st.IsRecording {
		httpError(w, http.StatusConflict, "no active recording")
		return
	}
	patch := types.StatusPatch{IsPaused: &paused}
	if !paused {
		fls := false
		patch.Stale = &fls
	}
	updated, err := s.status.Update(patch)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to update status")
		return
	}
	if !paused && s.watchdog != nil && updated.SessionID != "" {
		s.watchdog.Ping(updated.SessionID)
	}
	writeJSON(w, updated)
}

// actionPayload is ACTION_RECORDED's body: the action itself plus the
// tab it came from.
type actionPayload struct {
	Action *types.Action `json:"action"`
	TabID  int           `json:"tabId"`
	TabURL string        `json:"tabUrl"`
}

func (s *Server) msgActionRecorded(w http.ResponseWriter, payload json.RawMessage) {
	var req actionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	// Producers mint the action id; an id-less payload is malformed and
	// gets rejected by validation, not repaired here.
	if err := s.recorder.Submit(&recorder.Submission{Action: req.Action, TabID: req.TabID, TabURL: req.TabURL}); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

type sessionIDPayload struct {
	SessionID types.SessionID `json:"sessionId"`
}

func (s *Server) msgSessionActions(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	var req sessionIDPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" {
		httpError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	actions, err := s.sessions.GetSessionActions(r.Context(), req.SessionID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load actions")
		return
	}
	writeJSON(w, actions)
}

func (s *Server) msgScreenshot(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	var id string
	if err := json.Unmarshal(payload, &id); err != nil || id == "" {
		httpError(w, http.StatusBadRequest, "screenshot id required")
		return
	}
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

func (s *Server) msgScreenshotsBatch(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	var ids []string
	if err := json.Unmarshal(payload, &ids); err != nil {
		httpError(w, http.StatusBadRequest, "id list required")
		return
	}
	batch, err := s.media.GetBatch(r.Context(), ids)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "batch lookup failed")
		return
	}
	writeJSON(w, batch)
}

func (s *Server) msgClearStorage(w http.ResponseWriter, r *http.Request) {
	if err := s.media.ClearAll(r.Context()); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to clear media")
		return
	}
	if err := s.sessions.ClearAll(r.Context()); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to clear sessions")
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) msgDeleteSession(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	var req sessionIDPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" {
		httpError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	if err := s.sessions.DeleteSession(r.Context(), req.SessionID); err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) msgDeleteAction(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	var req struct {
		SessionID types.SessionID `json:"sessionId"`
		ActionID  types.ActionID  `json:"actionId"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" || req.ActionID == "" {
		httpError(w, http.StatusBadRequest, "sessionId and actionId required")
		return
	}
	if err := s.sessions.DeleteAction(r.Context(), req.SessionID, req.ActionID); err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) msgUpdateTitle(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	var req struct {
		SessionID types.SessionID `json:"sessionId"`
		Title     string          `json:"title"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" {
		httpError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	if err := s.sessions.UpdateTitle(r.Context(), req.SessionID, req.Title); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) msgReorderActions(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	var req struct {
		SessionID types.SessionID `json:"sessionId"`
		Actions   []*types.Action `json:"actions"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" {
		httpError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	if err := s.sessions.ReorderActions(r.Context(), req.SessionID, req.Actions); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) msgHeartbeat(w http.ResponseWriter, payload json.RawMessage) {
	var req sessionIDPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" {
		httpError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	if s.watchdog != nil {
		s.watchdog.Ping(req.SessionID)
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) msgGetConfig(w http.ResponseWriter) {
	cfg := s.cfg.Get()
	writeJSON(w, map[string]any{
		"quality":  cfg.Capture.Quality,
		"autoOpen": cfg.Capture.AutoOpen,
	})
}

func (s *Server) msgSaveConfig(w http.ResponseWriter, payload json.RawMessage) {
	var req struct {
		Quality  string `json:"quality"`
		AutoOpen bool   `json:"autoOpen"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := s.cfg.SetCapture(req.Quality, req.AutoOpen); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}
