package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/webjourney/internal/bridge"
	"github.com/user/webjourney/internal/config"
	"github.com/user/webjourney/internal/media"
	"github.com/user/webjourney/internal/recorder"
	"github.com/user/webjourney/internal/state"
	"github.com/user/webjourney/internal/status"
	"github.com/user/webjourney/internal/types"
)

type stubCapturer struct {
	dataURL string
	err     error
}

func (c *stubCapturer) Capture(context.Context, int, int) (string, error) {
	return c.dataURL, c.err
}

func testDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(4 * x), G: uint8(5 * y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatal(err)
	}
	return media.EncodeDataURL(buf.Bytes(), "image/jpeg")
}

type env struct {
	dir      string
	srv      *Server
	sessions *state.Store
	media    *media.Store
	status   *status.Store
	rec      *recorder.Recorder
	bridge   *bridge.Bridge
}

func newEnv(t *testing.T, capturer types.Capturer) *env {
	t.Helper()
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "config.json")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	live := config.NewLive(cfgPath, cfg)

	sessions := state.NewStore(dir)
	mediaStore, err := media.Open(filepath.Join(dir, "media.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mediaStore.Close() })
	statusStore := status.NewStore(dir)
	wd := status.NewWatchdog(statusStore)

	br := bridge.New(2 * time.Second)
	if capturer == nil {
		capturer = &stubCapturer{dataURL: testDataURL(t)}
	}
	rec := recorder.New(sessions, mediaStore, statusStore, capturer, live.Quality, 64)
	rec.Start(context.Background())
	t.Cleanup(rec.Stop)

	srv := New(live, sessions, mediaStore, statusStore, wd, rec, br)
	return &env{dir: dir, srv: srv, sessions: sessions, media: mediaStore, status: statusStore, rec: rec, bridge: br}
}

func postMessage(t *testing.T, e *env, msgType string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	msg := map[string]any{"type": msgType}
	if payload != nil {
		msg["payload"] = payload
	}
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", "/api/message", bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func clickPayload() map[string]any {
	return map[string]any{
		"action": map[string]any{
			"id":        string(types.NewActionID()),
			"type":      "click",
			"timestamp": time.Now().UnixMilli(),
			"data":      map[string]any{"selector": "#submit", "tagName": "BUTTON"},
		},
		"tabId":  1,
		"tabUrl": "https://example.com",
	}
}

func TestStartStopFlow(t *testing.T) {
	e := newEnv(t, nil)

	w := postMessage(t, e, "START_RECORDING", map[string]any{
		"title": "Checkout flow",
		"url":   "https://example.com/cart",
		"tabId": 7,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("start: status %d body %s", w.Code, w.Body.String())
	}
	var started struct {
		Success   bool            `json:"success"`
		SessionID types.SessionID `json:"sessionId"`
	}
	decode(t, w, &started)
	if !started.Success || started.SessionID == "" {
		t.Fatalf("unexpected start response: %+v", started)
	}

	st := e.status.Get()
	if !st.IsRecording || st.SessionID != started.SessionID {
		t.Fatalf("status not recording after start: %+v", st)
	}

	if w := postMessage(t, e, "ACTION_RECORDED", clickPayload()); w.Code != http.StatusOK {
		t.Fatalf("action: status %d body %s", w.Code, w.Body.String())
	}

	w = postMessage(t, e, "STOP_RECORDING", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop: status %d body %s", w.Code, w.Body.String())
	}
	var stopped struct {
		Success bool           `json:"success"`
		Session *types.Session `json:"session"`
	}
	decode(t, w, &stopped)
	if !stopped.Success || stopped.Session == nil {
		t.Fatalf("unexpected stop response: %s", w.Body.String())
	}
	// Launch navigation plus the click.
	if len(stopped.Session.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(stopped.Session.Actions))
	}
	if stopped.Session.Actions[0].Type != types.ActionNavigation {
		t.Errorf("first action should be the launch navigation, got %s", stopped.Session.Actions[0].Type)
	}
	if stopped.Session.Status != types.SessionCompleted {
		t.Errorf("session status = %s, want completed", stopped.Session.Status)
	}

	st = e.status.Get()
	if st.IsRecording || st.SessionID != "" {
		t.Errorf("status not cleared after stop: %+v", st)
	}
}

func TestStartConflictsWithActiveRecording(t *testing.T) {
	e := newEnv(t, nil)
	if w := postMessage(t, e, "START_RECORDING", map[string]any{"url": "https://example.com"}); w.Code != http.StatusOK {
		t.Fatalf("start: %d", w.Code)
	}
	if w := postMessage(t, e, "START_RECORDING", map[string]any{"url": "https://example.com"}); w.Code != http.StatusConflict {
		t.Fatalf("second start: status %d, want 409", w.Code)
	}
}

func TestStopWithoutRecording(t *testing.T) {
	e := newEnv(t, nil)
	if w := postMessage(t, e, "STOP_RECORDING", nil); w.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409", w.Code)
	}
}

func TestPauseDropsActions(t *testing.T) {
	e := newEnv(t, nil)
	w := postMessage(t, e, "START_RECORDING", map[string]any{"url": "https://example.com"})
	var started struct {
		SessionID types.SessionID `json:"sessionId"`
	}
	decode(t, w, &started)
	e.rec.WaitIdle(2 * time.Second)

	if w := postMessage(t, e, "PAUSE_RECORDING", nil); w.Code != http.StatusOK {
		t.Fatalf("pause: %d", w.Code)
	}
	if st := e.status.Get(); !st.IsPaused {
		t.Fatal("status not paused")
	}

	postMessage(t, e, "ACTION_RECORDED", clickPayload())
	e.rec.WaitIdle(2 * time.Second)

	actions, err := e.sessions.GetSessionActions(context.Background(), started.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	// Only the launch navigation lands; the paused click is dropped.
	if len(actions) != 1 {
		t.Fatalf("expected 1 action while paused, got %d", len(actions))
	}

	var resumed types.RecordingStatus
	w = postMessage(t, e, "RESUME_RECORDING", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resume: %d", w.Code)
	}
	decode(t, w, &resumed)
	if resumed.IsPaused || resumed.Stale {
		t.Fatalf("resume did not clear pause/stale: %+v", resumed)
	}
}

func TestActionWithoutIDRejected(t *testing.T) {
	e := newEnv(t, nil)
	w := postMessage(t, e, "START_RECORDING", map[string]any{"url": "https://example.com"})
	var started struct {
		SessionID types.SessionID `json:"sessionId"`
	}
	decode(t, w, &started)
	e.rec.WaitIdle(2 * time.Second)

	payload := clickPayload()
	delete(payload["action"].(map[string]any), "id")
	w = postMessage(t, e, "ACTION_RECORDED", payload)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("id-less action: status %d, want 400 (body %s)", w.Code, w.Body.String())
	}

	e.rec.WaitIdle(2 * time.Second)
	actions, err := e.sessions.GetSessionActions(context.Background(), started.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	// Only the launch navigation; nothing was minted on the caller's behalf.
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
}

func TestScreenshotLookup(t *testing.T) {
	e := newEnv(t, nil)
	id, err := e.media.Store(context.Background(), testDataURL(t), "https://example.com", 1, "")
	if err != nil {
		t.Fatal(err)
	}

	w := postMessage(t, e, "GET_SCREENSHOT", string(id))
	var resp struct {
		Data *string `json:"data"`
	}
	decode(t, w, &resp)
	if resp.Data == nil || !strings.HasPrefix(*resp.Data, "data:image/") {
		t.Fatalf("unexpected screenshot response: %s", w.Body.String())
	}

	w = postMessage(t, e, "GET_SCREENSHOT", "scr_missing")
	resp.Data = nil
	decode(t, w, &resp)
	if resp.Data != nil {
		t.Fatalf("missing screenshot should be null, got %q", *resp.Data)
	}
}

func TestSessionMutationMessages(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	meta, err := e.sessions.CreateSession(ctx, "Original", "https://example.com")
	if err != nil {
		t.Fatal(err)
	}

	w := postMessage(t, e, "UPDATE_TITLE", map[string]any{"sessionId": meta.ID, "title": "Renamed"})
	if w.Code != http.StatusOK {
		t.Fatalf("update title: %d body %s", w.Code, w.Body.String())
	}
	metas, _ := e.sessions.GetSessionsMetadata(ctx)
	if metas[0].Title != "Renamed" {
		t.Errorf("title = %q, want Renamed", metas[0].Title)
	}

	w = postMessage(t, e, "DELETE_SESSION", map[string]any{"sessionId": meta.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("delete session: %d", w.Code)
	}
	metas, _ = e.sessions.GetSessionsMetadata(ctx)
	if len(metas) != 0 {
		t.Fatalf("session not deleted, %d remain", len(metas))
	}
}

func TestRestReads(t *testing.T) {
	e := newEnv(t, nil)
	for _, path := range []string{"/health", "/api/sessions", "/api/status", "/api/storage", "/api/notifications"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		e.srv.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: status %d", path, w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("GET %s: content type %q", path, ct)
		}
	}
}

func TestSessionActionsReadStatusCodes(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	meta, err := e.sessions.CreateSession(ctx, "Broken", "")
	if err != nil {
		t.Fatal(err)
	}

	// An unknown id reads as an empty list, not an error.
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, httptest.NewRequest("GET", "/api/sessions/session_missing/actions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unknown session: status %d, want 200", w.Code)
	}

	// A corrupt shard is a storage failure, not a lookup miss.
	shard := filepath.Join(e.dir, "sessions", string(meta.ID), "actions.jsonl")
	if err := os.WriteFile(shard, []byte("{not json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w = httptest.NewRecorder()
	e.srv.ServeHTTP(w, httptest.NewRequest("GET", "/api/sessions/"+string(meta.ID)+"/actions", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("corrupt shard: status %d, want 500 (body %s)", w.Code, w.Body.String())
	}
}

func TestConfigRoundTrip(t *testing.T) {
	e := newEnv(t, nil)

	w := postMessage(t, e, "SAVE_CONFIG", map[string]any{"quality": "high", "autoOpen": false})
	if w.Code != http.StatusOK {
		t.Fatalf("save config: %d body %s", w.Code, w.Body.String())
	}

	w = postMessage(t, e, "GET_CONFIG", nil)
	var cfg struct {
		Quality  string `json:"quality"`
		AutoOpen bool   `json:"autoOpen"`
	}
	decode(t, w, &cfg)
	if cfg.Quality != "high" || cfg.AutoOpen {
		t.Fatalf("config not applied: %+v", cfg)
	}

	if w := postMessage(t, e, "SAVE_CONFIG", map[string]any{"quality": "ultra"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad quality: status %d, want 400", w.Code)
	}
}

func TestNotificationsDrainOnce(t *testing.T) {
	e := newEnv(t, &stubCapturer{err: fmt.Errorf("restricted page")})

	postMessage(t, e, "START_RECORDING", map[string]any{"url": "https://example.com"})
	postMessage(t, e, "ACTION_RECORDED", clickPayload())
	e.rec.WaitIdle(2 * time.Second)

	req := httptest.NewRequest("GET", "/api/notifications", nil)
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	var notes []string
	decode(t, w, &notes)
	if len(notes) == 0 {
		t.Fatal("expected capture-failure notifications")
	}

	w = httptest.NewRecorder()
	e.srv.ServeHTTP(w, httptest.NewRequest("GET", "/api/notifications", nil))
	notes = nil
	decode(t, w, &notes)
	if len(notes) != 0 {
		t.Fatalf("notifications should drain, got %d", len(notes))
	}
}

func TestAgentPollAndResult(t *testing.T) {
	e := newEnv(t, nil)

	// Empty poll times out with a null command.
	req := httptest.NewRequest("GET", "/agent/commands?wait=1", nil)
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	var empty struct {
		Command *bridge.Command `json:"command"`
	}
	decode(t, w, &empty)
	if empty.Command != nil {
		t.Fatalf("expected null command, got %+v", empty.Command)
	}

	// A pending capture shows up on the next poll; posting the result
	// completes it.
	dataURL := testDataURL(t)
	captured := make(chan string, 1)
	go func() {
		url, err := e.bridge.Capture(context.Background(), 3, 40)
		if err != nil {
			captured <- "error: " + err.Error()
			return
		}
		captured <- url
	}()

	var cmd *bridge.Command
	deadline := time.Now().Add(2 * time.Second)
	for cmd == nil && time.Now().Before(deadline) {
		w = httptest.NewRecorder()
		e.srv.ServeHTTP(w, httptest.NewRequest("GET", "/agent/commands?wait=1", nil))
		var resp struct {
			Command *bridge.Command `json:"command"`
		}
		decode(t, w, &resp)
		cmd = resp.Command
	}
	if cmd == nil {
		t.Fatal("capture command never appeared")
	}
	if cmd.TabID != 3 || cmd.Quality != 40 {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	body, _ := json.Marshal(bridge.Result{ID: cmd.ID, DataURL: dataURL})
	w = httptest.NewRecorder()
	e.srv.ServeHTTP(w, httptest.NewRequest("POST", "/agent/results", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("post result: %d", w.Code)
	}

	select {
	case got := <-captured:
		if got != dataURL {
			t.Fatalf("capture returned %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not complete")
	}
}

func TestStatusStreamSendsCurrentAndUpdates(t *testing.T) {
	e := newEnv(t, nil)
	ts := httptest.NewServer(e.srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/status/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readEvent := func() types.RecordingStatus {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read event: %v", err)
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var st types.RecordingStatus
			if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &st); err != nil {
				t.Fatalf("bad event %q: %v", line, err)
			}
			return st
		}
	}

	if st := readEvent(); st.IsRecording {
		t.Fatalf("initial status should be idle: %+v", st)
	}

	rec := true
	sid := types.SessionID("session_1_test")
	if _, err := e.status.Update(types.StatusPatch{IsRecording: &rec, SessionID: &sid}); err != nil {
		t.Fatal(err)
	}
	if st := readEvent(); !st.IsRecording || st.SessionID != sid {
		t.Fatalf("update not streamed: %+v", st)
	}
}
