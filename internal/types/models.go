// internal/types/models.go
package types

// ActionType is the closed set of recorded interaction kinds.
type ActionType string

const (
	ActionClick      ActionType = "click"
	ActionInput      ActionType = "input"
	ActionSubmit     ActionType = "submit"
	ActionNavigation ActionType = "navigation"
	ActionNetwork    ActionType = "network"
)

// KnownActionType reports whether t is one of the recognized action kinds.
func KnownActionType(t ActionType) bool {
	switch t {
	case ActionClick, ActionInput, ActionSubmit, ActionNavigation, ActionNetwork:
		return true
	}
	return false
}

// CaptureWorthy reports whether actions of this type get a screenshot
// attached. Network events are recorded without media.
func (t ActionType) CaptureWorthy() bool {
	switch t {
	case ActionClick, ActionInput, ActionSubmit, ActionNavigation:
		return true
	}
	return false
}

// BoundingBox is a viewport rectangle in CSS pixels.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Action is one recorded interaction or network event. Immutable once
// persisted except for OrderIndex (rewritten on reorder); ScreenshotID
// and ElementID are filled in by enrichment before the action is written.
type Action struct {
	ID           ActionID       `json:"id"`
	Type         ActionType     `json:"type"`
	Timestamp    int64          `json:"timestamp"`
	Data         map[string]any `json:"data"`
	ScreenshotID string         `json:"screenshotId,omitempty"`
	ElementID    string         `json:"elementId,omitempty"`
	OrderIndex   int            `json:"orderIndex"`
}

// ViewportRect extracts the data.viewportRect field, if present and
// well-formed. Numbers arrive as float64 from JSON decoding.
func (a *Action) ViewportRect() (BoundingBox, bool) {
	raw, ok := a.Data["viewportRect"].(map[string]any)
	if !ok {
		return BoundingBox{}, false
	}
	num := func(key string) (float64, bool) {
		v, ok := raw[key].(float64)
		return v, ok
	}
	var box BoundingBox
	var okL, okT, okW, okH bool
	box.Left, okL = num("left")
	box.Top, okT = num("top")
	box.Width, okW = num("width")
	box.Height, okH = num("height")
	if !okL || !okT || !okW || !okH {
		return BoundingBox{}, false
	}
	return box, true
}

// DataString returns data[key] as a string, or "" when absent.
func (a *Action) DataString(key string) string {
	s, _ := a.Data[key].(string)
	return s
}

// DataFloat returns data[key] as a float64, or the fallback when absent.
func (a *Action) DataFloat(key string, fallback float64) float64 {
	v, ok := a.Data[key].(float64)
	if !ok {
		return fallback
	}
	return v
}

// SessionStatus is the lifecycle state of a recording session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// SessionMeta is the index entry for one recording session. ActionCount
// is the only field mutated during recording; it tracks the number of
// actions currently stored in the session's shard.
type SessionMeta struct {
	ID          SessionID     `json:"id"`
	Title       string        `json:"title"`
	URL         string        `json:"url,omitempty"`
	CreatedDate string        `json:"createdDate"`
	Status      SessionStatus `json:"status"`
	ActionCount int           `json:"actionCount"`
}

// Session is a metadata record together with its actions, returned when
// a recording stops.
type Session struct {
	SessionMeta
	Actions []*Action `json:"actions"`
}

// RecordingStatus is the process-wide capture state. SessionID is set
// while a recording is active (and may linger briefly during teardown).
type RecordingStatus struct {
	IsRecording bool      `json:"isRecording"`
	IsPaused    bool      `json:"isPaused"`
	SessionID   SessionID `json:"sessionId,omitempty"`
	StartTime   int64     `json:"startTime,omitempty"`
	Stale       bool      `json:"stale,omitempty"`
}

// StatusPatch is a partial RecordingStatus; nil fields are left unchanged
// by Update. SessionID and StartTime use pointers so a patch can
// explicitly clear them.
type StatusPatch struct {
	IsRecording *bool      `json:"isRecording,omitempty"`
	IsPaused    *bool      `json:"isPaused,omitempty"`
	SessionID   *SessionID `json:"sessionId,omitempty"`
	StartTime   *int64     `json:"startTime,omitempty"`
	Stale       *bool      `json:"stale,omitempty"`
}

// Screenshot is a stored full-frame capture.
type Screenshot struct {
	ID          ScreenshotID `json:"id"`
	Timestamp   int64        `json:"timestamp"`
	Data        []byte       `json:"-"`
	Mime        string       `json:"mime"`
	SourceURL   string       `json:"sourceUrl,omitempty"`
	SourceTabID int          `json:"sourceTabId,omitempty"`
	SessionID   SessionID    `json:"sessionId,omitempty"`
}

// ExtractedElement is a cropped sub-image derived from a screenshot.
// ScreenshotID is a back-reference for lookup, not ownership: deleting
// the parent screenshot does not remove already-persisted elements.
type ExtractedElement struct {
	ID           ElementID    `json:"id"`
	ScreenshotID ScreenshotID `json:"screenshotId"`
	Data         []byte       `json:"-"`
	Mime         string       `json:"mime"`
	BoundingBox  BoundingBox  `json:"boundingBox"`
	ElementType  string       `json:"elementType,omitempty"`
	ElementText  string       `json:"elementText,omitempty"`
	ActionID     ActionID     `json:"actionId,omitempty"`
	Timestamp    int64        `json:"timestamp"`
}

// StorageInfo summarizes blob-store usage for the storage-quota UI.
type StorageInfo struct {
	Count          int     `json:"count"`
	TotalSizeBytes int64   `json:"totalSizeBytes"`
	TotalSizeMB    float64 `json:"totalSizeMB"`
}
