// internal/types/interfaces.go
package types

import "context"

// SessionStore is the sharded session index: a capped, newest-first
// metadata list plus one independently addressable action shard per
// session.
type SessionStore interface {
	CreateSession(ctx context.Context, title, url string) (*SessionMeta, error)
	GetSessionsMetadata(ctx context.Context) ([]*SessionMeta, error)
	GetSessionActions(ctx context.Context, id SessionID) ([]*Action, error)
	AppendAction(ctx context.Context, id SessionID, action *Action) error
	DeleteSession(ctx context.Context, id SessionID) error
	DeleteAction(ctx context.Context, id SessionID, actionID ActionID) error
	ReorderActions(ctx context.Context, id SessionID, ordered []*Action) error
	UpdateTitle(ctx context.Context, id SessionID, title string) error
	SetStatus(ctx context.Context, id SessionID, status SessionStatus) error
	ClearAll(ctx context.Context) error
}

// MediaStore holds screenshot and extracted-element binaries.
type MediaStore interface {
	Store(ctx context.Context, dataURL, sourceURL string, sourceTabID int, sessionID SessionID) (ScreenshotID, error)
	Get(ctx context.Context, id string) (string, error)
	GetBatch(ctx context.Context, ids []string) (map[string]string, error)
	GetRaw(ctx context.Context, id ScreenshotID) ([]byte, string, error)
	StoreExtracted(ctx context.Context, screenshotID ScreenshotID, data []byte, mime string, box BoundingBox, elementType, elementText string, actionID ActionID) (ElementID, error)
	UsageInfo(ctx context.Context) (*StorageInfo, error)
	ClearAll(ctx context.Context) error
}

// StatusStore is the single mutation point for the recording status
// singleton. Update merges a partial patch, persists, and broadcasts.
type StatusStore interface {
	Get() RecordingStatus
	Update(patch StatusPatch) (RecordingStatus, error)
}

// Capturer produces a visible-tab capture as a data URL. Implementations
// return typed errors (agent unreachable, timeout) that the ingestion
// pipeline treats as non-fatal.
type Capturer interface {
	Capture(ctx context.Context, tabID int, quality int) (string, error)
}
