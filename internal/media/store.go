// Package media is the binary object store for screenshots and cropped
// element images, backed by SQLite.
package media

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/user/webjourney/internal/types"
)

var _ types.MediaStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS screenshots (
	id            TEXT PRIMARY KEY,
	timestamp     INTEGER NOT NULL,
	data          BLOB NOT NULL,
	mime          TEXT NOT NULL,
	source_url    TEXT,
	source_tab_id INTEGER,
	session_id    TEXT
);
CREATE INDEX IF NOT EXISTS idx_screenshots_timestamp ON screenshots(timestamp);
CREATE INDEX IF NOT EXISTS idx_screenshots_session ON screenshots(session_id);

CREATE TABLE IF NOT EXISTS extracted_elements (
	id            TEXT PRIMARY KEY,
	screenshot_id TEXT NOT NULL,
	data          BLOB NOT NULL,
	mime          TEXT NOT NULL,
	bounding_box  TEXT NOT NULL,
	element_type  TEXT,
	element_text  TEXT,
	action_id     TEXT,
	timestamp     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_elements_screenshot ON extracted_elements(screenshot_id);
`

// Store is the SQLite-backed media store. Screenshots and extracted
// elements live in separate tables; element ids and screenshot ids share
// one lookup namespace (elements are checked first).
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the media database at the given path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open media database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping media database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create media schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store converts a data-URL capture into a stored binary object and
// returns its fresh id.
func (s *Store) Store(ctx context.Context, dataURL, sourceURL string, sourceTabID int, sessionID types.SessionID) (types.ScreenshotID, error) {
	data, mime, err := DecodeDataURL(dataURL)
	if err != nil {
		return "", fmt.Errorf("decode capture: %w", err)
	}

	id := types.NewScreenshotID()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO screenshots (id, timestamp, data, mime, source_url, source_tab_id, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(id), time.Now().UnixMilli(), data, mime, sourceURL, sourceTabID, string(sessionID))
	if err != nil {
		return "", fmt.Errorf("insert screenshot: %w", err)
	}
	return id, nil
}

// StoreExtracted persists a cropped element image as an independently
// addressable object. The screenshot id is a back-reference, not
// ownership: elements outlive their parent screenshot.
func (s *Store) StoreExtracted(ctx context.Context, screenshotID types.ScreenshotID, data []byte, mime string, box types.BoundingBox, elementType, elementText string, actionID types.ActionID) (types.ElementID, error) {
	boxJSON, err := json.Marshal(box)
	if err != nil {
		return "", fmt.Errorf("marshal bounding box: %w", err)
	}

	id := types.NewElementID()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extracted_elements (id, screenshot_id, data, mime, bounding_box, element_type, element_text, action_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(id), string(screenshotID), data, mime, string(boxJSON), elementType, elementText, string(actionID), time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert extracted element: %w", err)
	}
	return id, nil
}

// Get looks an id up across both stores, elements first, and re-encodes
// the stored binary as a data URL. A missing id yields "" with no error.
func (s *Store) Get(ctx context.Context, id string) (string, error) {
	var data []byte
	var mime string

	err := s.db.QueryRowContext(ctx,
		`SELECT data, mime FROM extracted_elements WHERE id = ?`, id).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		err = s.db.QueryRowContext(ctx,
			`SELECT data, mime FROM screenshots WHERE id = ?`, id).Scan(&data, &mime)
		if err == sql.ErrNoRows {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("query screenshot: %w", err)
		}
		return EncodeDataURL(data, mime), nil
	}
	if err != nil {
		return "", fmt.Errorf("query extracted element: %w", err)
	}
	return EncodeDataURL(data, mime), nil
}

// GetRaw returns the stored screenshot bytes and mime type.
func (s *Store) GetRaw(ctx context.Context, id types.ScreenshotID) ([]byte, string, error) {
	var data []byte
	var mime string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, mime FROM screenshots WHERE id = ?`, string(id)).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("screenshot not found: %s", id)
	}
	if err != nil {
		return nil, "", fmt.Errorf("query screenshot: %w", err)
	}
	return data, mime, nil
}

// getBatchConcurrency bounds parallel lookups in GetBatch.
const getBatchConcurrency = 8

// GetBatch is the batched form of Get, used when a session with many
// actions is opened. Missing ids map to "".
func (s *Store) GetBatch(ctx context.Context, ids []string) (map[string]string, error) {
	result := make(map[string]string, len(ids))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(getBatchConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			encoded, err := s.Get(ctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			result[id] = encoded
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// UsageInfo sums object counts and byte sizes across both tables. Used
// for the storage-quota display only; nothing self-evicts on pressure.
func (s *Store) UsageInfo(ctx context.Context) (*types.StorageInfo, error) {
	var count int
	var size int64

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0) FROM (
			SELECT data FROM screenshots
			UNION ALL
			SELECT data FROM extracted_elements
		)
	`)
	if err := row.Scan(&count, &size); err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}

	return &types.StorageInfo{
		Count:          count,
		TotalSizeBytes: size,
		TotalSizeMB:    float64(size) / (1024 * 1024),
	}, nil
}

// ClearAll empties both binary stores. Session action history is a
// separate lifetime and is untouched.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM screenshots`); err != nil {
		return fmt.Errorf("clear screenshots: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM extracted_elements`); err != nil {
		return fmt.Errorf("clear extracted elements: %w", err)
	}
	return nil
}
