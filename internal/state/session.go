// internal/state/session.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/webjourney/internal/types"
)

// maxSessions caps the metadata index. Creating a session beyond the cap
// evicts the oldest entries and deletes their shards.
const maxSessions = 100

// Store is the sharded session store. Session metadata lives in
// sessions/index.json, newest first; each session's actions live in
// their own shard at sessions/<sessionID>/actions.jsonl.
//
// The ingestion queue is the sole writer to any given shard, so a single
// store-wide mutex is enough to keep the index and shards consistent.
type Store struct {
	root string
	mu   sync.RWMutex

	migrated bool
}

// NewStore creates a file-backed session Store rooted at the given directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) sessionsDir() string {
	return filepath.Join(s.root, "sessions")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.sessionsDir(), "index.json")
}

func (s *Store) shardDir(id types.SessionID) string {
	return filepath.Join(s.sessionsDir(), string(id))
}

func (s *Store) shardPath(id types.SessionID) string {
	return filepath.Join(s.shardDir(id), "actions.jsonl")
}

// loadIndex reads index.json, newest first. Caller must hold the lock.
func (s *Store) loadIndex() ([]*types.SessionMeta, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}
	var index []*types.SessionMeta
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("unmarshal session index: %w", err)
	}
	return index, nil
}

// saveIndex writes the index atomically. Caller must hold the lock.
func (s *Store) saveIndex(index []*types.SessionMeta) error {
	if index == nil {
		index = []*types.SessionMeta{}
	}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// readShard returns a session's actions ordered by OrderIndex ascending.
// Caller must hold the lock.
func (s *Store) readShard(id types.SessionID) ([]*types.Action, error) {
	f, err := os.Open(s.shardPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	var actions []*types.Action
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var action types.Action
		if err := json.Unmarshal([]byte(line), &action); err != nil {
			return nil, fmt.Errorf("unmarshal action: %w", err)
		}
		actions = append(actions, &action)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan shard: %w", err)
	}

	// OrderIndex is the sort key, not array position.
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].OrderIndex < actions[j].OrderIndex
	})
	return actions, nil
}

// writeShard rewrites a shard wholesale, atomically. Caller must hold the lock.
func (s *Store) writeShard(id types.SessionID, actions []*types.Action) error {
	if err := os.MkdirAll(s.shardDir(id), 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	var buf strings.Builder
	for _, action := range actions {
		line, err := json.Marshal(action)
		if err != nil {
			return fmt.Errorf("marshal action: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	tmp := s.shardPath(id) + ".tmp"
	if err := os.WriteFile(tmp, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write temp shard: %w", err)
	}
	if err := os.Rename(tmp, s.shardPath(id)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp shard: %w", err)
	}
	return nil
}

func findSession(index []*types.SessionMeta, id types.SessionID) (int, *types.SessionMeta) {
	for i, meta := range index {
		if meta.ID == id {
			return i, meta
		}
	}
	return -1, nil
}

// CreateSession mints a new session, prepends it to the index, and
// initializes an empty shard. An empty title falls back to "Recording N".
func (s *Store) CreateSession(_ context.Context, title, rawURL string) (*types.SessionMeta, error) {
	if rawURL != "" {
		u, err := url.Parse(rawURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("invalid session url: %q", rawURL)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.migrate(); err != nil {
		return nil, err
	}

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	if title == "" {
		title = fmt.Sprintf("Recording %d", len(index)+1)
	}
	meta := &types.SessionMeta{
		ID:          types.NewSessionID(),
		Title:       title,
		URL:         rawURL,
		CreatedDate: time.Now().UTC().Format(time.RFC3339),
		Status:      types.SessionActive,
		ActionCount: 0,
	}

	index = append([]*types.SessionMeta{meta}, index...)

	// Evict oldest beyond the cap, shards included.
	for len(index) > maxSessions {
		evicted := index[len(index)-1]
		index = index[:len(index)-1]
		if err := os.RemoveAll(s.shardDir(evicted.ID)); err != nil {
			slog.Warn("failed to remove evicted shard", "session_id", evicted.ID, "error", err)
		}
	}

	if err := s.saveIndex(index); err != nil {
		return nil, err
	}
	if err := s.writeShard(meta.ID, nil); err != nil {
		return nil, err
	}
	return meta, nil
}

// GetSessionsMetadata returns the metadata index, newest first. The lazy
// legacy migration runs first.
func (s *Store) GetSessionsMetadata(_ context.Context) ([]*types.SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.migrate(); err != nil {
		return nil, err
	}
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	if index == nil {
		index = []*types.SessionMeta{}
	}
	return index, nil
}

// GetSessionActions returns the shard contents ordered by OrderIndex.
func (s *Store) GetSessionActions(_ context.Context, id types.SessionID) ([]*types.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readShard(id)
}

// AppendAction appends one action to the session's shard and bumps the
// metadata counter. The counter update is best-effort: a failure after a
// successful shard append is logged, never rolled back; deletes recount
// from shard length and heal any drift.
func (s *Store) AppendAction(_ context.Context, id types.SessionID, action *types.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	_, meta := findSession(index, id)
	if meta == nil {
		return fmt.Errorf("session not found: %s", id)
	}

	actions, err := s.readShard(id)
	if err != nil {
		return err
	}
	action.OrderIndex = len(actions)

	if err := os.MkdirAll(s.shardDir(id), 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	line, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	f, err := os.OpenFile(s.shardPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write action: %w", err)
	}

	meta.ActionCount = len(actions) + 1
	if err := s.saveIndex(index); err != nil {
		slog.Warn("action appended but counter update failed", "session_id", id, "error", err)
	}
	return nil
}

// DeleteSession removes the metadata entry and the entire shard.
func (s *Store) DeleteSession(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	i, meta := findSession(index, id)
	if meta == nil {
		return fmt.Errorf("session not found: %s", id)
	}
	index = append(index[:i], index[i+1:]...)
	if err := s.saveIndex(index); err != nil {
		return err
	}
	if err := os.RemoveAll(s.shardDir(id)); err != nil {
		return fmt.Errorf("remove shard: %w", err)
	}
	return nil
}

// DeleteAction removes one action from the shard and recomputes the
// metadata counter from the shard's new length.
func (s *Store) DeleteAction(_ context.Context, id types.SessionID, actionID types.ActionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	_, meta := findSession(index, id)
	if meta == nil {
		return fmt.Errorf("session not found: %s", id)
	}

	actions, err := s.readShard(id)
	if err != nil {
		return err
	}
	kept := actions[:0]
	for _, action := range actions {
		if action.ID != actionID {
			kept = append(kept, action)
		}
	}
	if err := s.writeShard(id, kept); err != nil {
		return err
	}

	meta.ActionCount = len(kept)
	return s.saveIndex(index)
}

// ReorderActions rewrites the shard in the given order, reassigning
// OrderIndex 0..n-1 by position. The new order must be a permutation of
// the current shard; anything that would change the shard's contents is
// rejected so the metadata counter stays truthful.
func (s *Store) ReorderActions(_ context.Context, id types.SessionID, ordered []*types.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readShard(id)
	if err != nil {
		return err
	}
	if len(ordered) != len(current) {
		return fmt.Errorf("reorder must keep all %d actions, got %d", len(current), len(ordered))
	}
	ids := make(map[types.ActionID]struct{}, len(current))
	for _, action := range current {
		ids[action.ID] = struct{}{}
	}
	for _, action := range ordered {
		if _, ok := ids[action.ID]; !ok {
			return fmt.Errorf("unknown action in reorder: %s", action.ID)
		}
		delete(ids, action.ID)
	}

	for i, action := range ordered {
		action.OrderIndex = i
	}
	return s.writeShard(id, ordered)
}

// UpdateTitle rewrites the session's title. Empty titles are rejected.
func (s *Store) UpdateTitle(_ context.Context, id types.SessionID, title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title must be a non-empty string")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	_, meta := findSession(index, id)
	if meta == nil {
		return fmt.Errorf("session not found: %s", id)
	}
	meta.Title = title
	return s.saveIndex(index)
}

// SetStatus updates a session's lifecycle status (active|completed).
func (s *Store) SetStatus(_ context.Context, id types.SessionID, status types.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	_, meta := findSession(index, id)
	if meta == nil {
		return fmt.Errorf("session not found: %s", id)
	}
	meta.Status = status
	return s.saveIndex(index)
}

// ClearAll wipes the metadata index and every shard.
func (s *Store) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.sessionsDir()); err != nil {
		return fmt.Errorf("remove sessions dir: %w", err)
	}
	return nil
}
