// Package status holds the process-wide recording status singleton.
// All mutation goes through Store.Update; no other component patches the
// record directly.
package status

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/webjourney/internal/types"
)

var _ types.StatusStore = (*Store)(nil)

// Store is a JSON-file-backed recording status store. The persisted
// record lives at <root>/status.json.
type Store struct {
	root string
	mu   sync.RWMutex

	subMu sync.Mutex
	subs  map[chan types.RecordingStatus]struct{}
}

// NewStore creates a file-backed status Store rooted at the given directory.
func NewStore(root string) *Store {
	return &Store{
		root: root,
		subs: make(map[chan types.RecordingStatus]struct{}),
	}
}

func (s *Store) statusPath() string {
	return filepath.Join(s.root, "status.json")
}

// Get reads the current status. A missing or unreadable file yields the
// all-false default; Get never fails.
func (s *Store) Get() types.RecordingStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load()
}

func (s *Store) load() types.RecordingStatus {
	data, err := os.ReadFile(s.statusPath())
	if err != nil {
		return types.RecordingStatus{}
	}
	var st types.RecordingStatus
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("status file corrupt, returning default", "error", err)
		return types.RecordingStatus{}
	}
	return st
}

// Update shallow-merges the patch over the current record, validates the
// result, persists it atomically, and broadcasts the new value to every
// subscriber. Broadcast delivery is fire-and-forget.
func (s *Store) Update(patch types.StatusPatch) (types.RecordingStatus, error) {
	s.mu.Lock()
	next := s.load()
	if patch.IsRecording != nil {
		next.IsRecording = *patch.IsRecording
	}
	if patch.IsPaused != nil {
		next.IsPaused = *patch.IsPaused
	}
	if patch.SessionID != nil {
		next.SessionID = *patch.SessionID
	}
	if patch.StartTime != nil {
		next.StartTime = *patch.StartTime
	}
	if patch.Stale != nil {
		next.Stale = *patch.Stale
	}

	if err := validate(next); err != nil {
		s.mu.Unlock()
		return types.RecordingStatus{}, err
	}
	if err := s.save(next); err != nil {
		s.mu.Unlock()
		return types.RecordingStatus{}, err
	}
	s.mu.Unlock()

	s.broadcast(next)
	return next, nil
}

func validate(st types.RecordingStatus) error {
	if st.IsRecording && st.SessionID == "" {
		return fmt.Errorf("invalid status: recording without a session id")
	}
	return nil
}

func (s *Store) save(st types.RecordingStatus) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp := s.statusPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp status: %w", err)
	}
	if err := os.Rename(tmp, s.statusPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp status: %w", err)
	}
	return nil
}

// Subscribe returns a channel receiving every status change. Slow
// subscribers miss updates rather than blocking the writer.
func (s *Store) Subscribe() chan types.RecordingStatus {
	ch := make(chan types.RecordingStatus, 8)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (s *Store) Unsubscribe(ch chan types.RecordingStatus) {
	s.subMu.Lock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
	s.subMu.Unlock()
}

func (s *Store) broadcast(st types.RecordingStatus) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- st:
		default:
			// Unreachable listener; delivery failure is swallowed.
		}
	}
}
