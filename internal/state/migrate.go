// internal/state/migrate.go
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/user/webjourney/internal/types"
)

// legacySession is the monolithic pre-shard record: session metadata
// with the full action array embedded.
type legacySession struct {
	ID          types.SessionID     `json:"id"`
	Title       string              `json:"title"`
	URL         string              `json:"url,omitempty"`
	CreatedDate string              `json:"createdDate"`
	Status      types.SessionStatus `json:"status"`
	Actions     []*types.Action     `json:"actions"`
}

func (s *Store) legacyPath() string {
	return filepath.Join(s.root, "sessions.json")
}

// migrate performs the one-shot upgrade from the legacy monolithic
// layout to the sharded one: each embedded action array becomes a shard
// keyed by its session id, the remaining fields become an index entry
// with actionCount set to the array's length, and the legacy file is
// removed. Absent legacy data it is a no-op, so it is safe to run on
// every metadata access. Caller must hold the lock.
func (s *Store) migrate() error {
	if s.migrated {
		return nil
	}

	data, err := os.ReadFile(s.legacyPath())
	if err != nil {
		if os.IsNotExist(err) {
			s.migrated = true
			return nil
		}
		return fmt.Errorf("read legacy sessions: %w", err)
	}

	var legacy []*legacySession
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("unmarshal legacy sessions: %w", err)
	}

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	for _, old := range legacy {
		if _, existing := findSession(index, old.ID); existing != nil {
			// Already split on a previous, interrupted run.
			continue
		}
		for i, action := range old.Actions {
			action.OrderIndex = i
		}
		if err := s.writeShard(old.ID, old.Actions); err != nil {
			return fmt.Errorf("migrate shard %s: %w", old.ID, err)
		}
		status := old.Status
		if status == "" {
			status = types.SessionActive
		}
		index = append(index, &types.SessionMeta{
			ID:          old.ID,
			Title:       old.Title,
			URL:         old.URL,
			CreatedDate: old.CreatedDate,
			Status:      status,
			ActionCount: len(old.Actions),
		})
	}

	for len(index) > maxSessions {
		evicted := index[len(index)-1]
		index = index[:len(index)-1]
		os.RemoveAll(s.shardDir(evicted.ID))
	}

	if err := s.saveIndex(index); err != nil {
		return err
	}
	if err := os.Remove(s.legacyPath()); err != nil {
		return fmt.Errorf("remove legacy sessions: %w", err)
	}

	slog.Info("migrated legacy session storage", "sessions", len(legacy))
	s.migrated = true
	return nil
}
