package config

import (
	"fmt"
	"sync"
)

// Live wraps a loaded Config so the SAVE_CONFIG command can mutate the
// capture settings at runtime while the recorder keeps reading the
// current values.
type Live struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewLive wraps cfg; path is where SetCapture persists changes.
func NewLive(path string, cfg *Config) *Live {
	return &Live{cfg: cfg, path: path}
}

// Get returns a copy of the current config.
func (l *Live) Get() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return *l.cfg
}

// Quality returns the current capture compression level.
func (l *Live) Quality() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.Quality()
}

// SetCapture updates and persists the user-facing capture options.
func (l *Live) SetCapture(quality string, autoOpen bool) error {
	switch quality {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("invalid quality: %q", quality)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.Capture.Quality = quality
	l.cfg.Capture.AutoOpen = autoOpen
	return Save(l.path, l.cfg)
}
