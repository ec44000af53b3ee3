package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// loadRaw reads the config file as a generic nested map so that get/set
// operate on whatever keys the file holds, not just struct fields.
func loadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]any), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

func saveRaw(path string, m map[string]any) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ListValues returns all config values keyed by dot-separated path.
func ListValues(path string) (map[string]any, error) {
	raw, err := loadRaw(path)
	if err != nil {
		return nil, err
	}
	return Flatten(raw), nil
}

// GetValue returns the value at the given dot-separated key.
func GetValue(path, key string) (any, error) {
	flat, err := ListValues(path)
	if err != nil {
		return nil, err
	}
	val, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return val, nil
}

// SetValue sets the value at the given dot-separated key and persists
// the file. Booleans and numbers are coerced from their string forms so
// the CLI can write "true" or "256" naturally.
func SetValue(path, key, value string) error {
	raw, err := loadRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(raw)
	flat[key] = coerce(value)
	return saveRaw(path, Unflatten(flat))
}

func coerce(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	var n float64
	if _, err := fmt.Sscanf(s, "%g", &n); err == nil && fmt.Sprintf("%g", n) == s {
		return n
	}
	return s
}
