// internal/types/validate.go
package types

import (
	"errors"
	"fmt"
)

// ErrInvalidAction marks payloads rejected at the ingestion boundary.
var ErrInvalidAction = errors.New("invalid action")

// ValidateAction checks a raw action payload against the Action shape.
// Nothing unvalidated enters the ingestion queue: the id must be
// present, the type must be one of the recognized kinds, and the
// timestamp must be a positive integer. A nil Data map is normalized to
// an empty one.
func ValidateAction(a *Action) error {
	if a == nil {
		return fmt.Errorf("%w: nil payload", ErrInvalidAction)
	}
	if a.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidAction)
	}
	if !KnownActionType(a.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}
	if a.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp must be a positive integer", ErrInvalidAction)
	}
	if a.Data == nil {
		a.Data = map[string]any{}
	}
	return nil
}
