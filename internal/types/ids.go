// internal/types/ids.go
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SessionID string
type ActionID string
type ScreenshotID string
type ElementID string

// newPrefixedID mints an id of the form <prefix>_<unix-millis>_<8 hex>.
// The millisecond timestamp keeps ids roughly sortable by creation time;
// the uuid fragment keeps them unique within the same millisecond.
func newPrefixedID(prefix string) string {
	frag := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), frag)
}

func NewSessionID() SessionID {
	return SessionID(newPrefixedID("session"))
}

func NewActionID() ActionID {
	return ActionID(newPrefixedID("act"))
}

func NewScreenshotID() ScreenshotID {
	return ScreenshotID(newPrefixedID("scr"))
}

func NewElementID() ElementID {
	return ElementID(newPrefixedID("el"))
}
