// Package state provides the filesystem-backed session storage: a
// capped, newest-first metadata index plus one action shard per session.
package state

import "github.com/user/webjourney/internal/types"

// Compile-time interface compliance check.
var _ types.SessionStore = (*Store)(nil)
