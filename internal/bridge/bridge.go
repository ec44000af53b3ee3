// Package bridge brokers capture requests between the daemon and the
// page agent. The agent long-polls for pending commands and posts each
// result back; Capture blocks the caller until the matching result
// arrives or the deadline passes.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/webjourney/internal/types"
)

var _ types.Capturer = (*Bridge)(nil)

var (
	// ErrAgentNotConnected means no page agent has polled recently;
	// captures on restricted pages or with no extension attached land here.
	ErrAgentNotConnected = errors.New("capture agent not connected")
	// ErrCaptureTimeout means the agent accepted the command but never
	// delivered a result in time.
	ErrCaptureTimeout = errors.New("capture timed out")
)

// connectedWindow is how recently the agent must have polled for the
// bridge to consider it reachable.
const connectedWindow = 30 * time.Second

// Command is one unit of work handed to the polling agent.
type Command struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	TabID   int    `json:"tabId,omitempty"`
	Quality int    `json:"quality,omitempty"`
}

// Result is the agent's response to a Command.
type Result struct {
	ID      string `json:"id"`
	DataURL string `json:"dataUrl,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Bridge is the in-process request/reply broker.
type Bridge struct {
	timeout  time.Duration
	commands chan *Command

	mu       sync.Mutex
	pending  map[string]chan *Result
	lastPoll time.Time
}

// New creates a Bridge with the given per-capture deadline.
func New(timeout time.Duration) *Bridge {
	return &Bridge{
		timeout:  timeout,
		commands: make(chan *Command, 16),
		pending:  make(map[string]chan *Result),
	}
}

// Connected reports whether an agent has polled within the window.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.lastPoll.IsZero() && time.Since(b.lastPoll) < connectedWindow
}

// Capture asks the connected agent for a visible-tab capture at the
// given JPEG quality and waits for the data URL.
func (b *Bridge) Capture(ctx context.Context, tabID, quality int) (string, error) {
	if !b.Connected() {
		return "", ErrAgentNotConnected
	}

	cmd := &Command{
		ID:      uuid.New().String(),
		Type:    "capture",
		TabID:   tabID,
		Quality: quality,
	}
	resultCh := make(chan *Result, 1)

	b.mu.Lock()
	b.pending[cmd.ID] = resultCh
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, cmd.ID)
		b.mu.Unlock()
	}()

	select {
	case b.commands <- cmd:
	default:
		return "", ErrAgentNotConnected
	}

	select {
	case res := <-resultCh:
		if res.Error != "" {
			return "", fmt.Errorf("agent capture failed: %s", res.Error)
		}
		return res.DataURL, nil
	case <-time.After(b.timeout):
		return "", ErrCaptureTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// NextCommand blocks until a command is pending, the wait deadline
// passes (returning nil), or the context is cancelled. Called from the
// agent's long-poll handler.
func (b *Bridge) NextCommand(ctx context.Context, wait time.Duration) (*Command, error) {
	b.mu.Lock()
	b.lastPoll = time.Now()
	b.mu.Unlock()

	select {
	case cmd := <-b.commands:
		return cmd, nil
	case <-time.After(wait):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve delivers an agent result to the waiting Capture call. Results
// for unknown or already-expired requests are dropped.
func (b *Bridge) Resolve(res *Result) {
	b.mu.Lock()
	ch, ok := b.pending[res.ID]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- res:
	default:
	}
}
