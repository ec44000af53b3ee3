// Package recorder is the action ingestion pipeline: a validation
// boundary in front of a bounded FIFO queue drained by a single
// consumer, so persisted action order always matches submission order
// regardless of how long each screenshot capture takes.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/webjourney/internal/media"
	"github.com/user/webjourney/internal/types"
)

// ErrQueueFull is returned when the bounded queue cannot accept more
// submissions.
var ErrQueueFull = errors.New("ingestion queue full")

// Submission pairs a raw action payload with the tab context it came from.
type Submission struct {
	Action *types.Action
	TabID  int
	TabURL string
}

// Recorder accepts raw action events from multiple async producers and
// turns them into a strictly ordered, enriched, durable sequence on the
// active session's shard.
type Recorder struct {
	sessions types.SessionStore
	media    types.MediaStore
	status   types.StatusStore
	capturer types.Capturer
	quality  func() int

	queue  chan *Submission
	active atomic.Int64

	// onCaptureError receives non-fatal capture failures so the UI can
	// surface "capture unavailable"; the pipeline itself continues.
	onCaptureError func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Recorder over the given stores. quality is read per
// capture so config changes apply without a restart; depth bounds the
// queue.
func New(sessions types.SessionStore, media types.MediaStore, status types.StatusStore, capturer types.Capturer, quality func() int, depth int) *Recorder {
	if depth <= 0 {
		depth = 256
	}
	return &Recorder{
		sessions: sessions,
		media:    media,
		status:   status,
		capturer: capturer,
		quality:  quality,
		queue:    make(chan *Submission, depth),
	}
}

// SetOnCaptureError registers the non-fatal capture failure hook.
func (r *Recorder) SetOnCaptureError(fn func(error)) {
	r.onCaptureError = fn
}

// Start launches the single consumer goroutine. Must be called before Submit.
func (r *Recorder) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run()
}

// Stop cancels the consumer and waits for the in-flight action to finish.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Submit validates a raw payload and enqueues it. Invalid payloads are
// rejected before anything enters the queue; a full queue is an error
// to the caller, not a silent drop.
func (r *Recorder) Submit(sub *Submission) error {
	if sub == nil {
		return fmt.Errorf("%w: nil submission", types.ErrInvalidAction)
	}
	if err := types.ValidateAction(sub.Action); err != nil {
		return err
	}
	// Counted from enqueue, not dequeue, so a submission is never
	// invisible to WaitIdle between leaving the queue and being
	// processed.
	r.active.Add(1)
	select {
	case r.queue <- sub:
		return nil
	default:
		r.active.Add(-1)
		return ErrQueueFull
	}
}

// run drains the queue one submission at a time. The next action is not
// dequeued until the previous append fully completed, which is what
// keeps shard order equal to arrival order even when capture completions
// reorder.
func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case sub := <-r.queue:
			r.process(sub)
			r.active.Add(-1)
		case <-r.ctx.Done():
			return
		}
	}
}

// WaitIdle blocks until every accepted submission has been fully
// processed, or the timeout expires. Returns true if idle.
func (r *Recorder) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if r.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (r *Recorder) process(sub *Submission) {
	action := sub.Action

	// A popped action with no actively recording session is a pure
	// no-op, by policy. Not retried.
	st := r.status.Get()
	if !st.IsRecording || st.IsPaused || st.SessionID == "" {
		slog.Debug("dropping action, not recording", "action_id", action.ID, "type", action.Type)
		return
	}

	if action.Type.CaptureWorthy() {
		r.enrich(action, sub, st.SessionID)
	}

	if err := r.sessions.AppendAction(r.ctx, st.SessionID, action); err != nil {
		slog.Error("failed to append action", "session_id", st.SessionID, "action_id", action.ID, "error", err)
	}
}

// enrich captures a screenshot and, when the action carries a viewport
// rectangle, a cropped element image. Every failure here is non-fatal:
// the action persists without the corresponding id.
func (r *Recorder) enrich(action *types.Action, sub *Submission, sessionID types.SessionID) {
	dataURL, err := r.capturer.Capture(r.ctx, sub.TabID, r.quality())
	if err != nil {
		slog.Warn("capture failed, recording action without media",
			"action_id", action.ID, "error", err)
		if r.onCaptureError != nil {
			r.onCaptureError(err)
		}
		return
	}

	scrID, err := r.media.Store(r.ctx, dataURL, sub.TabURL, sub.TabID, sessionID)
	if err != nil {
		slog.Warn("screenshot store failed", "action_id", action.ID, "error", err)
		return
	}
	action.ScreenshotID = string(scrID)

	box, ok := action.ViewportRect()
	if !ok {
		return
	}

	raw, rawMime, err := r.media.GetRaw(r.ctx, scrID)
	if err != nil {
		slog.Warn("stored screenshot unreadable, skipping crop", "screenshot_id", scrID, "error", err)
		return
	}

	cropped, croppedMime := media.ExtractRegion(raw, rawMime, box,
		action.DataFloat("devicePixelRatio", 1),
		action.DataFloat("zoomFactor", 1))

	elID, err := r.media.StoreExtracted(r.ctx, scrID, cropped, croppedMime, box,
		action.DataString("tagName"), action.DataString("text"), action.ID)
	if err != nil {
		slog.Warn("element store failed", "action_id", action.ID, "error", err)
		return
	}
	action.ElementID = string(elID)
}
