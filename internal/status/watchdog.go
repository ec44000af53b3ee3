package status

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/webjourney/internal/types"
)

const (
	// pingTimeout is how long a recording session may go without a
	// heartbeat before it is marked stale.
	pingTimeout = 15 * time.Second
	// monitorSchedule fires the stale check every 10 seconds.
	monitorSchedule = "*/10 * * * * *"
)

// cronParser accepts 6-field cron expressions with a seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Watchdog is a liveness monitor for the active recording session. Page
// agents ping it while recording; if no ping arrives within the timeout
// the watchdog flips the status to paused+stale so the UI can prompt the
// user. It never cancels in-flight work.
type Watchdog struct {
	store   *Store
	cron    *cron.Cron
	timeout time.Duration

	mu       sync.Mutex
	lastPing map[types.SessionID]time.Time
}

// NewWatchdog creates a Watchdog over the given status store.
func NewWatchdog(store *Store) *Watchdog {
	return &Watchdog{
		store:    store,
		cron:     cron.New(cron.WithParser(cronParser)),
		timeout:  pingTimeout,
		lastPing: make(map[types.SessionID]time.Time),
	}
}

// Ping records a heartbeat for the given session.
func (w *Watchdog) Ping(sessionID types.SessionID) {
	w.mu.Lock()
	w.lastPing[sessionID] = time.Now()
	w.mu.Unlock()
}

// Start registers the periodic stale check and starts the ticker.
func (w *Watchdog) Start() error {
	if _, err := w.cron.AddFunc(monitorSchedule, w.check); err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

// Stop halts the ticker.
func (w *Watchdog) Stop() {
	w.cron.Stop()
}

func (w *Watchdog) check() {
	st := w.store.Get()
	if !st.IsRecording || st.IsPaused || st.SessionID == "" {
		return
	}

	w.mu.Lock()
	last, ok := w.lastPing[st.SessionID]
	w.mu.Unlock()
	if !ok || time.Since(last) <= w.timeout {
		return
	}

	slog.Warn("recording session went stale", "session_id", st.SessionID, "last_ping", last)
	paused, stale := true, true
	if _, err := w.store.Update(types.StatusPatch{IsPaused: &paused, Stale: &stale}); err != nil {
		slog.Error("failed to mark session stale", "error", err)
	}
}
