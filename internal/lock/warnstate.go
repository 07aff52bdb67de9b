package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// WarnStateFileName is the sibling file persisting duplicate-start warn
// throttling across short-lived processes.
const WarnStateFileName = "monitor-duplicate-start-warning-state.json"

// DefaultWarnWindow throttles duplicate-start warnings per owner PID.
const DefaultWarnWindow = 60 * time.Second

// minWarnWindow is the smallest window an operator may configure.
const minWarnWindow = 5 * time.Second

// warnThrottleEnv overrides the warn window, in milliseconds.
const warnThrottleEnv = "MONITOR_DUPLICATE_START_WARN_THROTTLE_MS"

// warnRecord is the persisted throttle state for one owner PID.
type warnRecord struct {
	PID          int    `json:"pid"`
	LastLoggedAt string `json:"lastLoggedAt"`
	Suppressed   int    `json:"suppressed"`
}

// warnState persists duplicate-start warning throttle state. Each process
// that refuses to start consults the file, so repeated launch attempts
// within the window stay quiet.
type warnState struct {
	path   string
	window time.Duration
	now    func() time.Time
	mu     sync.Mutex
}

func newWarnState(configDir string, now func() time.Time) *warnState {
	return &warnState{
		path:   filepath.Join(configDir, WarnStateFileName),
		window: warnWindowFromEnv(),
		now:    now,
	}
}

// warnWindowFromEnv reads the override, clamped to the minimum.
func warnWindowFromEnv() time.Duration {
	raw := os.Getenv(warnThrottleEnv)
	if raw == "" {
		return DefaultWarnWindow
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return DefaultWarnWindow
	}
	d := time.Duration(ms) * time.Millisecond
	if d < minWarnWindow {
		return minWarnWindow
	}
	return d
}

// shouldWarn decides whether to emit the duplicate-start warning for
// ownerPID and returns the number of warnings suppressed since the last
// emission. State transitions are persisted best-effort; a broken state
// file never suppresses a warning.
func (w *warnState) shouldWarn(ownerPID int) (bool, int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := w.read()
	now := w.now()

	if rec != nil && rec.PID == ownerPID {
		last, err := time.Parse(time.RFC3339, rec.LastLoggedAt)
		if err == nil && now.Sub(last) < w.window {
			rec.Suppressed++
			w.write(rec)
			return false, 0
		}
		suppressed := rec.Suppressed
		w.write(&warnRecord{PID: ownerPID, LastLoggedAt: now.Format(time.RFC3339)})
		return true, suppressed
	}

	w.write(&warnRecord{PID: ownerPID, LastLoggedAt: now.Format(time.RFC3339)})
	return true, 0
}

func (w *warnState) read() *warnRecord {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil
	}
	var rec warnRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	return &rec
}

func (w *warnState) write(rec *warnRecord) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(w.path, data, 0o644)
}
