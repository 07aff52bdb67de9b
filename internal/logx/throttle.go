// Package logx provides log throttling on top of log/slog.
//
// Maintenance loops emit the same warning on every sweep when a repository
// stays in a bad state. The Throttler collapses repeats per key and reports
// how many were suppressed once the window reopens.
package logx

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MinWindow is the smallest allowed throttle window. Callers asking for less
// get this instead.
const MinWindow = time.Second

// DefaultWindow is used when no window is configured.
const DefaultWindow = 5 * time.Minute

// throttleState tracks per-key suppression.
type throttleState struct {
	lastLoggedAt time.Time
	suppressed   int
}

// Throttler suppresses repeated log records per key.
// Safe for concurrent use.
type Throttler struct {
	logger *slog.Logger
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	state map[string]*throttleState
}

// Option configures a Throttler.
type Option func(*Throttler)

// WithWindow sets the throttle window. Values below MinWindow are clamped.
func WithWindow(d time.Duration) Option {
	return func(t *Throttler) {
		if d < MinWindow {
			d = MinWindow
		}
		t.window = d
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Throttler) {
		t.now = now
	}
}

// NewThrottler creates a Throttler emitting through logger.
func NewThrottler(logger *slog.Logger, opts ...Option) *Throttler {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Throttler{
		logger: logger,
		window: DefaultWindow,
		now:    time.Now,
		state:  make(map[string]*throttleState),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Log emits the record for key unless a record for the same key was emitted
// within the window. When a record does go through after suppressions, a
// "suppressed" attribute carries the count.
func (t *Throttler) Log(level slog.Level, key, msg string, args ...any) {
	t.mu.Lock()
	st, ok := t.state[key]
	if !ok {
		st = &throttleState{}
		t.state[key] = st
	}
	now := t.now()
	if !st.lastLoggedAt.IsZero() && now.Sub(st.lastLoggedAt) < t.window {
		st.suppressed++
		t.mu.Unlock()
		return
	}
	suppressed := st.suppressed
	st.suppressed = 0
	st.lastLoggedAt = now
	t.mu.Unlock()

	if suppressed > 0 {
		args = append(args, "suppressed", suppressed)
	}
	t.logger.Log(context.Background(), level, msg, args...)
}

// Info logs at info level with throttling.
func (t *Throttler) Info(key, msg string, args ...any) {
	t.Log(slog.LevelInfo, key, msg, args...)
}

// Warn logs at warn level with throttling.
func (t *Throttler) Warn(key, msg string, args ...any) {
	t.Log(slog.LevelWarn, key, msg, args...)
}

// Reset clears throttle state for a key. Used when the underlying condition
// is known to have changed.
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	delete(t.state, key)
	t.mu.Unlock()
}
