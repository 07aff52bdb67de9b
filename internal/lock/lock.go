// Package lock enforces a single orchestrator instance per config directory.
//
// The lock is a JSON PID file carrying an identity token. The token, not the
// PID alone, proves ownership: a recycled PID without the in-memory token is
// treated as reuse and the file is replaced. Legacy bare-integer PID files
// are accepted on read; writers always produce JSON.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/procs"
)

// FileName is the lock file name inside the config directory.
const FileName = "bosun.pid"

// acquireAttempts bounds how many times a stale or reused lock is replaced.
const acquireAttempts = 3

// File is the JSON payload of the lock file.
type File struct {
	PID       int      `json:"pid"`
	StartedAt string   `json:"started_at"`
	Argv      []string `json:"argv"`
	LockToken string   `json:"lock_token,omitempty"`
}

// Result reports the outcome of an Acquire call.
type Result struct {
	// Acquired is true when the caller may proceed.
	Acquired bool
	// Held is true when the caller actually owns the lock file. Acquired
	// without Held means a lock write failed transiently and the
	// orchestrator continues unlocked.
	Held bool
	// OwnerPID identifies the live owner when Acquired is false.
	OwnerPID int
	// Reason explains a refusal.
	Reason string
}

// Manager owns the PID lock for one config directory.
type Manager struct {
	configDir string
	token     string
	enum      procs.Enumerator
	logger    *slog.Logger
	now       func() time.Time
	warnState *warnState
}

// Option configures a Manager.
type Option func(*Manager)

// WithEnumerator injects a process enumerator (tests use a fake).
func WithEnumerator(e procs.Enumerator) Option {
	return func(m *Manager) { m.enum = e }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager for configDir. A fresh identity token is
// generated; it lives only in this process.
func NewManager(configDir string, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		configDir: configDir,
		token:     uuid.NewString(),
		enum:      procs.New(),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.warnState = newWarnState(configDir, m.now)
	return m
}

// Path returns the lock file path.
func (m *Manager) Path() string {
	return filepath.Join(m.configDir, FileName)
}

// Token exposes the in-memory identity token (used by tests and Status).
func (m *Manager) Token() string {
	return m.token
}

// Acquire attempts to take the singleton lock. It retries stale and reused
// locks up to three times. Lock-write errors other than EEXIST are
// non-fatal: the orchestrator proceeds unlocked with a warning. Only
// repeated unlink failures abort.
func (m *Manager) Acquire(ctx context.Context) (Result, error) {
	path := m.Path()
	if err := os.MkdirAll(m.configDir, 0o755); err != nil {
		m.logger.Warn("cannot create config dir, continuing unlocked", "dir", m.configDir, "error", err)
		return Result{Acquired: true}, nil
	}

	var unlinkErr error
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		err := m.writeExclusive(path)
		if err == nil {
			return Result{Acquired: true, Held: true}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			m.logger.Warn("lock write failed, continuing without lock", "path", path, "error", err)
			return Result{Acquired: true}, nil
		}

		owner, readErr := ReadFile(path)
		if readErr != nil {
			// Corrupt lock file: replace it.
			m.logger.Warn("replacing corrupt lock file", "path", path, "error", readErr)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				unlinkErr = err
				continue
			}
			continue
		}

		res, replace := m.classifyOwner(ctx, owner)
		if !replace {
			return res, nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			unlinkErr = err
			continue
		}
	}

	if unlinkErr != nil {
		return Result{}, bosunerr.ErrLockWriteFailed(path).WithCause(unlinkErr)
	}
	return Result{}, bosunerr.ErrLockWriteFailed(path)
}

// classifyOwner inspects an existing lock payload. It returns either a
// final Result (replace=false) or a request to unlink and retry.
func (m *Manager) classifyOwner(ctx context.Context, owner *File) (res Result, replace bool) {
	self := os.Getpid()
	if owner.PID == self && (owner.LockToken == m.token || owner.LockToken == "") {
		// Re-entrant acquire; legacy files carry no token.
		return Result{Acquired: true, Held: true}, false
	}

	if !m.enum.Alive(owner.PID) {
		m.logger.Debug("replacing lock of dead process", "pid", owner.PID)
		return Result{}, true
	}

	cmdline := m.commandLine(ctx, owner.PID)
	switch procs.Classify(cmdline) {
	case procs.ClassMonitor:
		m.warnDuplicate(owner.PID)
		return Result{OwnerPID: owner.PID, Reason: contentionReason(owner.PID)}, false
	case procs.ClassUnknown:
		if procs.ShouldAssumeMonitorForUnknownOwner(owner.Argv, owner.StartedAt, m.now()) {
			m.warnDuplicate(owner.PID)
			return Result{OwnerPID: owner.PID, Reason: contentionReason(owner.PID)}, false
		}
		m.logger.Warn("assuming PID reuse for unknown lock owner", "pid", owner.PID)
		return Result{}, true
	default:
		// Live PID running something else entirely: the original owner is
		// gone and the PID was recycled.
		m.logger.Warn("lock owner PID reused by unrelated process, replacing lock", "pid", owner.PID)
		return Result{}, true
	}
}

func contentionReason(pid int) string {
	return fmt.Sprintf("another bosun is already running (PID %d)", pid)
}

// warnDuplicate logs a duplicate-start warning, throttled per owner PID.
func (m *Manager) warnDuplicate(ownerPID int) {
	shouldLog, suppressed := m.warnState.shouldWarn(ownerPID)
	if !shouldLog {
		return
	}
	args := []any{"pid", ownerPID}
	if suppressed > 0 {
		args = append(args, "suppressed", suppressed)
	}
	m.logger.Warn("another bosun is already running", args...)
}

// commandLine looks up the owner's command line, empty when unavailable.
func (m *Manager) commandLine(ctx context.Context, pid int) string {
	list, err := m.enum.List(ctx)
	if err != nil {
		return ""
	}
	for _, p := range list {
		if p.PID == pid {
			return p.CommandLine
		}
	}
	return ""
}

// writeExclusive creates the lock file with O_CREAT|O_EXCL semantics.
func (m *Manager) writeExclusive(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	payload := File{
		PID:       os.Getpid(),
		StartedAt: m.now().UTC().Format(time.RFC3339),
		Argv:      os.Args,
		LockToken: m.token,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// IsOwner reports whether this process currently owns the lock file.
func (m *Manager) IsOwner() bool {
	owner, err := ReadFile(m.Path())
	if err != nil {
		return false
	}
	if owner.PID != os.Getpid() {
		return false
	}
	return owner.LockToken == m.token || owner.LockToken == ""
}

// Release removes the lock file if and only if this process owns it.
func (m *Manager) Release() error {
	if !m.IsOwner() {
		return nil
	}
	if err := os.Remove(m.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// ForceRelease removes the lock file regardless of ownership. Used by
// `bosun lock --release`.
func (m *Manager) ForceRelease() error {
	if err := os.Remove(m.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Status returns the current lock file, or nil when absent.
func (m *Manager) Status() (*File, error) {
	owner, err := ReadFile(m.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return owner, nil
}

// ReadFile parses a lock file. JSON is the current format; a bare integer
// is accepted as the legacy format.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("empty lock file")
	}
	var f File
	if err := json.Unmarshal([]byte(trimmed), &f); err == nil && f.PID > 0 {
		return &f, nil
	}
	pid, convErr := strconv.Atoi(trimmed)
	if convErr != nil || pid <= 0 {
		return nil, fmt.Errorf("unrecognized lock file format")
	}
	return &File{PID: pid}, nil
}
