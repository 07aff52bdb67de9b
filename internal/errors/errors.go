// Package errors provides structured error types for bosun.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for bosun.
const (
	// Lock errors
	CodeLockContention   Code = "LOCK_CONTENTION"
	CodeLockWriteFailed  Code = "LOCK_WRITE_FAILED"
	CodeCorruptLockFile  Code = "LOCK_FILE_CORRUPT"
	CodePIDReuseDetected Code = "LOCK_PID_REUSE"

	// Git errors
	CodeGitFailure  Code = "GIT_SUBPROCESS_FAILED"
	CodeGitTimeout  Code = "GIT_TIMEOUT"
	CodeGitDirty    Code = "GIT_DIRTY"
	CodeGitDiverged Code = "GIT_DIVERGED_NEEDS_REBASE"

	// Executor errors
	CodeAdapterCooldown Code = "ADAPTER_COOLDOWN"
	CodeAdapterBusy     Code = "ADAPTER_BUSY"
	CodeNoExecutor      Code = "NO_EXECUTOR_AVAILABLE"

	// Task errors
	CodeTaskNotFound      Code = "TASK_NOT_FOUND"
	CodeInvalidTransition Code = "TASK_INVALID_TRANSITION"
	CodeAttemptActive     Code = "TASK_ATTEMPT_ACTIVE"

	// Backend errors
	CodeBackendUnavailable Code = "BACKEND_UNAVAILABLE"
	CodeBackendAuthMissing Code = "BACKEND_AUTH_MISSING"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeConfigMissing Code = "CONFIG_MISSING"

	// CLI usage errors
	CodeUsage Code = "USAGE"
)

// ExitCode maps an error to the CLI exit code contract:
// 0 success, 1 generic, 2 usage, 3 lock contention, 4 backend unavailable.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var be *BosunError
	if errors.As(err, &be) {
		switch be.Code {
		case CodeUsage:
			return 2
		case CodeLockContention:
			return 3
		case CodeBackendUnavailable, CodeBackendAuthMissing:
			return 4
		}
	}
	return 1
}

// BosunError is the structured error type for bosun.
type BosunError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *BosunError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *BosunError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *BosunError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// MarshalJSON implements json.Marshaler, including the cause message.
func (e *BosunError) MarshalJSON() ([]byte, error) {
	type alias BosunError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{alias: (*alias)(e)}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a BosunError with the same code.
func (e *BosunError) Is(target error) bool {
	t, ok := target.(*BosunError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *BosunError) WithCause(err error) *BosunError {
	return &BosunError{Code: e.Code, What: e.What, Why: e.Why, Fix: e.Fix, Cause: err}
}

// --- Error constructors ---

// ErrLockContention returns the fatal error for a live lock owner.
func ErrLockContention(pid int) *BosunError {
	return &BosunError{
		Code: CodeLockContention,
		What: fmt.Sprintf("another bosun is already running (PID %d)", pid),
		Why:  "The config directory's PID lock is held by a live monitor process",
		Fix:  "Stop the other instance, or point this one at a different config directory via BOSUN_DIR",
	}
}

// ErrLockWriteFailed is returned after all lock-write attempts fail.
func ErrLockWriteFailed(path string) *BosunError {
	return &BosunError{
		Code: CodeLockWriteFailed,
		What: fmt.Sprintf("could not write lock file %s", path),
		Why:  "All replacement attempts failed",
		Fix:  "Check permissions on the config directory",
	}
}

// ErrGitTimeout is returned when a git subprocess exceeds its deadline.
func ErrGitTimeout(args []string, timeout string) *BosunError {
	return &BosunError{
		Code: CodeGitTimeout,
		What: fmt.Sprintf("git %s timed out after %s", strings.Join(args, " "), timeout),
		Why:  "The child process was killed at its per-operation deadline",
	}
}

// ErrAdapterCooldown is returned while an SDK adapter is cooling down.
func ErrAdapterCooldown(sdk string) *BosunError {
	return &BosunError{
		Code: CodeAdapterCooldown,
		What: fmt.Sprintf("Cooling down: %s", sdk),
		Why:  "The adapter hit consecutive transient failures and is backing off",
	}
}

// ErrAdapterBusy is returned when another session already holds the adapter bus.
func ErrAdapterBusy(sdk, session string) *BosunError {
	return &BosunError{
		Code: CodeAdapterBusy,
		What: fmt.Sprintf("adapter %s is busy", sdk),
		Why:  fmt.Sprintf("session %s holds the bus", session),
	}
}

// ErrNoExecutor is returned when every candidate executor is disabled or exhausted.
func ErrNoExecutor() *BosunError {
	return &BosunError{
		Code: CodeNoExecutor,
		What: "no executor available",
		Why:  "All configured executor profiles are disabled or failed",
		Fix:  "Check executor cooldowns or adjust the executor config",
	}
}

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id string) *BosunError {
	return &BosunError{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task %s not found", id),
		Fix:  "Run 'bosun task list' to see known tasks",
	}
}

// ErrInvalidTransition is returned by the task store for a disallowed status change.
func ErrInvalidTransition(id, from, to string) *BosunError {
	return &BosunError{
		Code: CodeInvalidTransition,
		What: fmt.Sprintf("task %s cannot move from '%s' to '%s'", id, from, to),
		Why:  "The transition is not in the status table",
	}
}

// ErrAttemptActive is returned when a second attempt is started while one is pending.
func ErrAttemptActive(id string) *BosunError {
	return &BosunError{
		Code: CodeAttemptActive,
		What: fmt.Sprintf("task %s already has an active attempt", id),
		Why:  "Exactly one attempt may be active per task",
	}
}

// ErrBackendUnavailable is returned when the external kanban backend cannot be reached.
func ErrBackendUnavailable(backend string, cause error) *BosunError {
	return &BosunError{
		Code:  CodeBackendUnavailable,
		What:  fmt.Sprintf("%s backend unavailable", backend),
		Cause: cause,
	}
}

// ErrBackendAuthMissing is returned when backend credentials are absent.
func ErrBackendAuthMissing(backend, hint string) *BosunError {
	return &BosunError{
		Code: CodeBackendAuthMissing,
		What: fmt.Sprintf("%s backend is not authenticated", backend),
		Fix:  hint,
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *BosunError {
	return &BosunError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check config.yaml in the bosun config directory",
	}
}

// ErrConfigMissing returns an error for missing configuration.
func ErrConfigMissing(field string) *BosunError {
	return &BosunError{
		Code: CodeConfigMissing,
		What: fmt.Sprintf("missing required configuration: %s", field),
		Fix:  fmt.Sprintf("Add '%s' to config.yaml", field),
	}
}

// ErrUsage marks a command-line usage error so main exits 2.
func ErrUsage(cause error) *BosunError {
	return &BosunError{
		Code:  CodeUsage,
		What:  cause.Error(),
		Fix:   "Run 'bosun --help' for usage",
		Cause: cause,
	}
}

// AsBosunError attempts to convert an error to a BosunError.
// Returns nil if the error is not one.
func AsBosunError(err error) *BosunError {
	var be *BosunError
	if errors.As(err, &be) {
		return be
	}
	return nil
}

// Wrap wraps a generic error into a BosunError with unknown code.
func Wrap(err error, what string) *BosunError {
	return &BosunError{Code: Code("UNKNOWN"), What: what, Cause: err}
}
