// Package gitx wraps the git CLI for worktree, branch and maintenance
// operations. Every subprocess call carries a per-operation timeout; a child
// that outlives its deadline is killed and reported as a timeout.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"

	bosunerr "github.com/openfleet/bosun/internal/errors"
)

// Per-operation timeouts. Ref queries are cheap; fetch and rebase touch the
// network or rewrite history and get the widest budgets.
const (
	TimeoutRefQuery = 5 * time.Second
	TimeoutRemoval  = 10 * time.Second
	TimeoutPush     = 30 * time.Second
	TimeoutRebase   = 60 * time.Second
	TimeoutFetch    = 60 * time.Second
)

// CommandRunner executes git commands.
// This interface allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes git with args in workDir, bounded by timeout, and
	// returns the trimmed stdout. Failures return the stderr/stdout text
	// as part of the error.
	Run(ctx context.Context, workDir string, timeout time.Duration, args ...string) (stdout string, err error)
}

// ExecRunner is the default CommandRunner using exec.CommandContext.
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the command, killing it at the deadline.
func (r *ExecRunner) Run(ctx context.Context, workDir string, timeout time.Duration, args ...string) (string, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", bosunerr.ErrGitTimeout(args, timeout.String())
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = strings.TrimSpace(stdout.String())
		}
		if errMsg == "" {
			errMsg = err.Error()
		}
		return errMsg, &CommandError{
			Args:    args,
			WorkDir: workDir,
			Output:  errMsg,
			Err:     err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// CommandError represents a git execution error.
type CommandError struct {
	Args    []string
	WorkDir string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return e.Output
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "git command failed"
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsExitStatus reports whether err is a git exit with the given status.
// Used to distinguish "ref missing" (status 1) from real failures.
func IsExitStatus(err error, status int) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}
	var exitErr *exec.ExitError
	if errors.As(ce.Err, &exitErr) {
		return exitErr.ExitCode() == status
	}
	return strings.Contains(ce.Err.Error(), "exit status "+strconv.Itoa(status))
}
