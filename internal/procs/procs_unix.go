//go:build !windows

package procs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// psEnumerator lists processes by parsing `ps -eo pid,lstart,args`.
type psEnumerator struct{}

func newPlatformEnumerator() Enumerator {
	return &psEnumerator{}
}

// lstart is a fixed-width 24-character field, e.g. "Mon Jan  2 15:04:05 2006".
const lstartWidth = 24

// List parses ps output into process records. Rows that cannot be parsed
// are skipped rather than failing the whole enumeration.
func (e *psEnumerator) List(ctx context.Context) ([]Info, error) {
	cmd := exec.CommandContext(ctx, "ps", "-eo", "pid,lstart,args")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run ps: %w", err)
	}
	return parsePSOutput(out.String()), nil
}

// parsePSOutput parses the output of `ps -eo pid,lstart,args`.
// Split out for testing.
func parsePSOutput(output string) []Info {
	var procs []Info
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue // header or trailing blank
		}
		info, ok := parsePSLine(line)
		if !ok {
			continue
		}
		procs = append(procs, info)
	}
	return procs
}

func parsePSLine(line string) (Info, bool) {
	trimmed := strings.TrimLeft(line, " ")
	sp := strings.IndexByte(trimmed, ' ')
	if sp < 0 {
		return Info{}, false
	}
	pid, err := strconv.Atoi(trimmed[:sp])
	if err != nil {
		return Info{}, false
	}
	rest := strings.TrimLeft(trimmed[sp:], " ")
	if len(rest) < lstartWidth {
		return Info{}, false
	}
	started, _ := time.ParseInLocation("Mon Jan  2 15:04:05 2006", rest[:lstartWidth], time.Local)
	args := strings.TrimSpace(rest[lstartWidth:])
	return Info{PID: pid, CommandLine: args, StartedAt: started}, true
}

// Kill sends SIGKILL. ESRCH (already gone) is not an error.
func (e *psEnumerator) Kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(pid, syscall.SIGKILL)
	if err == nil || err == syscall.ESRCH {
		return nil
	}
	return fmt.Errorf("kill %d: %w", pid, err)
}

// Alive probes a PID with signal 0.
func (e *psEnumerator) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 does the real check.
	// EPERM means the process exists but belongs to another user.
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
