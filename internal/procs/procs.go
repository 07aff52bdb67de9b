// Package procs enumerates and classifies OS processes for the maintenance
// sweeper and the PID lock. POSIX systems parse `ps` output; Windows uses
// Get-CimInstance. Killing an already-absent process is never an error.
package procs

import (
	"context"
	"strings"
	"time"
)

// Info describes a single OS process.
type Info struct {
	PID         int
	CommandLine string
	// StartedAt is the process creation time. Zero when the platform
	// could not report it.
	StartedAt time.Time
}

// Enumerator lists and kills OS processes.
type Enumerator interface {
	// List returns all visible processes. Entries whose command line is
	// unavailable are included with an empty CommandLine.
	List(ctx context.Context) ([]Info, error)
	// Kill force-kills a process. A missing process is not an error.
	Kill(pid int) error
	// Alive reports whether the PID refers to a live process.
	Alive(pid int) bool
}

// New returns the Enumerator for the current platform.
func New() Enumerator {
	return newPlatformEnumerator()
}

// IsGitPush reports whether a command line is a git push invocation.
// Both `git push` and Windows `git.exe push` forms are matched.
func IsGitPush(commandLine string) bool {
	norm := normalize(commandLine)
	return strings.Contains(norm, "git push") || strings.Contains(norm, "git.exe push")
}

// normalize collapses whitespace and lowercases a command line so
// classification is insensitive to shell quoting artifacts.
func normalize(commandLine string) string {
	return strings.ToLower(strings.Join(strings.Fields(commandLine), " "))
}
