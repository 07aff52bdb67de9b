package procs

import (
	"strings"
	"time"
)

// Class is the result of classifying a process command line.
type Class string

const (
	// ClassMonitor marks a process recognized as a bosun monitor.
	ClassMonitor Class = "monitor"
	// ClassOther marks a process whose command line is known but not a monitor.
	ClassOther Class = "other"
	// ClassUnknown marks a process whose command line is unavailable.
	ClassUnknown Class = "unknown"
)

// monitorMarker is the path fragment that always identifies a monitor.
const monitorMarker = "bosun/monitor.mjs"

// jsLaunchers are runtimes that can host the monitor script.
var jsLaunchers = []string{"node", "bun", "tsx", "deno"}

// monitorScriptSegments are command-line fragments that indicate the monitor
// script, including the eval form used by service wrappers.
var monitorScriptSegments = []string{
	"monitor.mjs",
	`import("./monitor.mjs")`,
	`import('./monitor.mjs')`,
}

// Classify determines whether a command line belongs to a monitor process.
// An empty command line is unknown; a line containing the bosun monitor
// marker is always a monitor; a JS launcher combined with a monitor script
// segment is a monitor; everything else is other.
func Classify(commandLine string) Class {
	if strings.TrimSpace(commandLine) == "" {
		return ClassUnknown
	}
	norm := normalize(commandLine)
	if strings.Contains(norm, monitorMarker) {
		return ClassMonitor
	}
	if hasJSLauncher(norm) && hasMonitorSegment(norm) {
		return ClassMonitor
	}
	return ClassOther
}

func hasJSLauncher(norm string) bool {
	for _, launcher := range jsLaunchers {
		for _, tok := range strings.Fields(norm) {
			// Match bare launcher names and path-qualified ones.
			if tok == launcher || strings.HasSuffix(tok, "/"+launcher) || strings.HasSuffix(tok, "\\"+launcher) {
				return true
			}
		}
	}
	return false
}

func hasMonitorSegment(norm string) bool {
	for _, seg := range monitorScriptSegments {
		if strings.Contains(norm, strings.ToLower(seg)) {
			return true
		}
	}
	return false
}

// recentMonitorWindow bounds how old a lock payload may be before an
// unknown-cmdline owner stops being presumed a monitor.
const recentMonitorWindow = 3 * time.Minute

// LooksLikeMonitorArgv reports whether a lock file argv resembles a monitor
// invocation.
func LooksLikeMonitorArgv(argv []string) bool {
	return Classify(strings.Join(argv, " ")) == ClassMonitor
}

// ShouldAssumeMonitorForUnknownOwner decides whether a live PID with an
// unreadable command line should be treated as a monitor, based on the lock
// payload it left behind. The owner is presumed a monitor when its argv is
// monitor-like AND its recorded start time is either unparseable or within
// the last three minutes. Old payloads are presumed PID reuse.
func ShouldAssumeMonitorForUnknownOwner(argv []string, startedAt string, now time.Time) bool {
	if !LooksLikeMonitorArgv(argv) {
		return false
	}
	t, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return true
	}
	age := now.Sub(t)
	if age < 0 {
		// Tolerate clock skew between the writer and us.
		age = -age
	}
	return age <= recentMonitorWindow
}
