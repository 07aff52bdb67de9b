package task

import (
	"strings"
	"time"
)

// SDK identifies a coding-agent SDK an attempt runs against.
type SDK string

const (
	SDKCodex    SDK = "CODEX"
	SDKCopilot  SDK = "COPILOT"
	SDKClaude   SDK = "CLAUDE"
	SDKGemini   SDK = "GEMINI"
	SDKOpencode SDK = "OPENCODE"
)

// ValidSDKs returns all known SDK identifiers.
func ValidSDKs() []SDK {
	return []SDK{SDKCodex, SDKCopilot, SDKClaude, SDKGemini, SDKOpencode}
}

// NormalizeSDK canonicalizes an SDK name; unknown names return "" .
func NormalizeSDK(s string) SDK {
	sdk := SDK(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range ValidSDKs() {
		if sdk == known {
			return known
		}
	}
	return ""
}

// Task is the unit of work bosun schedules onto an executor and mirrors to
// the configured kanban backend. The internal store is the source of truth;
// ExternalRef points at the mirrored card when one exists.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	SDK         SDK       `json:"sdk,omitempty"`
	Branch      string    `json:"branch,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	ExternalRef string    `json:"external_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Attempt is one run of a task on one executor. The token names the
// worktree directory and deduplicates replayed events.
type Attempt struct {
	Token     string    `json:"token"`
	TaskID    string    `json:"task_id"`
	SDK       SDK       `json:"sdk"`
	Branch    string    `json:"branch"`
	Worktree  string    `json:"worktree,omitempty"`
	StartedAt time.Time `json:"started_at"`
	// HeartbeatAt is the last liveness signal from the attempt's runner.
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Outcome     Outcome    `json:"outcome,omitempty"`
	Detail      string     `json:"detail,omitempty"`
}

// LastSeen is the attempt's most recent sign of life: the last heartbeat,
// or the start time before any heartbeat arrived.
func (a *Attempt) LastSeen() time.Time {
	if a.HeartbeatAt != nil {
		return *a.HeartbeatAt
	}
	return a.StartedAt
}

// Outcome is the result of a finished attempt.
type Outcome string

const (
	OutcomePassed    Outcome = "passed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Pending reports whether the attempt is still running.
func (a *Attempt) Pending() bool {
	return a.FinishedAt == nil
}

// HasLabel reports whether the task carries the label (case-insensitive).
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// MergeLabels adds labels the task is missing, preserving order and casing
// of existing ones.
func (t *Task) MergeLabels(labels ...string) {
	for _, label := range labels {
		if !t.HasLabel(label) {
			t.Labels = append(t.Labels, label)
		}
	}
}
