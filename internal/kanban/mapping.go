package kanban

import (
	"strings"

	"github.com/openfleet/bosun/internal/task"
)

// StatusMap translates internal statuses to a backend's column names and
// back. Boards rarely carry all six internal statuses; missing columns fall
// back along the degradation chain:
//
//	in_review -> in_progress (board has no review column)
//	cancelled -> done        (board has no cancelled column)
//	failed    -> in_progress (failed tasks are still open work)
type StatusMap struct {
	// Columns maps internal status to the backend column name. Absent
	// entries trigger the fallback chain.
	Columns map[task.Status]string
}

// fallbacks is the degradation chain for statuses a board lacks.
var fallbacks = map[task.Status]task.Status{
	task.StatusInReview:  task.StatusInProgress,
	task.StatusCancelled: task.StatusDone,
	task.StatusFailed:    task.StatusInProgress,
}

// Column resolves the backend column for an internal status, walking the
// fallback chain. Returns "" when nothing resolves.
func (m StatusMap) Column(st task.Status) string {
	seen := map[task.Status]bool{}
	for !seen[st] {
		seen[st] = true
		if col, ok := m.Columns[st]; ok {
			return col
		}
		next, ok := fallbacks[st]
		if !ok {
			return ""
		}
		st = next
	}
	return ""
}

// Status resolves a backend column back to the internal status. Column
// comparison is case-insensitive. Unknown columns return todo so imported
// cards always land somewhere actionable.
func (m StatusMap) Status(column string) task.Status {
	for st, col := range m.Columns {
		if strings.EqualFold(col, column) {
			return st
		}
	}
	return task.StatusTodo
}

// columnAliases are the column names boards commonly use for each status.
// Matching is case- and punctuation-insensitive.
var columnAliases = map[task.Status][]string{
	task.StatusTodo:       {"Todo", "To Do", "Backlog", "Queued"},
	task.StatusInProgress: {"In Progress", "Doing", "Active"},
	task.StatusInReview:   {"In Review", "Review", "Needs Review", "Ready for Review"},
	task.StatusDone:       {"Done", "Complete", "Closed"},
	task.StatusCancelled:  {"Cancelled", "Canceled", "Abandoned", "Won't Fix"},
}

// normalizeColumn lowercases and strips everything but letters and digits so
// "To-Do", "to do" and "TODO" compare equal.
func normalizeColumn(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MatchColumn alias-matches a single column or status name without a
// pre-built map.
func MatchColumn(name string) (task.Status, bool) {
	norm := normalizeColumn(name)
	for st, aliases := range columnAliases {
		for _, alias := range aliases {
			if normalizeColumn(alias) == norm {
				return st, true
			}
		}
	}
	return "", false
}

// StatusFromColumn is MatchColumn with unknown names resolving to todo, so
// imported cards always land somewhere actionable.
func StatusFromColumn(name string) task.Status {
	if st, ok := MatchColumn(name); ok {
		return st
	}
	return task.StatusTodo
}

// ResolveColumns matches a board's actual column names against the known
// aliases and builds the StatusMap. Columns no alias covers are left out;
// the fallback chain picks up statuses the board lacks.
func ResolveColumns(options []string) StatusMap {
	m := StatusMap{Columns: make(map[task.Status]string)}
	for _, opt := range options {
		norm := normalizeColumn(opt)
		for st, aliases := range columnAliases {
			if _, taken := m.Columns[st]; taken {
				continue
			}
			for _, alias := range aliases {
				if normalizeColumn(alias) == norm {
					m.Columns[st] = opt
					break
				}
			}
		}
	}
	return m
}
