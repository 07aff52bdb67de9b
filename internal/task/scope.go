package task

import (
	"regexp"
	"strings"
)

// BranchPrefix is the namespace for task branches bosun creates and is
// allowed to garbage-collect.
const BranchPrefix = "ve/"

// scopePattern matches a conventional-commit header with a scope,
// e.g. "feat(router): weighted selection".
var scopePattern = regexp.MustCompile(`^(feat|fix|docs|style|refactor|perf|test|build|ci|chore|revert)\(([^)]+)\)`)

// CommitScope extracts the type and scope from a conventional-commit title.
// Titles without a scoped header return ok=false.
func CommitScope(title string) (typ, scope string, ok bool) {
	m := scopePattern.FindStringSubmatch(title)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

var branchUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// BranchFor derives the task branch name from the task ID and title:
// ve/{id}-{slug}. The slug is lowercase, dash-separated, capped at 40 runes.
func BranchFor(id, title string) string {
	slug := branchUnsafe.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		return BranchPrefix + id
	}
	return BranchPrefix + id + "-" + slug
}
