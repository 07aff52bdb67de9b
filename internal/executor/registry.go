// Package executor manages the pool of coding-agent executors: the registry
// of configured SDKs, task routing across them, and the per-adapter bus gate
// that serializes sessions.
package executor

import (
	"fmt"
	"strings"

	"github.com/openfleet/bosun/internal/config"
	"github.com/openfleet/bosun/internal/task"
)

// Roles in failover order. Executors past tertiary get executor-N names.
const (
	RolePrimary  = "primary"
	RoleBackup   = "backup"
	RoleTertiary = "tertiary"
)

// Executor is one normalized pool member.
type Executor struct {
	SDK     task.SDK
	Weight  int
	Role    string
	Model   string
	Enabled bool
	// Scopes restricts the executor to matching commit scopes; empty
	// means any.
	Scopes []string
}

// HasScope reports whether the executor declares the given commit scope.
func (e *Executor) HasScope(scope string) bool {
	for _, s := range e.Scopes {
		if strings.EqualFold(s, scope) {
			return true
		}
	}
	return false
}

// Registry holds the normalized executor pool in failover order.
type Registry struct {
	executors []*Executor
}

// NewRegistry normalizes the configured executors:
//   - weights below 1 are raised to 1
//   - unknown SDK names are dropped
//   - exactly one primary: the first declared primary wins, or the first
//     executor when none declares it; extra primaries are demoted in order
//   - remaining roles fill backup, tertiary, executor-N positionally
func NewRegistry(configs []config.ExecutorConfig) *Registry {
	var pool []*Executor
	for _, c := range configs {
		sdk := task.NormalizeSDK(c.SDK)
		if sdk == "" {
			continue
		}
		weight := c.Weight
		if weight < 1 {
			weight = 1
		}
		enabled := true
		if c.Enabled != nil {
			enabled = *c.Enabled
		}
		var scopes []string
		for _, s := range c.Scopes {
			if s = strings.TrimSpace(s); s != "" {
				scopes = append(scopes, s)
			}
		}
		pool = append(pool, &Executor{
			SDK:     sdk,
			Weight:  weight,
			Role:    strings.TrimSpace(strings.ToLower(c.Role)),
			Model:   c.Model,
			Enabled: enabled,
			Scopes:  scopes,
		})
	}
	assignRoles(pool)
	return &Registry{executors: pool}
}

// assignRoles enforces the single-primary invariant and fills the rest of
// the role ladder positionally.
func assignRoles(pool []*Executor) {
	primaryIdx := -1
	for i, ex := range pool {
		if ex.Role == RolePrimary {
			primaryIdx = i
			break
		}
	}
	if primaryIdx < 0 && len(pool) > 0 {
		primaryIdx = 0
	}

	ladder := []string{RoleBackup, RoleTertiary}
	next := 0
	for i, ex := range pool {
		if i == primaryIdx {
			ex.Role = RolePrimary
			continue
		}
		if next < len(ladder) {
			ex.Role = ladder[next]
		} else {
			ex.Role = fmt.Sprintf("executor-%d", next+2)
		}
		next++
	}
}

// All returns the pool in failover order.
func (r *Registry) All() []*Executor {
	return r.executors
}

// Enabled returns the enabled pool members in failover order.
func (r *Registry) Enabled() []*Executor {
	var out []*Executor
	for _, ex := range r.executors {
		if ex.Enabled {
			out = append(out, ex)
		}
	}
	return out
}

// Primary returns the primary executor, or nil for an empty pool.
func (r *Registry) Primary() *Executor {
	for _, ex := range r.executors {
		if ex.Role == RolePrimary {
			return ex
		}
	}
	return nil
}

// Get returns the executor for an SDK, or nil.
func (r *Registry) Get(sdk task.SDK) *Executor {
	for _, ex := range r.executors {
		if ex.SDK == sdk {
			return ex
		}
	}
	return nil
}
