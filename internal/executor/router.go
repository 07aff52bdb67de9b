package executor

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/openfleet/bosun/internal/config"
	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/task"
)

// execState tracks health bookkeeping for one executor.
type execState struct {
	consecutiveFailures int
	cooldownUntil       time.Time
	disabledUntil       time.Time
}

// out reports whether the executor is sidelined at now, by cooldown or by
// a consecutive-failure disable window.
func (st *execState) out(now time.Time) bool {
	return now.Before(st.cooldownUntil) || now.Before(st.disabledUntil)
}

// Router distributes tasks across the pool and drives failover.
type Router struct {
	registry *Registry
	strategy config.Distribution
	policy   config.FailoverConfig
	logger   *slog.Logger

	mu      sync.Mutex
	rrIndex int
	state   map[task.SDK]*execState

	now  func() time.Time
	intn func(n int) int
}

// NewRouter creates a Router over the registry.
func NewRouter(registry *Registry, strategy config.Distribution, policy config.FailoverConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if strategy == "" {
		strategy = config.DistributionPrimaryOnly
	}
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 3
	}
	if policy.CooldownMinutes <= 0 {
		policy.CooldownMinutes = 5
	}
	if policy.DisableOnConsecutiveFailures <= 0 {
		policy.DisableOnConsecutiveFailures = 3
	}
	if policy.Strategy == "" {
		policy.Strategy = "next-in-line"
	}
	return &Router{
		registry: registry,
		strategy: strategy,
		policy:   policy,
		logger:   logger,
		state:    make(map[task.SDK]*execState),
		now:      time.Now,
		intn:     rand.Intn,
	}
}

func (r *Router) stateFor(sdk task.SDK) *execState {
	st, ok := r.state[sdk]
	if !ok {
		st = &execState{}
		r.state[sdk] = st
	}
	return st
}

// available returns enabled, non-disabled, non-cooling executors in
// failover order, excluding any SDK in skip.
func (r *Router) available(skip map[task.SDK]bool) []*Executor {
	now := r.now()
	var out []*Executor
	for _, ex := range r.registry.Enabled() {
		if skip[ex.SDK] {
			continue
		}
		if r.stateFor(ex.SDK).out(now) {
			continue
		}
		out = append(out, ex)
	}
	return out
}

// Pick selects the executor for a new task per the distribution strategy.
func (r *Router) Pick() (*Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pickLocked(nil)
}

// PickFor selects an executor for a task title. Titles with a
// conventional-commit scope that at least one executor declares restrict
// the pool to those executors; otherwise the full pool applies.
func (r *Router) PickFor(title string) (*Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, scope, ok := task.CommitScope(title); ok {
		if skip := r.scopeSkip(scope); skip != nil {
			if ex, err := r.pickLocked(skip); err == nil {
				return ex, nil
			}
			// Scoped candidates are all cooling or disabled; fall through.
		}
	}
	return r.pickLocked(nil)
}

// scopeSkip builds a skip set excluding executors without the scope, or
// nil when no enabled executor declares it.
func (r *Router) scopeSkip(scope string) map[task.SDK]bool {
	matched := false
	skip := make(map[task.SDK]bool)
	for _, ex := range r.registry.Enabled() {
		if ex.HasScope(scope) {
			matched = true
		} else {
			skip[ex.SDK] = true
		}
	}
	if !matched {
		return nil
	}
	return skip
}

func (r *Router) pickLocked(skip map[task.SDK]bool) (*Executor, error) {
	pool := r.available(skip)
	if len(pool) == 0 {
		return nil, bosunerr.ErrNoExecutor()
	}

	switch r.strategy {
	case config.DistributionPrimaryOnly:
		for _, ex := range pool {
			if ex.Role == RolePrimary {
				return ex, nil
			}
		}
		return nil, bosunerr.ErrNoExecutor()

	case config.DistributionRoundRobin:
		ex := pool[r.rrIndex%len(pool)]
		r.rrIndex++
		return ex, nil

	default: // weighted
		return r.weightedPick(pool), nil
	}
}

func (r *Router) weightedPick(pool []*Executor) *Executor {
	total := 0
	for _, ex := range pool {
		total += ex.Weight
	}
	n := r.intn(total)
	for _, ex := range pool {
		n -= ex.Weight
		if n < 0 {
			return ex
		}
	}
	return pool[len(pool)-1]
}

// Failover selects the replacement after failed errored, per the failover
// strategy. The failed SDK is excluded from candidates.
func (r *Router) Failover(failed task.SDK) (*Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	skip := map[task.SDK]bool{failed: true}
	switch r.policy.Strategy {
	case "weighted-random":
		pool := r.available(skip)
		if len(pool) == 0 {
			return nil, bosunerr.ErrNoExecutor()
		}
		return r.weightedPick(pool), nil

	case "round-robin":
		pool := r.available(skip)
		if len(pool) == 0 {
			return nil, bosunerr.ErrNoExecutor()
		}
		ex := pool[r.rrIndex%len(pool)]
		r.rrIndex++
		return ex, nil

	default: // next-in-line: first available executor after the failed one
		pool := r.registry.Enabled()
		start := 0
		for i, ex := range pool {
			if ex.SDK == failed {
				start = i + 1
				break
			}
		}
		now := r.now()
		for i := 0; i < len(pool); i++ {
			ex := pool[(start+i)%len(pool)]
			if ex.SDK == failed {
				continue
			}
			if r.stateFor(ex.SDK).out(now) {
				continue
			}
			return ex, nil
		}
		return nil, bosunerr.ErrNoExecutor()
	}
}

// MaxRetries returns how many executors a single task may burn through.
func (r *Router) MaxRetries() int {
	return r.policy.MaxRetries
}

// ReportFailure records a failed attempt: the executor cools down, and
// hitting the consecutive-failure budget sidelines it for a bounded disable
// window rather than permanently.
func (r *Router) ReportFailure(sdk task.SDK) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	window := time.Duration(r.policy.CooldownMinutes) * time.Minute
	st := r.stateFor(sdk)
	st.consecutiveFailures++
	st.cooldownUntil = now.Add(window)

	if st.consecutiveFailures >= r.policy.DisableOnConsecutiveFailures {
		st.disabledUntil = now.Add(window)
		r.logger.Warn("executor disabled after consecutive failures",
			"sdk", sdk, "failures", st.consecutiveFailures, "until", st.disabledUntil)
		return
	}
	r.logger.Info("executor cooling down", "sdk", sdk,
		"until", st.cooldownUntil, "failures", st.consecutiveFailures)
}

// ReportSuccess clears failure bookkeeping and re-enables the executor.
func (r *Router) ReportSuccess(sdk task.SDK) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.stateFor(sdk)
	if r.now().Before(st.disabledUntil) {
		r.logger.Info("executor re-enabled", "sdk", sdk)
	}
	st.consecutiveFailures = 0
	st.cooldownUntil = time.Time{}
	st.disabledUntil = time.Time{}
}

// Disabled reports whether the executor's disable window is still open.
func (r *Router) Disabled(sdk task.SDK) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Before(r.stateFor(sdk).disabledUntil)
}

// CoolingUntil returns the end of the executor's cooldown window, or the
// zero time when it is not cooling.
func (r *Router) CoolingUntil(sdk task.SDK) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	until := r.stateFor(sdk).cooldownUntil
	if r.now().Before(until) {
		return until
	}
	return time.Time{}
}
