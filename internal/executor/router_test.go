package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfleet/bosun/internal/config"
	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/task"
)

func testRegistry() *Registry {
	return NewRegistry([]config.ExecutorConfig{
		{SDK: "claude", Weight: 3},
		{SDK: "codex", Weight: 1},
		{SDK: "gemini", Weight: 1},
	})
}

func newTestRouter(strategy config.Distribution, failover string) *Router {
	r := NewRouter(testRegistry(), strategy, config.FailoverConfig{Strategy: failover}, nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	return r
}

func TestPick_RoundRobinCycles(t *testing.T) {
	r := newTestRouter(config.DistributionRoundRobin, "")

	var got []task.SDK
	for i := 0; i < 6; i++ {
		ex, err := r.Pick()
		require.NoError(t, err)
		got = append(got, ex.SDK)
	}
	assert.Equal(t, []task.SDK{
		task.SDKClaude, task.SDKCodex, task.SDKGemini,
		task.SDKClaude, task.SDKCodex, task.SDKGemini,
	}, got)
}

func TestPick_PrimaryOnly(t *testing.T) {
	r := newTestRouter(config.DistributionPrimaryOnly, "")

	ex, err := r.Pick()
	require.NoError(t, err)
	assert.Equal(t, task.SDKClaude, ex.SDK)

	// With the primary cooling down, primary-only has nothing to offer.
	r.ReportFailure(task.SDKClaude)
	_, err = r.Pick()
	var be *bosunerr.BosunError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, bosunerr.CodeNoExecutor, be.Code)
}

func TestPick_WeightedHonorsWeights(t *testing.T) {
	r := newTestRouter(config.DistributionWeighted, "")

	// Deterministic rand: weights are claude=3, codex=1, gemini=1.
	picks := map[int]task.SDK{0: task.SDKClaude, 2: task.SDKClaude, 3: task.SDKCodex, 4: task.SDKGemini}
	for n, want := range picks {
		r.intn = func(int) int { return n }
		ex, err := r.Pick()
		require.NoError(t, err)
		assert.Equal(t, want, ex.SDK, "intn=%d", n)
	}
}

func TestFailover_NextInLine(t *testing.T) {
	r := newTestRouter(config.DistributionWeighted, "next-in-line")

	ex, err := r.Failover(task.SDKClaude)
	require.NoError(t, err)
	assert.Equal(t, task.SDKCodex, ex.SDK)

	// Wraps past the end of the pool.
	ex, err = r.Failover(task.SDKGemini)
	require.NoError(t, err)
	assert.Equal(t, task.SDKClaude, ex.SDK)
}

func TestFailover_SkipsCoolingExecutors(t *testing.T) {
	r := newTestRouter(config.DistributionWeighted, "next-in-line")

	r.ReportFailure(task.SDKCodex)
	ex, err := r.Failover(task.SDKClaude)
	require.NoError(t, err)
	assert.Equal(t, task.SDKGemini, ex.SDK, "cooling codex is skipped")
}

func TestCooldownExpires(t *testing.T) {
	r := newTestRouter(config.DistributionRoundRobin, "")
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	r.ReportFailure(task.SDKClaude)
	assert.False(t, r.CoolingUntil(task.SDKClaude).IsZero())

	// Default cooldown is 5 minutes.
	clock = clock.Add(5*time.Minute + time.Second)
	assert.True(t, r.CoolingUntil(task.SDKClaude).IsZero())

	ex, err := r.Pick()
	require.NoError(t, err)
	assert.Equal(t, task.SDKClaude, ex.SDK)
}

func TestDisableAfterConsecutiveFailures(t *testing.T) {
	r := newTestRouter(config.DistributionRoundRobin, "")
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		r.ReportFailure(task.SDKClaude)
	}
	assert.True(t, r.Disabled(task.SDKClaude))

	// The disable window keeps the executor out of the pool.
	ex, err := r.Pick()
	require.NoError(t, err)
	assert.NotEqual(t, task.SDKClaude, ex.SDK)

	// A success re-enables early.
	r.ReportSuccess(task.SDKClaude)
	assert.False(t, r.Disabled(task.SDKClaude))
}

func TestDisableWindowExpires(t *testing.T) {
	r := newTestRouter(config.DistributionRoundRobin, "")
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		r.ReportFailure(task.SDKClaude)
	}
	assert.True(t, r.Disabled(task.SDKClaude))

	// The window is bounded: the default cooldown later the executor is
	// back in rotation without any success report.
	clock = clock.Add(5*time.Minute + time.Second)
	assert.False(t, r.Disabled(task.SDKClaude))

	ex, err := r.Pick()
	require.NoError(t, err)
	assert.Equal(t, task.SDKClaude, ex.SDK)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	r := newTestRouter(config.DistributionRoundRobin, "")
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	r.ReportFailure(task.SDKClaude)
	r.ReportFailure(task.SDKClaude)
	r.ReportSuccess(task.SDKClaude)
	r.ReportFailure(task.SDKClaude)
	r.ReportFailure(task.SDKClaude)
	assert.False(t, r.Disabled(task.SDKClaude), "count restarts after a success")
}

func TestDefaultStrategyIsPrimaryOnly(t *testing.T) {
	r := newTestRouter("", "")

	// An unset distribution keeps everything on the primary.
	for i := 0; i < 4; i++ {
		ex, err := r.Pick()
		require.NoError(t, err)
		assert.Equal(t, task.SDKClaude, ex.SDK)
	}
}

func TestMaxRetriesDefault(t *testing.T) {
	r := newTestRouter(config.DistributionWeighted, "")
	assert.Equal(t, 3, r.MaxRetries())
}

func TestPickFor_ScopeRestrictsPool(t *testing.T) {
	reg := NewRegistry([]config.ExecutorConfig{
		{SDK: "claude", Weight: 1},
		{SDK: "codex", Weight: 1, Scopes: []string{"infra", "ci"}},
	})
	r := NewRouter(reg, config.DistributionWeighted, config.FailoverConfig{}, nil)

	// A scoped title lands on the executor declaring that scope.
	for i := 0; i < 5; i++ {
		ex, err := r.PickFor("fix(infra): tighten sweep timeout")
		require.NoError(t, err)
		assert.Equal(t, task.SDKCodex, ex.SDK)
	}

	// Unscoped titles and unknown scopes use the whole pool.
	ex, err := r.PickFor("improve logging")
	require.NoError(t, err)
	assert.Contains(t, []task.SDK{task.SDKClaude, task.SDKCodex}, ex.SDK)

	ex, err = r.PickFor("feat(parser): support scoped labels")
	require.NoError(t, err)
	assert.Contains(t, []task.SDK{task.SDKClaude, task.SDKCodex}, ex.SDK)
}

func TestPickFor_CoolingScopedExecutorFallsBack(t *testing.T) {
	reg := NewRegistry([]config.ExecutorConfig{
		{SDK: "claude", Weight: 1},
		{SDK: "codex", Weight: 1, Scopes: []string{"infra"}},
	})
	r := NewRouter(reg, config.DistributionWeighted, config.FailoverConfig{}, nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	r.ReportFailure(task.SDKCodex)

	ex, err := r.PickFor("fix(infra): tighten sweep timeout")
	require.NoError(t, err)
	assert.Equal(t, task.SDKClaude, ex.SDK)
}
