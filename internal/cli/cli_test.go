package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfleet/bosun/internal/config"
	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/task"
)

func TestExactArgsMapsToUsageExit(t *testing.T) {
	validate := exactArgs(1)
	cmd := &cobra.Command{Use: "show"}

	require.NoError(t, validate(cmd, []string{"TASK-1"}))

	err := validate(cmd, nil)
	require.Error(t, err)
	assert.Equal(t, 2, bosunerr.ExitCode(err))
}

func TestNewBackendSelection(t *testing.T) {
	cfg := config.Default()

	// Internal board means no external backend.
	cfg.Kanban.Backend = ""
	backend, err := newBackend(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, backend)

	cfg.Kanban.Backend = "internal"
	backend, err = newBackend(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, backend)

	cfg.Kanban.Backend = "trello"
	_, err = newBackend(cfg, nil)
	require.Error(t, err)
	be := bosunerr.AsBosunError(err)
	require.NotNil(t, be)
	assert.Equal(t, bosunerr.CodeConfigInvalid, be.Code)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly-te", truncate("exactly-te", 10))
	assert.Equal(t, "longer th…", truncate("longer than ten", 10))
}

func TestStatusBadgeCoversAllStatuses(t *testing.T) {
	for _, st := range []task.Status{
		task.StatusTodo, task.StatusInProgress, task.StatusInReview,
		task.StatusDone, task.StatusFailed, task.StatusCancelled,
	} {
		assert.NotEmpty(t, statusBadge(st))
	}
}
