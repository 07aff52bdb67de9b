package gitlab

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gl "gitlab.com/gitlab-org/api/client-go"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/kanban"
	"github.com/openfleet/bosun/internal/task"
)

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Token: "t"})
	require.Error(t, err, "missing project")

	_, err = New(Config{ProjectID: "42"})
	require.Error(t, err, "missing token")
	assert.Equal(t, 4, bosunerr.ExitCode(err))

	b, err := New(Config{ProjectID: "group/bosun", Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, "gitlab", b.Name())
}

func TestCardFromIssue(t *testing.T) {
	now := time.Now()
	is := &gl.Issue{
		IID:         7,
		Title:       "fix flaky lock test",
		Description: "details",
		State:       "opened",
		Labels:      []string{"bosun", "status::in_review"},
		UpdatedAt:   &now,
	}

	card := cardFromIssue(is)
	assert.Equal(t, "7", card.Ref)
	assert.Equal(t, task.StatusInReview, card.Status)
	assert.Equal(t, []string{"bosun"}, card.Labels, "status label is consumed")
	assert.Equal(t, now, card.UpdatedAt)
}

func TestCardFromIssue_ClosedWithoutStatusLabel(t *testing.T) {
	is := &gl.Issue{IID: 9, State: "closed", Labels: []string{"codex-monitor"}}
	assert.Equal(t, task.StatusDone, cardFromIssue(is).Status)
}

func TestStatusFromLabel(t *testing.T) {
	st, ok := statusFromLabel("status::failed")
	require.True(t, ok)
	assert.Equal(t, task.StatusFailed, st)

	_, ok = statusFromLabel("status::bogus")
	assert.False(t, ok)
	_, ok = statusFromLabel("workflow::doing")
	assert.False(t, ok)
}

func TestLabelsFor(t *testing.T) {
	c := &kanban.Card{Labels: []string{"bosun"}, Status: task.StatusInProgress}
	assert.Equal(t, gl.LabelOptions{"bosun", "status::in_progress"}, labelsFor(c))
}

func TestStateEvent(t *testing.T) {
	assert.Equal(t, "reopen", stateEvent(task.StatusInProgress))
	assert.Equal(t, "reopen", stateEvent(task.StatusFailed))
	assert.Equal(t, "close", stateEvent(task.StatusDone))
	assert.Equal(t, "close", stateEvent(task.StatusCancelled))
}
