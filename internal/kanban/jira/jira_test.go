package jira

import (
	"testing"
	"time"

	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/task"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{ProjectKey: "BSN", Email: "a@b.c", APIToken: "t"})
	require.Error(t, err, "missing site")

	_, err = NewClient(Config{Site: "https://acme.atlassian.net", ProjectKey: "BSN"})
	require.Error(t, err, "missing credentials")
	assert.Equal(t, 4, bosunerr.ExitCode(err))

	c, err := NewClient(Config{
		Site:       "https://acme.atlassian.net/",
		ProjectKey: "BSN",
		Email:      "a@b.c",
		APIToken:   "t",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://acme.atlassian.net", c.cfg.Site, "trailing slash trimmed")
}

func TestCardFromIssue(t *testing.T) {
	updated := models.DateTimeScheme(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	issue := &models.IssueScheme{
		Key: "BSN-42",
		Fields: &models.IssueFieldsScheme{
			Summary:     "fix flaky lock test",
			Status:      &models.StatusScheme{Name: "In Review"},
			Labels:      []string{"bosun"},
			Updated:     &updated,
			Description: TextToADF("line one\nline two"),
		},
	}

	card := cardFromIssue(issue)
	assert.Equal(t, "BSN-42", card.Ref)
	assert.Equal(t, task.StatusInReview, card.Status)
	assert.Equal(t, []string{"bosun"}, card.Labels)
	assert.Equal(t, "line one\nline two", card.Description)
	assert.Equal(t, time.Time(updated), card.UpdatedAt)

	assert.Equal(t, kanbanStatus("Weird Column"), task.StatusTodo)
}

// kanbanStatus keeps the import of the resolution path local to the test.
func kanbanStatus(name string) task.Status {
	return cardFromIssue(&models.IssueScheme{
		Key:    "X-1",
		Fields: &models.IssueFieldsScheme{Status: &models.StatusScheme{Name: name}},
	}).Status
}

func TestADFRoundTrip(t *testing.T) {
	doc := TextToADF("first\n\nthird")
	require.Equal(t, "doc", doc.Type)
	require.Len(t, doc.Content, 3)
	assert.Equal(t, "first\n\nthird", ADFToText(doc))

	assert.Equal(t, "", ADFToText(nil))
}

func TestPickTransition(t *testing.T) {
	transitions := []*models.IssueTransitionScheme{
		{ID: "11", Name: "Start Progress", To: &models.StatusScheme{Name: "In Progress"}},
		{ID: "21", Name: "Send to Review", To: &models.StatusScheme{Name: "In Review"}},
		{ID: "31", Name: "Close", To: &models.StatusScheme{Name: "Done"}},
	}

	assert.Equal(t, "11", pickTransition(transitions, task.StatusInProgress))
	assert.Equal(t, "21", pickTransition(transitions, task.StatusInReview))
	assert.Equal(t, "31", pickTransition(transitions, task.StatusDone))
	assert.Empty(t, pickTransition(transitions, task.StatusCancelled))

	// Workflows without target statuses fall back to transition names.
	bare := []*models.IssueTransitionScheme{{ID: "5", Name: "Done"}}
	assert.Equal(t, "5", pickTransition(bare, task.StatusDone))
	assert.Empty(t, pickTransition(bare, task.StatusTodo), "unknown names never match")
}

func TestPickMode(t *testing.T) {
	assert.Equal(t, ModeJSONField, pickMode(map[string]string{
		"Bosun State": "customfield_10001",
	}))
	assert.Equal(t, ModeTypedFields, pickMode(map[string]string{
		"Bosun Attempt Token": "customfield_10002",
	}))
	assert.Equal(t, ModeComments, pickMode(map[string]string{}))
}

func TestStateCommentRoundTrip(t *testing.T) {
	st := SharedState{
		OwnerID:        "host-1:42",
		AttemptToken:   "tok-1",
		AttemptStarted: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Heartbeat:      time.Date(2026, 8, 1, 12, 5, 0, 0, time.UTC),
		RetryCount:     2,
	}

	text, err := stateCommentText(st)
	require.NoError(t, err)

	// Through the ADF tree and back, as comments mode stores it.
	got, ok := parseStateComment(ADFToText(TextToADF(text)))
	require.True(t, ok)
	assert.Equal(t, st, *got)
}

func TestParseStateComment_RejectsOrdinaryComments(t *testing.T) {
	_, ok := parseStateComment("looks good, shipping it")
	assert.False(t, ok)

	_, ok = parseStateComment("bosun state:\nnot json at all")
	assert.False(t, ok)

	_, ok = parseStateComment("")
	assert.False(t, ok)
}
