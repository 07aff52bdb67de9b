package github

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/task"
)

func TestParseOwnerRepo(t *testing.T) {
	tests := []struct {
		url   string
		owner string
		repo  string
	}{
		{"git@github.com:openfleet/bosun", "openfleet", "bosun"},
		{"git@github.acme.com:platform/bosun", "platform", "bosun"},
		{"ssh://git@github.com:22/platform/bosun", "platform", "bosun"},
		{"https://github.com/openfleet/bosun", "openfleet", "bosun"},
		{"https://gitlab.acme.com/org/subgroup/bosun", "subgroup", "bosun"},
		{"github.com/openfleet/bosun", "openfleet", "bosun"},
		{"not-a-url", "", ""},
	}
	for _, tt := range tests {
		owner, repo := parseOwnerRepo(tt.url)
		assert.Equal(t, tt.owner, owner, tt.url)
		assert.Equal(t, tt.repo, repo, tt.url)
	}
}

func TestCardFromIssue(t *testing.T) {
	now := time.Now()
	is := &gh.Issue{
		Number:    gh.Ptr(42),
		Title:     gh.Ptr("fix flaky lock test"),
		Body:      gh.Ptr("details"),
		State:     gh.Ptr("open"),
		UpdatedAt: &gh.Timestamp{Time: now},
		Labels: []*gh.Label{
			{Name: gh.Ptr("bosun")},
			{Name: gh.Ptr("status:in_progress")},
		},
	}

	card := cardFromIssue(is)
	assert.Equal(t, "42", card.Ref)
	assert.Equal(t, task.StatusInProgress, card.Status)
	assert.Equal(t, []string{"bosun"}, card.Labels, "status label is consumed, not kept")
	assert.Equal(t, now, card.UpdatedAt)
}

func TestCardFromIssue_ClosedWithoutStatusLabel(t *testing.T) {
	is := &gh.Issue{
		Number: gh.Ptr(7),
		State:  gh.Ptr("closed"),
		Labels: []*gh.Label{{Name: gh.Ptr("codex-monitor")}},
	}
	assert.Equal(t, task.StatusDone, cardFromIssue(is).Status)
}

func TestStatusFromLabel(t *testing.T) {
	st, ok := statusFromLabel("status:done")
	require.True(t, ok)
	assert.Equal(t, task.StatusDone, st)

	_, ok = statusFromLabel("status:bogus")
	assert.False(t, ok)
	_, ok = statusFromLabel("priority:high")
	assert.False(t, ok)
}

func TestIssueState(t *testing.T) {
	assert.Equal(t, "open", issueState(task.StatusInReview))
	assert.Equal(t, "closed", issueState(task.StatusDone))
	assert.Equal(t, "closed", issueState(task.StatusCancelled))
	assert.Equal(t, "open", issueState(task.StatusFailed), "failed work stays open")
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"action":"edited"}`)
	assert.True(t, VerifySignature("s3cret", body, sign("s3cret", body)))
	assert.False(t, VerifySignature("s3cret", body, sign("wrong", body)))
	assert.False(t, VerifySignature("s3cret", body, "sha1=abcdef"))
	assert.False(t, VerifySignature("s3cret", body, "sha256=not-hex"))
	assert.False(t, VerifySignature("s3cret", body, ""))
}

func TestWebhookNotifiesOnIssueEvents(t *testing.T) {
	var notified []string
	wh := &Webhook{Secret: "s3cret", Notify: func(ref string) { notified = append(notified, ref) }}

	body := []byte(`{"action":"edited","issue":{"number":42}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, sign("s3cret", body))

	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"42"}, notified)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	wh := &Webhook{Secret: "s3cret", Notify: func(string) { t.Fatal("must not notify") }}

	body := []byte(`{"action":"edited"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set(signatureHeader, sign("wrong", body))

	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func newFakeCLI(outputs map[string]string, errs map[string]error) *CLI {
	c := &CLI{owner: "openfleet", repo: "bosun"}
	c.run = func(ctx context.Context, args ...string) ([]byte, error) {
		key := strings.Join(args, " ")
		if err, ok := errs[key]; ok {
			return nil, err
		}
		if out, ok := outputs[key]; ok {
			return []byte(out), nil
		}
		return nil, errors.New("unexpected gh call: " + key)
	}
	return c
}

func TestDiscoverStatusColumns(t *testing.T) {
	cli := newFakeCLI(map[string]string{
		"project field-list 3 --owner openfleet --format json": `{
			"fields": [
				{"name": "Title", "type": "ProjectV2Field"},
				{"name": "Status", "options": [
					{"name": "Backlog"}, {"name": "In Progress"},
					{"name": "In Review"}, {"name": "Done"}
				]}
			]
		}`,
	}, nil)

	m, err := cli.DiscoverStatusColumns(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Backlog", m.Columns[task.StatusTodo])
	assert.Equal(t, "In Review", m.Columns[task.StatusInReview])
	assert.Equal(t, "Done", m.Column(task.StatusCancelled), "missing cancelled falls back to done")
}

func TestCheckAuth(t *testing.T) {
	cli := newFakeCLI(map[string]string{"api user": `{"login":"octocat"}`}, nil)
	require.NoError(t, cli.CheckAuth(context.Background()))

	cli = newFakeCLI(nil, map[string]error{"api user": errors.New("gh: not logged in")})
	err := cli.CheckAuth(context.Background())
	require.Error(t, err)
	assert.Equal(t, 4, bosunerr.ExitCode(err))
}
