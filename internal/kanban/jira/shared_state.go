package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"
	"github.com/tidwall/gjson"

	"github.com/openfleet/bosun/internal/kanban"
)

// SharedStateMode selects how per-issue attempt state is stored on Jira.
type SharedStateMode string

const (
	// ModeJSONField stores the whole state as JSON in one custom field.
	ModeJSONField SharedStateMode = "json-field"
	// ModeTypedFields stores each value in its own custom field.
	ModeTypedFields SharedStateMode = "typed-fields"
	// ModeComments appends state snapshots as comments. Used when the
	// project has no custom fields bosun can write.
	ModeComments SharedStateMode = "comments"
)

// SharedState is the attempt bookkeeping mirrored onto an issue so other
// bosun instances (and humans) can see who holds a task.
type SharedState = kanban.AttemptState

// jsonFieldName is the custom field DiscoverFields looks for in json mode.
const jsonFieldName = "Bosun State"

// stateCommentPrefix marks comments carrying state in comments mode.
const stateCommentPrefix = "bosun state:"

// typedFieldNames maps state members to the custom field names the typed
// mode expects.
var typedFieldNames = map[string]string{
	"owner":   "Bosun Owner",
	"token":   "Bosun Attempt Token",
	"started": "Bosun Attempt Started",
	"beat":    "Bosun Heartbeat",
	"retries": "Bosun Retry Count",
	"ignore":  "Bosun Ignore Reason",
}

// StateStore reads and writes shared state on issues using whichever mode
// the project's fields allow.
type StateStore struct {
	client *Client
	mode   SharedStateMode
	// fields maps custom field names to IDs, from DiscoverFields.
	fields map[string]string
}

// NewStateStore discovers the project's custom fields and picks the richest
// workable mode: json field, then typed fields, then comments.
func NewStateStore(ctx context.Context, client *Client) (*StateStore, error) {
	fields, err := client.DiscoverFields(ctx)
	if err != nil {
		return nil, err
	}
	return &StateStore{client: client, fields: fields, mode: pickMode(fields)}, nil
}

func pickMode(fields map[string]string) SharedStateMode {
	switch {
	case fields[jsonFieldName] != "":
		return ModeJSONField
	case fields[typedFieldNames["token"]] != "":
		return ModeTypedFields
	default:
		return ModeComments
	}
}

// Mode reports the selected storage mode.
func (w *StateStore) Mode() SharedStateMode { return w.mode }

// Write pushes the state onto the issue.
func (w *StateStore) Write(ctx context.Context, ref string, st SharedState) error {
	switch w.mode {
	case ModeJSONField:
		return w.writeJSONField(ctx, ref, st)
	case ModeTypedFields:
		return w.writeTypedFields(ctx, ref, st)
	default:
		return w.writeComment(ctx, ref, st)
	}
}

// Read loads the issue's state, or nil when none was ever written.
func (w *StateStore) Read(ctx context.Context, ref string) (*SharedState, error) {
	switch w.mode {
	case ModeJSONField:
		return w.readJSONField(ctx, ref)
	case ModeTypedFields:
		return w.readTypedFields(ctx, ref)
	default:
		return w.readComment(ctx, ref)
	}
}

func (w *StateStore) writeJSONField(ctx context.Context, ref string, st SharedState) error {
	blob, err := json.Marshal(st)
	if err != nil {
		return err
	}
	cf := &models.CustomFields{}
	if err := cf.Text(w.fields[jsonFieldName], string(blob)); err != nil {
		return err
	}
	_, err = w.client.jira.Issue.Update(ctx, ref, false, nil, cf, nil)
	return err
}

func (w *StateStore) readJSONField(ctx context.Context, ref string) (*SharedState, error) {
	id := w.fields[jsonFieldName]
	raw, err := w.fetchIssue(ctx, ref, id)
	if err != nil {
		return nil, err
	}
	blob := gjson.GetBytes(raw, "fields."+id).String()
	if blob == "" {
		return nil, nil
	}
	var st SharedState
	if err := json.Unmarshal([]byte(blob), &st); err != nil {
		return nil, fmt.Errorf("decode state field on %s: %w", ref, err)
	}
	return &st, nil
}

func (w *StateStore) writeTypedFields(ctx context.Context, ref string, st SharedState) error {
	cf := &models.CustomFields{}
	set := func(key, value string) error {
		id := w.fields[typedFieldNames[key]]
		if id == "" || value == "" {
			return nil
		}
		return cf.Text(id, value)
	}
	if err := set("owner", st.OwnerID); err != nil {
		return err
	}
	if err := set("token", st.AttemptToken); err != nil {
		return err
	}
	if !st.AttemptStarted.IsZero() {
		if err := set("started", st.AttemptStarted.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	if !st.Heartbeat.IsZero() {
		if err := set("beat", st.Heartbeat.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	if id := w.fields[typedFieldNames["retries"]]; id != "" {
		if err := cf.Number(id, float64(st.RetryCount)); err != nil {
			return err
		}
	}
	if err := set("ignore", st.IgnoreReason); err != nil {
		return err
	}
	_, err := w.client.jira.Issue.Update(ctx, ref, false, nil, cf, nil)
	return err
}

func (w *StateStore) readTypedFields(ctx context.Context, ref string) (*SharedState, error) {
	var ids []string
	for _, name := range typedFieldNames {
		if id := w.fields[name]; id != "" {
			ids = append(ids, id)
		}
	}
	raw, err := w.fetchIssue(ctx, ref, ids...)
	if err != nil {
		return nil, err
	}
	get := func(key string) gjson.Result {
		id := w.fields[typedFieldNames[key]]
		if id == "" {
			return gjson.Result{}
		}
		return gjson.GetBytes(raw, "fields."+id)
	}
	st := SharedState{
		OwnerID:      get("owner").String(),
		AttemptToken: get("token").String(),
		RetryCount:   int(get("retries").Float()),
		IgnoreReason: get("ignore").String(),
	}
	if v := get("started").String(); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			st.AttemptStarted = ts
		}
	}
	if v := get("beat").String(); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			st.Heartbeat = ts
		}
	}
	if st == (SharedState{}) {
		return nil, nil
	}
	return &st, nil
}

func (w *StateStore) writeComment(ctx context.Context, ref string, st SharedState) error {
	text, err := stateCommentText(st)
	if err != nil {
		return err
	}
	payload := &models.CommentPayloadScheme{Body: TextToADF(text)}
	_, _, err = w.client.jira.Issue.Comment.Add(ctx, ref, payload, nil)
	return err
}

func (w *StateStore) readComment(ctx context.Context, ref string) (*SharedState, error) {
	page, _, err := w.client.jira.Issue.Comment.Gets(ctx, ref, "", nil, 0, 100)
	if err != nil {
		return nil, fmt.Errorf("comments of %s: %w", ref, err)
	}
	// The newest state comment wins.
	for i := len(page.Comments) - 1; i >= 0; i-- {
		c := page.Comments[i]
		if c == nil {
			continue
		}
		if st, ok := parseStateComment(ADFToText(c.Body)); ok {
			return st, nil
		}
	}
	return nil, nil
}

// fetchIssue gets the raw issue JSON limited to the given custom fields.
func (w *StateStore) fetchIssue(ctx context.Context, ref string, fields ...string) ([]byte, error) {
	_, resp, err := w.client.jira.Issue.Get(ctx, ref, fields, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	return resp.Bytes.Bytes(), nil
}

// stateCommentText renders the comment body carrying a state snapshot.
func stateCommentText(st SharedState) (string, error) {
	blob, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return "", err
	}
	return stateCommentPrefix + "\n" + string(blob), nil
}

// parseStateComment recovers a state snapshot from a comment's plain text.
// Comments without the state prefix, or with unparseable bodies, are not
// state comments.
func parseStateComment(text string) (*SharedState, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, stateCommentPrefix) {
		return nil, false
	}
	body := strings.TrimSpace(strings.TrimPrefix(text, stateCommentPrefix))
	var st SharedState
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		return nil, false
	}
	return &st, true
}
