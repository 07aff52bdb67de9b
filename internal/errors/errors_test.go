package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBosunError_ErrorString(t *testing.T) {
	err := &BosunError{
		What:  "something failed",
		Why:   "the reason",
		Cause: errors.New("root cause"),
	}
	assert.Equal(t, "something failed: the reason: root cause", err.Error())
}

func TestBosunError_IsByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ErrAdapterCooldown("codex"))
	assert.True(t, errors.Is(err, &BosunError{Code: CodeAdapterCooldown}))
	assert.False(t, errors.Is(err, &BosunError{Code: CodeGitTimeout}))
}

func TestBosunError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := ErrLockWriteFailed("/tmp/bosun.pid").WithCause(cause)
	assert.ErrorIs(t, err, cause)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"generic", errors.New("boom"), 1},
		{"lock contention", ErrLockContention(42), 3},
		{"wrapped lock contention", fmt.Errorf("startup: %w", ErrLockContention(42)), 3},
		{"backend unavailable", ErrBackendUnavailable("github", errors.New("503")), 4},
		{"backend auth", ErrBackendAuthMissing("github", "run 'gh auth login'"), 4},
		{"cooldown is generic", ErrAdapterCooldown("codex"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestBosunError_JSONIncludesCause(t *testing.T) {
	err := ErrBackendUnavailable("jira", errors.New("connection refused"))
	data, jerr := json.Marshal(err)
	require.NoError(t, jerr)
	assert.Contains(t, string(data), `"code":"BACKEND_UNAVAILABLE"`)
	assert.Contains(t, string(data), "connection refused")
}

func TestAdapterCooldownMessage(t *testing.T) {
	// The exact phrasing is part of the adapter gate contract.
	assert.Equal(t, "Cooling down: codex", ErrAdapterCooldown("codex").What)
}

func TestAsBosunError(t *testing.T) {
	assert.Nil(t, AsBosunError(errors.New("plain")))
	be := AsBosunError(fmt.Errorf("w: %w", ErrTaskNotFound("TASK-1")))
	require.NotNil(t, be)
	assert.Equal(t, CodeTaskNotFound, be.Code)
}
