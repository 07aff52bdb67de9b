package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfleet/bosun/internal/config"
	"github.com/openfleet/bosun/internal/task"
)

func TestBuildArgs(t *testing.T) {
	req := &Request{Prompt: "fix the bug", Model: "fast"}

	tests := []struct {
		sdk      task.SDK
		binary   string
		contains []string
	}{
		{task.SDKClaude, "claude", []string{"-p", "fix the bug", "--output-format", "json", "--model", "fast"}},
		{task.SDKCodex, "codex", []string{"exec", "--model", "fast", "fix the bug"}},
		{task.SDKCopilot, "copilot", []string{"-p", "fix the bug", "--allow-all-tools"}},
		{task.SDKGemini, "gemini", []string{"-p", "fix the bug", "--model", "fast"}},
		{task.SDKOpencode, "opencode", []string{"run", "--model", "fast", "fix the bug"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.sdk), func(t *testing.T) {
			c := NewCLIClient(tt.sdk, nil)
			assert.Equal(t, tt.binary, c.binary)
			args := c.buildArgs(req)
			for _, want := range tt.contains {
				assert.Contains(t, args, want)
			}
		})
	}
}

func TestBuildArgsOmitsModelWhenUnset(t *testing.T) {
	c := NewCLIClient(task.SDKClaude, nil)
	args := c.buildArgs(&Request{Prompt: "hi"})
	assert.NotContains(t, args, "--model")
}

func TestParseOutputClaudeJSON(t *testing.T) {
	c := NewCLIClient(task.SDKClaude, nil)
	out := []byte(`{"result":"done, pushed","usage":{"input_tokens":120,"output_tokens":45}}`)

	res := c.parseOutput(out)
	assert.Equal(t, "done, pushed", res.FinalText)
	assert.Equal(t, 120, res.Usage.Input)
	assert.Equal(t, 45, res.Usage.Output)
}

func TestParseOutputPlainText(t *testing.T) {
	c := NewCLIClient(task.SDKCodex, nil)

	res := c.parseOutput([]byte("all tests pass\n"))
	assert.Equal(t, "all tests pass", res.FinalText)
	assert.Zero(t, res.Usage.Input)

	// Claude output that is not the JSON result shape falls back to text.
	cl := NewCLIClient(task.SDKClaude, nil)
	res = cl.parseOutput([]byte("plain progress output"))
	assert.Equal(t, "plain progress output", res.FinalText)
}

func TestNewClientSet(t *testing.T) {
	off := false
	set := NewClientSet([]config.ExecutorConfig{
		{SDK: "claude", Weight: 2},
		{SDK: "codex", Weight: 1, Enabled: &off},
		{SDK: "not-an-sdk"},
	}, nil)

	require.Len(t, set, 1)
	require.NotNil(t, set.For(task.SDKClaude))
	assert.Equal(t, task.SDKClaude, set.For(task.SDKClaude).SDK())
	assert.Nil(t, set.For(task.SDKCodex))
}
