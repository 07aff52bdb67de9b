package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/openfleet/bosun/internal/config"
	"github.com/openfleet/bosun/internal/task"
)

// CLIClient runs an agent by spawning its vendor CLI inside the attempt
// worktree. The child runs in its own process group so that cancellation
// also terminates whatever the agent spawned (MCP servers, browsers).
type CLIClient struct {
	sdk    task.SDK
	binary string
	logger *slog.Logger
}

// NewCLIClient creates a client for one SDK. logger nil falls back to
// slog.Default.
func NewCLIClient(sdk task.SDK, logger *slog.Logger) *CLIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIClient{sdk: sdk, binary: defaultBinary(sdk), logger: logger}
}

// NewClientSet builds clients for every enabled executor in the config.
func NewClientSet(cfgs []config.ExecutorConfig, logger *slog.Logger) ClientSet {
	set := ClientSet{}
	for _, c := range cfgs {
		sdk := task.NormalizeSDK(c.SDK)
		if sdk == "" {
			continue
		}
		if c.Enabled != nil && !*c.Enabled {
			continue
		}
		if _, ok := set[sdk]; !ok {
			set[sdk] = NewCLIClient(sdk, logger)
		}
	}
	return set
}

func defaultBinary(sdk task.SDK) string {
	switch sdk {
	case task.SDKCodex:
		return "codex"
	case task.SDKCopilot:
		return "copilot"
	case task.SDKClaude:
		return "claude"
	case task.SDKGemini:
		return "gemini"
	case task.SDKOpencode:
		return "opencode"
	}
	return strings.ToLower(string(sdk))
}

// SDK implements AgentSDKClient.
func (c *CLIClient) SDK() task.SDK { return c.sdk }

// buildArgs maps a request onto the vendor CLI's flag shape.
func (c *CLIClient) buildArgs(req *Request) []string {
	switch c.sdk {
	case task.SDKClaude:
		args := []string{"-p", req.Prompt, "--output-format", "json", "--dangerously-skip-permissions"}
		if req.Model != "" {
			args = append(args, "--model", req.Model)
		}
		return args
	case task.SDKCodex:
		args := []string{"exec", "--full-auto"}
		if req.Model != "" {
			args = append(args, "--model", req.Model)
		}
		return append(args, req.Prompt)
	case task.SDKCopilot:
		return []string{"-p", req.Prompt, "--allow-all-tools"}
	case task.SDKGemini:
		args := []string{"-y", "-p", req.Prompt}
		if req.Model != "" {
			args = append(args, "--model", req.Model)
		}
		return args
	case task.SDKOpencode:
		args := []string{"run"}
		if req.Model != "" {
			args = append(args, "--model", req.Model)
		}
		return append(args, req.Prompt)
	}
	return []string{req.Prompt}
}

// Run implements AgentSDKClient. It blocks until the agent process exits
// or ctx is cancelled; on cancellation the whole process group is killed.
func (c *CLIClient) Run(ctx context.Context, req *Request) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.binary, c.buildArgs(req)...)
	cmd.Dir = req.Worktree
	// Hook bridges inside the agent read these to find their task context.
	cmd.Env = append(os.Environ(),
		"BOSUN_TASK_ID="+req.TaskID,
		"BOSUN_MANAGED=1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcAttr(cmd)

	c.logger.Info("agent run started",
		"sdk", c.sdk, "task_id", req.TaskID, "session_id", req.SessionID)

	runErr := cmd.Run()
	if cmd.Process != nil {
		// ESRCH when the group already exited is expected.
		if err := killProcessGroup(cmd.Process.Pid); err != nil {
			c.logger.Debug("process group cleanup", "sdk", c.sdk, "error", err)
		}
	}
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s run: %w: %s", c.binary, runErr, firstLine(stderr.String()))
	}

	return c.parseOutput(stdout.Bytes()), nil
}

// parseOutput extracts the final text and usage. Claude's JSON output mode
// carries both; everything else is treated as plain text with no usage.
func (c *CLIClient) parseOutput(out []byte) *Result {
	if c.sdk == task.SDKClaude && gjson.ValidBytes(out) {
		doc := gjson.ParseBytes(out)
		if doc.Get("result").Exists() {
			return &Result{
				FinalText: doc.Get("result").String(),
				Usage: TokenUsage{
					Input:  int(doc.Get("usage.input_tokens").Int()),
					Output: int(doc.Get("usage.output_tokens").Int()),
				},
			}
		}
	}
	return &Result{FinalText: strings.TrimSpace(string(out))}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
