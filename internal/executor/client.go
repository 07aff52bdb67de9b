package executor

import (
	"context"

	"github.com/openfleet/bosun/internal/task"
)

// Request describes one agent run against a worktree.
type Request struct {
	TaskID string
	// Prompt is the instruction handed to the agent.
	Prompt string
	// Worktree is the working directory the agent operates in.
	Worktree string
	Model    string
	// SessionID identifies the run on the adapter bus.
	SessionID string
}

// TokenUsage is the token accounting an SDK reports for a run.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Result is the outcome of one agent run.
type Result struct {
	// FinalText is the agent's closing message.
	FinalText string
	Usage     TokenUsage
}

// AgentSDKClient runs prompts against one agent SDK. Implementations wrap
// the vendor CLI or API; the supervisor treats them as opaque.
type AgentSDKClient interface {
	SDK() task.SDK
	// Run blocks until the agent finishes or ctx is cancelled.
	Run(ctx context.Context, req *Request) (*Result, error)
}

// ClientSet resolves SDK clients for the router's picks.
type ClientSet map[task.SDK]AgentSDKClient

// For returns the client for an SDK, or nil when none is registered.
func (c ClientSet) For(sdk task.SDK) AgentSDKClient {
	return c[sdk]
}

// PooledRunner executes a run on an external pooled worker instead of the
// adapter bus. The supervisor routes here when the bus is busy with another
// session, so the new task neither waits on nor contends for the bus.
type PooledRunner interface {
	ExecPooled(ctx context.Context, sdk task.SDK, req *Request) (*Result, error)
}
