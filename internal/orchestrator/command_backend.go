package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// CommandBackend runs agent work out of process: each call execs a
// configured command, writes the request as JSON on stdin, and parses
// the result from stdout. This keeps arbitrary code outside this
// process; the command is expected to be the sandbox entry point.
type CommandBackend struct {
	ExecuteCommand []string // argv for execute calls
	ReviewCommand  []string // argv for review calls
}

// executePayload is the stdin document for execute commands.
type executePayload struct {
	AgentID string          `json:"agent_id"`
	Request *ExecuteRequest `json:"request"`
}

// reviewPayload is the stdin document for review commands.
type reviewPayload struct {
	AgentID string `json:"agent_id"`
	Diff    string `json:"diff"`
}

// Execute implements ExecuteCapable.
func (b *CommandBackend) Execute(ctx context.Context, agentID string, req *ExecuteRequest) (*ExecuteResult, error) {
	if len(b.ExecuteCommand) == 0 {
		return nil, fmt.Errorf("no execute command configured")
	}
	var result ExecuteResult
	if err := b.run(ctx, b.ExecuteCommand, executePayload{AgentID: agentID, Request: req}, &result); err != nil {
		return nil, fmt.Errorf("execute backend: %w", err)
	}
	return &result, nil
}

// Review implements ReviewCapable.
func (b *CommandBackend) Review(ctx context.Context, agentID string, diff string) (*ReviewResult, error) {
	if len(b.ReviewCommand) == 0 {
		return nil, fmt.Errorf("no review command configured")
	}
	var result ReviewResult
	if err := b.run(ctx, b.ReviewCommand, reviewPayload{AgentID: agentID, Diff: diff}, &result); err != nil {
		return nil, fmt.Errorf("review backend: %w", err)
	}
	return &result, nil
}

func (b *CommandBackend) run(ctx context.Context, argv []string, input, output interface{}) error {
	stdin, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204 -- argv comes from operator config
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("%s failed: %w: %s", argv[0], err, stderr.String())
		}
		return fmt.Errorf("%s failed: %w", argv[0], err)
	}
	if err := json.Unmarshal(stdout.Bytes(), output); err != nil {
		return fmt.Errorf("failed to parse %s output: %w", argv[0], err)
	}
	return nil
}
