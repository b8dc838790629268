package orchestrator

import (
	"context"
	"fmt"
)

// Agent backends vary in what they can do. Each capability is its own
// interface; a backend implements the subset it supports and the
// orchestrator refuses registrations that need more.

// ExecuteRequest asks a backend to implement a task on a branch.
type ExecuteRequest struct {
	Task    string `json:"task"`
	Context string `json:"context,omitempty"`
	Branch  string `json:"branch"`
	Push    bool   `json:"push"`
}

// ExecuteResult is the outcome of one agent execution.
type ExecuteResult struct {
	Diff         string `json:"diff"`
	FilesChanged int    `json:"files_changed"`
	PushedBranch string `json:"pushed_branch"`
	TestResults  string `json:"test_results,omitempty"`
}

// ReviewResult is the outcome of an automated diff review.
type ReviewResult struct {
	Approved bool     `json:"approved"`
	Summary  string   `json:"summary"`
	Comments []string `json:"comments,omitempty"`
}

// ExecuteCapable backends run tasks in a sandbox and push branches.
type ExecuteCapable interface {
	Execute(ctx context.Context, agentID string, req *ExecuteRequest) (*ExecuteResult, error)
}

// ReviewCapable backends review diffs.
type ReviewCapable interface {
	Review(ctx context.Context, agentID string, diff string) (*ReviewResult, error)
}

// AskCapable backends answer free-form questions without side effects.
type AskCapable interface {
	Ask(ctx context.Context, agentID string, prompt string) (string, error)
}

// RequireExecute asserts a backend can execute tasks.
func RequireExecute(backend interface{}) (ExecuteCapable, error) {
	if b, ok := backend.(ExecuteCapable); ok {
		return b, nil
	}
	return nil, fmt.Errorf("backend %T cannot execute tasks", backend)
}

// RequireReview asserts a backend can review diffs.
func RequireReview(backend interface{}) (ReviewCapable, error) {
	if b, ok := backend.(ReviewCapable); ok {
		return b, nil
	}
	return nil, fmt.Errorf("backend %T cannot review diffs", backend)
}
