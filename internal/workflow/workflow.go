// Package workflow implements a durable, replay-based workflow runtime.
//
// A workflow body is a deterministic function that issues step calls.
// Every side effect goes through a step; step results are persisted so
// that on restart the body is re-entered from the beginning and
// completed steps short-circuit to their recorded results. Only sleep
// and event waits suspend an instance across restarts.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors for workflow outcomes.
var (
	// ErrDuplicateStep reports a step name reused within one instance.
	// This is a programmer error and fails the instance fast.
	ErrDuplicateStep = errors.New("duplicate step name")

	// ErrEventTimeout reports that an event wait elapsed before delivery.
	ErrEventTimeout = errors.New("event wait timed out")

	// ErrTerminated reports that the instance was terminated externally.
	ErrTerminated = errors.New("workflow terminated")

	// ErrUnknownWorkflow reports a start or resume for an unregistered name.
	ErrUnknownWorkflow = errors.New("unknown workflow name")
)

// InstanceStatus is the lifecycle state of a workflow instance.
type InstanceStatus string

// Instance lifecycle states. Paused covers both sleeps and event waits.
const (
	StatusRunning  InstanceStatus = "running"
	StatusPaused   InstanceStatus = "paused"
	StatusComplete InstanceStatus = "complete"
	StatusFailed   InstanceStatus = "failed"
)

// Instance is one durable execution of a registered workflow.
type Instance struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Status       InstanceStatus  `json:"status"`
	Params       json.RawMessage `json:"params"`
	Error        string          `json:"error,omitempty"`
	WaitingEvent string          `json:"waiting_event,omitempty"`
	WaitDeadline *time.Time      `json:"wait_deadline,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// StepRecord is the persisted result of one completed step.
type StepRecord struct {
	WorkflowID  string          `json:"workflow_id"`
	StepName    string          `json:"step_name"`
	Result      json.RawMessage `json:"result"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Store is the runtime's persistence. Step record writes must be
// idempotent on (workflow_id, step_name) with first write winning, and
// PutEvent must report whether the delivery was the first for its key.
type Store interface {
	CreateInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, id string) (*Instance, error)
	UpdateInstance(ctx context.Context, inst *Instance) error
	ListInstances(ctx context.Context, status InstanceStatus) ([]*Instance, error)

	GetStepRecord(ctx context.Context, workflowID, stepName string) (*StepRecord, error)
	PutStepRecord(ctx context.Context, rec *StepRecord) error

	PutEvent(ctx context.Context, workflowID, name string, payload json.RawMessage) (bool, error)
	GetEvent(ctx context.Context, workflowID, name string) (json.RawMessage, bool, error)
}

// Body is a workflow implementation. Bodies must be deterministic
// outside step calls: no direct I/O, clock, or randomness.
type Body func(ctx context.Context, step *Step, params json.RawMessage) error
