package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/workflow"
)

// The sqlite store doubles as the workflow runtime's persistence
// (workflow.Store). Instances and step records live in the same database
// as the issue graph so one file holds the whole orchestrator state.

// CreateInstance inserts a new workflow instance.
func (s *Store) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
	params := inst.Params
	if params == nil {
		params = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (id, name, status, params, error, waiting_event, wait_deadline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inst.ID, inst.Name, inst.Status, string(params), inst.Error,
		inst.WaitingEvent, inst.WaitDeadline, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create workflow instance %s: %w", inst.ID, err)
	}
	return nil
}

// GetInstance retrieves a workflow instance by id.
func (s *Store) GetInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, params, error, waiting_event, wait_deadline, created_at, updated_at
		FROM workflow_instances WHERE id = ?
	`, id)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow instance %s: %w", id, err)
	}
	return inst, nil
}

// UpdateInstance persists instance status, error, and wait cursor.
func (s *Store) UpdateInstance(ctx context.Context, inst *workflow.Instance) error {
	inst.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET status = ?, error = ?, waiting_event = ?, wait_deadline = ?, updated_at = ?
		WHERE id = ?
	`, inst.Status, inst.Error, inst.WaitingEvent, inst.WaitDeadline, inst.UpdatedAt, inst.ID)
	if err != nil {
		return fmt.Errorf("failed to update workflow instance %s: %w", inst.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListInstances returns instances, optionally filtered by status.
func (s *Store) ListInstances(ctx context.Context, status workflow.InstanceStatus) ([]*workflow.Instance, error) {
	query := `
		SELECT id, name, status, params, error, waiting_event, wait_deadline, created_at, updated_at
		FROM workflow_instances`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var instances []*workflow.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// GetStepRecord returns the persisted result for (workflowID, stepName).
// Absence is an expected outcome: returns (nil, nil) when not found.
func (s *Store) GetStepRecord(ctx context.Context, workflowID, stepName string) (*workflow.StepRecord, error) {
	var rec workflow.StepRecord
	var result string
	err := s.db.QueryRowContext(ctx, `
		SELECT workflow_id, step_name, result, completed_at
		FROM step_records WHERE workflow_id = ? AND step_name = ?
	`, workflowID, stepName).Scan(&rec.WorkflowID, &rec.StepName, &result, &rec.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step record %s/%s: %w", workflowID, stepName, err)
	}
	rec.Result = json.RawMessage(result)
	return &rec, nil
}

// PutStepRecord persists a step result. Writes are idempotent on
// (workflow_id, step_name): a second write for the same key is ignored,
// keeping the first committed result authoritative.
func (s *Store) PutStepRecord(ctx context.Context, rec *workflow.StepRecord) error {
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}
	result := rec.Result
	if result == nil {
		result = json.RawMessage("null")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO step_records (workflow_id, step_name, result, completed_at)
		VALUES (?, ?, ?, ?)
	`, rec.WorkflowID, rec.StepName, string(result), rec.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to put step record %s/%s: %w", rec.WorkflowID, rec.StepName, err)
	}
	return nil
}

// PutEvent records an event delivery; the first payload per
// (workflow_id, name) wins and duplicates are dropped. Returns true if
// this delivery was the first.
func (s *Store) PutEvent(ctx context.Context, workflowID, name string, payload json.RawMessage) (bool, error) {
	if payload == nil {
		payload = json.RawMessage("null")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO workflow_events (workflow_id, name, payload, delivered_at)
		VALUES (?, ?, ?, ?)
	`, workflowID, name, string(payload), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to put event %s/%s: %w", workflowID, name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetEvent returns a delivered event payload if present.
func (s *Store) GetEvent(ctx context.Context, workflowID, name string) (json.RawMessage, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM workflow_events WHERE workflow_id = ? AND name = ?
	`, workflowID, name).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get event %s/%s: %w", workflowID, name, err)
	}
	return json.RawMessage(payload), true, nil
}

func scanInstance(row rowScanner) (*workflow.Instance, error) {
	var inst workflow.Instance
	var params string
	var errMsg, waitingEvent sql.NullString
	var waitDeadline sql.NullTime

	err := row.Scan(&inst.ID, &inst.Name, &inst.Status, &params, &errMsg,
		&waitingEvent, &waitDeadline, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}

	inst.Params = json.RawMessage(params)
	if errMsg.Valid {
		inst.Error = errMsg.String
	}
	if waitingEvent.Valid {
		inst.WaitingEvent = waitingEvent.String
	}
	if waitDeadline.Valid {
		t := waitDeadline.Time
		inst.WaitDeadline = &t
	}
	return &inst, nil
}
