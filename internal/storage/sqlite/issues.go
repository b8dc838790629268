package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/types"
)

const issueColumns = `id, title, description, status, priority, issue_type, assignee, parent_id,
	created_at, updated_at, closed_at, close_reason, remote_number, remote_url, last_synced_at`

// updatableColumns is the set of issue columns accepted by UpdateIssue.
var updatableColumns = map[string]bool{
	"title":          true,
	"description":    true,
	"status":         true,
	"priority":       true,
	"issue_type":     true,
	"assignee":       true,
	"parent_id":      true,
	"closed_at":      true,
	"close_reason":   true,
	"remote_number":  true,
	"remote_url":     true,
	"last_synced_at": true,
	"created_at":     true,
	"updated_at":     true,
}

// CreateIssue inserts a new issue and its labels, and records a created event.
func (s *Store) CreateIssue(ctx context.Context, issue *types.Issue, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertIssueTx(ctx, tx, issue, actor); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateIssueWithMapping inserts an issue imported from a remote tracker
// together with its mapping in one transaction. A mapping conflict rolls
// the issue back, so no unmapped issue row survives a lost creation race.
func (s *Store) CreateIssueWithMapping(ctx context.Context, issue *types.Issue, m *types.Mapping, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertIssueTx(ctx, tx, issue, actor); err != nil {
		return err
	}
	if err := upsertMappingTx(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

// insertIssueTx writes the issue row, its labels, and the created event
// inside an open transaction.
func insertIssueTx(ctx context.Context, tx *sql.Tx, issue *types.Issue, actor string) error {
	issue.SetDefaults()
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	if issue.UpdatedAt.IsZero() {
		issue.UpdatedAt = now
	}
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("invalid issue: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO issues (id, title, description, status, priority, issue_type, assignee, parent_id,
			created_at, updated_at, closed_at, close_reason, remote_number, remote_url, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, issue.ID, issue.Title, issue.Description, issue.Status, issue.Priority, issue.IssueType,
		nullString(issue.Assignee), nullString(issue.ParentID),
		issue.CreatedAt, issue.UpdatedAt, issue.ClosedAt, issue.CloseReason,
		issue.RemoteNumber, issue.RemoteURL, issue.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}

	for pos, label := range issue.Labels {
		if label == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO labels (issue_id, label, position) VALUES (?, ?, ?)
		`, issue.ID, label, pos); err != nil {
			return fmt.Errorf("failed to add label %q: %w", label, err)
		}
	}

	return recordEvent(ctx, tx, issue.ID, types.EventCreated, actor, nil, nil)
}

// GetIssue retrieves a single issue with its labels.
func (s *Store) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %s: %w", id, err)
	}

	labels, err := s.GetLabels(ctx, id)
	if err != nil {
		return nil, err
	}
	issue.Labels = labels
	return issue, nil
}

// UpdateIssue applies a column->value update map and bumps updated_at.
// The special key "labels" ([]string) replaces the issue's label set.
func (s *Store) UpdateIssue(ctx context.Context, id string, updates map[string]interface{}, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check issue existence: %w", err)
	}
	if exists == 0 {
		return storage.ErrNotFound
	}

	var labels []string
	haveLabels := false
	setClauses := []string{}
	args := []interface{}{}
	for col, val := range updates {
		if col == "labels" {
			if ls, ok := val.([]string); ok {
				labels = ls
				haveLabels = true
			}
			continue
		}
		if !updatableColumns[col] {
			return fmt.Errorf("unknown issue column: %s", col)
		}
		setClauses = append(setClauses, col+" = ?")
		args = append(args, val)
	}

	if _, ok := updates["updated_at"]; !ok {
		setClauses = append(setClauses, "updated_at = ?")
		args = append(args, time.Now().UTC())
	}

	if len(setClauses) > 0 {
		args = append(args, id)
		// #nosec G201 -- column names are validated against updatableColumns
		query := fmt.Sprintf(`UPDATE issues SET %s WHERE id = ?`, strings.Join(setClauses, ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update issue %s: %w", id, err)
		}
	}

	if haveLabels {
		if _, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE issue_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear labels: %w", err)
		}
		for pos, label := range labels {
			if label == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO labels (issue_id, label, position) VALUES (?, ?, ?)
			`, id, label, pos); err != nil {
				return fmt.Errorf("failed to add label %q: %w", label, err)
			}
		}
	}

	if err := recordEvent(ctx, tx, id, types.EventUpdated, actor, nil, nil); err != nil {
		return err
	}

	return tx.Commit()
}

// CloseIssue sets status=closed and closed_at=now. Closing an issue that
// still has open blockers is permitted but logged by the caller.
func (s *Store) CloseIssue(ctx context.Context, id, reason, actor string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE issues SET status = 'closed', closed_at = ?, close_reason = ?, updated_at = ?
		WHERE id = ? AND status != 'closed'
	`, now, reason, now, id)
	if err != nil {
		return fmt.Errorf("failed to close issue %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Either missing or already closed; distinguish for callers.
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check issue existence: %w", err)
		}
		if exists == 0 {
			return storage.ErrNotFound
		}
		return nil // already closed; closing twice is a no-op
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (issue_id, event_type, actor, new_value, created_at) VALUES (?, ?, ?, ?, ?)
	`, id, types.EventClosed, actor, reason, now)
	if err != nil {
		return fmt.Errorf("failed to record close event: %w", err)
	}
	return nil
}

// ReopenIssue sets status=open and clears closed_at.
func (s *Store) ReopenIssue(ctx context.Context, id, actor string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE issues SET status = 'open', closed_at = NULL, close_reason = '', updated_at = ?
		WHERE id = ? AND status = 'closed'
	`, now, id)
	if err != nil {
		return fmt.Errorf("failed to reopen issue %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check issue existence: %w", err)
		}
		if exists == 0 {
			return storage.ErrNotFound
		}
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (issue_id, event_type, actor, created_at) VALUES (?, ?, ?, ?)
	`, id, types.EventReopened, actor, now)
	if err != nil {
		return fmt.Errorf("failed to record reopen event: %w", err)
	}
	return nil
}

// ListIssues returns issues matching the filter, ordered by priority asc
// then created_at asc (stable order per the store contract).
func (s *Store) ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error) {
	whereClauses := []string{"1=1"}
	args := []interface{}{}

	if filter.Status != nil {
		whereClauses = append(whereClauses, "i.status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Unassigned {
		whereClauses = append(whereClauses, "(i.assignee IS NULL OR i.assignee = '')")
	} else if filter.Assignee != nil {
		whereClauses = append(whereClauses, "i.assignee = ?")
		args = append(args, *filter.Assignee)
	}
	if filter.IssueType != nil {
		whereClauses = append(whereClauses, "i.issue_type = ?")
		args = append(args, *filter.IssueType)
	}
	if filter.Label != "" {
		whereClauses = append(whereClauses, `
			EXISTS (SELECT 1 FROM labels WHERE issue_id = i.id AND label = ?)`)
		args = append(args, filter.Label)
	}
	if filter.UpdatedSince != nil {
		whereClauses = append(whereClauses, "i.updated_at > ?")
		args = append(args, *filter.UpdatedSince)
	}
	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		whereClauses = append(whereClauses, fmt.Sprintf("i.id IN (%s)", strings.Join(placeholders, ",")))
	}

	limitSQL := ""
	if filter.Limit > 0 {
		limitSQL = " LIMIT ?"
		args = append(args, filter.Limit)
	}

	// #nosec G201 -- clauses are built from fixed fragments; values are bound
	query := fmt.Sprintf(`
		SELECT %s FROM issues i
		WHERE %s
		ORDER BY i.priority ASC, i.created_at ASC
		%s
	`, issueColumns, strings.Join(whereClauses, " AND "), limitSQL)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Populate labels in a second pass; the filter sets are small.
	for _, issue := range issues {
		labels, err := s.GetLabels(ctx, issue.ID)
		if err != nil {
			return nil, err
		}
		issue.Labels = labels
	}

	return issues, nil
}

// recordEvent inserts an audit trail row inside a transaction.
func recordEvent(ctx context.Context, tx *sql.Tx, issueID string, eventType types.EventType, actor string, oldVal, newVal *string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (issue_id, event_type, actor, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, issueID, eventType, actor, oldVal, newVal, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", eventType, err)
	}
	return nil
}
