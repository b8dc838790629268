package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/types"
)

// AddLabel attaches a label to an issue, preserving insertion order.
func (s *Store) AddLabel(ctx context.Context, issueID, label, actor string) error {
	if label == "" {
		return fmt.Errorf("label cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, issueID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check issue existence: %w", err)
	}
	if exists == 0 {
		return storage.ErrNotFound
	}

	var maxPos int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), -1) FROM labels WHERE issue_id = ?
	`, issueID).Scan(&maxPos); err != nil {
		return fmt.Errorf("failed to get label position: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO labels (issue_id, label, position) VALUES (?, ?, ?)
	`, issueID, label, maxPos+1); err != nil {
		return fmt.Errorf("failed to add label: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE issues SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), issueID); err != nil {
		return fmt.Errorf("failed to touch issue: %w", err)
	}

	if err := recordEvent(ctx, tx, issueID, types.EventLabelAdded, actor, nil, &label); err != nil {
		return err
	}

	return tx.Commit()
}

// RemoveLabel detaches a label from an issue.
func (s *Store) RemoveLabel(ctx context.Context, issueID, label, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM labels WHERE issue_id = ? AND label = ?
	`, issueID, label)
	if err != nil {
		return fmt.Errorf("failed to remove label: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `UPDATE issues SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), issueID); err != nil {
		return fmt.Errorf("failed to touch issue: %w", err)
	}

	if err := recordEvent(ctx, tx, issueID, types.EventLabelRemoved, actor, &label, nil); err != nil {
		return err
	}

	return tx.Commit()
}

// GetLabels returns an issue's labels in insertion order.
func (s *Store) GetLabels(ctx context.Context, issueID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label FROM labels WHERE issue_id = ? ORDER BY position ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to get labels for %s: %w", issueID, err)
	}
	defer func() { _ = rows.Close() }()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}
