package sqlite

import (
	"context"
	"fmt"

	"github.com/dot-do/todo/internal/types"
)

// GetEvents returns the audit trail for an issue, newest first.
func (s *Store) GetEvents(ctx context.Context, issueID string, limit int) ([]*types.Event, error) {
	query := `
		SELECT id, issue_id, event_type, actor, old_value, new_value, created_at
		FROM events WHERE issue_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []interface{}{issueID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events for %s: %w", issueID, err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		var ev types.Event
		if err := rows.Scan(&ev.ID, &ev.IssueID, &ev.EventType, &ev.Actor,
			&ev.OldValue, &ev.NewValue, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// GetStatistics returns aggregate counts over the store. ReadyIssues counts
// open issues with no open blocks-parent, matching the DAG engine's Ready.
func (s *Store) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	var stats types.Statistics
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'open' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'blocked' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'closed' THEN 1 ELSE 0 END), 0)
		FROM issues
	`).Scan(&stats.TotalIssues, &stats.OpenIssues, &stats.InProgressIssues,
		&stats.BlockedIssues, &stats.ClosedIssues)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM issues i
		WHERE i.status = 'open'
		  AND NOT EXISTS (
			SELECT 1 FROM dependencies d
			JOIN issues blocker ON blocker.id = d.depends_on_id
			WHERE d.issue_id = i.id
			  AND d.type = 'blocks'
			  AND blocker.status != 'closed'
		  )
	`).Scan(&stats.ReadyIssues)
	if err != nil {
		return nil, fmt.Errorf("failed to count ready issues: %w", err)
	}

	return &stats, nil
}
