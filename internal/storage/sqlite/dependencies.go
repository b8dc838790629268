package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/types"
)

// AddDependency inserts a dependency edge. For blocks edges it rejects
// inserts that would create a cycle in the blocks-subgraph.
func (s *Store) AddDependency(ctx context.Context, dep *types.Dependency, actor string) error {
	if !dep.Type.IsValid() {
		return fmt.Errorf("invalid dependency type: %s", dep.Type)
	}
	if dep.IssueID == dep.DependsOnID {
		return fmt.Errorf("%w: issue cannot depend on itself", storage.ErrCycle)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range []string{dep.IssueID, dep.DependsOnID} {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check issue existence: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("issue %s: %w", id, storage.ErrNotFound)
		}
	}

	// Cycle detection for blocking edges: the edge is rejected if
	// depends_on_id can already reach issue_id through blocks edges.
	if dep.Type == types.DepBlocks {
		var reachable int
		if err := tx.QueryRowContext(ctx, `
			WITH RECURSIVE reachable AS (
				SELECT ? AS node, 0 AS depth
				UNION ALL
				SELECT d.depends_on_id, r.depth + 1
				FROM reachable r
				JOIN dependencies d ON d.issue_id = r.node
				WHERE d.type = 'blocks'
				  AND r.depth < 100
			)
			SELECT COUNT(*) FROM reachable WHERE node = ?
		`, dep.DependsOnID, dep.IssueID).Scan(&reachable); err != nil {
			return fmt.Errorf("failed to check for dependency cycle: %w", err)
		}
		if reachable > 0 {
			return fmt.Errorf("%w: %s -> %s", storage.ErrCycle, dep.IssueID, dep.DependsOnID)
		}
	}

	createdAt := dep.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dependencies (issue_id, depends_on_id, type, created_at, created_by)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (issue_id, depends_on_id) DO UPDATE SET type = excluded.type
	`, dep.IssueID, dep.DependsOnID, dep.Type, createdAt, actor); err != nil {
		return fmt.Errorf("failed to add dependency: %w", err)
	}

	if err := recordEvent(ctx, tx, dep.IssueID, types.EventDependencyAdded, actor, nil, &dep.DependsOnID); err != nil {
		return err
	}

	return tx.Commit()
}

// RemoveDependency deletes a dependency edge.
func (s *Store) RemoveDependency(ctx context.Context, issueID, dependsOnID, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM dependencies WHERE issue_id = ? AND depends_on_id = ?
	`, issueID, dependsOnID)
	if err != nil {
		return fmt.Errorf("failed to remove dependency: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}

	if err := recordEvent(ctx, tx, issueID, types.EventDependencyRemoved, actor, &dependsOnID, nil); err != nil {
		return err
	}

	return tx.Commit()
}

// GetDependencyRecords returns the outgoing dependency edges for an issue.
func (s *Store) GetDependencyRecords(ctx context.Context, issueID string) ([]*types.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_id, depends_on_id, type, created_at, created_by
		FROM dependencies WHERE issue_id = ?
		ORDER BY created_at ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependencies for %s: %w", issueID, err)
	}
	defer func() { _ = rows.Close() }()

	return scanDependencies(rows)
}

// GetAllDependencyRecords returns every dependency edge in the store.
func (s *Store) GetAllDependencyRecords(ctx context.Context) ([]*types.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_id, depends_on_id, type, created_at, created_by
		FROM dependencies
		ORDER BY issue_id, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDependencies(rows)
}

func scanDependencies(rows interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
}) ([]*types.Dependency, error) {
	var deps []*types.Dependency
	for rows.Next() {
		var dep types.Dependency
		if err := rows.Scan(&dep.IssueID, &dep.DependsOnID, &dep.Type, &dep.CreatedAt, &dep.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, &dep)
	}
	return deps, rows.Err()
}
