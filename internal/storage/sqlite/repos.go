package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/types"
)

// UpsertRepo creates or updates a tracked repo.
func (s *Store) UpsertRepo(ctx context.Context, repo *types.Repo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repos (owner, name, installation_id, sync_enabled, last_sync_at, sync_status, sync_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner, name) DO UPDATE SET
			installation_id = excluded.installation_id,
			sync_enabled = excluded.sync_enabled
	`, repo.Owner, repo.Name, repo.InstallationID, boolToInt(repo.SyncEnabled),
		repo.LastSyncAt, repo.SyncStatus, repo.SyncError)
	if err != nil {
		return fmt.Errorf("failed to upsert repo %s: %w", repo.FullName(), err)
	}
	return nil
}

// GetRepo retrieves a tracked repo.
func (s *Store) GetRepo(ctx context.Context, owner, name string) (*types.Repo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner, name, installation_id, sync_enabled, last_sync_at, sync_status, sync_error
		FROM repos WHERE owner = ? AND name = ?
	`, owner, name)
	repo, err := scanRepo(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repo %s/%s: %w", owner, name, err)
	}
	return repo, nil
}

// ListRepos returns tracked repos, optionally only sync-enabled ones.
func (s *Store) ListRepos(ctx context.Context, syncEnabledOnly bool) ([]*types.Repo, error) {
	query := `
		SELECT owner, name, installation_id, sync_enabled, last_sync_at, sync_status, sync_error
		FROM repos`
	if syncEnabledOnly {
		query += ` WHERE sync_enabled = 1`
	}
	query += ` ORDER BY owner, name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list repos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*types.Repo
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repo: %w", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// SetRepoSyncStatus records the outcome of a reconciliation pass.
func (s *Store) SetRepoSyncStatus(ctx context.Context, owner, name, status, syncError string, syncedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE repos SET sync_status = ?, sync_error = ?, last_sync_at = ?
		WHERE owner = ? AND name = ?
	`, status, syncError, syncedAt.UTC(), owner, name)
	if err != nil {
		return fmt.Errorf("failed to set sync status for %s/%s: %w", owner, name, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanRepo(row rowScanner) (*types.Repo, error) {
	var repo types.Repo
	var syncEnabled int
	var lastSyncAt sql.NullTime
	var syncStatus, syncError sql.NullString

	err := row.Scan(&repo.Owner, &repo.Name, &repo.InstallationID, &syncEnabled,
		&lastSyncAt, &syncStatus, &syncError)
	if err != nil {
		return nil, err
	}

	repo.SyncEnabled = syncEnabled != 0
	if lastSyncAt.Valid {
		repo.LastSyncAt = &lastSyncAt.Time
	}
	if syncStatus.Valid {
		repo.SyncStatus = syncStatus.String
	}
	if syncError.Valid {
		repo.SyncError = syncError.String
	}
	return &repo, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
