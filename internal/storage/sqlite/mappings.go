package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/types"
)

// UpsertMapping creates or updates the local<->remote binding. Rebinding a
// local id to a different remote number (or vice versa) within the same
// scope fails with ErrMappingConflict; mappings are never deleted.
func (s *Store) UpsertMapping(ctx context.Context, m *types.Mapping) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertMappingTx(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

// upsertMappingTx performs the conflict checks and write inside an open
// transaction.
func upsertMappingTx(ctx context.Context, tx *sql.Tx, m *types.Mapping) error {
	// Existing binding for this local id must point at the same remote number.
	var existingNumber int
	err := tx.QueryRowContext(ctx, `
		SELECT remote_number FROM mappings WHERE owner = ? AND repo = ? AND local_id = ?
	`, m.Owner, m.Repo, m.LocalID).Scan(&existingNumber)
	switch {
	case err == sql.ErrNoRows:
		// New binding; the remote number must not belong to another local id.
		var existingLocal string
		err = tx.QueryRowContext(ctx, `
			SELECT local_id FROM mappings WHERE owner = ? AND repo = ? AND remote_number = ?
		`, m.Owner, m.Repo, m.RemoteNumber).Scan(&existingLocal)
		if err == nil && existingLocal != m.LocalID {
			return fmt.Errorf("%w: remote #%d already bound to %s", storage.ErrMappingConflict, m.RemoteNumber, existingLocal)
		}
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to check remote binding: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to check local binding: %w", err)
	case existingNumber != m.RemoteNumber:
		return fmt.Errorf("%w: %s already bound to remote #%d", storage.ErrMappingConflict, m.LocalID, existingNumber)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mappings (local_id, owner, repo, installation_id, remote_number, remote_url, local_snap, remote_snap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner, repo, local_id) DO UPDATE SET
			remote_url = excluded.remote_url,
			local_snap = excluded.local_snap,
			remote_snap = excluded.remote_snap
	`, m.LocalID, m.Owner, m.Repo, m.InstallationID, m.RemoteNumber, m.RemoteURL, m.LocalSnap.UTC(), m.RemoteSnap.UTC()); err != nil {
		return fmt.Errorf("failed to upsert mapping: %w", err)
	}

	return nil
}

const mappingColumns = `local_id, owner, repo, installation_id, remote_number, remote_url, local_snap, remote_snap`

// GetMappingByLocalID looks up a mapping by local issue id.
// Absence is an expected outcome: returns (nil, nil) when not found.
func (s *Store) GetMappingByLocalID(ctx context.Context, owner, repo, localID string) (*types.Mapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+mappingColumns+` FROM mappings WHERE owner = ? AND repo = ? AND local_id = ?
	`, owner, repo, localID)
	return scanMapping(row)
}

// GetMappingByRemoteNumber looks up a mapping by remote issue number.
// Absence is an expected outcome: returns (nil, nil) when not found.
func (s *Store) GetMappingByRemoteNumber(ctx context.Context, owner, repo string, number int) (*types.Mapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+mappingColumns+` FROM mappings WHERE owner = ? AND repo = ? AND remote_number = ?
	`, owner, repo, number)
	return scanMapping(row)
}

// ListMappings returns all mappings within one owner/repo scope.
func (s *Store) ListMappings(ctx context.Context, owner, repo string) ([]*types.Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mappingColumns+` FROM mappings WHERE owner = ? AND repo = ? ORDER BY remote_number ASC
	`, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mappings []*types.Mapping
	for rows.Next() {
		var m types.Mapping
		var remoteURL sql.NullString
		if err := rows.Scan(&m.LocalID, &m.Owner, &m.Repo, &m.InstallationID, &m.RemoteNumber,
			&remoteURL, &m.LocalSnap, &m.RemoteSnap); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		if remoteURL.Valid {
			m.RemoteURL = remoteURL.String
		}
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}

func scanMapping(row *sql.Row) (*types.Mapping, error) {
	var m types.Mapping
	var remoteURL sql.NullString
	err := row.Scan(&m.LocalID, &m.Owner, &m.Repo, &m.InstallationID, &m.RemoteNumber,
		&remoteURL, &m.LocalSnap, &m.RemoteSnap)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan mapping: %w", err)
	}
	if remoteURL.Valid {
		m.RemoteURL = remoteURL.String
	}
	return &m, nil
}
