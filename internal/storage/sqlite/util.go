package sqlite

import (
	"database/sql"

	"github.com/dot-do/todo/internal/types"
)

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanIssue scans a row selected with issueColumns into an Issue.
func scanIssue(row rowScanner) (*types.Issue, error) {
	var issue types.Issue
	var assignee, parentID, closeReason, remoteURL sql.NullString
	var closedAt, lastSyncedAt sql.NullTime
	var remoteNumber sql.NullInt64

	err := row.Scan(
		&issue.ID, &issue.Title, &issue.Description, &issue.Status, &issue.Priority,
		&issue.IssueType, &assignee, &parentID,
		&issue.CreatedAt, &issue.UpdatedAt, &closedAt, &closeReason,
		&remoteNumber, &remoteURL, &lastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	if assignee.Valid {
		issue.Assignee = assignee.String
	}
	if parentID.Valid {
		issue.ParentID = parentID.String
	}
	if closedAt.Valid {
		issue.ClosedAt = &closedAt.Time
	}
	if closeReason.Valid {
		issue.CloseReason = closeReason.String
	}
	if remoteNumber.Valid {
		issue.RemoteNumber = int(remoteNumber.Int64)
	}
	if remoteURL.Valid {
		issue.RemoteURL = remoteURL.String
	}
	if lastSyncedAt.Valid {
		issue.LastSyncedAt = &lastSyncedAt.Time
	}

	return &issue, nil
}

// nullString maps "" to NULL for nullable text columns.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
