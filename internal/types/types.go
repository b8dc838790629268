// Package types defines core data structures for the todo orchestrator.
package types

import (
	"fmt"
	"time"
)

// Issue represents a trackable work item.
type Issue struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status,omitempty"`
	Priority    int        `json:"priority"` // No omitempty: 0 is valid (P0/critical)
	IssueType   IssueType  `json:"issue_type,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	ParentID    string     `json:"parent_id,omitempty"` // Epic this issue belongs to
	Labels      []string   `json:"labels,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
	// Remote tracker linkage. Zero RemoteNumber means never pushed.
	RemoteNumber int        `json:"remote_number,omitempty"`
	RemoteURL    string     `json:"remote_url,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// Validate checks if the issue has valid field values.
func (i *Issue) Validate() error {
	if len(i.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(i.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(i.Title))
	}
	if i.Priority < 0 || i.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", i.Priority)
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	if !i.IssueType.IsValid() {
		return fmt.Errorf("invalid issue type: %s", i.IssueType)
	}
	// closed_at invariant: set if and only if status is closed
	if i.Status == StatusClosed && i.ClosedAt == nil {
		return fmt.Errorf("closed issues must have closed_at timestamp")
	}
	if i.Status != StatusClosed && i.ClosedAt != nil {
		return fmt.Errorf("non-closed issues cannot have closed_at timestamp")
	}
	return nil
}

// SetDefaults applies default values for fields omitted on create or import:
//   - Status: defaults to StatusOpen if empty
//   - IssueType: defaults to TypeTask if empty
//
// Priority 0 is a valid value (P0), so the priority default of 2 applies
// only at decode time when no priority label is present, not here.
func (i *Issue) SetDefaults() {
	if i.Status == "" {
		i.Status = StatusOpen
	}
	if i.IssueType == "" {
		i.IssueType = TypeTask
	}
}

// Status represents the current state of an issue.
type Status string

// Issue status constants. Stored open/blocked values are advisory: the DAG
// engine is canonical for readiness.
const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
)

// IsValid checks if the status value is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusClosed:
		return true
	}
	return false
}

// IssueType categorizes the kind of work.
type IssueType string

// Issue type constants.
const (
	TypeBug     IssueType = "bug"
	TypeFeature IssueType = "feature"
	TypeTask    IssueType = "task"
	TypeEpic    IssueType = "epic"
	TypeChore   IssueType = "chore"
)

// IsValid checks if the issue type value is valid.
func (t IssueType) IsValid() bool {
	switch t {
	case TypeBug, TypeFeature, TypeTask, TypeEpic, TypeChore:
		return true
	}
	return false
}

// Dependency represents a directed relationship between issues.
// IssueID depends on DependsOnID; for "blocks" edges the target blocks the source.
type Dependency struct {
	IssueID     string         `json:"issue_id"`
	DependsOnID string         `json:"depends_on_id"`
	Type        DependencyType `json:"type"`
	CreatedAt   time.Time      `json:"created_at"`
	CreatedBy   string         `json:"created_by"`
}

// DependencyType categorizes the relationship.
type DependencyType string

// Dependency type constants.
const (
	DepBlocks    DependencyType = "blocks"
	DepRelated   DependencyType = "related"
	DepParent    DependencyType = "parent"
	DepDiscovers DependencyType = "discovers"
)

// IsValid checks if the dependency type value is valid.
func (d DependencyType) IsValid() bool {
	switch d {
	case DepBlocks, DepRelated, DepParent, DepDiscovers:
		return true
	}
	return false
}

// AffectsReadiness returns true if this dependency type blocks work.
// Only "blocks" edges contribute to the ready/blocked calculation.
func (d DependencyType) AffectsReadiness() bool {
	return d == DepBlocks
}

// Mapping binds a local issue to a remote tracker number within one
// (owner, repo, installation) scope. The snapshot timestamps record the
// last observed update times on each side at the last successful sync;
// conflict detection compares against them.
type Mapping struct {
	LocalID        string    `json:"local_id"`
	Owner          string    `json:"owner"`
	Repo           string    `json:"repo"`
	InstallationID int64     `json:"installation_id"`
	RemoteNumber   int       `json:"remote_number"`
	RemoteURL      string    `json:"remote_url,omitempty"`
	LocalSnap      time.Time `json:"local_snap"`
	RemoteSnap     time.Time `json:"remote_snap"`
}

// Scope returns the "owner/repo" scope string for the mapping.
func (m *Mapping) Scope() string {
	return m.Owner + "/" + m.Repo
}

// Repo is a tracked remote repository.
type Repo struct {
	Owner          string     `json:"owner"`
	Name           string     `json:"name"`
	InstallationID int64      `json:"installation_id"`
	SyncEnabled    bool       `json:"sync_enabled"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	SyncStatus     string     `json:"sync_status,omitempty"` // ok | error | ""
	SyncError      string     `json:"sync_error,omitempty"`
}

// FullName returns the "owner/name" identifier.
func (r *Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// WebhookDelivery records a processed webhook delivery id for deduplication.
type WebhookDelivery struct {
	DeliveryID  string     `json:"delivery_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// DeliveryTTL is how long processed delivery ids are retained for dedup.
// Rows older than this are pruned opportunistically on ingest.
const DeliveryTTL = 30 * 24 * time.Hour

// Event represents an audit trail entry.
type Event struct {
	ID        int64     `json:"id"`
	IssueID   string    `json:"issue_id"`
	EventType EventType `json:"event_type"`
	Actor     string    `json:"actor"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventType categorizes audit trail events.
type EventType string

// Event type constants for the audit trail.
const (
	EventCreated           EventType = "created"
	EventUpdated           EventType = "updated"
	EventClosed            EventType = "closed"
	EventReopened          EventType = "reopened"
	EventAssigned          EventType = "assigned"
	EventDependencyAdded   EventType = "dependency_added"
	EventDependencyRemoved EventType = "dependency_removed"
	EventLabelAdded        EventType = "label_added"
	EventLabelRemoved      EventType = "label_removed"
)

// IssueFilter is used to filter issue queries.
type IssueFilter struct {
	Status       *Status
	Assignee     *string
	Unassigned   bool // Issues with no assignee; takes precedence over Assignee
	IssueType    *IssueType
	Label        string
	UpdatedSince *time.Time
	IDs          []string
	Limit        int
}

// Statistics provides aggregate metrics over the store.
type Statistics struct {
	TotalIssues      int `json:"total_issues"`
	OpenIssues       int `json:"open_issues"`
	InProgressIssues int `json:"in_progress_issues"`
	BlockedIssues    int `json:"blocked_issues"`
	ClosedIssues     int `json:"closed_issues"`
	ReadyIssues      int `json:"ready_issues"`
}

// BlockedIssue extends Issue with blocking information.
type BlockedIssue struct {
	Issue
	BlockedBy []string `json:"blocked_by"`
}
