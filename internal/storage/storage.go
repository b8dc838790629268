// Package storage provides shared types for issue storage.
//
// The concrete storage implementation lives in the sqlite sub-package.
// This package holds interface and value types that are referenced by
// both the sqlite implementation and its consumers (cmd/todo, sync,
// workflow runtime, etc.).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dot-do/todo/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrCycle is returned when inserting a blocks-dependency would create a
// cycle in the blocks-subgraph.
var ErrCycle = errors.New("dependency cycle rejected")

// ErrMappingConflict is returned when binding a local issue to a second
// remote number within the same scope, or vice versa.
var ErrMappingConflict = errors.New("mapping conflict")

// ErrDuplicateDelivery is returned when marking a webhook delivery id that
// was already recorded.
var ErrDuplicateDelivery = errors.New("duplicate delivery")

// Storage is the interface satisfied by *sqlite.Store.
// Consumers depend on this interface rather than on the concrete type so
// that alternative implementations (mocks, proxies) can be substituted.
type Storage interface {
	// Issue CRUD
	CreateIssue(ctx context.Context, issue *types.Issue, actor string) error
	GetIssue(ctx context.Context, id string) (*types.Issue, error)
	UpdateIssue(ctx context.Context, id string, updates map[string]interface{}, actor string) error
	CloseIssue(ctx context.Context, id, reason, actor string) error
	ReopenIssue(ctx context.Context, id, actor string) error
	ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error)

	// CreateIssueWithMapping creates an imported issue and its remote
	// mapping atomically; a mapping conflict leaves no issue row behind.
	CreateIssueWithMapping(ctx context.Context, issue *types.Issue, m *types.Mapping, actor string) error

	// Dependencies
	AddDependency(ctx context.Context, dep *types.Dependency, actor string) error
	RemoveDependency(ctx context.Context, issueID, dependsOnID, actor string) error
	GetDependencyRecords(ctx context.Context, issueID string) ([]*types.Dependency, error)
	GetAllDependencyRecords(ctx context.Context) ([]*types.Dependency, error)

	// Labels
	AddLabel(ctx context.Context, issueID, label, actor string) error
	RemoveLabel(ctx context.Context, issueID, label, actor string) error
	GetLabels(ctx context.Context, issueID string) ([]string, error)

	// Mappings (local id <-> remote number within one owner/repo scope)
	UpsertMapping(ctx context.Context, m *types.Mapping) error
	GetMappingByLocalID(ctx context.Context, owner, repo, localID string) (*types.Mapping, error)
	GetMappingByRemoteNumber(ctx context.Context, owner, repo string, number int) (*types.Mapping, error)
	ListMappings(ctx context.Context, owner, repo string) ([]*types.Mapping, error)

	// Webhook delivery dedup set
	SeenDelivery(ctx context.Context, deliveryID string) (bool, error)
	MarkDelivery(ctx context.Context, deliveryID string, receivedAt time.Time) error
	PruneDeliveries(ctx context.Context, olderThan time.Time) (int, error)

	// Tracked repos
	UpsertRepo(ctx context.Context, repo *types.Repo) error
	GetRepo(ctx context.Context, owner, name string) (*types.Repo, error)
	ListRepos(ctx context.Context, syncEnabledOnly bool) ([]*types.Repo, error)
	SetRepoSyncStatus(ctx context.Context, owner, name, status, syncError string, syncedAt time.Time) error

	// Agents
	RegisterAgent(ctx context.Context, agent *types.Agent) error
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	ListAgents(ctx context.Context) ([]*types.Agent, error)

	// Audit trail
	GetEvents(ctx context.Context, issueID string, limit int) ([]*types.Event, error)

	// Statistics
	GetStatistics(ctx context.Context) (*types.Statistics, error)

	// Lifecycle
	Close() error
}
