package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/types"
)

const storageScopeName = "github.com/dot-do/todo/storage"

// InstrumentedStorage wraps storage.Storage with OTel metrics. Every
// method is counted and timed under todo.storage.*. Use WrapStorage to
// create one; it returns the original store unchanged when telemetry is
// disabled.
type InstrumentedStorage struct {
	inner storage.Storage
	ops   metric.Int64Counter
	dur   metric.Float64Histogram
	errs  metric.Int64Counter
}

// WrapStorage returns s decorated with OTel instrumentation. When
// telemetry is disabled, s is returned as-is with zero overhead.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("todo.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("todo.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("todo.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &InstrumentedStorage{inner: s, ops: ops, dur: dur, errs: errs}
}

// op counts the named operation and returns its start time.
func (s *InstrumentedStorage) op(ctx context.Context, name string) time.Time {
	s.ops.Add(ctx, 1, metric.WithAttributes(attribute.String("db.operation", name)))
	return time.Now()
}

// done records duration and any error for the operation.
func (s *InstrumentedStorage) done(ctx context.Context, name string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("db.operation", name))
	s.dur.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		s.errs.Add(ctx, 1, attrs)
	}
}

func (s *InstrumentedStorage) CreateIssue(ctx context.Context, issue *types.Issue, actor string) error {
	t := s.op(ctx, "CreateIssue")
	err := s.inner.CreateIssue(ctx, issue, actor)
	s.done(ctx, "CreateIssue", t, err)
	return err
}

func (s *InstrumentedStorage) CreateIssueWithMapping(ctx context.Context, issue *types.Issue, m *types.Mapping, actor string) error {
	t := s.op(ctx, "CreateIssueWithMapping")
	err := s.inner.CreateIssueWithMapping(ctx, issue, m, actor)
	s.done(ctx, "CreateIssueWithMapping", t, err)
	return err
}

func (s *InstrumentedStorage) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	t := s.op(ctx, "GetIssue")
	v, err := s.inner.GetIssue(ctx, id)
	s.done(ctx, "GetIssue", t, err)
	return v, err
}

func (s *InstrumentedStorage) UpdateIssue(ctx context.Context, id string, updates map[string]interface{}, actor string) error {
	t := s.op(ctx, "UpdateIssue")
	err := s.inner.UpdateIssue(ctx, id, updates, actor)
	s.done(ctx, "UpdateIssue", t, err)
	return err
}

func (s *InstrumentedStorage) CloseIssue(ctx context.Context, id, reason, actor string) error {
	t := s.op(ctx, "CloseIssue")
	err := s.inner.CloseIssue(ctx, id, reason, actor)
	s.done(ctx, "CloseIssue", t, err)
	return err
}

func (s *InstrumentedStorage) ReopenIssue(ctx context.Context, id, actor string) error {
	t := s.op(ctx, "ReopenIssue")
	err := s.inner.ReopenIssue(ctx, id, actor)
	s.done(ctx, "ReopenIssue", t, err)
	return err
}

func (s *InstrumentedStorage) ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error) {
	t := s.op(ctx, "ListIssues")
	v, err := s.inner.ListIssues(ctx, filter)
	s.done(ctx, "ListIssues", t, err)
	return v, err
}

func (s *InstrumentedStorage) AddDependency(ctx context.Context, dep *types.Dependency, actor string) error {
	t := s.op(ctx, "AddDependency")
	err := s.inner.AddDependency(ctx, dep, actor)
	s.done(ctx, "AddDependency", t, err)
	return err
}

func (s *InstrumentedStorage) RemoveDependency(ctx context.Context, issueID, dependsOnID, actor string) error {
	t := s.op(ctx, "RemoveDependency")
	err := s.inner.RemoveDependency(ctx, issueID, dependsOnID, actor)
	s.done(ctx, "RemoveDependency", t, err)
	return err
}

func (s *InstrumentedStorage) GetDependencyRecords(ctx context.Context, issueID string) ([]*types.Dependency, error) {
	t := s.op(ctx, "GetDependencyRecords")
	v, err := s.inner.GetDependencyRecords(ctx, issueID)
	s.done(ctx, "GetDependencyRecords", t, err)
	return v, err
}

func (s *InstrumentedStorage) GetAllDependencyRecords(ctx context.Context) ([]*types.Dependency, error) {
	t := s.op(ctx, "GetAllDependencyRecords")
	v, err := s.inner.GetAllDependencyRecords(ctx)
	s.done(ctx, "GetAllDependencyRecords", t, err)
	return v, err
}

func (s *InstrumentedStorage) AddLabel(ctx context.Context, issueID, label, actor string) error {
	t := s.op(ctx, "AddLabel")
	err := s.inner.AddLabel(ctx, issueID, label, actor)
	s.done(ctx, "AddLabel", t, err)
	return err
}

func (s *InstrumentedStorage) RemoveLabel(ctx context.Context, issueID, label, actor string) error {
	t := s.op(ctx, "RemoveLabel")
	err := s.inner.RemoveLabel(ctx, issueID, label, actor)
	s.done(ctx, "RemoveLabel", t, err)
	return err
}

func (s *InstrumentedStorage) GetLabels(ctx context.Context, issueID string) ([]string, error) {
	t := s.op(ctx, "GetLabels")
	v, err := s.inner.GetLabels(ctx, issueID)
	s.done(ctx, "GetLabels", t, err)
	return v, err
}

func (s *InstrumentedStorage) UpsertMapping(ctx context.Context, m *types.Mapping) error {
	t := s.op(ctx, "UpsertMapping")
	err := s.inner.UpsertMapping(ctx, m)
	s.done(ctx, "UpsertMapping", t, err)
	return err
}

func (s *InstrumentedStorage) GetMappingByLocalID(ctx context.Context, owner, repo, localID string) (*types.Mapping, error) {
	t := s.op(ctx, "GetMappingByLocalID")
	v, err := s.inner.GetMappingByLocalID(ctx, owner, repo, localID)
	s.done(ctx, "GetMappingByLocalID", t, err)
	return v, err
}

func (s *InstrumentedStorage) GetMappingByRemoteNumber(ctx context.Context, owner, repo string, number int) (*types.Mapping, error) {
	t := s.op(ctx, "GetMappingByRemoteNumber")
	v, err := s.inner.GetMappingByRemoteNumber(ctx, owner, repo, number)
	s.done(ctx, "GetMappingByRemoteNumber", t, err)
	return v, err
}

func (s *InstrumentedStorage) ListMappings(ctx context.Context, owner, repo string) ([]*types.Mapping, error) {
	t := s.op(ctx, "ListMappings")
	v, err := s.inner.ListMappings(ctx, owner, repo)
	s.done(ctx, "ListMappings", t, err)
	return v, err
}

func (s *InstrumentedStorage) SeenDelivery(ctx context.Context, deliveryID string) (bool, error) {
	t := s.op(ctx, "SeenDelivery")
	v, err := s.inner.SeenDelivery(ctx, deliveryID)
	s.done(ctx, "SeenDelivery", t, err)
	return v, err
}

func (s *InstrumentedStorage) MarkDelivery(ctx context.Context, deliveryID string, receivedAt time.Time) error {
	t := s.op(ctx, "MarkDelivery")
	err := s.inner.MarkDelivery(ctx, deliveryID, receivedAt)
	s.done(ctx, "MarkDelivery", t, err)
	return err
}

func (s *InstrumentedStorage) PruneDeliveries(ctx context.Context, olderThan time.Time) (int, error) {
	t := s.op(ctx, "PruneDeliveries")
	v, err := s.inner.PruneDeliveries(ctx, olderThan)
	s.done(ctx, "PruneDeliveries", t, err)
	return v, err
}

func (s *InstrumentedStorage) UpsertRepo(ctx context.Context, repo *types.Repo) error {
	t := s.op(ctx, "UpsertRepo")
	err := s.inner.UpsertRepo(ctx, repo)
	s.done(ctx, "UpsertRepo", t, err)
	return err
}

func (s *InstrumentedStorage) GetRepo(ctx context.Context, owner, name string) (*types.Repo, error) {
	t := s.op(ctx, "GetRepo")
	v, err := s.inner.GetRepo(ctx, owner, name)
	s.done(ctx, "GetRepo", t, err)
	return v, err
}

func (s *InstrumentedStorage) ListRepos(ctx context.Context, syncEnabledOnly bool) ([]*types.Repo, error) {
	t := s.op(ctx, "ListRepos")
	v, err := s.inner.ListRepos(ctx, syncEnabledOnly)
	s.done(ctx, "ListRepos", t, err)
	return v, err
}

func (s *InstrumentedStorage) SetRepoSyncStatus(ctx context.Context, owner, name, status, syncError string, syncedAt time.Time) error {
	t := s.op(ctx, "SetRepoSyncStatus")
	err := s.inner.SetRepoSyncStatus(ctx, owner, name, status, syncError, syncedAt)
	s.done(ctx, "SetRepoSyncStatus", t, err)
	return err
}

func (s *InstrumentedStorage) RegisterAgent(ctx context.Context, agent *types.Agent) error {
	t := s.op(ctx, "RegisterAgent")
	err := s.inner.RegisterAgent(ctx, agent)
	s.done(ctx, "RegisterAgent", t, err)
	return err
}

func (s *InstrumentedStorage) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	t := s.op(ctx, "GetAgent")
	v, err := s.inner.GetAgent(ctx, id)
	s.done(ctx, "GetAgent", t, err)
	return v, err
}

func (s *InstrumentedStorage) ListAgents(ctx context.Context) ([]*types.Agent, error) {
	t := s.op(ctx, "ListAgents")
	v, err := s.inner.ListAgents(ctx)
	s.done(ctx, "ListAgents", t, err)
	return v, err
}

func (s *InstrumentedStorage) GetEvents(ctx context.Context, issueID string, limit int) ([]*types.Event, error) {
	t := s.op(ctx, "GetEvents")
	v, err := s.inner.GetEvents(ctx, issueID, limit)
	s.done(ctx, "GetEvents", t, err)
	return v, err
}

func (s *InstrumentedStorage) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	t := s.op(ctx, "GetStatistics")
	v, err := s.inner.GetStatistics(ctx)
	s.done(ctx, "GetStatistics", t, err)
	return v, err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
