package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createIssue(t *testing.T, store *Store, issue *types.Issue) {
	t.Helper()
	issue.SetDefaults()
	if err := store.CreateIssue(context.Background(), issue, "test"); err != nil {
		t.Fatalf("failed to create issue %s: %v", issue.ID, err)
	}
}

func TestIssueLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createIssue(t, store, &types.Issue{
		ID: "td-1", Title: "Fix parser crash", IssueType: types.TypeBug,
		Priority: 1, Labels: []string{"code", "parser"},
	})

	issue, err := store.GetIssue(ctx, "td-1")
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if issue.Status != types.StatusOpen {
		t.Errorf("status = %s, want open by default", issue.Status)
	}
	if len(issue.Labels) != 2 {
		t.Errorf("labels = %v, want 2 labels", issue.Labels)
	}

	if err := store.UpdateIssue(ctx, "td-1", map[string]interface{}{
		"status":   string(types.StatusInProgress),
		"assignee": "tom",
	}, "test"); err != nil {
		t.Fatalf("UpdateIssue failed: %v", err)
	}
	issue, err = store.GetIssue(ctx, "td-1")
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if issue.Status != types.StatusInProgress || issue.Assignee != "tom" {
		t.Errorf("after update: status=%s assignee=%s, want in_progress/tom", issue.Status, issue.Assignee)
	}

	if err := store.CloseIssue(ctx, "td-1", "fixed", "test"); err != nil {
		t.Fatalf("CloseIssue failed: %v", err)
	}
	issue, err = store.GetIssue(ctx, "td-1")
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if issue.Status != types.StatusClosed || issue.ClosedAt == nil {
		t.Errorf("after close: status=%s closed_at=%v, want closed with timestamp", issue.Status, issue.ClosedAt)
	}
	if issue.CloseReason != "fixed" {
		t.Errorf("close_reason = %q, want fixed", issue.CloseReason)
	}

	// Closing twice is a no-op, not an error.
	if err := store.CloseIssue(ctx, "td-1", "again", "test"); err != nil {
		t.Errorf("second CloseIssue failed: %v", err)
	}

	if err := store.ReopenIssue(ctx, "td-1", "test"); err != nil {
		t.Fatalf("ReopenIssue failed: %v", err)
	}
	issue, err = store.GetIssue(ctx, "td-1")
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if issue.Status != types.StatusOpen || issue.ClosedAt != nil {
		t.Errorf("after reopen: status=%s closed_at=%v, want open with nil", issue.Status, issue.ClosedAt)
	}
}

func TestGetIssueNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetIssue(context.Background(), "td-missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetIssue error = %v, want ErrNotFound", err)
	}
	if err := store.CloseIssue(context.Background(), "td-missing", "", "test"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("CloseIssue error = %v, want ErrNotFound", err)
	}
}

func TestCreateIssueDuplicateID(t *testing.T) {
	store := newTestStore(t)
	createIssue(t, store, &types.Issue{ID: "td-dup", Title: "First"})
	dup := &types.Issue{ID: "td-dup", Title: "Second"}
	dup.SetDefaults()
	if err := store.CreateIssue(context.Background(), dup, "test"); err == nil {
		t.Error("duplicate CreateIssue succeeded, want error")
	}
}

func TestListIssuesFilteringAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createIssue(t, store, &types.Issue{ID: "td-a", Title: "Low", Priority: 3, Labels: []string{"code"}})
	createIssue(t, store, &types.Issue{ID: "td-b", Title: "Critical", Priority: 0, Assignee: "dana"})
	createIssue(t, store, &types.Issue{ID: "td-c", Title: "Mid", Priority: 2, Labels: []string{"code"}})
	if err := store.CloseIssue(ctx, "td-a", "done", "test"); err != nil {
		t.Fatalf("CloseIssue failed: %v", err)
	}

	open := types.StatusOpen
	issues, err := store.ListIssues(ctx, types.IssueFilter{Status: &open})
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("open issues = %d, want 2", len(issues))
	}
	// Priority ascending.
	if issues[0].ID != "td-b" || issues[1].ID != "td-c" {
		t.Errorf("order = %s, %s; want td-b, td-c", issues[0].ID, issues[1].ID)
	}

	issues, err = store.ListIssues(ctx, types.IssueFilter{Label: "code"})
	if err != nil {
		t.Fatalf("ListIssues by label failed: %v", err)
	}
	if len(issues) != 2 {
		t.Errorf("label=code issues = %d, want 2", len(issues))
	}

	issues, err = store.ListIssues(ctx, types.IssueFilter{Unassigned: true, Status: &open})
	if err != nil {
		t.Fatalf("ListIssues unassigned failed: %v", err)
	}
	if len(issues) != 1 || issues[0].ID != "td-c" {
		t.Errorf("unassigned open = %v, want only td-c", issues)
	}

	issues, err = store.ListIssues(ctx, types.IssueFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListIssues with limit failed: %v", err)
	}
	if len(issues) != 1 {
		t.Errorf("limited issues = %d, want 1", len(issues))
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createIssue(t, store, &types.Issue{ID: "td-x", Title: "X"})
	createIssue(t, store, &types.Issue{ID: "td-y", Title: "Y"})
	createIssue(t, store, &types.Issue{ID: "td-z", Title: "Z"})

	if err := store.AddDependency(ctx, &types.Dependency{
		IssueID: "td-x", DependsOnID: "td-y", Type: types.DepBlocks,
	}, "test"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}
	if err := store.AddDependency(ctx, &types.Dependency{
		IssueID: "td-y", DependsOnID: "td-z", Type: types.DepBlocks,
	}, "test"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}

	// Closing the transitive loop is rejected.
	err := store.AddDependency(ctx, &types.Dependency{
		IssueID: "td-z", DependsOnID: "td-x", Type: types.DepBlocks,
	}, "test")
	if !errors.Is(err, storage.ErrCycle) {
		t.Errorf("cycle edge error = %v, want ErrCycle", err)
	}

	// Self-dependency is a trivial cycle.
	err = store.AddDependency(ctx, &types.Dependency{
		IssueID: "td-x", DependsOnID: "td-x", Type: types.DepBlocks,
	}, "test")
	if !errors.Is(err, storage.ErrCycle) {
		t.Errorf("self edge error = %v, want ErrCycle", err)
	}

	// Non-blocks edges are exempt from the cycle check.
	if err := store.AddDependency(ctx, &types.Dependency{
		IssueID: "td-z", DependsOnID: "td-x", Type: types.DepRelated,
	}, "test"); err != nil {
		t.Errorf("related back-edge rejected: %v", err)
	}

	// Unknown endpoints are not found.
	err = store.AddDependency(ctx, &types.Dependency{
		IssueID: "td-x", DependsOnID: "td-missing", Type: types.DepBlocks,
	}, "test")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown endpoint error = %v, want ErrNotFound", err)
	}
}

func TestRemoveDependency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createIssue(t, store, &types.Issue{ID: "td-1", Title: "One"})
	createIssue(t, store, &types.Issue{ID: "td-2", Title: "Two"})
	if err := store.AddDependency(ctx, &types.Dependency{
		IssueID: "td-1", DependsOnID: "td-2", Type: types.DepBlocks,
	}, "test"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}

	if err := store.RemoveDependency(ctx, "td-1", "td-2", "test"); err != nil {
		t.Fatalf("RemoveDependency failed: %v", err)
	}
	deps, err := store.GetDependencyRecords(ctx, "td-1")
	if err != nil {
		t.Fatalf("GetDependencyRecords failed: %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("dependencies after removal = %d, want 0", len(deps))
	}

	if err := store.RemoveDependency(ctx, "td-1", "td-2", "test"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("removing absent edge error = %v, want ErrNotFound", err)
	}
}

func TestMappingConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := &types.Mapping{LocalID: "td-1", Owner: "acme", Repo: "widgets", RemoteNumber: 5}
	if err := store.UpsertMapping(ctx, m); err != nil {
		t.Fatalf("UpsertMapping failed: %v", err)
	}

	// Re-upserting the same binding refreshes snapshots.
	m.LocalSnap = time.Now().UTC()
	if err := store.UpsertMapping(ctx, m); err != nil {
		t.Errorf("idempotent upsert failed: %v", err)
	}

	// Same local id, different remote number.
	err := store.UpsertMapping(ctx, &types.Mapping{
		LocalID: "td-1", Owner: "acme", Repo: "widgets", RemoteNumber: 6,
	})
	if !errors.Is(err, storage.ErrMappingConflict) {
		t.Errorf("rebind local error = %v, want ErrMappingConflict", err)
	}

	// Same remote number, different local id.
	err = store.UpsertMapping(ctx, &types.Mapping{
		LocalID: "td-2", Owner: "acme", Repo: "widgets", RemoteNumber: 5,
	})
	if !errors.Is(err, storage.ErrMappingConflict) {
		t.Errorf("rebind remote error = %v, want ErrMappingConflict", err)
	}

	// The same pair in another scope is independent.
	if err := store.UpsertMapping(ctx, &types.Mapping{
		LocalID: "td-2", Owner: "acme", Repo: "gadgets", RemoteNumber: 5,
	}); err != nil {
		t.Errorf("cross-scope upsert failed: %v", err)
	}

	got, err := store.GetMappingByLocalID(ctx, "acme", "widgets", "td-1")
	if err != nil {
		t.Fatalf("GetMappingByLocalID failed: %v", err)
	}
	if got == nil || got.RemoteNumber != 5 {
		t.Errorf("mapping = %+v, want remote #5", got)
	}
	got, err = store.GetMappingByRemoteNumber(ctx, "acme", "widgets", 99)
	if err != nil {
		t.Fatalf("GetMappingByRemoteNumber failed: %v", err)
	}
	if got != nil {
		t.Errorf("absent mapping = %+v, want nil", got)
	}
}

func TestCreateIssueWithMappingAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	winner := &types.Issue{ID: "td-w", Title: "Imported first"}
	if err := store.CreateIssueWithMapping(ctx, winner, &types.Mapping{
		LocalID: "td-w", Owner: "acme", Repo: "widgets", RemoteNumber: 42,
		LocalSnap: now, RemoteSnap: now,
	}, "sync"); err != nil {
		t.Fatalf("CreateIssueWithMapping failed: %v", err)
	}
	mapping, err := store.GetMappingByRemoteNumber(ctx, "acme", "widgets", 42)
	if err != nil || mapping == nil {
		t.Fatalf("mapping missing after create: %v", err)
	}
	if mapping.LocalID != "td-w" {
		t.Errorf("LocalID = %s, want td-w", mapping.LocalID)
	}

	// A second import of the same remote number fails and leaves no
	// issue row behind.
	loser := &types.Issue{ID: "td-l", Title: "Imported second"}
	err = store.CreateIssueWithMapping(ctx, loser, &types.Mapping{
		LocalID: "td-l", Owner: "acme", Repo: "widgets", RemoteNumber: 42,
		LocalSnap: now, RemoteSnap: now,
	}, "sync")
	if !errors.Is(err, storage.ErrMappingConflict) {
		t.Fatalf("conflicting import error = %v, want ErrMappingConflict", err)
	}
	if _, err := store.GetIssue(ctx, "td-l"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("losing issue row survived the rollback: err = %v, want ErrNotFound", err)
	}
}

func TestDeliveryDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.MarkDelivery(ctx, "d-1", time.Now()); err != nil {
		t.Fatalf("MarkDelivery failed: %v", err)
	}
	if err := store.MarkDelivery(ctx, "d-1", time.Now()); !errors.Is(err, storage.ErrDuplicateDelivery) {
		t.Errorf("second mark error = %v, want ErrDuplicateDelivery", err)
	}
	seen, err := store.SeenDelivery(ctx, "d-1")
	if err != nil {
		t.Fatalf("SeenDelivery failed: %v", err)
	}
	if !seen {
		t.Error("SeenDelivery = false, want true")
	}

	pruned, err := store.PruneDeliveries(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneDeliveries failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	seen, err = store.SeenDelivery(ctx, "d-1")
	if err != nil {
		t.Fatalf("SeenDelivery failed: %v", err)
	}
	if seen {
		t.Error("SeenDelivery after prune = true, want false")
	}
}

func TestEventsRecorded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createIssue(t, store, &types.Issue{ID: "td-ev", Title: "Audited"})
	if err := store.UpdateIssue(ctx, "td-ev", map[string]interface{}{"priority": 1}, "alice"); err != nil {
		t.Fatalf("UpdateIssue failed: %v", err)
	}
	if err := store.CloseIssue(ctx, "td-ev", "done", "bob"); err != nil {
		t.Fatalf("CloseIssue failed: %v", err)
	}

	events, err := store.GetEvents(ctx, "td-ev", 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	// Newest first.
	if events[0].EventType != types.EventClosed || events[0].Actor != "bob" {
		t.Errorf("latest event = %s by %s, want closed by bob", events[0].EventType, events[0].Actor)
	}
	if events[2].EventType != types.EventCreated {
		t.Errorf("oldest event = %s, want created", events[2].EventType)
	}

	limited, err := store.GetEvents(ctx, "td-ev", 1)
	if err != nil {
		t.Fatalf("GetEvents with limit failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited events = %d, want 1", len(limited))
	}
}

func TestStatisticsCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createIssue(t, store, &types.Issue{ID: "td-1", Title: "Open"})
	createIssue(t, store, &types.Issue{ID: "td-2", Title: "Blocked by one"})
	createIssue(t, store, &types.Issue{ID: "td-3", Title: "Done"})
	if err := store.AddDependency(ctx, &types.Dependency{
		IssueID: "td-2", DependsOnID: "td-1", Type: types.DepBlocks,
	}, "test"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}
	if err := store.CloseIssue(ctx, "td-3", "done", "test"); err != nil {
		t.Fatalf("CloseIssue failed: %v", err)
	}

	stats, err := store.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.TotalIssues != 3 || stats.OpenIssues != 2 || stats.ClosedIssues != 1 {
		t.Errorf("stats = %+v, want total 3, open 2, closed 1", stats)
	}
	// td-2 is blocked by the open td-1, so only td-1 is ready.
	if stats.ReadyIssues != 1 {
		t.Errorf("ready = %d, want 1", stats.ReadyIssues)
	}
}

func TestAgentRegistryOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"first", "second"} {
		if err := store.RegisterAgent(ctx, &types.Agent{
			ID: id, Tier: types.TierWorker,
			Capabilities: []types.Capability{{Name: "code/*"}},
		}); err != nil {
			t.Fatalf("RegisterAgent %s failed: %v", id, err)
		}
	}

	agents, err := store.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(agents))
	}
	if agents[0].ID != "first" || agents[1].ID != "second" {
		t.Errorf("order = %s, %s; want registration order", agents[0].ID, agents[1].ID)
	}
	if agents[0].RegisteredAt == 0 {
		t.Error("RegisteredAt not assigned on registration")
	}
	if len(agents[0].Capabilities) != 1 || agents[0].Capabilities[0].Name != "code/*" {
		t.Errorf("capabilities = %+v, want code/*", agents[0].Capabilities)
	}
}

func TestRepoSyncStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertRepo(ctx, &types.Repo{
		Owner: "acme", Name: "widgets", InstallationID: 7, SyncEnabled: true,
	}); err != nil {
		t.Fatalf("UpsertRepo failed: %v", err)
	}

	now := time.Now().UTC()
	if err := store.SetRepoSyncStatus(ctx, "acme", "widgets", "error", "boom", now); err != nil {
		t.Fatalf("SetRepoSyncStatus failed: %v", err)
	}
	repo, err := store.GetRepo(ctx, "acme", "widgets")
	if err != nil {
		t.Fatalf("GetRepo failed: %v", err)
	}
	if repo.SyncStatus != "error" || repo.SyncError != "boom" {
		t.Errorf("repo = %s/%q, want error/boom", repo.SyncStatus, repo.SyncError)
	}
	if repo.LastSyncAt == nil {
		t.Error("LastSyncAt not set")
	}
}
