package dag

import (
	"context"
	"testing"
	"time"

	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/storage/sqlite"
	"github.com/dot-do/todo/internal/types"
)

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustCreate(t *testing.T, store storage.Storage, issue *types.Issue) {
	t.Helper()
	if issue.Status == types.StatusClosed && issue.ClosedAt == nil {
		now := time.Now()
		issue.ClosedAt = &now
	}
	if err := store.CreateIssue(context.Background(), issue, "test"); err != nil {
		t.Fatalf("failed to create %s: %v", issue.ID, err)
	}
}

func mustDepend(t *testing.T, store storage.Storage, issueID, dependsOnID string, depType types.DependencyType) {
	t.Helper()
	if err := store.AddDependency(context.Background(), &types.Dependency{
		IssueID:     issueID,
		DependsOnID: dependsOnID,
		Type:        depType,
	}, "test"); err != nil {
		t.Fatalf("failed to add dependency %s -> %s: %v", issueID, dependsOnID, err)
	}
}

func snapshot(t *testing.T, store storage.Storage) *Graph {
	t.Helper()
	g, err := Snapshot(context.Background(), store)
	if err != nil {
		t.Fatalf("failed to snapshot: %v", err)
	}
	return g
}

func readyIDs(g *Graph) []string {
	var ids []string
	for _, issue := range g.Ready() {
		ids = append(ids, issue.ID)
	}
	return ids
}

func TestReadyExcludesBlockedAndClosed(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, &types.Issue{ID: "a", Title: "A", Status: types.StatusOpen, Priority: 0})
	mustCreate(t, store, &types.Issue{ID: "b", Title: "B", Status: types.StatusOpen, Priority: 1})
	mustCreate(t, store, &types.Issue{ID: "c", Title: "C", Status: types.StatusClosed, Priority: 2})
	mustDepend(t, store, "b", "a", types.DepBlocks)

	g := snapshot(t, store)
	got := readyIDs(g)
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("Ready() = %v, want [a]", got)
	}

	// Closing the blocker makes the dependent ready.
	if err := store.CloseIssue(context.Background(), "a", "completed", "test"); err != nil {
		t.Fatalf("failed to close a: %v", err)
	}
	g = snapshot(t, store)
	got = readyIDs(g)
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("Ready() after close = %v, want [b]", got)
	}
}

func TestReadyIgnoresNonBlockingDependencies(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, &types.Issue{ID: "a", Title: "A", Status: types.StatusOpen})
	mustCreate(t, store, &types.Issue{ID: "b", Title: "B", Status: types.StatusOpen})
	mustCreate(t, store, &types.Issue{ID: "c", Title: "C", Status: types.StatusOpen})
	mustDepend(t, store, "b", "a", types.DepRelated)
	mustDepend(t, store, "c", "a", types.DepDiscovers)

	g := snapshot(t, store)
	if got := readyIDs(g); len(got) != 3 {
		t.Errorf("Ready() = %v, want all three issues", got)
	}
}

func TestReadyOrderedByPriorityThenCreation(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, &types.Issue{ID: "low", Title: "Low", Status: types.StatusOpen, Priority: 3})
	mustCreate(t, store, &types.Issue{ID: "high", Title: "High", Status: types.StatusOpen, Priority: 0})
	mustCreate(t, store, &types.Issue{ID: "mid", Title: "Mid", Status: types.StatusOpen, Priority: 1})

	g := snapshot(t, store)
	got := readyIDs(g)
	want := []string{"high", "mid", "low"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("Ready() = %v, want %v", got, want)
		}
	}
}

func TestBlockedReportsDirectOpenBlockers(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, &types.Issue{ID: "a", Title: "A", Status: types.StatusOpen})
	mustCreate(t, store, &types.Issue{ID: "b", Title: "B", Status: types.StatusClosed})
	mustCreate(t, store, &types.Issue{ID: "c", Title: "C", Status: types.StatusOpen})
	mustDepend(t, store, "c", "a", types.DepBlocks)
	mustDepend(t, store, "c", "b", types.DepBlocks)

	g := snapshot(t, store)
	blocked := g.Blocked()
	if len(blocked) != 1 {
		t.Fatalf("Blocked() returned %d issues, want 1", len(blocked))
	}
	if blocked[0].Issue.ID != "c" {
		t.Errorf("blocked issue = %s, want c", blocked[0].Issue.ID)
	}
	if len(blocked[0].BlockedBy) != 1 || blocked[0].BlockedBy[0] != "a" {
		t.Errorf("BlockedBy = %v, want [a]", blocked[0].BlockedBy)
	}
}

func TestBlockedIncludesExplicitStatus(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, &types.Issue{ID: "stuck", Title: "Stuck", Status: types.StatusBlocked})

	g := snapshot(t, store)
	blocked := g.Blocked()
	if len(blocked) != 1 || blocked[0].Issue.ID != "stuck" {
		t.Errorf("Blocked() = %v, want [stuck]", blocked)
	}
	if len(blocked[0].BlockedBy) != 0 {
		t.Errorf("BlockedBy = %v, want empty", blocked[0].BlockedBy)
	}
}

func TestUnblocks(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, &types.Issue{ID: "a", Title: "A", Status: types.StatusOpen})
	mustCreate(t, store, &types.Issue{ID: "b", Title: "B", Status: types.StatusOpen})
	mustCreate(t, store, &types.Issue{ID: "solo", Title: "Solo", Status: types.StatusOpen})
	mustCreate(t, store, &types.Issue{ID: "dual", Title: "Dual", Status: types.StatusOpen})
	mustDepend(t, store, "solo", "a", types.DepBlocks)
	mustDepend(t, store, "dual", "a", types.DepBlocks)
	mustDepend(t, store, "dual", "b", types.DepBlocks)

	g := snapshot(t, store)
	unblocked := g.Unblocks("a")
	if len(unblocked) != 1 || unblocked[0].ID != "solo" {
		t.Errorf("Unblocks(a) = %v, want [solo]", unblocked)
	}
}

func TestCriticalPath(t *testing.T) {
	store := newTestStore(t)

	// chain: root blocks mid blocks leaf; side is a lone open issue
	mustCreate(t, store, &types.Issue{ID: "root", Title: "Root", Status: types.StatusOpen})
	mustCreate(t, store, &types.Issue{ID: "mid", Title: "Mid", Status: types.StatusOpen})
	mustCreate(t, store, &types.Issue{ID: "leaf", Title: "Leaf", Status: types.StatusOpen})
	mustCreate(t, store, &types.Issue{ID: "side", Title: "Side", Status: types.StatusOpen})
	mustDepend(t, store, "mid", "root", types.DepBlocks)
	mustDepend(t, store, "leaf", "mid", types.DepBlocks)

	g := snapshot(t, store)
	path := g.CriticalPath()
	want := []string{"root", "mid", "leaf"}
	if len(path) != len(want) {
		t.Fatalf("CriticalPath() has %d nodes, want %d", len(path), len(want))
	}
	for i, issue := range path {
		if issue.ID != want[i] {
			t.Errorf("CriticalPath()[%d] = %s, want %s", i, issue.ID, want[i])
		}
	}
}

func TestCriticalPathSkipsClosedSegments(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, &types.Issue{ID: "done", Title: "Done", Status: types.StatusClosed})
	mustCreate(t, store, &types.Issue{ID: "a", Title: "A", Status: types.StatusOpen})
	mustCreate(t, store, &types.Issue{ID: "b", Title: "B", Status: types.StatusOpen})
	mustDepend(t, store, "a", "done", types.DepBlocks)
	mustDepend(t, store, "b", "a", types.DepBlocks)

	g := snapshot(t, store)
	path := g.CriticalPath()
	if len(path) != 2 || path[0].ID != "a" || path[1].ID != "b" {
		var ids []string
		for _, issue := range path {
			ids = append(ids, issue.ID)
		}
		t.Errorf("CriticalPath() = %v, want [a b]", ids)
	}
}
