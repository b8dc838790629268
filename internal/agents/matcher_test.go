package agents

import (
	"strings"
	"testing"

	"github.com/dot-do/todo/internal/types"
)

func agentDana() *types.Agent {
	return &types.Agent{
		ID:           "dana",
		Name:         "Dana",
		Tier:         types.TierLight,
		Capabilities: []types.Capability{{Name: "docs/*"}},
		Focus:        []string{"**/*.md"},
		RegisteredAt: 1,
	}
}

func agentTom() *types.Agent {
	return &types.Agent{
		ID:           "tom",
		Name:         "Tom",
		Tier:         types.TierWorker,
		Capabilities: []types.Capability{{Name: "code/*"}, {Name: "typescript/*"}},
		Focus:        []string{"**/*.ts"},
		RegisteredAt: 2,
	}
}

func TestMatchCodeIssueToTom(t *testing.T) {
	registry := []*types.Agent{agentDana(), agentTom()}
	issue := &types.Issue{
		ID:        "td-1",
		Title:     "Fix bug in auth.ts",
		IssueType: types.TypeBug,
		Labels:    []string{"code", "typescript"},
	}

	m := Match(issue, registry)
	if m == nil {
		t.Fatal("Match returned nil, want Tom")
	}
	if m.Agent.ID != "tom" {
		t.Errorf("matched agent = %s, want tom", m.Agent.ID)
	}
	if m.Confidence <= 0 || m.Confidence > 1 {
		t.Errorf("confidence = %v, want in (0, 1]", m.Confidence)
	}
	if !strings.Contains(m.Reason, "auth.ts") {
		t.Errorf("reason %q should mention the matched path", m.Reason)
	}
}

func TestMatchDocsIssueToDana(t *testing.T) {
	registry := []*types.Agent{agentDana(), agentTom()}
	issue := &types.Issue{
		ID:        "td-2",
		Title:     "Update README.md",
		IssueType: types.TypeTask,
		Labels:    []string{"docs"},
	}

	m := Match(issue, registry)
	if m == nil {
		t.Fatal("Match returned nil, want Dana")
	}
	if m.Agent.ID != "dana" {
		t.Errorf("matched agent = %s, want dana", m.Agent.ID)
	}
}

func TestMatchNoCapabilityOverlapReturnsNil(t *testing.T) {
	registry := []*types.Agent{agentDana(), agentTom()}
	issue := &types.Issue{
		ID:        "td-3",
		Title:     "Redesign the landing page",
		IssueType: types.TypeTask,
		Labels:    []string{"design"},
	}

	if m := Match(issue, registry); m != nil {
		t.Errorf("Match = %v, want nil for zero score", m.Agent.ID)
	}
}

func TestMatchEmptyRegistryReturnsNil(t *testing.T) {
	issue := &types.Issue{ID: "td-4", Title: "Anything", IssueType: types.TypeBug, Labels: []string{"code"}}
	if m := Match(issue, nil); m != nil {
		t.Errorf("Match = %v, want nil", m.Agent.ID)
	}
}

func TestExactMatchBeatsWildcard(t *testing.T) {
	wildcard := &types.Agent{
		ID:           "generalist",
		Tier:         types.TierWorker,
		Capabilities: []types.Capability{{Name: "code/*"}},
		RegisteredAt: 1,
	}
	exact := &types.Agent{
		ID:           "specialist",
		Tier:         types.TierWorker,
		Capabilities: []types.Capability{{Name: "code"}},
		RegisteredAt: 2,
	}
	issue := &types.Issue{ID: "td-5", Title: "Refactor parser", IssueType: types.TypeTask, Labels: []string{"code"}}

	m := Match(issue, []*types.Agent{wildcard, exact})
	if m == nil || m.Agent.ID != "specialist" {
		t.Fatalf("matched %v, want specialist", m)
	}
}

func TestTieBreakAutonomyThenCostThenOrder(t *testing.T) {
	base := func(id string, at int64) *types.Agent {
		return &types.Agent{
			ID:           id,
			Tier:         types.TierWorker,
			Capabilities: []types.Capability{{Name: "code"}},
			RegisteredAt: at,
		}
	}

	// Higher autonomy wins.
	readonly := base("readonly", 1)
	readonly.Autonomy = types.AutonomyReadOnly
	full := base("full", 2)
	full.Autonomy = types.AutonomyFull

	issue := &types.Issue{ID: "td-6", Title: "Fix parser", IssueType: types.TypeBug, Labels: []string{"code"}}
	if m := Match(issue, []*types.Agent{readonly, full}); m == nil || m.Agent.ID != "full" {
		t.Fatalf("autonomy tie-break matched %v, want full", m)
	}

	// Equal autonomy: cheaper model wins.
	expensive := base("expensive", 1)
	expensive.Model = types.ModelBest
	cheap := base("cheap", 2)
	cheap.Model = types.ModelCheap
	if m := Match(issue, []*types.Agent{expensive, cheap}); m == nil || m.Agent.ID != "cheap" {
		t.Fatalf("cost tie-break matched %v, want cheap", m)
	}

	// Full tie: earlier registration wins.
	first := base("first", 1)
	second := base("second", 2)
	if m := Match(issue, []*types.Agent{second, first}); m == nil || m.Agent.ID != "first" {
		t.Fatalf("order tie-break matched %v, want first", m)
	}
}

func TestFocusBonusCapped(t *testing.T) {
	agent := &types.Agent{
		ID:           "wide",
		Tier:         types.TierWorker,
		Capabilities: []types.Capability{{Name: "code"}},
		Focus:        []string{"**/*.ts", "**/*.go", "**/*.py"},
		RegisteredAt: 1,
	}
	issue := &types.Issue{
		ID:          "td-7",
		Title:       "Port main.ts to main.go",
		Description: "Also touch legacy.py while there.",
		IssueType:   types.TypeTask,
		Labels:      []string{"code"},
	}

	m := Match(issue, []*types.Agent{agent})
	if m == nil {
		t.Fatal("Match returned nil")
	}
	// required = {code, task}, cap bonus capped at 2: max = 4, score = 1 + 2.
	want := 3.0 / 4.0
	if m.Confidence != want {
		t.Errorf("confidence = %v, want %v", m.Confidence, want)
	}
}

func TestRequiredCapabilitiesDedupes(t *testing.T) {
	issue := &types.Issue{
		IssueType: types.TypeBug,
		Labels:    []string{"code", "code", "bug"},
	}
	got := RequiredCapabilities(issue)
	want := []string{"code", "bug"}
	if len(got) != len(want) {
		t.Fatalf("RequiredCapabilities = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("RequiredCapabilities[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestReferencedPathsExtraction(t *testing.T) {
	issue := &types.Issue{
		Title:       "Fix bug in src/auth/session.ts",
		Description: "Stack trace points at handler.go, no version bump needed.",
	}
	got := referencedPaths(issue)
	want := map[string]bool{"src/auth/session.ts": true, "handler.go": true}
	if len(got) != len(want) {
		t.Fatalf("referencedPaths = %v, want %d paths", got, len(want))
	}
	for _, p := range got {
		if !want[p] {
			t.Errorf("unexpected path %q", p)
		}
	}
}
