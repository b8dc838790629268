// Package dag provides graph queries over the issue dependency relation.
//
// All queries operate on a Snapshot taken from the issue store, so a
// sequence of queries observes one consistent point in time regardless of
// concurrent writes. The snapshot is the canonical source for readiness;
// stored open/blocked status values are advisory.
package dag

import (
	"context"
	"sort"

	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/types"
)

// Graph is a point-in-time view of issues and their blocks edges.
type Graph struct {
	issues   map[string]*types.Issue
	ordered  []*types.Issue      // priority asc, created_at asc
	blockers map[string][]string // issue -> blocks-parents (its blockers)
	children map[string][]string // issue -> blocks-children (issues it blocks)
}

// Snapshot loads the issues and blocks edges into a Graph.
func Snapshot(ctx context.Context, store storage.Storage) (*Graph, error) {
	issues, err := store.ListIssues(ctx, types.IssueFilter{})
	if err != nil {
		return nil, err
	}
	deps, err := store.GetAllDependencyRecords(ctx)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		issues:   make(map[string]*types.Issue, len(issues)),
		ordered:  issues,
		blockers: make(map[string][]string),
		children: make(map[string][]string),
	}
	for _, issue := range issues {
		g.issues[issue.ID] = issue
	}
	for _, dep := range deps {
		if !dep.Type.AffectsReadiness() {
			continue
		}
		g.blockers[dep.IssueID] = append(g.blockers[dep.IssueID], dep.DependsOnID)
		g.children[dep.DependsOnID] = append(g.children[dep.DependsOnID], dep.IssueID)
	}
	return g, nil
}

// openBlocker reports whether id is a blocker that counts as open
// (any status other than closed, or an edge to an unknown issue).
func (g *Graph) openBlocker(id string) bool {
	issue, ok := g.issues[id]
	if !ok {
		// Unknown blockers stay blocking until they are observed.
		return true
	}
	return issue.Status != types.StatusClosed
}

// hasOpenBlocker reports whether the issue has at least one open blocks-parent.
func (g *Graph) hasOpenBlocker(id string) bool {
	for _, blocker := range g.blockers[id] {
		if g.openBlocker(blocker) {
			return true
		}
	}
	return false
}

// Ready returns open issues with no open blocks-parent, in priority order.
func (g *Graph) Ready() []*types.Issue {
	var ready []*types.Issue
	for _, issue := range g.ordered {
		if issue.Status != types.StatusOpen {
			continue
		}
		if g.hasOpenBlocker(issue.ID) {
			continue
		}
		ready = append(ready, issue)
	}
	return ready
}

// Blocked returns open issues with an open blocks-parent, plus issues
// whose stored status is blocked explicitly. Each entry carries its
// direct open blockers.
func (g *Graph) Blocked() []*types.BlockedIssue {
	var blocked []*types.BlockedIssue
	for _, issue := range g.ordered {
		explicit := issue.Status == types.StatusBlocked
		byDeps := issue.Status == types.StatusOpen && g.hasOpenBlocker(issue.ID)
		if !explicit && !byDeps {
			continue
		}
		blocked = append(blocked, &types.BlockedIssue{
			Issue:     *issue,
			BlockedBy: g.BlockedBy(issue.ID),
		})
	}
	return blocked
}

// BlockedBy returns the ids of the issue's direct open blocks-parents.
func (g *Graph) BlockedBy(id string) []string {
	var open []string
	for _, blocker := range g.blockers[id] {
		if g.openBlocker(blocker) {
			open = append(open, blocker)
		}
	}
	if open == nil {
		open = []string{}
	}
	return open
}

// Unblocks returns the blocks-children that would become ready if the
// given issue were closed: open children whose only open blocker is id.
func (g *Graph) Unblocks(id string) []*types.Issue {
	var unblocked []*types.Issue
	for _, childID := range g.children[id] {
		child, ok := g.issues[childID]
		if !ok || child.Status != types.StatusOpen {
			continue
		}
		sole := true
		for _, blocker := range g.blockers[childID] {
			if blocker == id {
				continue
			}
			if g.openBlocker(blocker) {
				sole = false
				break
			}
		}
		if sole {
			unblocked = append(unblocked, child)
		}
	}
	sortIssues(unblocked)
	return unblocked
}

// CriticalPath returns the longest path through the open blocks-graph,
// weighted 1 per node. Ties break toward higher priority (lower numeric
// value) then earlier created_at. The result is in topological order,
// source (the deepest blocker) first.
func (g *Graph) CriticalPath() []*types.Issue {
	// memoized longest path length starting at each open node, following
	// blocker -> dependent edges
	depth := make(map[string]int)
	next := make(map[string]string)

	var longest func(id string) int
	longest = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		depth[id] = 1 // cycle guard; blocks-subgraph is acyclic by invariant
		best := 1
		bestChild := ""
		for _, childID := range g.children[id] {
			child, ok := g.issues[childID]
			if !ok || child.Status == types.StatusClosed {
				continue
			}
			d := 1 + longest(childID)
			if d > best || (d == best && bestChild != "" && g.preferred(childID, bestChild)) {
				best = d
				bestChild = childID
			}
		}
		depth[id] = best
		if bestChild != "" {
			next[id] = bestChild
		}
		return best
	}

	// Candidate sources: every open node. Scanning ordered issues first
	// makes the priority/created_at tie-break fall out of iteration order.
	var source string
	bestDepth := 0
	for _, issue := range g.ordered {
		if issue.Status == types.StatusClosed {
			continue
		}
		d := longest(issue.ID)
		if d > bestDepth {
			bestDepth = d
			source = issue.ID
		}
	}
	if source == "" {
		return nil
	}

	var path []*types.Issue
	for id := source; id != ""; id = next[id] {
		path = append(path, g.issues[id])
	}
	return path
}

// preferred reports whether issue a wins a tie against b: higher priority
// (lower numeric value), then earlier created_at.
func (g *Graph) preferred(a, b string) bool {
	ia, ib := g.issues[a], g.issues[b]
	if ia == nil || ib == nil {
		return ib == nil
	}
	if ia.Priority != ib.Priority {
		return ia.Priority < ib.Priority
	}
	return ia.CreatedAt.Before(ib.CreatedAt)
}

func sortIssues(issues []*types.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Priority != issues[j].Priority {
			return issues[i].Priority < issues[j].Priority
		}
		return issues[i].CreatedAt.Before(issues[j].CreatedAt)
	})
}
