// Package agents scores registered agents against issues and picks the
// best assignee. Matching is pure: the caller supplies the issue and
// the registry snapshot.
package agents

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dot-do/todo/internal/types"
)

// focusBonusCap bounds the total focus-pattern bonus per agent.
const focusBonusCap = 2.0

// MatchResult is a scored assignment candidate. Confidence is the
// winner's score over the maximum achievable score for the issue.
type MatchResult struct {
	Agent      *types.Agent `json:"agent"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
}

// pathPattern extracts file-path-shaped tokens from free text. A token
// qualifies when it carries a short alphanumeric extension.
var pathPattern = regexp.MustCompile(`[A-Za-z0-9_][A-Za-z0-9_./-]*\.[A-Za-z0-9]{1,8}\b`)

// RequiredCapabilities derives the capability set an issue demands:
// its labels plus its type, deduplicated in order.
func RequiredCapabilities(issue *types.Issue) []string {
	seen := make(map[string]bool)
	var required []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		required = append(required, name)
	}
	for _, label := range issue.Labels {
		add(label)
	}
	add(string(issue.IssueType))
	return required
}

// referencedPaths extracts file paths mentioned in the issue title or
// description, for focus-pattern matching.
func referencedPaths(issue *types.Issue) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, text := range []string{issue.Title, issue.Description} {
		for _, token := range pathPattern.FindAllString(text, -1) {
			if !seen[token] {
				seen[token] = true
				paths = append(paths, token)
			}
		}
	}
	return paths
}

// candidate is one agent's score for an issue.
type candidate struct {
	agent   *types.Agent
	score   float64
	reasons []string
}

// Match scores every agent against the issue and returns the winner, or
// nil when no agent scores above zero. Ties break by autonomy, then by
// cheaper model preference, then by registration order.
func Match(issue *types.Issue, registry []*types.Agent) *MatchResult {
	required := RequiredCapabilities(issue)
	paths := referencedPaths(issue)
	maxScore := float64(len(required)) + focusBonusCap
	if maxScore == focusBonusCap {
		// No capability demand at all; nothing to match on.
		return nil
	}

	var candidates []candidate
	for _, agent := range registry {
		c := score(agent, required, paths)
		if c.score > 0 {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if ar, br := a.agent.Autonomy.Rank(), b.agent.Autonomy.Rank(); ar != br {
			return ar > br
		}
		if ac, bc := a.agent.Model.CostRank(), b.agent.Model.CostRank(); ac != bc {
			return ac < bc
		}
		return a.agent.RegisteredAt < b.agent.RegisteredAt
	})

	winner := candidates[0]
	confidence := winner.score / maxScore
	if confidence > 1 {
		confidence = 1
	}
	return &MatchResult{
		Agent:      winner.agent,
		Confidence: confidence,
		Reason:     strings.Join(winner.reasons, "; "),
	}
}

// score computes one agent's base capability score plus focus bonus.
// Each required capability counts once, at the strongest match the
// agent declares for it.
func score(agent *types.Agent, required, paths []string) candidate {
	c := candidate{agent: agent}

	for _, req := range required {
		best := 0.0
		via := ""
		for _, capability := range agent.Capabilities {
			matched, exact := capability.Matches(req)
			if !matched {
				continue
			}
			if exact {
				best = 1.0
				via = capability.Name
				break
			}
			if best < 0.5 {
				best = 0.5
				via = capability.Name
			}
		}
		if best > 0 {
			c.score += best
			c.reasons = append(c.reasons, fmt.Sprintf("capability %s covers %s", via, req))
		}
	}

	focus := 0.0
	for _, pattern := range agent.Focus {
		if focus >= focusBonusCap {
			break
		}
		for _, path := range paths {
			if ok, err := doublestar.Match(pattern, path); err == nil && ok {
				focus++
				c.reasons = append(c.reasons, fmt.Sprintf("focus %s matches %s", pattern, path))
				break
			}
		}
	}
	if focus > focusBonusCap {
		focus = focusBonusCap
	}
	c.score += focus

	return c
}
