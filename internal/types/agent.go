package types

import "fmt"

// Agent tiers, model preferences, and autonomy levels are small closed
// enums; registration validates against them.

// AgentTier describes the execution environment an agent runs in.
type AgentTier string

// Agent tier constants.
const (
	TierLight   AgentTier = "light"
	TierWorker  AgentTier = "worker"
	TierSandbox AgentTier = "sandbox"
)

// IsValid checks if the tier value is valid.
func (t AgentTier) IsValid() bool {
	switch t {
	case TierLight, TierWorker, TierSandbox:
		return true
	}
	return false
}

// ModelPreference selects which class of model the agent prefers.
type ModelPreference string

// Model preference constants. Any other non-empty value is treated as an
// explicit model id.
const (
	ModelBest    ModelPreference = "best"
	ModelFast    ModelPreference = "fast"
	ModelCheap   ModelPreference = "cheap"
	ModelOverall ModelPreference = "overall"
)

// CostRank orders preferences from cheapest to most expensive for
// matcher tie-breaking (cheap < fast < best). Explicit model ids and
// "overall" rank between fast and best.
func (m ModelPreference) CostRank() int {
	switch m {
	case ModelCheap:
		return 0
	case ModelFast:
		return 1
	case ModelBest:
		return 3
	default:
		return 2
	}
}

// AutonomyLevel bounds what an agent may do without human review.
type AutonomyLevel string

// Autonomy level constants.
const (
	AutonomyReadOnly AutonomyLevel = "read-only"
	AutonomySuggest  AutonomyLevel = "suggest"
	AutonomyFull     AutonomyLevel = "full"
)

// Rank orders autonomy levels for matcher tie-breaking (full > suggest > read-only).
func (a AutonomyLevel) Rank() int {
	switch a {
	case AutonomyFull:
		return 2
	case AutonomySuggest:
		return 1
	default:
		return 0
	}
}

// Capability is a named skill with operation wildcards, e.g. "code/*".
type Capability struct {
	Name       string   `json:"name"`
	Operations []string `json:"operations,omitempty"`
}

// Matches reports whether the capability covers the required capability
// string, and whether the match was exact or via wildcard.
func (c Capability) Matches(required string) (matched, exact bool) {
	if c.Name == required {
		return true, true
	}
	// Wildcard form "prefix/*" covers "prefix" and "prefix/anything".
	if len(c.Name) > 2 && c.Name[len(c.Name)-2:] == "/*" {
		prefix := c.Name[:len(c.Name)-2]
		if required == prefix || (len(required) > len(prefix) && required[:len(prefix)+1] == prefix+"/") {
			return true, false
		}
	}
	return false, false
}

// Agent is a registered executor the assignment orchestrator can target.
type Agent struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Tier          AgentTier       `json:"tier"`
	Model         ModelPreference `json:"model,omitempty"`
	Framework     string          `json:"framework,omitempty"`
	Capabilities  []Capability    `json:"capabilities"`
	Focus         []string        `json:"focus,omitempty"` // doublestar globs over file paths
	Autonomy      AutonomyLevel   `json:"autonomy,omitempty"`
	Tools         []string        `json:"tools,omitempty"`
	RegisteredAt  int64           `json:"registered_at"` // Registration order for tie-breaking
}

// Validate checks registration fields.
func (a *Agent) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if !a.Tier.IsValid() {
		return fmt.Errorf("invalid agent tier: %s", a.Tier)
	}
	return nil
}
