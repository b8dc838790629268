package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dot-do/todo/internal/types"
)

var agentCmd = &cobra.Command{
	Use:     "agent",
	Aliases: []string{"agents"},
	Short:   "Manage the agent registry",
}

// agentFile is the YAML registration document: a list of agents under
// a top-level "agents" key.
type agentFile struct {
	Agents []*types.Agent `yaml:"agents"`
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register agents from a YAML file or flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file != "" {
			return registerFromFile(cmd, file)
		}

		id, _ := cmd.Flags().GetString("id")
		name, _ := cmd.Flags().GetString("name")
		tier, _ := cmd.Flags().GetString("tier")
		model, _ := cmd.Flags().GetString("model")
		autonomy, _ := cmd.Flags().GetString("autonomy")
		capabilities, _ := cmd.Flags().GetStringArray("capability")
		focus, _ := cmd.Flags().GetStringArray("focus")

		if id == "" {
			return fmt.Errorf("either --file or --id is required")
		}
		agent := &types.Agent{
			ID:       id,
			Name:     name,
			Tier:     types.AgentTier(tier),
			Model:    types.ModelPreference(model),
			Autonomy: types.AutonomyLevel(autonomy),
			Focus:    focus,
		}
		for _, c := range capabilities {
			agent.Capabilities = append(agent.Capabilities, types.Capability{Name: strings.TrimSpace(c)})
		}
		return registerAgent(cmd, agent)
	},
}

func registerFromFile(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the command line
	if err != nil {
		return fmt.Errorf("failed to read agent file: %w", err)
	}
	var doc agentFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse agent file: %w", err)
	}
	if len(doc.Agents) == 0 {
		return fmt.Errorf("no agents defined in %s", path)
	}
	for _, agent := range doc.Agents {
		if err := registerAgent(cmd, agent); err != nil {
			return err
		}
	}
	return nil
}

func registerAgent(cmd *cobra.Command, agent *types.Agent) error {
	if agent.Tier == "" {
		agent.Tier = types.TierWorker
	}
	if err := agent.Validate(); err != nil {
		return err
	}
	if err := store.RegisterAgent(cmd.Context(), agent); err != nil {
		return fmt.Errorf("failed to register agent %s: %w", agent.ID, err)
	}
	if jsonOutput {
		outputJSON(agent)
		return nil
	}
	fmt.Printf("Registered agent %s (%s)\n", agent.ID, agent.Tier)
	return nil
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := store.ListAgents(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(registry)
			return nil
		}
		if len(registry) == 0 {
			fmt.Println("No agents registered.")
			return nil
		}
		for _, agent := range registry {
			names := make([]string, len(agent.Capabilities))
			for i, c := range agent.Capabilities {
				names[i] = c.Name
			}
			fmt.Printf("%-12s %-8s %-8s %s\n", agent.ID, agent.Tier, agent.Autonomy, strings.Join(names, ","))
		}
		return nil
	},
}

func init() {
	agentRegisterCmd.Flags().StringP("file", "f", "", "YAML file with an agents: list")
	agentRegisterCmd.Flags().String("id", "", "agent id")
	agentRegisterCmd.Flags().String("name", "", "display name")
	agentRegisterCmd.Flags().String("tier", "worker", "tier (light|worker|sandbox)")
	agentRegisterCmd.Flags().String("model", "", "model preference (cheap|fast|best|overall|<model id>)")
	agentRegisterCmd.Flags().String("autonomy", "", "autonomy level (read-only|suggest|full)")
	agentRegisterCmd.Flags().StringArrayP("capability", "c", nil, "capability, e.g. code/* (repeatable)")
	agentRegisterCmd.Flags().StringArray("focus", nil, "focus glob, e.g. **/*.go (repeatable)")
	agentCmd.AddCommand(agentRegisterCmd)
	agentCmd.AddCommand(agentListCmd)
	rootCmd.AddCommand(agentCmd)
}
