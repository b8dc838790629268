package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var assignCmd = &cobra.Command{
	Use:   "assign <owner/repo>",
	Short: "Assign ready issues to matching agents and start development workflows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, err := parseRepoArg(args[0])
		if err != nil {
			return err
		}
		repo, err := store.GetRepo(cmd.Context(), owner, name)
		if err != nil {
			return fmt.Errorf("repo %s is not tracked: %w", args[0], err)
		}

		// Workflows started here persist immediately; todo serve resumes
		// and drives them. This command only records the assignments.
		orc, _ := newOrchestrator()
		assignments, err := orc.AssignReadyIssues(cmd.Context(), repo.Owner, repo.Name, repo.InstallationID)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(assignments)
			return nil
		}
		if len(assignments) == 0 {
			fmt.Println("Nothing to assign.")
			return nil
		}
		for _, a := range assignments {
			fmt.Printf("%s -> %s (confidence %.2f) workflow %s\n", a.Issue.ID, a.Agent.ID, a.Confidence, a.WorkflowID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(assignCmd)
}
