package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dot-do/todo/internal/dag"
)

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List issues ready to work on (open, no open blockers)",
	RunE: func(cmd *cobra.Command, args []string) error {
		graph, err := dag.Snapshot(cmd.Context(), store)
		if err != nil {
			return err
		}
		ready := graph.Ready()
		if jsonOutput {
			outputJSON(ready)
			return nil
		}
		if len(ready) == 0 {
			fmt.Println("No ready issues.")
			return nil
		}
		for _, issue := range ready {
			printIssueLine(issue)
		}
		return nil
	},
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List blocked issues with their blockers",
	RunE: func(cmd *cobra.Command, args []string) error {
		graph, err := dag.Snapshot(cmd.Context(), store)
		if err != nil {
			return err
		}
		blocked := graph.Blocked()
		if jsonOutput {
			outputJSON(blocked)
			return nil
		}
		if len(blocked) == 0 {
			fmt.Println("No blocked issues.")
			return nil
		}
		for _, issue := range blocked {
			fmt.Printf("%-12s P%d %s\n", issue.ID, issue.Priority, issue.Title)
			if len(issue.BlockedBy) > 0 {
				fmt.Printf("             blocked by: %s\n", strings.Join(issue.BlockedBy, ", "))
			}
		}
		return nil
	},
}

var unblocksCmd = &cobra.Command{
	Use:   "unblocks <id>",
	Short: "Show which issues closing this one would unblock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		graph, err := dag.Snapshot(cmd.Context(), store)
		if err != nil {
			return err
		}
		unblocked := graph.Unblocks(args[0])
		if jsonOutput {
			outputJSON(unblocked)
			return nil
		}
		if len(unblocked) == 0 {
			fmt.Printf("Closing %s unblocks nothing.\n", args[0])
			return nil
		}
		fmt.Printf("Closing %s unblocks:\n", args[0])
		for _, issue := range unblocked {
			printIssueLine(issue)
		}
		return nil
	},
}

var criticalPathCmd = &cobra.Command{
	Use:   "critical-path",
	Short: "Show the longest chain of open blocks-dependencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		graph, err := dag.Snapshot(cmd.Context(), store)
		if err != nil {
			return err
		}
		path := graph.CriticalPath()
		if jsonOutput {
			outputJSON(path)
			return nil
		}
		if len(path) == 0 {
			fmt.Println("No open dependency chains.")
			return nil
		}
		for i, issue := range path {
			fmt.Printf("%d. %-12s %s\n", i+1, issue.ID, issue.Title)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(readyCmd)
	rootCmd.AddCommand(blockedCmd)
	rootCmd.AddCommand(unblocksCmd)
	rootCmd.AddCommand(criticalPathCmd)
}
