package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dot-do/todo/internal/dag"
	"github.com/dot-do/todo/internal/types"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an issue with its dependencies and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		issue, err := store.GetIssue(cmd.Context(), id)
		if err != nil {
			return err
		}
		deps, err := store.GetDependencyRecords(cmd.Context(), id)
		if err != nil {
			return err
		}
		events, err := store.GetEvents(cmd.Context(), id, 20)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"issue":        issue,
				"dependencies": deps,
				"events":       events,
			})
			return nil
		}

		fmt.Printf("%s: %s\n", issue.ID, issue.Title)
		fmt.Printf("  Status:   %s\n", issue.Status)
		fmt.Printf("  Priority: P%d\n", issue.Priority)
		fmt.Printf("  Type:     %s\n", issue.IssueType)
		if issue.Assignee != "" {
			fmt.Printf("  Assignee: %s\n", issue.Assignee)
		}
		if issue.ParentID != "" {
			fmt.Printf("  Parent:   %s\n", issue.ParentID)
		}
		if len(issue.Labels) > 0 {
			fmt.Printf("  Labels:   %s\n", strings.Join(issue.Labels, ", "))
		}
		if issue.RemoteNumber != 0 {
			fmt.Printf("  Remote:   #%d %s\n", issue.RemoteNumber, issue.RemoteURL)
		}
		if issue.CloseReason != "" {
			fmt.Printf("  Closed:   %s\n", issue.CloseReason)
		}
		if issue.Description != "" {
			fmt.Printf("\n%s\n", issue.Description)
		}

		if len(deps) > 0 {
			fmt.Println("\nDependencies:")
			for _, dep := range deps {
				fmt.Printf("  %s -> %s (%s)\n", dep.IssueID, dep.DependsOnID, dep.Type)
			}
		}

		graph, err := dag.Snapshot(cmd.Context(), store)
		if err != nil {
			return err
		}
		if blockers := graph.BlockedBy(id); len(blockers) > 0 {
			fmt.Printf("\nBlocked by: %s\n", strings.Join(blockers, ", "))
		}
		if unblocks := graph.Unblocks(id); len(unblocks) > 0 {
			ids := make([]string, len(unblocks))
			for i, u := range unblocks {
				ids[i] = u.ID
			}
			fmt.Printf("Unblocks:   %s\n", strings.Join(ids, ", "))
		}

		if len(events) > 0 {
			fmt.Println("\nHistory:")
			for _, ev := range events {
				printEventLine(ev)
			}
		}
		return nil
	},
}

func printEventLine(ev *types.Event) {
	detail := ""
	if ev.NewValue != nil {
		detail = " " + *ev.NewValue
	}
	fmt.Printf("  %s %-20s %s%s\n", ev.CreatedAt.Format("2006-01-02 15:04"), ev.EventType, ev.Actor, detail)
}

func init() {
	rootCmd.AddCommand(showCmd)
}
