package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dot-do/todo/internal/types"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter types.IssueFilter

		if s, _ := cmd.Flags().GetString("status"); s != "" {
			status := types.Status(s)
			if !status.IsValid() {
				return fmt.Errorf("invalid status: %s", s)
			}
			filter.Status = &status
		}
		if t, _ := cmd.Flags().GetString("type"); t != "" {
			issueType := types.IssueType(t)
			if !issueType.IsValid() {
				return fmt.Errorf("invalid issue type: %s", t)
			}
			filter.IssueType = &issueType
		}
		if a, _ := cmd.Flags().GetString("assignee"); a != "" {
			filter.Assignee = &a
		}
		filter.Unassigned, _ = cmd.Flags().GetBool("unassigned")
		filter.Label, _ = cmd.Flags().GetString("label")
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		issues, err := store.ListIssues(cmd.Context(), filter)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(issues)
			return nil
		}
		if len(issues) == 0 {
			fmt.Println("No issues found.")
			return nil
		}
		for _, issue := range issues {
			printIssueLine(issue)
		}
		return nil
	},
}

func printIssueLine(issue *types.Issue) {
	extra := ""
	if issue.Assignee != "" {
		extra = " @" + issue.Assignee
	}
	if len(issue.Labels) > 0 {
		extra += " [" + strings.Join(issue.Labels, ",") + "]"
	}
	fmt.Printf("%-12s P%d %-11s %s%s\n", issue.ID, issue.Priority, issue.Status, issue.Title, extra)
}

func init() {
	listCmd.Flags().StringP("status", "s", "", "filter by status (open|in_progress|blocked|closed)")
	listCmd.Flags().StringP("type", "t", "", "filter by issue type")
	listCmd.Flags().StringP("assignee", "a", "", "filter by assignee")
	listCmd.Flags().Bool("unassigned", false, "only issues with no assignee")
	listCmd.Flags().StringP("label", "l", "", "filter by label")
	listCmd.Flags().IntP("limit", "n", 0, "limit results (0 = no limit)")
	rootCmd.AddCommand(listCmd)
}
