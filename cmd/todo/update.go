package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dot-do/todo/internal/types"
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update issue fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		updates := map[string]interface{}{}

		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			updates["title"] = title
		}
		if cmd.Flags().Changed("description") {
			description, _ := cmd.Flags().GetString("description")
			updates["description"] = description
		}
		if cmd.Flags().Changed("status") {
			s, _ := cmd.Flags().GetString("status")
			status := types.Status(s)
			if !status.IsValid() {
				return fmt.Errorf("invalid status: %s", s)
			}
			updates["status"] = string(status)
		}
		if cmd.Flags().Changed("priority") {
			priority, _ := cmd.Flags().GetInt("priority")
			if priority < 0 || priority > 4 {
				return fmt.Errorf("priority must be 0..4, got %d", priority)
			}
			updates["priority"] = priority
		}
		if cmd.Flags().Changed("assignee") {
			assignee, _ := cmd.Flags().GetString("assignee")
			updates["assignee"] = assignee
		}
		if cmd.Flags().Changed("label") {
			labels, _ := cmd.Flags().GetStringArray("label")
			updates["labels"] = labels
		}
		if len(updates) == 0 {
			return fmt.Errorf("no fields to update")
		}

		if err := store.UpdateIssue(cmd.Context(), id, updates, getActor()); err != nil {
			return err
		}

		issue, err := store.GetIssue(cmd.Context(), id)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(issue)
			return nil
		}
		fmt.Printf("Updated %s\n", id)
		return nil
	},
}

func init() {
	updateCmd.Flags().String("title", "", "new title")
	updateCmd.Flags().StringP("description", "d", "", "new description")
	updateCmd.Flags().StringP("status", "s", "", "new status")
	updateCmd.Flags().IntP("priority", "p", 0, "new priority (0..4)")
	updateCmd.Flags().String("assignee", "", "new assignee (empty clears)")
	updateCmd.Flags().StringArrayP("label", "l", nil, "replace labels (repeatable)")
	rootCmd.AddCommand(updateCmd)
}
