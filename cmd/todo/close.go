package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var closeCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		if err := store.CloseIssue(cmd.Context(), args[0], reason, getActor()); err != nil {
			return err
		}
		if jsonOutput {
			issue, err := store.GetIssue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outputJSON(issue)
			return nil
		}
		fmt.Printf("Closed %s\n", args[0])
		return nil
	},
}

var reopenCmd = &cobra.Command{
	Use:   "reopen <id>",
	Short: "Reopen a closed issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.ReopenIssue(cmd.Context(), args[0], getActor()); err != nil {
			return err
		}
		if jsonOutput {
			issue, err := store.GetIssue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outputJSON(issue)
			return nil
		}
		fmt.Printf("Reopened %s\n", args[0])
		return nil
	},
}

func init() {
	closeCmd.Flags().StringP("reason", "r", "", "close reason")
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(reopenCmd)
}
