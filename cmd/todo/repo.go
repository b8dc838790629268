package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dot-do/todo/internal/types"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage tracked GitHub repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <owner/repo>",
	Short: "Track a repository for sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, err := parseRepoArg(args[0])
		if err != nil {
			return err
		}
		installationID, _ := cmd.Flags().GetInt64("installation")
		disabled, _ := cmd.Flags().GetBool("disabled")

		repo := &types.Repo{
			Owner:          owner,
			Name:           name,
			InstallationID: installationID,
			SyncEnabled:    !disabled,
		}
		if err := store.UpsertRepo(cmd.Context(), repo); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(repo)
			return nil
		}
		fmt.Printf("Tracking %s (installation %d)\n", repo.FullName(), installationID)
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		repos, err := store.ListRepos(cmd.Context(), false)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(repos)
			return nil
		}
		if len(repos) == 0 {
			fmt.Println("No tracked repositories.")
			return nil
		}
		for _, repo := range repos {
			state := "enabled"
			if !repo.SyncEnabled {
				state = "disabled"
			}
			line := fmt.Sprintf("%-40s %s", repo.FullName(), state)
			if repo.SyncStatus != "" {
				line += " sync:" + repo.SyncStatus
			}
			if repo.LastSyncAt != nil {
				line += " last:" + repo.LastSyncAt.Format("2006-01-02 15:04")
			}
			if repo.SyncError != "" {
				line += " error:" + repo.SyncError
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	repoAddCmd.Flags().Int64("installation", 0, "GitHub App installation id")
	repoAddCmd.Flags().Bool("disabled", false, "track without enabling sync")
	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
	rootCmd.AddCommand(repoCmd)
}
