package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dot-do/todo/internal/config"
	"github.com/dot-do/todo/internal/sync"
	"github.com/dot-do/todo/internal/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync [owner/repo]",
	Short: "Synchronize issues with GitHub (bidirectional)",
	Long: `Synchronize the local store with GitHub issues. With an owner/repo
argument only that repository is synced; otherwise every tracked
repository with sync enabled is synced in turn.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategyFlag, _ := cmd.Flags().GetString("strategy")
		if strategyFlag == "" {
			strategyFlag = config.GetString(config.KeySyncStrategy)
		}
		strategy, err := sync.ParseStrategy(strategyFlag)
		if err != nil {
			return err
		}

		var repos []*types.Repo
		if len(args) == 1 {
			owner, name, err := parseRepoArg(args[0])
			if err != nil {
				return err
			}
			repo, err := store.GetRepo(cmd.Context(), owner, name)
			if err != nil {
				return fmt.Errorf("repo %s is not tracked: %w", args[0], err)
			}
			repos = append(repos, repo)
		} else {
			repos, err = store.ListRepos(cmd.Context(), true)
			if err != nil {
				return err
			}
			if len(repos) == 0 {
				return fmt.Errorf("no tracked repositories; run todo repo add first")
			}
		}

		results := map[string]*sync.Result{}
		var failed bool
		for _, repo := range repos {
			engine, err := newSyncEngine(repo, strategy)
			if err != nil {
				return err
			}
			result, err := engine.Sync(cmd.Context(), strategy)
			now := time.Now()
			if err != nil {
				failed = true
				_ = store.SetRepoSyncStatus(cmd.Context(), repo.Owner, repo.Name, "error", err.Error(), now)
				fmt.Printf("%s: sync failed: %v\n", repo.FullName(), err)
				continue
			}
			if err := store.SetRepoSyncStatus(cmd.Context(), repo.Owner, repo.Name, "ok", "", now); err != nil {
				return err
			}
			results[repo.FullName()] = result
			if !jsonOutput {
				printSyncResult(repo.FullName(), result)
			}
		}

		if jsonOutput {
			outputJSON(results)
		}
		if failed {
			return fmt.Errorf("one or more repositories failed to sync")
		}
		return nil
	},
}

func printSyncResult(name string, result *sync.Result) {
	if result.Empty() {
		fmt.Printf("%s: up to date\n", name)
		return
	}
	fmt.Printf("%s: %d created, %d updated, %d conflicts, %d errors\n",
		name, len(result.Created), len(result.Updated), len(result.Conflicts), len(result.Errors))
	for _, c := range result.Conflicts {
		fmt.Printf("  conflict %s <-> #%d resolved toward %s\n", c.LocalID, c.RemoteNumber, c.Resolution)
	}
	for _, e := range result.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}

func init() {
	syncCmd.Flags().String("strategy", "", "conflict strategy (github-wins|local-wins|newest-wins)")
	rootCmd.AddCommand(syncCmd)
}
