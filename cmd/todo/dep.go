package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dot-do/todo/internal/types"
)

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage issue dependencies",
}

var depAddCmd = &cobra.Command{
	Use:   "add <issue> <depends-on>",
	Short: "Add a dependency edge (issue depends on depends-on)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		depType, _ := cmd.Flags().GetString("type")
		dep := &types.Dependency{
			IssueID:     args[0],
			DependsOnID: args[1],
			Type:        types.DependencyType(depType),
		}
		if !dep.Type.IsValid() {
			return fmt.Errorf("invalid dependency type: %s", depType)
		}
		if err := store.AddDependency(cmd.Context(), dep, getActor()); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(dep)
			return nil
		}
		fmt.Printf("%s now depends on %s (%s)\n", args[0], args[1], dep.Type)
		return nil
	},
}

var depRemoveCmd = &cobra.Command{
	Use:     "remove <issue> <depends-on>",
	Aliases: []string{"rm"},
	Short:   "Remove a dependency edge",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.RemoveDependency(cmd.Context(), args[0], args[1], getActor()); err != nil {
			return err
		}
		fmt.Printf("Removed dependency %s -> %s\n", args[0], args[1])
		return nil
	},
}

var depListCmd = &cobra.Command{
	Use:   "list <issue>",
	Short: "List an issue's dependency records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := store.GetDependencyRecords(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(deps)
			return nil
		}
		if len(deps) == 0 {
			fmt.Println("No dependencies.")
			return nil
		}
		for _, dep := range deps {
			fmt.Printf("%s -> %s (%s)\n", dep.IssueID, dep.DependsOnID, dep.Type)
		}
		return nil
	},
}

func init() {
	depAddCmd.Flags().StringP("type", "t", string(types.DepBlocks), "dependency type (blocks|related|parent|discovers)")
	depCmd.AddCommand(depAddCmd)
	depCmd.AddCommand(depRemoveCmd)
	depCmd.AddCommand(depListCmd)
	rootCmd.AddCommand(depCmd)
}
