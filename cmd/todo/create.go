package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dot-do/todo/internal/idgen"
	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/types"
)

// maxIDAttempts bounds nonce retries on id collisions.
const maxIDAttempts = 10

var createCmd = &cobra.Command{
	Use:     "create <title>",
	Aliases: []string{"new"},
	Short:   "Create a new issue",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := strings.TrimSpace(args[0])
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetInt("priority")
		issueType, _ := cmd.Flags().GetString("type")
		assignee, _ := cmd.Flags().GetString("assignee")
		parent, _ := cmd.Flags().GetString("parent")
		labels, _ := cmd.Flags().GetStringArray("label")

		actor := getActor()
		now := time.Now()

		issue := &types.Issue{
			Title:       title,
			Description: description,
			Priority:    priority,
			IssueType:   types.IssueType(issueType),
			Assignee:    assignee,
			ParentID:    parent,
			Labels:      labels,
		}
		issue.SetDefaults()
		if err := issue.Validate(); err != nil {
			return err
		}

		// Content-hashed ids can collide across nonces in theory; retry
		// with an incremented nonce until the store accepts the row.
		var created bool
		for nonce := 0; nonce < maxIDAttempts; nonce++ {
			issue.ID = idgen.NewID(title, actor, now, nonce)
			err := store.CreateIssue(cmd.Context(), issue, actor)
			if err == nil {
				created = true
				break
			}
			if !isDuplicateID(err) {
				return err
			}
		}
		if !created {
			return fmt.Errorf("could not mint a unique issue id after %d attempts", maxIDAttempts)
		}

		if jsonOutput {
			outputJSON(issue)
			return nil
		}
		fmt.Printf("Created %s: %s\n", issue.ID, issue.Title)
		return nil
	},
}

// isDuplicateID reports whether the create failed because the id is
// already taken, as opposed to a validation or storage error.
func isDuplicateID(err error) bool {
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "already exists")
}

func init() {
	createCmd.Flags().StringP("description", "d", "", "issue description")
	createCmd.Flags().IntP("priority", "p", 2, "priority (0=critical .. 4=backlog)")
	createCmd.Flags().StringP("type", "t", "task", "issue type (bug|feature|task|epic|chore)")
	createCmd.Flags().String("assignee", "", "assignee")
	createCmd.Flags().String("parent", "", "parent epic id")
	createCmd.Flags().StringArrayP("label", "l", nil, "label (repeatable)")
	rootCmd.AddCommand(createCmd)
}
