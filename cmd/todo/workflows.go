package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dot-do/todo/internal/workflow"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Inspect and control workflow instances",
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFlag, _ := cmd.Flags().GetString("status")

		var statuses []workflow.InstanceStatus
		if statusFlag != "" {
			statuses = []workflow.InstanceStatus{workflow.InstanceStatus(statusFlag)}
		} else {
			statuses = []workflow.InstanceStatus{
				workflow.StatusRunning, workflow.StatusPaused,
				workflow.StatusComplete, workflow.StatusFailed,
			}
		}

		var instances []*workflow.Instance
		for _, status := range statuses {
			batch, err := dbStore.ListInstances(cmd.Context(), status)
			if err != nil {
				return err
			}
			instances = append(instances, batch...)
		}

		if jsonOutput {
			outputJSON(instances)
			return nil
		}
		if len(instances) == 0 {
			fmt.Println("No workflow instances.")
			return nil
		}
		for _, inst := range instances {
			extra := ""
			if inst.WaitingEvent != "" {
				extra = " waiting:" + inst.WaitingEvent
			}
			if inst.Error != "" {
				extra = " error:" + inst.Error
			}
			fmt.Printf("%-40s %-16s %-9s%s\n", inst.ID, inst.Name, inst.Status, extra)
		}
		return nil
	},
}

var workflowsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one workflow instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := dbStore.GetInstance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(inst)
			return nil
		}
		fmt.Printf("%s (%s)\n", inst.ID, inst.Name)
		fmt.Printf("  Status:  %s\n", inst.Status)
		if inst.WaitingEvent != "" {
			fmt.Printf("  Waiting: %s", inst.WaitingEvent)
			if inst.WaitDeadline != nil {
				fmt.Printf(" until %s", inst.WaitDeadline.Format("2006-01-02 15:04"))
			}
			fmt.Println()
		}
		if inst.Error != "" {
			fmt.Printf("  Error:   %s\n", inst.Error)
		}
		fmt.Printf("  Params:  %s\n", string(inst.Params))
		return nil
	},
}

var workflowsTerminateCmd = &cobra.Command{
	Use:   "terminate <id>",
	Short: "Terminate a workflow instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, engine := newOrchestrator()
		if err := engine.Terminate(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Terminated %s\n", args[0])
		return nil
	},
}

var workflowsSendEventCmd = &cobra.Command{
	Use:   "send-event <id> <name> [payload]",
	Short: "Deliver an event to a waiting workflow instance",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := json.RawMessage(`{}`)
		if len(args) == 3 {
			if !json.Valid([]byte(args[2])) {
				return fmt.Errorf("payload is not valid JSON")
			}
			payload = json.RawMessage(args[2])
		}
		_, engine := newOrchestrator()
		if err := engine.SendEvent(cmd.Context(), args[0], args[1], payload); err != nil {
			return err
		}
		fmt.Printf("Sent %s to %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	workflowsListCmd.Flags().StringP("status", "s", "", "filter by status (running|paused|complete|failed)")
	workflowsCmd.AddCommand(workflowsListCmd)
	workflowsCmd.AddCommand(workflowsShowCmd)
	workflowsCmd.AddCommand(workflowsTerminateCmd)
	workflowsCmd.AddCommand(workflowsSendEventCmd)
	rootCmd.AddCommand(workflowsCmd)
}
