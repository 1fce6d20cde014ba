package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conductor/internal/store"
	"conductor/internal/supervisor"
)

var enqueueDescription string

// enqueueCmd adds a pending task from the command line, bypassing the
// dashboard.
var enqueueCmd = &cobra.Command{
	Use:   "enqueue <project-id> <title...>",
	Short: "Enqueue a task for a project",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sup, err := supervisor.New(cfg, logger)
		if err != nil {
			return err
		}
		defer sup.Close()

		projectID := args[0]
		title := strings.Join(args[1:], " ")
		if _, err := sup.Store().GetProject(projectID); err != nil {
			return fmt.Errorf("failed to resolve project: %w", err)
		}
		id, err := sup.Store().InsertTask(store.Task{
			ProjectID:   projectID,
			Title:       title,
			Description: enqueueDescription,
		})
		if err != nil {
			return err
		}
		fmt.Printf("task %d enqueued for %s\n", id, projectID)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVarP(&enqueueDescription, "description", "d", "", "longer task description")
}
