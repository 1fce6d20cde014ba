package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"conductor/internal/store"
	"conductor/internal/supervisor"
)

// statusCmd prints a per-project snapshot: running runs, pending queue
// depth and the rolling summary.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue and per-project status",
	RunE: func(cmd *cobra.Command, args []string) error {
		sup, err := supervisor.New(cfg, logger)
		if err != nil {
			return err
		}
		defer sup.Close()
		st := sup.Store()

		running, err := st.RunningRuns()
		if err != nil {
			return err
		}
		pending, err := st.PendingTasks()
		if err != nil {
			return err
		}
		fmt.Printf("running runs: %d, pending tasks: %d\n\n", len(running), len(pending))
		for _, r := range running {
			fmt.Printf("  run %d  project=%s  task=%d  since=%s\n",
				r.ID, r.ProjectID, r.TaskID, r.CreatedAt.Format("2006-01-02 15:04:05"))
		}

		projects, err := st.ListProjects()
		if err != nil {
			return err
		}
		for _, p := range projects {
			fmt.Printf("project %s (%s)\n", p.ID, p.LocalDirectory)
			summary, err := st.GetProjectSummary(p.ID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				fmt.Println("  no summary yet")
			case err != nil:
				return err
			default:
				fmt.Printf("  status: %s\n", summary.CurrentStatus)
				fmt.Printf("  next:   %s\n", summary.NextMilestone)
			}
		}
		return nil
	},
}
