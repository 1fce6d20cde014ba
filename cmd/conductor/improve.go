package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conductor/internal/supervisor"
)

var improveProjectID string

// improveCmd runs one improvement pass outside the serve loop, either
// for a single project or as a full sweep.
var improveCmd = &cobra.Command{
	Use:   "improve",
	Short: "Run one improvement sweep immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		sup, err := supervisor.New(cfg, logger)
		if err != nil {
			return err
		}
		defer sup.Close()

		if improveProjectID != "" {
			project, err := sup.Store().GetProject(improveProjectID)
			if err != nil {
				return fmt.Errorf("failed to resolve project: %w", err)
			}
			return sup.Engine().ImproveProject(cmd.Context(), project)
		}
		sup.Engine().Sweep(cmd.Context())
		return nil
	},
}

func init() {
	improveCmd.Flags().StringVarP(&improveProjectID, "project", "p", "", "improve a single project instead of sweeping all")
}
