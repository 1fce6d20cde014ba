package main

import (
	"github.com/spf13/cobra"

	"conductor/internal/supervisor"
)

// serveCmd runs the orchestrator loop until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatcher and improvement loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		sup, err := supervisor.New(cfg, logger)
		if err != nil {
			return err
		}
		defer sup.Close()
		return sup.Run(cmd.Context())
	},
}
