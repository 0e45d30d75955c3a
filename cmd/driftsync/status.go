package main

import (
	"context"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <target-id>",
	Short: "Show the sync job state for a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		state, err := rt.engine.Status(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(state)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
