package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/knowledge"
)

var syncSourcesFile string

var syncCmd = &cobra.Command{
	Use:   "sync <target-id>",
	Short: "Run one sync for a target and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		var sources []knowledge.SyncSource
		if syncSourcesFile != "" {
			data, err := os.ReadFile(syncSourcesFile)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &sources); err != nil {
				return fmt.Errorf("parse sources file: %w", err)
			}
		}

		state, err := rt.engine.RunOnce(context.Background(), args[0], sources)
		if err != nil {
			return err
		}
		return printJSON(state)
	},
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func init() {
	syncCmd.Flags().StringVar(&syncSourcesFile, "sources", "", "JSON file with the source list to sync")
	rootCmd.AddCommand(syncCmd)
}
