package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "driftsync",
	Short: "Incremental drive-to-knowledge-store synchronization",
	Long: `driftsync mirrors remote drive folders into a knowledge store via
cursor-based change feeds, with single-flight execution, safe cancellation,
and source-permission propagation.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ./config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
