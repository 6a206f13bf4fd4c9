package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamware/herd/internal/config"
	"github.com/dreamware/herd/internal/logger"
)

var (
	version   = "0.1.0"
	commit    = ""
	buildDate = ""
)

// Create the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "herd coordinator: tracks cluster resources and their heartbeats",
		Long: "The coordinator accepts registrations and heartbeats from resources, " +
			"keeps the registry of known resources, and serves a read-only status view.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "", "Set log level. Available: trace, debug, info, warn, error")
	cmd.PersistentFlags().String("config", "", "config file (YAML)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newResourcesCmd())
	cmd.AddCommand(newJobsCmd())
	return cmd
}

// Create the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "herd coordinator %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

// loadConfig reads --config and the environment, applies --log, and
// installs the process logger.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if level, _ := cmd.Flags().GetString("log"); level != "" {
		cfg.Log.Level = level
	}
	if err := logger.Init(cfg.Log); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// Main entry point
func main() {
	root := newRootCmd()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
