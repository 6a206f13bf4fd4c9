// Package main implements the herd worker, a resource that announces
// itself to a coordinator and keeps its registration fresh.
//
// The worker:
//   - Registers with its identity and an opaque descriptor
//   - Retries registration while the coordinator starts up
//   - Sends a heartbeat every interval
//   - Reconnects and re-registers after a send failure
//
// Example usage:
//
//	# Start a worker against a local coordinator
//	HERD_COORDINATOR_URI=tcp://localhost:9998 \
//	HERD_WORKER_DESCRIPTOR='cpu=8,mem=32g' \
//	./worker run
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamware/herd/internal/config"
	"github.com/dreamware/herd/internal/identity"
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
		Use:   "worker",
		Short: "herd worker: registers with a coordinator and sends heartbeats",
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
	return cmd
}

// Create the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "herd worker %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

// Create the run command
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Register and heartbeat until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadWorkerConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, cfg)
		},
	}
	cmd.Flags().String("coordinator", "", "coordinator address (tcp://host:port or nats://host:port)")
	cmd.Flags().String("id", "", "worker identity (UUID); generated when unset")
	cmd.Flags().String("descriptor", "", "opaque descriptor sent with the registration")
	cmd.Flags().Duration("interval", 0, "heartbeat interval")
	return cmd
}

func loadWorkerConfig(cmd *cobra.Command) (config.Worker, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Worker{}, err
	}
	if level, _ := cmd.Flags().GetString("log"); level != "" {
		cfg.Log.Level = level
	}
	if err := logger.Init(cfg.Log); err != nil {
		return config.Worker{}, err
	}

	w := cfg.Worker
	if v, _ := cmd.Flags().GetString("coordinator"); v != "" {
		w.CoordinatorURI = v
	}
	if v, _ := cmd.Flags().GetString("id"); v != "" {
		w.ID = v
	}
	if v, _ := cmd.Flags().GetString("descriptor"); v != "" {
		w.Descriptor = v
	}
	if v, _ := cmd.Flags().GetDuration("interval"); v > 0 {
		w.HeartbeatInterval = v
	}
	return w, nil
}

// runWorker validates cfg and runs a worker until ctx is done.
func runWorker(ctx context.Context, cfg config.Worker) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var id identity.ID
	if cfg.ID != "" {
		parsed, err := identity.Parse(cfg.ID)
		if err != nil {
			return fmt.Errorf("worker id: %w", err)
		}
		id = parsed
	}

	dial, err := dialerFor(cfg)
	if err != nil {
		return err
	}

	w := NewWorker(WorkerOptions{
		ID:                id,
		Dial:              dial,
		Descriptor:        []byte(cfg.Descriptor),
		HeartbeatInterval: cfg.HeartbeatInterval,
		RegisterRetries:   cfg.RegisterRetries,
		Logger:            logger.GetLogger(),
	})
	return w.Run(ctx)
}

// Main entry point
func main() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
