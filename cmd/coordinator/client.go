package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/herd/internal/admin"
)

const requestTimeout = 5 * time.Second

func statusClient(cmd *cobra.Command) *admin.Client {
	addr, _ := cmd.Flags().GetString("status")
	return admin.NewClient(addr)
}

func addStatusFlag(cmd *cobra.Command) {
	cmd.Flags().String("status", "localhost:8080", "address of the coordinator status view")
}

// Create the submit command
func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit NAME",
		Short: "Submit a job to a running coordinator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := cmd.Flags().GetString("payload")
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			handle, err := statusClient(cmd).SubmitJob(ctx, admin.SubmitJobRequest{
				Name:    args[0],
				Payload: []byte(payload),
			})
			if err != nil {
				return fmt.Errorf("submitting job: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), handle)
			return nil
		},
	}
	addStatusFlag(cmd)
	cmd.Flags().String("payload", "", "opaque job payload")
	return cmd
}

// Create the resources command
func newResourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List resources known to a running coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			res, err := statusClient(cmd).Resources(ctx)
			if err != nil {
				return fmt.Errorf("listing resources: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tLAST SEEN\tDESCRIPTOR")
			for _, r := range res.Resources {
				status := r.Status
				if status == "" {
					status = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d bytes\n", r.ID, status, r.LastSeen.Format(time.RFC3339), len(r.Descriptor))
			}
			return tw.Flush()
		},
	}
	addStatusFlag(cmd)
	return cmd
}

// Create the jobs command
func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs recorded by a running coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			res, err := statusClient(cmd).Jobs(ctx)
			if err != nil {
				return fmt.Errorf("listing jobs: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HANDLE\tNAME\tSUBMITTED")
			for _, j := range res.Jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", j.Handle, j.Name, j.SubmittedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	addStatusFlag(cmd)
	return cmd
}
