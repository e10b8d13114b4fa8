package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"synnergy-network/core"
)

func meshCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mesh", Short: "submit and inspect mesh compute jobs"}

	submit := &cobra.Command{
		Use:   "submit-job [kind] [base-cost]",
		Short: "submit a job manifest and announce it for bidding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cfg, err := bootstrapRuntime()
			if err != nil {
				return err
			}
			signer, err := loadOrCreateSigner(cfg)
			if err != nil {
				return err
			}
			var baseCost uint64
			if _, err := fmt.Sscanf(args[1], "%d", &baseCost); err != nil {
				return fmt.Errorf("invalid base cost %q: %w", args[1], err)
			}
			jobId, err := rt.Jobs.Submit(context.Background(), core.JobSpec{Kind: args[0]}, signer.Did(), baseCost, nil)
			if err != nil {
				return err
			}
			fmt.Println(jobId.String())
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get-job [job-id]",
		Short: "print a job's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := bootstrapRuntime()
			if err != nil {
				return err
			}
			jobId, err := core.ParseCid(args[0])
			if err != nil {
				return err
			}
			job, ok := rt.Jobs.Job(jobId)
			if !ok {
				return fmt.Errorf("job %s not found", jobId.String())
			}
			fmt.Printf("status=%s attempts=%d cost_mana=%d\n", job.Status, job.Attempts, job.CostMana)
			return nil
		},
	}

	cmd.AddCommand(submit, get)
	return cmd
}
