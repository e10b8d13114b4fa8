package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"synnergy-network/core"
)

func governanceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "governance", Short: "submit, vote on, and tally governance proposals"}

	submit := &cobra.Command{
		Use:   "submit [description] [quorum] [threshold] [duration-minutes]",
		Short: "submit a new governance proposal",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cfg, err := bootstrapRuntime()
			if err != nil {
				return err
			}
			signer, err := loadOrCreateSigner(cfg)
			if err != nil {
				return err
			}
			var quorum int
			var threshold float64
			var minutes int
			if _, err := fmt.Sscanf(args[1], "%d", &quorum); err != nil {
				return err
			}
			if _, err := fmt.Sscanf(args[2], "%f", &threshold); err != nil {
				return err
			}
			if _, err := fmt.Sscanf(args[3], "%d", &minutes); err != nil {
				return err
			}
			id, err := rt.Governance.Submit(signer.Did(), core.ProposalGeneric, args[0], time.Duration(minutes)*time.Minute, quorum, threshold)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}

	vote := &cobra.Command{
		Use:   "vote [proposal-id] [yes|no|abstain]",
		Short: "cast a vote on an active proposal",
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
			return rt.Governance.Vote(signer.Did(), args[0], core.VoteOption(args[1]))
		},
	}

	close := &cobra.Command{
		Use:   "close [proposal-id]",
		Short: "tally an expired proposal's votes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := bootstrapRuntime()
			if err != nil {
				return err
			}
			status, err := rt.Governance.Close(args[0])
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		},
	}

	cmd.AddCommand(submit, vote, close)
	return cmd
}
