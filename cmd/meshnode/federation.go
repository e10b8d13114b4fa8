package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func federationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "federation", Short: "inspect federation sync status"}

	status := &cobra.Command{
		Use:   "status [scope]",
		Short: "print the local status report for a federation scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := bootstrapRuntime()
			if err != nil {
				return err
			}
			report, err := rt.Federation.LocalStatus(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("scope=%s root=%s pin_count=%d reported_at=%s\n",
				report.Scope, report.Root.String(), report.PinCount, report.ReportedAt)
			return nil
		},
	}

	cmd.AddCommand(status)
	return cmd
}
