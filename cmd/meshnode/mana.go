package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"synnergy-network/core"
)

func manaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mana", Short: "inspect the non-transferable mana ledger"}

	balance := &cobra.Command{
		Use:   "balance [did]",
		Short: "print an account's current mana balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := bootstrapRuntime()
			if err != nil {
				return err
			}
			did, err := core.ParseDid(args[0])
			if err != nil {
				return err
			}
			fmt.Println(rt.Mana.Balance(did))
			return nil
		},
	}

	cmd.AddCommand(balance)
	return cmd
}
