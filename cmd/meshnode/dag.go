package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"synnergy-network/core"
)

func dagCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "dag", Short: "inspect and manage the content-addressed DAG store"}

	status := &cobra.Command{
		Use:   "status",
		Short: "print the merkle root and pinned block count",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := bootstrapRuntime()
			if err != nil {
				return err
			}
			root, err := rt.Store.MerkleRoot()
			if err != nil {
				return err
			}
			fmt.Printf("merkle_root=%s pinned=%d\n", root.String(), rt.Store.PinnedCount())
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get [cid]",
		Short: "fetch a block by Cid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := bootstrapRuntime()
			if err != nil {
				return err
			}
			cid, err := core.ParseCid(args[0])
			if err != nil {
				return err
			}
			block, ok, err := rt.Store.Get(cid)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("block %s not found", cid.String())
			}
			fmt.Printf("author=%s scope=%q data_len=%d\n", block.AuthorDid.String(), block.Scope, len(block.Data))
			return nil
		},
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "remove unpinned, unreachable blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := bootstrapRuntime()
			if err != nil {
				return err
			}
			n, err := rt.Store.Prune()
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d blocks\n", n)
			return nil
		},
	}

	cmd.AddCommand(status, get, prune)
	return cmd
}
