package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "identity", Short: "manage this node's Did keypair"}

	show := &cobra.Command{
		Use:   "show",
		Short: "print this node's Did",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			signer, err := loadOrCreateSigner(cfg)
			if err != nil {
				return err
			}
			fmt.Println(signer.Did().String())
			return nil
		},
	}

	rotate := &cobra.Command{
		Use:   "rotate",
		Short: "rotate this node's keypair, binding the new Did to the previous one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			signer, err := loadOrCreateSigner(cfg)
			if err != nil {
				return err
			}
			event, mnemonic, err := signer.Rotate()
			if err != nil {
				return err
			}
			path := cfg.Identity.KeyPath
			if path == "" {
				path = "data/identity.key"
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(mnemonic+"\n"), 0o600); err != nil {
				return err
			}
			fmt.Printf("rotated %s -> %s\n", event.PreviousDid.String(), event.NewDid.String())
			fmt.Println("new mnemonic persisted to", path)
			return nil
		},
	}

	cmd.AddCommand(show, rotate)
	return cmd
}
