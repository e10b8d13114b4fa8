package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{Use: "meshnode", Short: "Mesh compute and governance node"}
	rootCmd.PersistentFlags().String("env", "", "environment overlay to merge on top of default config (e.g. dev, prod)")
	viper.BindPFlag("env", rootCmd.PersistentFlags().Lookup("env"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(identityCmd())
	rootCmd.AddCommand(dagCmd())
	rootCmd.AddCommand(manaCmd())
	rootCmd.AddCommand(meshCmd())
	rootCmd.AddCommand(governanceCmd())
	rootCmd.AddCommand(federationCmd())

	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("meshnode: command failed")
		os.Exit(1)
	}
}
