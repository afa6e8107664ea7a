package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "pharmacy-billing",
	Short:         "Billing-cycle usage accounting for delivery merchants",
	Long:          `pharmacy-billing classifies every delivered order as FREE or OVERAGE against the merchant's plan quota and keeps rolling billing cycles consistent.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rolloverCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
