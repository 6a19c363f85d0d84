package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/kpicore/cmd/kpicore/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kpicore",
		Short: "Loan portfolio KPI computation pipeline",
		Long: `Ingests loan-portfolio extracts, computes a registry of collections
and risk metrics with a full audit trail, and emits a versioned,
lineage-tracked run manifest.`,
		Version: "0.1.0",
	}

	rootCmd.AddCommand(commands.NewRunCmd())
	rootCmd.AddCommand(commands.NewValidateConfigCmd())
	rootCmd.AddCommand(commands.NewLineageCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
