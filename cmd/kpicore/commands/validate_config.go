package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/internal/metrics"
)

type ValidateConfigOptions struct {
	ConfigFile string
	Verbose    bool
}

func NewValidateConfigCmd() *cobra.Command {
	opts := &ValidateConfigOptions{}

	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate a pipeline configuration without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateConfig(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "kpicore.yaml", "Configuration file")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose output")

	return cmd
}

func runValidateConfig(opts *ValidateConfigOptions) error {
	logger := newLogger(opts.Verbose)

	cfg, err := config.Load(opts.ConfigFile, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(ExitConfigError)
	}

	registry, err := metrics.BuildRegistry(cfg.Metrics)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(ExitConfigError)
	}

	enabled := 0
	for _, sink := range cfg.Sinks {
		if sink.Enabled {
			enabled++
		}
	}

	fmt.Printf("Configuration OK\n")
	fmt.Printf("Metrics:         %d\n", registry.Len())
	fmt.Printf("Sinks enabled:   %d of %d\n", enabled, len(cfg.Sinks))
	fmt.Printf("Run id strategy: %s\n", cfg.RunIDStrategy)
	fmt.Printf("Manifest dir:    %s\n", cfg.Output.ManifestDir)

	return nil
}
