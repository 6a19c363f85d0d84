package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/internal/lineage"
	"github.com/inferloop/kpicore/internal/output"
)

type LineageOptions struct {
	ConfigFile string
	Addr       string
	Verbose    bool
}

func NewLineageCmd() *cobra.Command {
	opts := &LineageOptions{}

	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Serve the lineage query API over stored run manifests",
		Example: `  # Serve lineage queries on the default port
  kpicore lineage --config kpicore.yaml --addr :8085`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "kpicore.yaml", "Configuration file")
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8085", "Listen address")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose output")

	return cmd
}

func runLineage(opts *LineageOptions) error {
	logger := newLogger(opts.Verbose)

	cfg, err := config.LoadWithoutSecrets(opts.ConfigFile, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(ExitConfigError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := output.NewStore(cfg.Output.ManifestDir)
	server := lineage.NewServer(store, opts.Addr, logger)
	return server.Start(ctx)
}
