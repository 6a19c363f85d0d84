package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/internal/pipeline"
)

// Exit codes for the CLI wrapper
const (
	ExitCompleted   = 0
	ExitFailed      = 1
	ExitConfigError = 2
)

type RunOptions struct {
	InputFile  string
	ConfigFile string
	Verbose    bool
}

func NewRunCmd() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run over an input extract",
		Example: `  # Run the pipeline over a portfolio extract
  kpicore run --config kpicore.yaml --input portfolio_2026_08.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Input CSV extract (required)")
	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "kpicore.yaml", "Configuration file")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose output")

	cmd.MarkFlagRequired("input")

	return cmd
}

func runPipeline(opts *RunOptions) error {
	logger := newLogger(opts.Verbose)

	cfg, err := config.Load(opts.ConfigFile, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(ExitConfigError)
	}

	orchestrator, err := pipeline.NewOrchestrator(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(ExitConfigError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := orchestrator.Run(ctx, opts.InputFile)
	if result.State != pipeline.StateCompleted {
		fmt.Fprintf(os.Stderr, "Run %s failed: %v\n", result.RunID, result.Err)
		os.Exit(ExitFailed)
	}

	manifest := result.Manifest
	fmt.Printf("Run %s completed\n", manifest.RunID)
	fmt.Printf("Input checksum:  %s\n", manifest.InputChecksum)
	fmt.Printf("Output checksum: %s\n", manifest.OutputChecksum)
	if manifest.QualityReport != nil {
		fmt.Printf("Quality score:   %.1f\n", manifest.QualityReport.Score)
	}
	for _, metric := range manifest.Metrics {
		fmt.Printf("  %-30s %12.4f  [%s]\n", metric.MetricName, metric.Value, metric.Status)
	}
	for name, sink := range manifest.SinkResults {
		fmt.Printf("  sink %-25s %s\n", name, sink.Status)
	}

	return nil
}

func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}
