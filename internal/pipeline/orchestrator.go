package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/internal/ingest"
	"github.com/inferloop/kpicore/internal/metrics"
	"github.com/inferloop/kpicore/internal/observability"
	"github.com/inferloop/kpicore/internal/output"
	"github.com/inferloop/kpicore/internal/quality"
	"github.com/inferloop/kpicore/internal/transform"
	"github.com/inferloop/kpicore/pkg/errors"
	"github.com/inferloop/kpicore/pkg/models"
)

// RunState is the orchestrator phase state machine.
type RunState string

const (
	StateCreated          RunState = "created"
	StateIngesting        RunState = "ingesting"
	StateTransforming     RunState = "transforming"
	StateCalculating      RunState = "calculating"
	StateReportingQuality RunState = "reporting_quality"
	StateFinalizing       RunState = "finalizing"
	StateCompleted        RunState = "completed"
	StateFailed           RunState = "failed"
)

// RunResult is the terminal outcome of one pipeline execution.
type RunResult struct {
	RunID    string
	State    RunState
	Manifest *models.RunManifest
	Err      error
}

// Orchestrator sequences the pipeline phases under one run identifier and
// aggregates the audit trail. It owns no business logic of its own.
type Orchestrator struct {
	logger      *logrus.Logger
	config      *config.Config
	ingestor    *ingest.Engine
	transformer *transform.Engine
	registry    *metrics.Registry
	calculator  *metrics.Engine
	reporter    *quality.Reporter
	output      *output.Manager
}

// NewOrchestrator wires every phase engine from one configuration. A bad
// registry or sink definition fails here, before any run starts.
func NewOrchestrator(cfg *config.Config, logger *logrus.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = logrus.New()
	}

	registry, err := metrics.BuildRegistry(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	sinks, disabled, err := output.BuildSinks(cfg.Sinks, logger)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		logger:      logger,
		config:      cfg,
		ingestor:    ingest.NewEngine(&cfg.Dataset, cfg.Timeouts.Ingest, logger),
		transformer: transform.NewEngine(&cfg.Normalization, cfg.Dataset.ColumnTypes, logger),
		registry:    registry,
		calculator:  metrics.NewEngine(logger),
		reporter:    quality.NewReporter(&cfg.Quality, logger),
		output:      output.NewManager(&cfg.Output, &cfg.Timeouts, cfg.Retry, sinks, disabled, logger),
	}, nil
}

// Run executes one pipeline run over a single input file. Terminal errors
// from ingestion or transformation reach Failed; calculation, quality and
// sink degradation reach Completed with the degradation recorded in the
// manifest. Only a local persistence failure fails the run after
// calculation.
func (o *Orchestrator) Run(ctx context.Context, inputPath string) *RunResult {
	runCtx := models.NewRunContext(o.runID(inputPath))
	log := o.logger.WithFields(logrus.Fields{"run_id": runCtx.RunID, "input": inputPath})

	log.Info("Pipeline run started")
	runCtx.Audit("orchestrator", "run:start", "info", map[string]interface{}{
		"input_path":      inputPath,
		"run_id_strategy": o.config.RunIDStrategy,
	})

	// Ingesting
	if cancelled := o.checkCancelled(ctx, runCtx, StateIngesting); cancelled != nil {
		return o.failed(runCtx, StateIngesting, cancelled)
	}
	var raw *models.RawDataset
	err := o.timedPhase(string(StateIngesting), func() error {
		var phaseErr error
		raw, phaseErr = o.ingestor.Ingest(ctx, runCtx, inputPath)
		return phaseErr
	})
	if err != nil {
		return o.failed(runCtx, StateIngesting, err)
	}

	// Transforming
	if cancelled := o.checkCancelled(ctx, runCtx, StateTransforming); cancelled != nil {
		return o.failed(runCtx, StateTransforming, cancelled)
	}
	var normalized *models.NormalizedDataset
	err = o.timedPhase(string(StateTransforming), func() error {
		var phaseErr error
		normalized, phaseErr = o.transformer.Transform(ctx, runCtx, raw)
		return phaseErr
	})
	if err != nil {
		return o.failed(runCtx, StateTransforming, err)
	}

	// Calculating and ReportingQuality share the read-only dataset, so
	// they can run concurrently. Neither mutates it.
	if cancelled := o.checkCancelled(ctx, runCtx, StateCalculating); cancelled != nil {
		return o.failed(runCtx, StateCalculating, cancelled)
	}
	var (
		results []models.MetricResult
		report  *models.DataQualityReport
		wg      sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = o.timedPhase(string(StateCalculating), func() error {
			results = o.calculator.Calculate(ctx, runCtx, normalized, o.registry)
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		_ = o.timedPhase(string(StateReportingQuality), func() error {
			report = o.reporter.Audit(normalized, o.config.Dataset.RequiredColumns, o.config.Dataset.ColumnTypes)
			return nil
		})
	}()
	wg.Wait()

	runCtx.Audit("quality", "quality:report", "info", map[string]interface{}{
		"score":    report.Score,
		"findings": len(report.Findings),
	})
	observability.QualityScore.Set(report.Score)

	if threshold := o.config.Quality.FailBelowScore; threshold > 0 && report.Score < threshold {
		return o.failed(runCtx, StateReportingQuality,
			errors.NewAppError(errors.ErrorTypeInternal, "QUALITY_BELOW_THRESHOLD",
				fmt.Sprintf("quality score %.1f is below configured threshold %.1f", report.Score, threshold)))
	}

	// Finalizing
	if cancelled := o.checkCancelled(ctx, runCtx, StateFinalizing); cancelled != nil {
		return o.failed(runCtx, StateFinalizing, cancelled)
	}
	var manifest *models.RunManifest
	err = o.timedPhase(string(StateFinalizing), func() error {
		var phaseErr error
		manifest, phaseErr = o.output.Finalize(ctx, runCtx, raw.ContentChecksum, results, report)
		return phaseErr
	})
	if err != nil {
		return o.failed(runCtx, StateFinalizing, err)
	}

	observability.RunsTotal.WithLabelValues(string(StateCompleted)).Inc()
	log.WithFields(logrus.Fields{
		"metrics":       len(manifest.Metrics),
		"quality_score": report.Score,
	}).Info("Pipeline run completed")

	return &RunResult{
		RunID:    runCtx.RunID,
		State:    StateCompleted,
		Manifest: manifest,
	}
}

// runID applies the configured strategy. The deterministic strategy
// derives the id from a hash of the input content so a byte-identical
// re-run reuses the identifier; a missing input falls back to a random id
// so the failure still correlates in the audit log.
func (o *Orchestrator) runID(inputPath string) string {
	if o.config.RunIDStrategy == config.RunIDDeterministic {
		if data, err := os.ReadFile(inputPath); err == nil {
			sum := sha256.Sum256(data)
			return "run-" + hex.EncodeToString(sum[:])[:32]
		}
	}
	return "run-" + uuid.NewString()
}

func (o *Orchestrator) timedPhase(phase string, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	return err
}

// checkCancelled implements between-phase cancellation: a cancelled run
// writes an audit entry and no manifest. Cancellation is a run-level
// condition, not a phase failure, so it carries the internal error type
// plus the phase it would have entered.
func (o *Orchestrator) checkCancelled(ctx context.Context, runCtx *models.RunContext, next RunState) error {
	if ctx.Err() == nil {
		return nil
	}
	runCtx.Audit("orchestrator", "run:cancelled", "warning", map[string]interface{}{
		"phase": string(next),
		"error": ctx.Err().Error(),
	})
	return errors.WrapError(errors.ErrRunCancelled, errors.ErrorTypeInternal,
		errors.CodeRunCancelled,
		fmt.Sprintf("run cancelled before %s phase", next)).
		WithContext("phase", string(next))
}

func (o *Orchestrator) failed(runCtx *models.RunContext, state RunState, err error) *RunResult {
	runCtx.Audit("orchestrator", "run:failed", "error", map[string]interface{}{
		"phase": string(state),
		"error": err.Error(),
	})
	observability.RunsTotal.WithLabelValues(string(StateFailed)).Inc()

	o.logger.WithFields(logrus.Fields{
		"run_id": runCtx.RunID,
		"phase":  string(state),
	}).WithError(err).Error("Pipeline run failed")

	return &RunResult{
		RunID: runCtx.RunID,
		State: StateFailed,
		Err:   err,
	}
}
