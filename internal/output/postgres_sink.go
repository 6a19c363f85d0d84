package output

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/pkg/errors"
	"github.com/inferloop/kpicore/pkg/models"
)

const defaultManifestTable = "kpi_run_manifests"

// PostgresSink mirrors run manifests into a managed Postgres table.
type PostgresSink struct {
	name   string
	table  string
	dsn    string
	logger *logrus.Logger

	mu sync.Mutex
	db *sql.DB
}

// NewPostgresSink creates a database sink from a sink definition. The
// connection is opened lazily on first write so an unreachable database
// surfaces as a sink failure, not a startup failure.
func NewPostgresSink(cfg *config.SinkConfig, logger *logrus.Logger) (*PostgresSink, error) {
	if cfg.DSNEnv == "" {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("sink %q requires dsn_env", cfg.Name))
	}
	if logger == nil {
		logger = logrus.New()
	}
	table := cfg.Table
	if table == "" {
		table = defaultManifestTable
	}
	return &PostgresSink{
		name:   cfg.Name,
		table:  table,
		dsn:    cfg.Secret(cfg.DSNEnv),
		logger: logger,
	}, nil
}

// Name returns the configured sink name.
func (p *PostgresSink) Name() string {
	return p.name
}

// Write inserts one row per run: identity, checksums, quality score and
// the full manifest JSON. Runs are insert-only; a re-run is a new row.
func (p *PostgresSink) Write(ctx context.Context, manifest *models.RunManifest) error {
	db, err := p.connect(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeSink, errors.CodeSinkWriteFailed,
			"failed to serialize manifest")
	}

	var score float64
	if manifest.QualityReport != nil {
		score = manifest.QualityReport.Score
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(run_id, schema_version, input_checksum, output_checksum, quality_score, manifest, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, p.table)

	_, err = db.ExecContext(ctx, query,
		manifest.RunID,
		manifest.SchemaVersion,
		manifest.InputChecksum,
		manifest.OutputChecksum,
		score,
		data,
		manifest.CreatedAt,
	)
	if err != nil {
		return errors.WrapSinkError(err, errors.CodeSinkWriteFailed,
			fmt.Sprintf("failed to insert manifest row into %s", p.table))
	}

	p.logger.WithFields(logrus.Fields{
		"run_id": manifest.RunID,
		"table":  p.table,
	}).Info("Manifest mirrored to database")

	return nil
}

func (p *PostgresSink) connect(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return p.db, nil
	}

	db, err := sql.Open("postgres", p.dsn)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSink, errors.CodeSinkWriteFailed,
			"failed to open database connection")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.WrapSinkError(err, errors.CodeSinkWriteFailed,
			"database is unreachable")
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run_id TEXT PRIMARY KEY,
		schema_version TEXT NOT NULL,
		input_checksum TEXT NOT NULL,
		output_checksum TEXT NOT NULL,
		quality_score DOUBLE PRECISION NOT NULL,
		manifest JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`, p.table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.WrapError(err, errors.ErrorTypeSink, errors.CodeSinkWriteFailed,
			fmt.Sprintf("failed to ensure table %s", p.table))
	}

	p.db = db
	return db, nil
}

// Close releases the database connection.
func (p *PostgresSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		return err
	}
	return nil
}
