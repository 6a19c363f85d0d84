package output

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/pkg/errors"
	"github.com/inferloop/kpicore/pkg/models"
)

// Sink is an external persistence target that mirrors local output on a
// best-effort basis. Sink failures never fail the run.
type Sink interface {
	Name() string
	Write(ctx context.Context, manifest *models.RunManifest) error
}

// BuildSinks constructs the configured sinks. Sinks disabled in
// configuration (including those disabled by a missing optional secret)
// are returned by name so their status can be recorded in the manifest.
func BuildSinks(cfgs []config.SinkConfig, logger *logrus.Logger) ([]Sink, []string, error) {
	if logger == nil {
		logger = logrus.New()
	}

	var sinks []Sink
	var disabled []string

	for i := range cfgs {
		cfg := &cfgs[i]
		if !cfg.Enabled {
			disabled = append(disabled, cfg.Name)
			continue
		}
		sink, err := buildSink(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, sink)
	}

	return sinks, disabled, nil
}

func buildSink(cfg *config.SinkConfig, logger *logrus.Logger) (Sink, error) {
	switch cfg.Type {
	case config.SinkTypeS3:
		return NewS3Sink(cfg, logger)
	case config.SinkTypePostgres:
		return NewPostgresSink(cfg, logger)
	case config.SinkTypeRedis:
		return NewRedisSink(cfg, logger)
	default:
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("sink %q has unknown type %q", cfg.Name, cfg.Type))
	}
}
