package output

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/pkg/errors"
	"github.com/inferloop/kpicore/pkg/models"
)

const (
	redisManifestKeyPrefix = "kpicore:manifest:"
	redisLatestKey         = "kpicore:manifest:latest"
)

// RedisSink mirrors run manifests into a Redis cache so dashboards can
// fetch the latest run without touching manifest storage.
type RedisSink struct {
	name   string
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisSink creates a cache sink from a sink definition.
func NewRedisSink(cfg *config.SinkConfig, logger *logrus.Logger) (*RedisSink, error) {
	if cfg.Addr == "" {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("sink %q requires addr", cfg.Name))
	}
	if logger == nil {
		logger = logrus.New()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Secret(cfg.PasswordEnv),
		DB:       cfg.DB,
	})

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	return &RedisSink{
		name:   cfg.Name,
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Name returns the configured sink name.
func (r *RedisSink) Name() string {
	return r.name
}

// Write stores the manifest under its run key and refreshes the latest
// pointer.
func (r *RedisSink) Write(ctx context.Context, manifest *models.RunManifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeSink, errors.CodeSinkWriteFailed,
			"failed to serialize manifest")
	}

	key := redisManifestKeyPrefix + manifest.RunID
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return errors.WrapSinkError(err, errors.CodeSinkWriteFailed,
			fmt.Sprintf("failed to write key %s", key))
	}
	if err := r.client.Set(ctx, redisLatestKey, data, r.ttl).Err(); err != nil {
		return errors.WrapSinkError(err, errors.CodeSinkWriteFailed,
			"failed to update latest manifest key")
	}

	r.logger.WithFields(logrus.Fields{
		"run_id": manifest.RunID,
		"key":    key,
	}).Info("Manifest mirrored to cache")

	return nil
}

// Close releases the Redis connection.
func (r *RedisSink) Close() error {
	return r.client.Close()
}
