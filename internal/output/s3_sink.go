package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/pkg/errors"
	"github.com/inferloop/kpicore/pkg/models"
)

// S3Sink mirrors run manifests to an object storage bucket.
type S3Sink struct {
	name   string
	config *config.SinkConfig
	client *s3.S3
	logger *logrus.Logger
}

// NewS3Sink creates an object storage sink from a sink definition.
func NewS3Sink(cfg *config.SinkConfig, logger *logrus.Logger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("sink %q requires a bucket", cfg.Name))
	}
	if logger == nil {
		logger = logrus.New()
	}

	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.EndpointURL != "" {
		awsConfig.Endpoint = aws.String(cfg.EndpointURL)
	}
	if cfg.ForcePathStyle {
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKeyEnv != "" && cfg.SecretKeyEnv != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			cfg.Secret(cfg.AccessKeyEnv),
			cfg.Secret(cfg.SecretKeyEnv),
			"",
		)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			fmt.Sprintf("failed to create AWS session for sink %q", cfg.Name))
	}

	return &S3Sink{
		name:   cfg.Name,
		config: cfg,
		client: s3.New(sess),
		logger: logger,
	}, nil
}

// Name returns the configured sink name.
func (s *S3Sink) Name() string {
	return s.name
}

// Write uploads the manifest JSON under manifests/<run_id>.json.
func (s *S3Sink) Write(ctx context.Context, manifest *models.RunManifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeSink, errors.CodeSinkWriteFailed,
			"failed to serialize manifest")
	}

	key := path.Join(s.config.Prefix, "manifests", manifest.RunID+".json")
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errors.WrapSinkError(err, errors.CodeSinkWriteFailed,
			fmt.Sprintf("failed to upload manifest to s3://%s/%s", s.config.Bucket, key))
	}

	s.logger.WithFields(logrus.Fields{
		"run_id": manifest.RunID,
		"bucket": s.config.Bucket,
		"key":    key,
	}).Info("Manifest mirrored to object storage")

	return nil
}
