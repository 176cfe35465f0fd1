package artifact

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/erp/shopsync/internal/domain/sync"
	"github.com/erp/shopsync/internal/infrastructure/config"
)

// S3Writer implements sync.ArtifactWriter against an S3-compatible bucket
// (AWS S3, MinIO, RustFS). Keys follow the filesystem layout:
// <prefix>/<runID>/changes/<productNo>.json and <prefix>/<runID>/summary.json.
type S3Writer struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Writer creates an S3-backed artifact writer scoped to one run. With
// an empty endpoint the client talks to AWS using the ambient credential
// chain; static credentials and a custom endpoint select a compatible
// backend instead.
func NewS3Writer(ctx context.Context, cfg config.ArtifactConfig, runID string, log *zap.Logger) (*S3Writer, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("artifact: s3 bucket not configured")
	}
	if log == nil {
		log = zap.NewNop()
	}

	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.S3AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(normalizeEndpoint(cfg.S3Endpoint))
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	return &S3Writer{
		client: client,
		bucket: cfg.S3Bucket,
		prefix: path.Join(cfg.S3Prefix, sanitizeName(runID)),
		logger: log,
	}, nil
}

// WriteChangeSet uploads one product's change set.
func (w *S3Writer) WriteChangeSet(ctx context.Context, productNo string, data []byte) error {
	key := w.key("changes", sanitizeName(productNo)+".json")
	if err := w.put(ctx, key, data); err != nil {
		return fmt.Errorf("upload change set artifact for product %s: %w", productNo, err)
	}
	return nil
}

// WriteSummary uploads the run summary.
func (w *S3Writer) WriteSummary(ctx context.Context, runID string, data []byte) error {
	if err := w.put(ctx, w.key("summary.json"), data); err != nil {
		return fmt.Errorf("upload summary artifact for run %s: %w", runID, err)
	}
	return nil
}

func (w *S3Writer) put(ctx context.Context, key string, data []byte) error {
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return err
	}
	w.logger.Debug("Artifact mirrored to S3",
		zap.String("bucket", w.bucket),
		zap.String("key", key),
	)
	return nil
}

func (w *S3Writer) key(elem ...string) string {
	return path.Join(append([]string{w.prefix}, elem...)...)
}

func normalizeEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return "https://" + endpoint
}

var _ sync.ArtifactWriter = (*S3Writer)(nil)
