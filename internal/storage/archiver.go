package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

// Backend selects where snapshots are archived.
type Backend string

const (
	BackendLocal Backend = "local"
	BackendS3    Backend = "s3"
	BackendMinIO Backend = "minio"
)

// ArchiverConfig holds archiver configuration.
type ArchiverConfig struct {
	Backend Backend

	// Local backend
	LocalPath string

	// S3/MinIO backend
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// Snapshot is the archived payload: a point-in-time copy of the store's
// recent errors, metrics, alerts and health records.
type Snapshot struct {
	GeneratedAt time.Time                     `json:"generatedAt"`
	Errors      []telemetry.ErrorReport       `json:"errors"`
	Metrics     []telemetry.PerformanceMetric `json:"metrics"`
	Alerts      []telemetry.Alert             `json:"alerts"`
	Health      []telemetry.HealthCheck       `json:"health"`
}

// Archiver ships periodic JSON snapshots to local disk or S3-compatible
// storage. It is optional and disabled by default.
type Archiver struct {
	cfg      ArchiverConfig
	store    *telemetry.Store
	s3Client *s3.Client
	logger   *slog.Logger
}

// NewArchiver creates an archiver for the configured backend.
func NewArchiver(cfg ArchiverConfig, store *telemetry.Store, logger *slog.Logger) (*Archiver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archiver{cfg: cfg, store: store, logger: logger}

	switch cfg.Backend {
	case BackendLocal:
		if err := os.MkdirAll(cfg.LocalPath, 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
		logger.Info("initialized local snapshot archiver", "path", cfg.LocalPath)
	case BackendS3, BackendMinIO:
		client, err := a.createS3Client()
		if err != nil {
			return nil, fmt.Errorf("create S3 client: %w", err)
		}
		a.s3Client = client
		logger.Info("initialized S3 snapshot archiver",
			"endpoint", cfg.Endpoint,
			"bucket", cfg.Bucket,
		)
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", cfg.Backend)
	}
	return a, nil
}

func (a *Archiver) createS3Client() (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(a.cfg.Region))

	if a.cfg.AccessKeyID != "" && a.cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.cfg.AccessKeyID, a.cfg.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if a.cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(a.cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO
		})
	}
	return s3.NewFromConfig(cfg, clientOpts...), nil
}

// Archive captures and ships one snapshot. Failures are returned for the
// caller to log; they never affect the reporting path.
func (a *Archiver) Archive(ctx context.Context) error {
	snapshot := Snapshot{
		GeneratedAt: time.Now().UTC(),
		Errors:      a.store.Errors(telemetry.ErrorFilter{}),
		Metrics:     a.store.Metrics(telemetry.MetricFilter{}),
		Alerts:      a.store.Alerts(telemetry.AlertFilter{}),
		Health:      a.store.HealthAll(),
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	name := fmt.Sprintf("snapshot_%s.json", snapshot.GeneratedAt.Format("20060102T150405Z"))

	switch a.cfg.Backend {
	case BackendLocal:
		return a.archiveLocal(name, payload)
	case BackendS3, BackendMinIO:
		return a.archiveS3(ctx, name, payload)
	default:
		return fmt.Errorf("unsupported archive backend: %s", a.cfg.Backend)
	}
}

func (a *Archiver) archiveLocal(name string, payload []byte) error {
	path := filepath.Join(a.cfg.LocalPath, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}
	a.logger.Info("archived snapshot locally", "path", path, "size_bytes", len(payload))
	return nil
}

func (a *Archiver) archiveS3(ctx context.Context, name string, payload []byte) error {
	key := "snapshots/" + name
	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(payload))),
	})
	if err != nil {
		return fmt.Errorf("upload snapshot to S3: %w", err)
	}
	a.logger.Info("archived snapshot to S3",
		"bucket", a.cfg.Bucket,
		"key", key,
		"size_bytes", len(payload),
	)
	return nil
}
