package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// Storage backends.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// StorageConfig selects where the dataset lives.
type StorageConfig struct {
	// Backend is fs or s3.
	Backend string
	// Path is the fs root directory, or "bucket/prefix" for s3.
	Path string
	// Region is the AWS region (optional, default chain when empty).
	Region string
	// Endpoint is a custom S3 endpoint for S3-compatible providers.
	Endpoint string
	// UsePathStyle forces path-style addressing (MinIO, R2).
	UsePathStyle bool
}

// ParseS3Path splits "bucket/prefix" into its parts.
func ParseS3Path(p string) (bucket, prefix string) {
	parts := strings.SplitN(p, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		prefix = parts[1]
	}
	return bucket, prefix
}

// NewFactory builds the lode store factory for cfg. The S3 backend uses
// the AWS SDK default credential chain.
func NewFactory(ctx context.Context, cfg StorageConfig) (lode.StoreFactory, error) {
	switch cfg.Backend {
	case "", BackendFS:
		if cfg.Path == "" {
			return nil, errors.New("archive path is required for the fs backend")
		}
		return lode.NewFSFactory(cfg.Path), nil
	case BackendS3:
		return newS3Factory(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown archive backend %q (want fs or s3)", cfg.Backend)
	}
}

func newS3Factory(ctx context.Context, cfg StorageConfig) (lode.StoreFactory, error) {
	bucket, prefix := ParseS3Path(cfg.Path)
	if bucket == "" {
		return nil, errors.New("archive path must name an S3 bucket")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, wrap("init", bucket, fmt.Errorf("failed to load AWS config: %w", err))
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{Bucket: bucket, Prefix: prefix})
	}, nil
}
