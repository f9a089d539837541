package config

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"

	"github.com/xerpi/FTPVita/internal/logger"
	badgerfs "github.com/xerpi/FTPVita/pkg/storage/badger"
	s3fs "github.com/xerpi/FTPVita/pkg/storage/s3"
)

// CreateMountFs creates the filesystem backend for a single mount.
//
// This factory uses the Type field to determine which backend to create,
// then decodes the type-specific options from the corresponding map and
// passes them to the backend's constructor.
//
// Supported types:
//   - "local": a host directory (rooted, clients cannot escape it)
//   - "memory": an in-memory scratch filesystem
//   - "badger": pkg/storage/badger (BadgerDB persistence)
//   - "s3": pkg/storage/s3 (Amazon S3 or compatible storage)
func CreateMountFs(ctx context.Context, cfg *MountConfig) (afero.Fs, error) {
	switch cfg.Type {
	case "local":
		return createLocalMountFs(cfg.Local)
	case "memory":
		return afero.NewMemMapFs(), nil
	case "badger":
		return createBadgerMountFs(cfg.Badger)
	case "s3":
		return createS3MountFs(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown mount type: %q", cfg.Type)
	}
}

// createLocalMountFs creates a mount backed by a host directory.
func createLocalMountFs(options map[string]any) (afero.Fs, error) {
	type LocalMountConfig struct {
		Path string `mapstructure:"path"`
	}

	var mountCfg LocalMountConfig
	if err := mapstructure.Decode(options, &mountCfg); err != nil {
		return nil, fmt.Errorf("failed to decode local mount config: %w", err)
	}

	if mountCfg.Path == "" {
		return nil, fmt.Errorf("local mount: path is required")
	}

	if err := os.MkdirAll(mountCfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local mount directory: %w", err)
	}

	return afero.NewBasePathFs(afero.NewOsFs(), mountCfg.Path), nil
}

// createBadgerMountFs creates a mount persisted in a BadgerDB database.
func createBadgerMountFs(options map[string]any) (afero.Fs, error) {
	type BadgerMountConfig struct {
		Path     string `mapstructure:"path"`
		InMemory bool   `mapstructure:"in_memory"`
	}

	var mountCfg BadgerMountConfig
	if err := mapstructure.Decode(options, &mountCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger mount config: %w", err)
	}

	if !mountCfg.InMemory && mountCfg.Path == "" {
		return nil, fmt.Errorf("badger mount: path is required unless in_memory is set")
	}

	fs, err := badgerfs.New(badgerfs.Options{
		Path:     mountCfg.Path,
		InMemory: mountCfg.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger mount: %w", err)
	}

	return fs, nil
}

// createS3MountFs creates a mount backed by an S3 bucket.
func createS3MountFs(ctx context.Context, options map[string]any) (afero.Fs, error) {
	type S3MountConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var mountCfg S3MountConfig
	if err := mapstructure.Decode(options, &mountCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 mount config: %w", err)
	}

	if mountCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 mount: bucket is required")
	}
	if mountCfg.Region == "" {
		return nil, fmt.Errorf("S3 mount: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(mountCfg.Region))

	// Custom endpoint support for MinIO, Localstack, etc.
	if mountCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               mountCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Static credentials if provided, otherwise the default credential chain
	if mountCfg.AccessKeyID != "" && mountCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			mountCfg.AccessKeyID,
			mountCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := mountCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Path-style addressing for compatibility with MinIO/Localstack
		if mountCfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	fs, err := s3fs.New(ctx, s3fs.Options{
		Client:    client,
		Bucket:    mountCfg.Bucket,
		KeyPrefix: mountCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 mount: %w", err)
	}

	logger.Info("S3 mount initialized: bucket=%s, region=%s, prefix=%s",
		mountCfg.Bucket, mountCfg.Region, mountCfg.KeyPrefix)

	return fs, nil
}
