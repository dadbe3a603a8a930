package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/nselftv/mediastore/internal/logger"
	"github.com/nselftv/mediastore/pkg/download"
	downloadBadger "github.com/nselftv/mediastore/pkg/download/badger"
	downloadMemory "github.com/nselftv/mediastore/pkg/download/memory"
	"github.com/nselftv/mediastore/pkg/eviction"
	"github.com/nselftv/mediastore/pkg/quota"
	"github.com/nselftv/mediastore/pkg/storage"
	"github.com/nselftv/mediastore/pkg/storage/gateway"
	storageLocal "github.com/nselftv/mediastore/pkg/storage/local"
	storageMemory "github.com/nselftv/mediastore/pkg/storage/memory"
	storageS3 "github.com/nselftv/mediastore/pkg/storage/s3"
)

// CreateBackend creates a storage backend based on configuration.
//
// This factory function uses the Type field to determine which backend
// implementation to create, then decodes the type-specific configuration
// from the corresponding map and passes it to the backend's constructor.
//
// Supported types:
//   - "filesystem": Uses pkg/storage/local (local filesystem storage)
//   - "memory": Uses pkg/storage/memory (ephemeral, tests and dev)
//   - "s3": Uses pkg/storage/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - name: Tier name for error messages ("local" or "remote")
//   - cfg: Backend configuration
//
// Returns:
//   - storage.Backend: Initialized backend
//   - error: Configuration or initialization error
func CreateBackend(ctx context.Context, name string, cfg *BackendConfig) (storage.Backend, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemBackend(ctx, name, cfg.Filesystem)
	case "memory":
		return storageMemory.New(), nil
	case "s3":
		return createS3Backend(ctx, name, cfg.S3)
	default:
		return nil, fmt.Errorf("%s backend: unknown type %q", name, cfg.Type)
	}
}

// createFilesystemBackend creates a filesystem-based backend.
func createFilesystemBackend(ctx context.Context, name string, options map[string]any) (storage.Backend, error) {
	type FilesystemBackendConfig struct {
		Path string `mapstructure:"path"`
	}

	var backendCfg FilesystemBackendConfig
	if err := mapstructure.Decode(options, &backendCfg); err != nil {
		return nil, fmt.Errorf("%s backend: failed to decode filesystem config: %w", name, err)
	}

	if backendCfg.Path == "" {
		return nil, fmt.Errorf("%s backend: filesystem path is required", name)
	}

	backend, err := storageLocal.New(ctx, backendCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%s backend: failed to create filesystem backend: %w", name, err)
	}

	return backend, nil
}

// createS3Backend creates an S3-based backend.
func createS3Backend(ctx context.Context, name string, options map[string]any) (storage.Backend, error) {
	type S3BackendConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var backendCfg S3BackendConfig
	if err := mapstructure.Decode(options, &backendCfg); err != nil {
		return nil, fmt.Errorf("%s backend: failed to decode S3 config: %w", name, err)
	}

	if backendCfg.Bucket == "" {
		return nil, fmt.Errorf("%s backend: S3 bucket is required", name)
	}
	if backendCfg.Region == "" {
		return nil, fmt.Errorf("%s backend: S3 region is required", name)
	}

	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(backendCfg.Region))

	// Set custom endpoint if provided (for MinIO, Localstack, etc.)
	if backendCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               backendCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Set credentials if provided, otherwise use the default credential chain
	if backendCfg.AccessKeyID != "" && backendCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			backendCfg.AccessKeyID,
			backendCfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Retry transient S3 failures (502, 503, timeouts) beyond the AWS
	// default of 3 attempts
	maxRetries := backendCfg.MaxRetries
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
		return nil, fmt.Errorf("%s backend: failed to load AWS config: %w", name, err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Force path-style addressing for compatibility with MinIO/Localstack
		if backendCfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	backend, err := storageS3.New(ctx, storageS3.Config{
		Client:    client,
		Bucket:    backendCfg.Bucket,
		KeyPrefix: backendCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("%s backend: failed to create S3 backend: %w", name, err)
	}

	logger.Info("S3 backend initialized: bucket=%s, region=%s, prefix=%s",
		backendCfg.Bucket, backendCfg.Region, backendCfg.KeyPrefix)

	return backend, nil
}

// CreateGateway creates both storage tiers and the gateway over them.
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Storage configuration (both tiers plus replication tuning)
//   - metrics: Replication metrics (nil for no-op)
//
// Returns:
//   - *gateway.Gateway: Initialized gateway
//   - storage.Backend: The local tier backend (also used as the download
//     blob cache)
//   - error: Configuration or initialization error
func CreateGateway(ctx context.Context, cfg *StorageConfig, metrics gateway.ReplicationMetrics) (*gateway.Gateway, storage.Backend, error) {
	local, err := CreateBackend(ctx, "local", &cfg.Local)
	if err != nil {
		return nil, nil, err
	}

	remote, err := CreateBackend(ctx, "remote", &cfg.Remote)
	if err != nil {
		return nil, nil, err
	}

	gw, err := gateway.New(local, remote, gateway.Options{
		ReplicationRetries:   cfg.Replication.Retries,
		ReplicationBaseDelay: cfg.Replication.BaseDelay,
		Metrics:              metrics,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return gw, local, nil
}

// CreateDownloadStore creates a download record store based on configuration.
//
// Supported types:
//   - "badger": Uses pkg/download/badger (BadgerDB storage, persistent)
//   - "memory": Uses pkg/download/memory (in-memory storage, ephemeral)
func CreateDownloadStore(ctx context.Context, cfg *DownloadStoreConfig) (download.Store, error) {
	switch cfg.Type {
	case "memory":
		return downloadMemory.New(), nil
	case "badger":
		return createBadgerDownloadStore(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown download store type: %q (supported: memory, badger)", cfg.Type)
	}
}

// createBadgerDownloadStore creates a BadgerDB-based persistent download store.
func createBadgerDownloadStore(ctx context.Context, options map[string]any) (download.Store, error) {
	type BadgerDownloadStoreOptions struct {
		DBPath string `mapstructure:"db_path"`
	}

	var storeOpts BadgerDownloadStoreOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode badger download store options: %w", err)
	}

	if storeOpts.DBPath == "" {
		return nil, fmt.Errorf("badger download store: db_path is required")
	}

	store, err := downloadBadger.New(ctx, storeOpts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger download store: %w", err)
	}

	return store, nil
}

// CreateDownloadManager creates the download manager over the configured
// record store, using the given backend as the blob cache. When a quota
// manager is provided, declared-size transfers are admitted against it
// before any bytes land.
func CreateDownloadManager(ctx context.Context, cfg *DownloadsConfig, cache storage.Backend, quotaManager *quota.Manager, metrics download.TransferMetrics) (*download.Manager, error) {
	store, err := CreateDownloadStore(ctx, &cfg.Store)
	if err != nil {
		return nil, err
	}

	opts := download.Options{
		Metrics: metrics,
	}
	if quotaManager != nil {
		opts.Space = quotaManager
	}

	manager, err := download.NewManager(ctx, store, cache, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create download manager: %w", err)
	}

	return manager, nil
}

// CreateQuotaManager creates the quota manager with a device usage prober
// on the configured probe path.
func CreateQuotaManager(cfg *QuotaConfig) (*quota.Manager, error) {
	if cfg.ProbePath == "" {
		return nil, fmt.Errorf("quota: probe_path is required")
	}

	manager, err := quota.New(&quota.DeviceProber{Path: cfg.ProbePath}, cfg.LimitBytes, quota.Options{
		HighWaterPercent: cfg.HighWaterPercent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create quota manager: %w", err)
	}

	return manager, nil
}

// CreateEvictor creates the background evictor over the quota and download
// managers.
func CreateEvictor(cfg *EvictionConfig, quotaManager *quota.Manager, downloads *download.Manager, metrics eviction.EvictionMetrics) (*eviction.Evictor, error) {
	evictor, err := eviction.NewEvictor(quotaManager, downloads, eviction.Config{
		Enabled:         cfg.Enabled,
		Interval:        cfg.Interval,
		LowWaterPercent: cfg.LowWaterPercent,
		Metrics:         metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create evictor: %w", err)
	}

	return evictor, nil
}
