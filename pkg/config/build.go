package config

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/provider"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/state"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/storage"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse/bigquery"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse/clickhouse"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse/presto"
)

// Provider builds the provider called name from its configuration.
func (c *Config) Provider(name string) (provider.Provider, error) {
	p, ok := c.Providers[name]
	if !ok {
		return nil, fmt.Errorf("%w %q: not configured", errInvalidProvider, name)
	}
	pc := provider.Config{
		Prefix:          p.Prefix,
		ExportName:      p.ExportName,
		PartitionColumn: p.PartitionColumn,
		ClusterColumn:   p.ClusterColumn,
		DecimalTarget:   p.Format.DecimalTarget,
		Format: provider.FormatOverrides{
			SkipLeadingRows:    p.Format.SkipLeadingRows,
			AllowFieldAddition: p.Format.AllowFieldAddition,
			Compression:        p.Format.Compression,
		},
	}
	if p.Resolver != "" {
		r, err := provider.ParseResolver(p.Resolver)
		if err != nil {
			return nil, err
		}
		pc.Resolver = r
	}
	return provider.New(name, pc)
}

// Table returns the destination table of provider name.
func (c *Config) Table(name string) warehouse.TableRef {
	p := c.Providers[name]
	return warehouse.TableRef{Project: p.Project, Dataset: p.Dataset, Table: p.Table}
}

// Bucket returns the bucket provider name reads its exports from.
func (c *Config) Bucket(name string) string {
	if b := c.Providers[name].Bucket; b != "" {
		return b
	}
	return c.Storage.Bucket
}

// Store opens bucket with the configured storage backend.
func (c *Config) Store(ctx context.Context, bucket string) (storage.ReadWriter, error) {
	s := c.Storage
	switch s.Type {
	case StorageGCS:
		return storage.NewGCSStore(ctx, bucket)
	case StorageS3:
		return storage.NewS3Store(storage.S3Config{
			Bucket:         bucket,
			Region:         s.Region,
			Endpoint:       s.Endpoint,
			ForcePathStyle: s.ForcePathStyle,
		})
	case StorageMinio:
		return storage.NewMinioStore(storage.MinioConfig{
			EndpointURL:     s.Endpoint,
			Bucket:          bucket,
			Region:          s.Region,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			UseSSL:          s.UseSSL,
		})
	case StorageLocal:
		return storage.NewLocalStore(s.Root)
	}
	return nil, fmt.Errorf("%w %q", errInvalidStorage, s.Type)
}

// OpenWarehouse connects to the configured warehouse.
func (c *Config) OpenWarehouse(ctx context.Context, logger log.FieldLogger, logQueries bool) (warehouse.Warehouse, error) {
	w := c.Warehouse
	switch w.Type {
	case WarehouseBigQuery:
		return bigquery.New(ctx, logger, bigquery.Config{
			Project:  w.Project,
			Location: w.Location,
		})
	case WarehousePresto:
		return presto.New(ctx, logger, presto.Config{
			DSN:         w.DSN,
			Catalog:     w.Catalog,
			ConnBackoff: w.Backoff,
			MaxRetries:  w.MaxRetries,
			LogQueries:  logQueries,
		})
	case WarehouseClickHouse:
		return clickhouse.New(logger, clickhouse.Config{
			DSN:             w.DSN,
			S3Endpoint:      w.S3Endpoint,
			AccessKeyID:     w.AccessKeyID,
			SecretAccessKey: w.SecretAccessKey,
			LogQueries:      logQueries,
		})
	}
	return nil, fmt.Errorf("%w %q", errInvalidWarehouse, w.Type)
}

// StateStore opens the configured state backend. The returned func releases
// its resources.
func (c *Config) StateStore(ctx context.Context) (state.Store, func(), error) {
	s := c.State
	switch s.Type {
	case StateFile:
		return state.NewFileStore(s.Dir), func() {}, nil
	case StatePostgres:
		return state.NewPostgresStore(ctx, s.DatabaseURL, s.Table)
	case StateObject:
		store, err := c.Store(ctx, c.Storage.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return state.NewObjectStore(store, s.Prefix), func() {}, nil
	}
	return nil, nil, fmt.Errorf("%w %q", errInvalidState, s.Type)
}
