// Package config reads the billing-loader configuration file and builds the
// storage, warehouse, state and provider components it describes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/url"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/provider"
)

const (
	StorageGCS   = "gcs"
	StorageS3    = "s3"
	StorageMinio = "minio"
	StorageLocal = "local"

	WarehouseBigQuery   = "bigquery"
	WarehousePresto     = "presto"
	WarehouseClickHouse = "clickhouse"

	StateFile     = "file"
	StatePostgres = "postgres"
	StateObject   = "object"

	defaultStateDir      = ".billing-loader/state"
	defaultStatePrefix   = "billing-loader/state"
	defaultMetricsJob    = "billing_loader"
	defaultPrestoCatalog = "hive"
)

var (
	errNoProviders        = errors.New("no providers configured")
	errInvalidProvider    = errors.New("invalid provider")
	errInvalidStorage     = errors.New("invalid storage backend")
	errInvalidWarehouse   = errors.New("invalid warehouse backend")
	errInvalidState       = errors.New("invalid state backend")
	errMissingBucket      = errors.New("bucket is required")
	errMissingDestination = errors.New("dataset and table are required")
	errMissingDSN         = errors.New("dsn is required")
	errMissingDatabaseURL = errors.New("database_url is required")
	errMissingProject     = errors.New("project is required")
)

type Config struct {
	Storage   StorageConfig             `yaml:"storage"`
	Warehouse WarehouseConfig           `yaml:"warehouse"`
	State     StateConfig               `yaml:"state"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type StorageConfig struct {
	Type   string `yaml:"type"`
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	// Endpoint is an S3 compatible endpoint for s3 and minio.
	Endpoint        string `yaml:"endpoint"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	// Root is the directory served by the local backend.
	Root string `yaml:"root"`
}

type WarehouseConfig struct {
	Type string `yaml:"type"`
	// Project runs BigQuery jobs. Tables may live in other projects.
	Project  string `yaml:"project"`
	Location string `yaml:"location"`

	DSN        string        `yaml:"dsn"`
	Catalog    string        `yaml:"catalog"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`

	S3Endpoint      string `yaml:"s3_endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type StateConfig struct {
	Type        string `yaml:"type"`
	Dir         string `yaml:"dir"`
	DatabaseURL string `yaml:"database_url"`
	Table       string `yaml:"table"`
	Prefix      string `yaml:"prefix"`
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

type ProviderConfig struct {
	// Bucket overrides the storage bucket for this provider.
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	ExportName string `yaml:"export_name"`

	Project string `yaml:"project"`
	Dataset string `yaml:"dataset"`
	Table   string `yaml:"table"`

	PartitionColumn string `yaml:"partition_column"`
	ClusterColumn   string `yaml:"cluster_column"`
	// Resolver is a data file layout rule, see provider.ParseResolver.
	Resolver string       `yaml:"resolver"`
	Format   FormatConfig `yaml:"format"`
}

type FormatConfig struct {
	SkipLeadingRows    *int   `yaml:"skip_leading_rows"`
	AllowFieldAddition *bool  `yaml:"allow_field_addition"`
	DecimalTarget      string `yaml:"decimal_target"`
	Compression        string `yaml:"compression"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document, applies defaults and validates
// the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Storage.Type == "" {
		c.Storage.Type = StorageGCS
	}
	if c.Warehouse.Type == "" {
		c.Warehouse.Type = WarehouseBigQuery
	}
	if c.Warehouse.Catalog == "" {
		c.Warehouse.Catalog = defaultPrestoCatalog
	}
	if c.State.Type == "" {
		c.State.Type = StateFile
	}
	if c.State.Dir == "" {
		c.State.Dir = defaultStateDir
	}
	if c.State.Prefix == "" {
		c.State.Prefix = defaultStatePrefix
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = defaultMetricsJob
	}
	for name, p := range c.Providers {
		if p.Project == "" {
			switch c.Warehouse.Type {
			case WarehouseBigQuery:
				p.Project = c.Warehouse.Project
			case WarehousePresto:
				p.Project = c.Warehouse.Catalog
			}
		}
		if p.Table == "" {
			p.Table = name + "_billing"
		}
		c.Providers[name] = p
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Type {
	case StorageGCS, StorageS3, StorageMinio:
	case StorageLocal:
		if c.Storage.Root == "" {
			return fmt.Errorf("%w: local storage requires a root", errInvalidStorage)
		}
	default:
		return fmt.Errorf("%w %q", errInvalidStorage, c.Storage.Type)
	}

	switch c.Warehouse.Type {
	case WarehouseBigQuery:
		if c.Warehouse.Project == "" {
			return fmt.Errorf("bigquery warehouse: %w", errMissingProject)
		}
	case WarehousePresto, WarehouseClickHouse:
		if c.Warehouse.DSN == "" {
			return fmt.Errorf("%s warehouse: %w", c.Warehouse.Type, errMissingDSN)
		}
	default:
		return fmt.Errorf("%w %q", errInvalidWarehouse, c.Warehouse.Type)
	}

	switch c.State.Type {
	case StateFile:
	case StatePostgres:
		if c.State.DatabaseURL == "" {
			return fmt.Errorf("postgres state: %w", errMissingDatabaseURL)
		}
	case StateObject:
		if c.Storage.Type != StorageLocal && c.Storage.Bucket == "" {
			return fmt.Errorf("object state: %w", errMissingBucket)
		}
	default:
		return fmt.Errorf("%w %q", errInvalidState, c.State.Type)
	}

	if len(c.Providers) == 0 {
		return errNoProviders
	}
	for _, name := range c.ProviderNames() {
		if err := c.validateProvider(name, c.Providers[name]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateProvider(name string, p ProviderConfig) error {
	known := false
	for _, n := range provider.Names {
		if n == name {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("%w %q", errInvalidProvider, name)
	}
	if c.Storage.Type != StorageLocal && p.Bucket == "" && c.Storage.Bucket == "" {
		return fmt.Errorf("provider %s: %w", name, errMissingBucket)
	}
	if p.Dataset == "" || p.Table == "" {
		return fmt.Errorf("provider %s: %w", name, errMissingDestination)
	}
	if p.Resolver != "" {
		if _, err := provider.ParseResolver(p.Resolver); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
	}
	if p.Format.SkipLeadingRows != nil && *p.Format.SkipLeadingRows < 0 {
		return fmt.Errorf("provider %s: skip_leading_rows must not be negative", name)
	}
	return nil
}

// ProviderNames returns the configured providers in a stable order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const redacted = "<redacted>"

// Redacted returns a copy of c safe to log: keys are masked and passwords
// are removed from connection strings.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Storage.SecretAccessKey != "" {
		out.Storage.SecretAccessKey = redacted
	}
	if out.Warehouse.SecretAccessKey != "" {
		out.Warehouse.SecretAccessKey = redacted
	}
	out.Warehouse.DSN = redactURL(out.Warehouse.DSN)
	out.State.DatabaseURL = redactURL(out.State.DatabaseURL)
	return &out
}

func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}
