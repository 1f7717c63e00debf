// Package provider adapts each billing export format to the loader: where
// its manifests live, how they are parsed, where their data files were
// staged and how those files are loaded.
package provider

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/aws"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/azure"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/schema"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse"
)

const defaultDecimalTarget = "BIGNUMERIC"

var ErrUnknownProvider = errors.New("unknown provider")

// Names lists the supported providers.
var Names = []string{aws.ProviderName, azure.ProviderName}

type Provider interface {
	Name() string
	// ListPrefix is the storage prefix listed to discover manifests.
	ListPrefix() string
	ManifestPattern() *regexp.Regexp
	Parse(key string, data []byte) (*manifest.Manifest, error)
	// DataKeys returns the staged object keys of the manifest's data files.
	DataKeys(m *manifest.Manifest) []string
	FormatOptions(m *manifest.Manifest) warehouse.FormatOptions
	// SchemaColumns are the declared columns to build an explicit schema
	// from. Nil means the schema comes from the data files.
	SchemaColumns(m *manifest.Manifest) []manifest.Column
	TypeMap() schema.TypeMap
	Namer(m *manifest.Manifest) schema.Namer
	PartitionColumn() string
	ClusterColumn() string
}

type Config struct {
	// Prefix is the storage prefix exports are staged under.
	Prefix string
	// ExportName is the Azure export directory below Prefix.
	ExportName      string
	PartitionColumn string
	ClusterColumn   string
	// Resolver overrides the provider's default data file layout.
	Resolver      Resolver
	DecimalTarget string
	// Format overrides the provider's default load options where set.
	Format FormatOverrides
}

// FormatOverrides replace individual load options. Nil and empty fields
// keep the provider's default.
type FormatOverrides struct {
	SkipLeadingRows    *int
	AllowFieldAddition *bool
	Compression        string
}

func (o FormatOverrides) apply(opts warehouse.FormatOptions) warehouse.FormatOptions {
	if o.SkipLeadingRows != nil && opts.Format == manifest.FormatCSV {
		opts.SkipLeadingRows = *o.SkipLeadingRows
	}
	if o.AllowFieldAddition != nil {
		opts.AllowFieldAddition = *o.AllowFieldAddition
	}
	if o.Compression != "" {
		opts.Compression = o.Compression
	}
	return opts
}

// New returns the provider called name.
func New(name string, cfg Config) (Provider, error) {
	switch name {
	case aws.ProviderName:
		return NewAWS(cfg), nil
	case azure.ProviderName:
		return NewAzure(cfg), nil
	}
	return nil, fmt.Errorf("%w %q, expected one of %s", ErrUnknownProvider, name, strings.Join(Names, ", "))
}

type base struct {
	cfg Config
}

func (b *base) PartitionColumn() string { return b.cfg.PartitionColumn }
func (b *base) ClusterColumn() string { return b.cfg.ClusterColumn }

func (b *base) resolve(r Resolver, m *manifest.Manifest) []string {
	if b.cfg.Resolver != nil {
		r = b.cfg.Resolver
	}
	keys := make([]string, len(m.DataFiles))
	for i, ref := range m.DataFiles {
		keys[i] = r.Resolve(m.Path, ref)
	}
	return keys
}

func defaults(cfg Config, partition, cluster string) Config {
	if cfg.PartitionColumn == "" {
		cfg.PartitionColumn = partition
	}
	if cfg.ClusterColumn == "" {
		cfg.ClusterColumn = cluster
	}
	if cfg.DecimalTarget == "" {
		cfg.DecimalTarget = defaultDecimalTarget
	}
	return cfg
}
