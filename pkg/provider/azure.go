package provider

import (
	"regexp"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/azure"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/schema"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse"
)

const (
	AzurePartitionColumn = "billingperiodstart"
	AzureClusterColumn   = "chargeperiodstart"
)

// Azure loads FOCUS cost exports. Blobs are staged beside their manifest.
type Azure struct {
	base
	pattern *regexp.Regexp
}

var _ Provider = &Azure{}

func NewAzure(cfg Config) *Azure {
	cfg = defaults(cfg, AzurePartitionColumn, AzureClusterColumn)
	return &Azure{
		base:    base{cfg: cfg},
		pattern: azure.ManifestPattern(cfg.Prefix, cfg.ExportName),
	}
}

func (p *Azure) Name() string { return azure.ProviderName }

func (p *Azure) ListPrefix() string {
	return azure.ListPrefix(p.cfg.Prefix, p.cfg.ExportName)
}

func (p *Azure) ManifestPattern() *regexp.Regexp { return p.pattern }

func (p *Azure) Parse(key string, data []byte) (*manifest.Manifest, error) {
	return azure.Parse(key, data)
}

func (p *Azure) DataKeys(m *manifest.Manifest) []string {
	return p.resolve(Basename, m)
}

func (p *Azure) FormatOptions(m *manifest.Manifest) warehouse.FormatOptions {
	return p.cfg.Format.apply(p.formatOptions(m))
}

func (p *Azure) formatOptions(m *manifest.Manifest) warehouse.FormatOptions {
	if m.Format == manifest.FormatCSV {
		return warehouse.FormatOptions{
			Format:              manifest.FormatCSV,
			SkipLeadingRows:     1,
			AllowQuotedNewlines: true,
			Compression:         m.Compression,
		}
	}
	return warehouse.FormatOptions{
		Format:        manifest.FormatParquet,
		DecimalTarget: p.cfg.DecimalTarget,
		Compression:   m.Compression,
	}
}

// SchemaColumns is always nil: FOCUS manifests do not declare columns.
func (p *Azure) SchemaColumns(*manifest.Manifest) []manifest.Column { return nil }

func (p *Azure) TypeMap() schema.TypeMap { return schema.TypeMap{} }

func (p *Azure) Namer(*manifest.Manifest) schema.Namer { return schema.LowerName }
