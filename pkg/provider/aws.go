package provider

import (
	"regexp"
	"strings"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/aws"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/schema"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse"
)

const (
	AWSPartitionColumn = "bill_billing_period_start_date"
	AWSClusterColumn   = "line_item_usage_start_date"
)

// AWSTypes maps the column types declared in CUR manifests.
var AWSTypes = schema.TypeMap{
	"String":             schema.KindString,
	"OptionalString":     schema.KindString,
	"Interval":           schema.KindString,
	"BigDecimal":         schema.KindDecimal,
	"OptionalBigDecimal": schema.KindDecimal,
	"DateTime":           schema.KindTimestamp,
	"Integer":            schema.KindInteger,
	"OptionalInteger":    schema.KindInteger,
	"Boolean":            schema.KindBoolean,
}

var (
	// CSV reports keep <assemblyId>/<file> below the date range directory.
	awsCSVResolver = SegmentResolver{Segments: 2}
	// Parquet reports live in <export>/year=YYYY/month=MM/<file> beside the
	// date range directories.
	awsParquetResolver = SegmentResolver{Up: 1, Segments: 4}
)

type AWS struct {
	base
	pattern *regexp.Regexp
}

var _ Provider = &AWS{}

func NewAWS(cfg Config) *AWS {
	cfg = defaults(cfg, AWSPartitionColumn, AWSClusterColumn)
	return &AWS{
		base:    base{cfg: cfg},
		pattern: aws.ManifestPattern(cfg.Prefix),
	}
}

func (p *AWS) Name() string { return aws.ProviderName }

func (p *AWS) ListPrefix() string {
	return strings.TrimSuffix(p.cfg.Prefix, "/") + "/"
}

func (p *AWS) ManifestPattern() *regexp.Regexp { return p.pattern }

func (p *AWS) Parse(key string, data []byte) (*manifest.Manifest, error) {
	return aws.Parse(key, data)
}

func (p *AWS) DataKeys(m *manifest.Manifest) []string {
	if m.Format == manifest.FormatParquet {
		return p.resolve(awsParquetResolver, m)
	}
	return p.resolve(awsCSVResolver, m)
}

func (p *AWS) FormatOptions(m *manifest.Manifest) warehouse.FormatOptions {
	return p.cfg.Format.apply(p.formatOptions(m))
}

func (p *AWS) formatOptions(m *manifest.Manifest) warehouse.FormatOptions {
	if m.Format == manifest.FormatParquet {
		return warehouse.FormatOptions{
			Format:             manifest.FormatParquet,
			AllowFieldAddition: true,
			DecimalTarget:      p.cfg.DecimalTarget,
			Compression:        m.Compression,
		}
	}
	return warehouse.FormatOptions{
		Format:              manifest.FormatCSV,
		SkipLeadingRows:     1,
		AllowQuotedNewlines: true,
		AllowFieldAddition:  true,
		Compression:         m.Compression,
	}
}

// SchemaColumns uses the manifest columns for CSV reports only. Parquet
// files carry their own physical types, which may differ from the
// declared ones.
func (p *AWS) SchemaColumns(m *manifest.Manifest) []manifest.Column {
	if m.Format == manifest.FormatParquet {
		return nil
	}
	return m.Columns
}

func (p *AWS) TypeMap() schema.TypeMap { return AWSTypes }

func (p *AWS) Namer(m *manifest.Manifest) schema.Namer {
	if m.Format == manifest.FormatParquet {
		return schema.LowerName
	}
	return schema.NormalizeName
}
