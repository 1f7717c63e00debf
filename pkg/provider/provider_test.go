package provider

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/schema"
)

func TestNew(t *testing.T) {
	p, err := New("aws", Config{Prefix: "cur"})
	require.NoError(t, err)
	assert.Equal(t, "aws", p.Name())
	assert.Equal(t, AWSPartitionColumn, p.PartitionColumn())
	assert.Equal(t, AWSClusterColumn, p.ClusterColumn())

	p, err = New("azure", Config{Prefix: "focus", ExportName: "daily", PartitionColumn: "x"})
	require.NoError(t, err)
	assert.Equal(t, "azure", p.Name())
	assert.Equal(t, "x", p.PartitionColumn())
	assert.Equal(t, AzureClusterColumn, p.ClusterColumn())
	assert.Equal(t, "focus/daily/", p.ListPrefix())

	_, err = New("gcp", Config{})
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestAWS(t *testing.T) {
	p := NewAWS(Config{Prefix: "gcs-transfer/aws_cur/"})
	assert.Equal(t, "gcs-transfer/aws_cur/", p.ListPrefix())
	assert.True(t, p.ManifestPattern().MatchString("gcs-transfer/aws_cur/20250901-20251001/r-Manifest.json"))

	csv := &manifest.Manifest{
		Path:        "gcs-transfer/aws_cur/20250901-20251001/r-Manifest.json",
		Format:      manifest.FormatCSV,
		Compression: "GZIP",
		Columns:     []manifest.Column{{Category: "lineItem", Name: "UnblendedCost", Type: "BigDecimal"}},
		DataFiles:   []string{"x/r/20250901-20251001/a1/r-1.csv.gz", "x/r/20250901-20251001/a1/r-2.csv.gz"},
	}
	assert.Equal(t, []string{
		"gcs-transfer/aws_cur/20250901-20251001/a1/r-1.csv.gz",
		"gcs-transfer/aws_cur/20250901-20251001/a1/r-2.csv.gz",
	}, p.DataKeys(csv))
	opts := p.FormatOptions(csv)
	assert.Equal(t, manifest.FormatCSV, opts.Format)
	assert.Equal(t, 1, opts.SkipLeadingRows)
	assert.True(t, opts.AllowQuotedNewlines)
	assert.True(t, opts.AllowFieldAddition)
	assert.Equal(t, "GZIP", opts.Compression)
	assert.Equal(t, csv.Columns, p.SchemaColumns(csv))
	assert.Equal(t, "line_item_unblended_cost", p.Namer(csv)("lineItem/UnblendedCost"))

	parquet := &manifest.Manifest{
		Path:      "cur/export/20251101-20251201/export-Manifest.json",
		Format:    manifest.FormatParquet,
		Columns:   csv.Columns,
		DataFiles: []string{"b/c/export/export/year=2025/month=11/export-00001.snappy.parquet"},
	}
	assert.Equal(t, []string{"cur/export/export/year=2025/month=11/export-00001.snappy.parquet"}, p.DataKeys(parquet))
	opts = p.FormatOptions(parquet)
	assert.Equal(t, manifest.FormatParquet, opts.Format)
	assert.Equal(t, "BIGNUMERIC", opts.DecimalTarget)
	assert.Nil(t, p.SchemaColumns(parquet))
	assert.Equal(t, "line_item_usage_start_date", p.Namer(parquet)("line_item_usage_start_date"))
}

func TestAWSResolverOverride(t *testing.T) {
	p := NewAWS(Config{Prefix: "cur", Resolver: Basename})
	m := &manifest.Manifest{Path: "cur/20250901-20251001/r-Manifest.json", DataFiles: []string{"a/b/c.csv.gz"}}
	assert.Equal(t, []string{"cur/20250901-20251001/c.csv.gz"}, p.DataKeys(m))
}

func TestAWSTypes(t *testing.T) {
	b := schema.NewBuilder(schema.BigQuery, AWSTypes, nil)
	fields, err := b.Build([]manifest.Column{
		{Category: "identity", Name: "TimeInterval", Type: "Interval"},
		{Category: "bill", Name: "BillingPeriodStartDate", Type: "DateTime"},
		{Category: "lineItem", Name: "UnblendedCost", Type: "OptionalBigDecimal"},
		{Category: "lineItem", Name: "UsageAmount", Type: "OptionalInteger"},
	})
	require.NoError(t, err)
	types := make([]string, len(fields))
	for i, f := range fields {
		types[i] = f.Type
	}
	assert.Equal(t, []string{"STRING", "TIMESTAMP", "BIGNUMERIC", "INTEGER"}, types)

	_, err = b.Build([]manifest.Column{{Category: "x", Name: "Y", Type: "Map"}})
	var unmapped *schema.UnmappedTypeError
	assert.True(t, errors.As(err, &unmapped))
}

func TestAzure(t *testing.T) {
	p := NewAzure(Config{Prefix: "billingdata", ExportName: "focus-cost"})
	key := "billingdata/focus-cost/20251001-20251031/202510031216/0a1b2c3d-0000-1111-2222-333344445555/manifest.json"
	assert.True(t, p.ManifestPattern().MatchString(key))

	m := &manifest.Manifest{
		Path:          key,
		Format:        manifest.FormatParquet,
		Compression:   "snappy",
		BillingPeriod: manifest.BillingPeriod{Start: time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC)},
		DataFiles:     []string{"billingdata/focus-cost/20251001-20251031/202510031216/0a1b2c3d/part_0_0001.snappy.parquet"},
	}
	assert.Equal(t, []string{
		"billingdata/focus-cost/20251001-20251031/202510031216/0a1b2c3d-0000-1111-2222-333344445555/part_0_0001.snappy.parquet",
	}, p.DataKeys(m))

	opts := p.FormatOptions(m)
	assert.Equal(t, manifest.FormatParquet, opts.Format)
	assert.Equal(t, "BIGNUMERIC", opts.DecimalTarget)
	assert.False(t, opts.AllowFieldAddition)
	assert.Nil(t, p.SchemaColumns(m))
	assert.Empty(t, p.TypeMap())
	assert.Equal(t, "billedcost", p.Namer(m)("BilledCost"))

	m.Format = manifest.FormatCSV
	assert.Equal(t, 1, p.FormatOptions(m).SkipLeadingRows)
}

func TestFormatOverrides(t *testing.T) {
	skip := 0
	addition := true
	p := NewAzure(Config{
		Prefix:     "billingdata",
		ExportName: "focus-cost",
		Format: FormatOverrides{
			SkipLeadingRows:    &skip,
			AllowFieldAddition: &addition,
			Compression:        "GZIP",
		},
	})

	csv := p.FormatOptions(&manifest.Manifest{Format: manifest.FormatCSV})
	assert.Equal(t, 0, csv.SkipLeadingRows)
	assert.True(t, csv.AllowFieldAddition)
	assert.Equal(t, "GZIP", csv.Compression)
	assert.True(t, csv.AllowQuotedNewlines)

	parquet := p.FormatOptions(&manifest.Manifest{Format: manifest.FormatParquet, Compression: "snappy"})
	assert.Equal(t, 0, parquet.SkipLeadingRows)
	assert.Equal(t, "GZIP", parquet.Compression)
	assert.Equal(t, "BIGNUMERIC", parquet.DecimalTarget)
}
