package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentResolver(t *testing.T) {
	tests := map[string]struct {
		resolver    Resolver
		manifestKey string
		ref         string
		expected    string
	}{
		"basename beside the manifest": {
			resolver:    Basename,
			manifestKey: "a/b/manifest.json",
			ref:         "orig/path/part-0001.csv.gz",
			expected:    "a/b/part-0001.csv.gz",
		},
		"aws csv keeps the assembly directory": {
			resolver:    awsCSVResolver,
			manifestKey: "gcs-transfer/aws_cur/20250901-20251001/report-Manifest.json",
			ref:         "billing-path/report/20250901-20251001/20250903T000000Z/report-1.csv.gz",
			expected:    "gcs-transfer/aws_cur/20250901-20251001/20250903T000000Z/report-1.csv.gz",
		},
		"aws parquet resolves beside the date range directory": {
			resolver:    awsParquetResolver,
			manifestKey: "gcs-transfer/cur/export/20251101-20251201/export-Manifest.json",
			ref:         "billing/aws-billing-cur/export/export/year=2025/month=11/export-00001.snappy.parquet",
			expected:    "gcs-transfer/cur/export/export/year=2025/month=11/export-00001.snappy.parquet",
		},
		"short references fall back to the base name": {
			resolver:    awsParquetResolver,
			manifestKey: "p/20251101-20251201/export-Manifest.json",
			ref:         "month=11/file.parquet",
			expected:    "p/file.parquet",
		},
		"manifest at the bucket root": {
			resolver:    Basename,
			manifestKey: "manifest.json",
			ref:         "x/y.csv",
			expected:    "y.csv",
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.resolver.Resolve(tt.manifestKey, tt.ref))
		})
	}
}

func TestParseResolver(t *testing.T) {
	tests := map[string]struct {
		expected  Resolver
		expectErr bool
	}{
		"basename":      {expected: Basename},
		"trailing:2":    {expected: SegmentResolver{Segments: 2}},
		"ancestor:1:4":  {expected: SegmentResolver{Up: 1, Segments: 4}},
		"ancestor:0:1":  {expected: SegmentResolver{Segments: 1}},
		"trailing:0":    {expectErr: true},
		"trailing:x":    {expectErr: true},
		"ancestor:1":    {expectErr: true},
		"ancestor:-1:2": {expectErr: true},
		"dirname":       {expectErr: true},
		"":              {expectErr: true},
	}

	for rule, tt := range tests {
		rule, tt := rule, tt
		t.Run(rule, func(t *testing.T) {
			r, err := ParseResolver(rule)
			if tt.expectErr {
				assert.ErrorIs(t, err, ErrInvalidResolver)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, r)
		})
	}

	assert.Equal(t, "ancestor:1:4", SegmentResolver{Up: 1, Segments: 4}.String())
	assert.Equal(t, "trailing:2", SegmentResolver{Segments: 2}.String())
	assert.Equal(t, "basename", Basename.String())
}
