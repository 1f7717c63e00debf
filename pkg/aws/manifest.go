package aws

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
)

const (
	// ProviderName identifies AWS Cost and Usage Report exports.
	ProviderName = "aws"

	// BillingDateFormat is the layout of the date-range directory segments.
	BillingDateFormat = "20060102"

	// ManifestSuffix is the filename suffix of top-level CUR manifests.
	ManifestSuffix = "-Manifest.json"

	contentTypeParquet = "parquet"
)

// Manifest is a representation of the file AWS provides with metadata for
// a report version.
type Manifest struct {
	AssemblyID             string        `json:"assemblyId"`
	Account                string        `json:"account"`
	Columns                Columns       `json:"columns"`
	Charset                string        `json:"charset"`
	Compression            string        `json:"compression"`
	ContentType            string        `json:"contentType"`
	ReportID               string        `json:"reportId"`
	ReportName             string        `json:"reportName"`
	BillingPeriod          BillingPeriod `json:"billingPeriod"`
	Bucket                 string        `json:"bucket"`
	ReportKeys             []string      `json:"reportKeys"`
	AdditionalArtifactKeys []string      `json:"additionalArtifactKeys"`
}

type BillingPeriod struct {
	Start Time `json:"start"`
	End   Time `json:"end"`
}

type Time struct {
	time.Time
}

const manifestTime = "20060102T000000.000Z"

func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	tt, err := time.Parse(manifestTime, s)
	if err == nil {
		*t = Time{tt.UTC()}
	}
	return err
}

func (t Time) String() string {
	return t.Format(manifestTime)
}

// ManifestPattern matches top-level manifests staged below prefix:
// <prefix>/YYYYMMDD-YYYYMMDD/<report-name>-Manifest.json. Copies of the
// manifest inside assemblyId subdirectories are not matched; the top-level
// copy always describes the most recent report version.
func ManifestPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(
		"^" + regexp.QuoteMeta(strings.TrimSuffix(prefix, "/")) + "/" +
			`(\d{8})-(\d{8})/` +
			`[^/]*` + regexp.QuoteMeta(ManifestSuffix) + "$",
	)
}

// Parse decodes a CUR manifest into the provider independent model.
func Parse(key string, data []byte) (*manifest.Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("could not decode AWS manifest: %w", err)
	}

	format := manifest.FormatCSV
	if strings.ToLower(m.ContentType) == contentTypeParquet {
		format = manifest.FormatParquet
	}
	compression := m.Compression
	if compression == "" && format == manifest.FormatCSV {
		compression = "GZIP"
	}

	return &manifest.Manifest{
		Provider:    ProviderName,
		ExecutionID: m.AssemblyID,
		BillingPeriod: manifest.BillingPeriod{
			Start: m.BillingPeriod.Start.Time,
			End:   m.BillingPeriod.End.Time,
		},
		Path:        key,
		Format:      format,
		Compression: compression,
		Columns:     m.Columns.Manifest(),
		DataFiles:   append([]string(nil), m.ReportKeys...),
	}, nil
}
