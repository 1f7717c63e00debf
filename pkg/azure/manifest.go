package azure

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
)

const (
	// ProviderName identifies Azure FOCUS cost exports.
	ProviderName = "azure"

	ManifestFilename = "manifest.json"
)

// Manifest is the manifest.json Cost Management writes next to the blobs of
// every export run.
type Manifest struct {
	ManifestVersion string         `json:"manifestVersion"`
	ByteCount       int64          `json:"byteCount"`
	BlobCount       int            `json:"blobCount"`
	DataRowCount    int64          `json:"dataRowCount"`
	ExportConfig    ExportConfig   `json:"exportConfig"`
	DeliveryConfig  DeliveryConfig `json:"deliveryConfig"`
	RunInfo         RunInfo        `json:"runInfo"`
	Blobs           []Blob         `json:"blobs"`
}

type ExportConfig struct {
	ExportName  string `json:"exportName"`
	ResourceID  string `json:"resourceId"`
	DataVersion string `json:"dataVersion"`
	Type        string `json:"type"`
	TimeFrame   string `json:"timeFrame"`
	Granularity string `json:"granularity"`
}

type DeliveryConfig struct {
	PartitionData         bool   `json:"partitionData"`
	DataOverwriteBehavior string `json:"dataOverwriteBehavior"`
	FileFormat            string `json:"fileFormat"`
	CompressionMode       string `json:"compressionMode"`
	ContainerURI          string `json:"containerUri"`
	RootFolderPath        string `json:"rootFolderPath"`
}

type RunInfo struct {
	ExecutionType string `json:"executionType"`
	SubmittedTime string `json:"submittedTime"`
	RunID         string `json:"runId"`
	StartDate     Time   `json:"startDate"`
	EndDate       Time   `json:"endDate"`
}

type Blob struct {
	BlobName     string `json:"blobName"`
	ByteCount    int64  `json:"byteCount"`
	DataRowCount int64  `json:"dataRowCount"`
}

// Time accepts the timestamps Cost Management writes, with or without a
// zone designator.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02",
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	var err error
	for _, layout := range timeLayouts {
		var tt time.Time
		tt, err = time.Parse(layout, s)
		if err == nil {
			*t = Time{tt.UTC()}
			return nil
		}
	}
	return fmt.Errorf("unrecognized time %q: %w", s, err)
}

// ManifestPattern matches run manifests below
// <prefix>/<export>/YYYYMMDD-YYYYMMDD/<YYYYMMDDHHmm>/<run-id>/manifest.json.
func ManifestPattern(prefix, exportName string) *regexp.Regexp {
	return regexp.MustCompile(
		"^" + regexp.QuoteMeta(strings.Trim(prefix, "/")) + "/" +
			regexp.QuoteMeta(strings.Trim(exportName, "/")) + "/" +
			`(\d{8})-(\d{8})/` +
			`\d{12}/` +
			`[a-f0-9\-]+/` +
			regexp.QuoteMeta(ManifestFilename) + "$",
	)
}

// ListPrefix narrows the listing to one export.
func ListPrefix(prefix, exportName string) string {
	return strings.Trim(prefix, "/") + "/" + strings.Trim(exportName, "/") + "/"
}

// Parse decodes an export run manifest into the provider independent model.
// FOCUS exports have a fixed schema, so no columns are declared.
func Parse(key string, data []byte) (*manifest.Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("could not decode Azure manifest: %w", err)
	}

	format := manifest.FormatParquet
	if strings.EqualFold(m.DeliveryConfig.FileFormat, "csv") {
		format = manifest.FormatCSV
	}
	compression := m.DeliveryConfig.CompressionMode
	if strings.EqualFold(compression, "none") {
		compression = ""
	}

	files := make([]string, 0, len(m.Blobs))
	for _, b := range m.Blobs {
		if b.BlobName == "" {
			continue
		}
		files = append(files, b.BlobName)
	}

	return &manifest.Manifest{
		Provider:    ProviderName,
		ExecutionID: m.RunInfo.RunID,
		BillingPeriod: manifest.BillingPeriod{
			Start: m.RunInfo.StartDate.Time,
			End:   m.RunInfo.EndDate.Time,
		},
		Path:        key,
		Format:      format,
		Compression: compression,
		DataFiles:   files,
	}, nil
}
