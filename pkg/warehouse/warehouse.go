package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/schema"
)

//go:generate mockgen -destination=./mock/warehouse.go -package=mock github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse Warehouse

// ErrTableNotFound is returned, possibly wrapped, when an operation targets
// a table that does not exist.
var ErrTableNotFound = errors.New("table not found")

// TrackingSuffix is appended to a destination table name to form its load
// history table.
const TrackingSuffix = "_load_tracking"

// TableRef names a table. Project is the BigQuery project or the Presto
// catalog and is unused by ClickHouse. Dataset is the BigQuery dataset, the
// Presto schema or the ClickHouse database.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

func (t TableRef) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{t.Project, t.Dataset, t.Table} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// Tracking returns the load history table of t.
func (t TableRef) Tracking() TableRef {
	t.Table += TrackingSuffix
	return t
}

type Capabilities struct {
	// AutoDetectSchema is set when the warehouse reads the schema of
	// self-describing files itself.
	AutoDetectSchema bool
}

// PartitionPredicate selects the month partition whose Column, truncated to
// the month, equals Value (YYYY-MM-01).
type PartitionPredicate struct {
	Column string
	Value  string
}

// Month returns the predicate value as a time.
func (p PartitionPredicate) Month() (time.Time, error) {
	t, err := time.Parse(manifest.PartitionValueLayout, p.Value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid partition value %q: %w", p.Value, err)
	}
	if t.Day() != 1 {
		return time.Time{}, fmt.Errorf("partition value %q is not the first day of a month", p.Value)
	}
	return t, nil
}

// TableSpec describes a destination table to create if absent.
type TableSpec struct {
	Table           TableRef
	Fields          []schema.Field
	PartitionColumn string
	ClusterColumn   string
}

type WriteMode string

const (
	WriteAppend   WriteMode = "append"
	WriteTruncate WriteMode = "truncate"
)

type FormatOptions struct {
	Format manifest.Format
	// SkipLeadingRows skips CSV header rows.
	SkipLeadingRows     int
	AllowQuotedNewlines bool
	// AllowFieldAddition lets a load add columns missing from the table.
	AllowFieldAddition bool
	// DecimalTarget is the warehouse decimal type Parquet decimals load
	// into, e.g. BIGNUMERIC.
	DecimalTarget string
	Compression   string
}

type LoadRequest struct {
	Table      TableRef
	SourceURIs []string
	// Schema is nil when the warehouse should infer it from the files.
	Schema          []schema.Field
	Options         FormatOptions
	WriteMode       WriteMode
	PartitionColumn string
	PartitionValue  string
	ClusterColumn   string
}

type LoadResult struct {
	RowCount int64
	JobID    string
}

// TrackingRecord is one row of the load history table.
type TrackingRecord struct {
	ExecutionID  string    `bigquery:"execution_id"`
	BillingMonth string    `bigquery:"billing_month"`
	LoadedAt     time.Time `bigquery:"loaded_at"`
	RowCount     int64     `bigquery:"row_count"`
	FileCount    int       `bigquery:"file_count"`
	Format       string    `bigquery:"format"`
}

// Warehouse is the destination of billing data.
type Warehouse interface {
	Dialect() schema.Dialect
	Capabilities() Capabilities

	TableExists(ctx context.Context, table TableRef) (bool, error)
	// CountRows counts the rows of a partition.
	CountRows(ctx context.Context, table TableRef, predicate PartitionPredicate) (int64, error)
	// DeleteRows removes every row of the partition and returns how many
	// were removed.
	DeleteRows(ctx context.Context, table TableRef, predicate PartitionPredicate) (int64, error)
	// CreateTable creates the table unless it already exists.
	CreateTable(ctx context.Context, spec TableSpec) error
	// Load blocks until the load job completes.
	Load(ctx context.Context, req LoadRequest) (*LoadResult, error)
	AppendTrackingRecords(ctx context.Context, table TableRef, records []TrackingRecord) error

	Close() error
}

// CommonDir returns the directory shared by every uri, or an error if they
// are spread over several directories.
func CommonDir(uris []string) (string, error) {
	if len(uris) == 0 {
		return "", errors.New("no source uris")
	}
	dir := func(u string) string {
		return u[:strings.LastIndex(u, "/")+1]
	}
	common := dir(uris[0])
	for _, u := range uris[1:] {
		if d := dir(u); d != common {
			return "", fmt.Errorf("source uris span several directories: %q and %q", common, d)
		}
	}
	return common, nil
}
