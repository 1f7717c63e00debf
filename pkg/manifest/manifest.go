package manifest

import (
	"errors"
	"path"
	"time"
)

const (
	// BillingMonthLayout is the layout of the billing month key used for
	// partitions and load state.
	BillingMonthLayout = "2006-01"

	// PartitionValueLayout is the layout of the first day of a billing month.
	PartitionValueLayout = "2006-01-02"
)

var (
	ErrMissingExecutionID   = errors.New("manifest is missing an execution id")
	ErrMissingBillingPeriod = errors.New("manifest is missing a billing period")
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// Column is a column declared by a provider manifest.
type Column struct {
	Category string
	Name     string
	Type     string
}

// OriginalName is the name of the column in the export's header.
func (c Column) OriginalName() string {
	if c.Category == "" {
		return c.Name
	}
	return c.Category + "/" + c.Name
}

type BillingPeriod struct {
	Start time.Time
	End   time.Time
}

// Manifest is one complete snapshot of a billing period as declared by the
// provider. Values are never modified once parsed.
type Manifest struct {
	Provider      string
	ExecutionID   string
	BillingPeriod BillingPeriod
	// Path is the object key of the manifest itself.
	Path        string
	Format      Format
	Compression string
	Columns     []Column
	// DataFiles are provider-relative references; they do not match staged
	// locations and must be resolved against Path.
	DataFiles []string
}

// BillingMonth returns the YYYY-MM key of the billing period.
func (m *Manifest) BillingMonth() string {
	return m.BillingPeriod.Start.UTC().Format(BillingMonthLayout)
}

// PartitionValue returns the first day of the billing month as YYYY-MM-DD.
func (m *Manifest) PartitionValue() string {
	s := m.BillingPeriod.Start.UTC()
	return time.Date(s.Year(), s.Month(), 1, 0, 0, 0, 0, time.UTC).Format(PartitionValueLayout)
}

// Dir is the directory containing the manifest object.
func (m *Manifest) Dir() string {
	return path.Dir(m.Path)
}

func (m *Manifest) Validate() error {
	if m.ExecutionID == "" {
		return ErrMissingExecutionID
	}
	if m.BillingPeriod.Start.IsZero() {
		return ErrMissingBillingPeriod
	}
	return nil
}
