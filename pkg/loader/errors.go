package loader

import (
	"errors"
	"fmt"
)

var (
	errNoDataFiles    = errors.New("manifest lists no data files")
	errSchemaRequired = errors.New("warehouse cannot infer the schema of these files and the manifest declares no columns")
)

// LoadJobError reports a manifest whose data could not be loaded. The
// manifest is not marked as loaded and is retried by the next run.
type LoadJobError struct {
	Manifest     string
	BillingMonth string
	ExecutionID  string
	Err          error
}

func (e *LoadJobError) Error() string {
	return fmt.Sprintf("loading %s (%s, execution %s) failed: %v", e.Manifest, e.BillingMonth, e.ExecutionID, e.Err)
}

func (e *LoadJobError) Unwrap() error {
	return e.Err
}
