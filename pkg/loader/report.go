package loader

import (
	"time"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/state"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse"
)

type Outcome string

const (
	OutcomeSkipped Outcome = "skipped"
	OutcomeLoaded  Outcome = "loaded"
	OutcomeFailed  Outcome = "failed"
	// OutcomePlanned is a manifest a dry run would have loaded.
	OutcomePlanned Outcome = "planned"
)

// Reasons a manifest is skipped.
const (
	ReasonAlreadyLoaded = "already loaded"
	// ReasonSuperseded marks an older manifest of a billing month that a
	// newer manifest in the same run already accounts for.
	ReasonSuperseded = "superseded"
)

type ManifestResult struct {
	Path         string
	ExecutionID  string
	BillingMonth string
	Outcome      Outcome
	Reason       string
	FileCount    int
	RowsDeleted  int64
	RowsLoaded   int64
	JobID        string
	Duration     time.Duration
	Err          error
}

// Report summarizes a run for one provider.
type Report struct {
	RunID    string
	Provider string
	Table    warehouse.TableRef
	DryRun   bool
	Started  time.Time
	Finished time.Time
	Results  []ManifestResult
	// Invalid holds manifests skipped because they could not be parsed.
	Invalid []*manifest.ParseError
	// State is the state after the run, as committed.
	State state.State
}

func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Failed reports whether any manifest failed to load.
func (r *Report) Failed() bool {
	return r.Count(OutcomeFailed) > 0
}

// Errors returns the errors of failed manifests in processing order.
func (r *Report) Errors() []error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errs
}

// RowsLoaded is the total number of rows written by the run.
func (r *Report) RowsLoaded() int64 {
	var n int64
	for _, res := range r.Results {
		n += res.RowsLoaded
	}
	return n
}
