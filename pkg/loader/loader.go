// Package loader drives a provider's manifests into a warehouse table. Each
// manifest is either skipped, because its execution is already loaded, or
// replaces the contents of its billing month.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/metrics"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/partition"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/provider"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/schema"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/schema/parquet"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/state"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/storage"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse"
)

type Options struct {
	Table warehouse.TableRef
	// StateKey defaults to state.Key(provider, Table).
	StateKey string
	// DryRun decides and logs what would be loaded without touching the
	// warehouse or the state.
	DryRun bool
	// FailFast stops the run at the first failed manifest.
	FailFast bool
	Filters  []manifest.Filter
}

type Loader struct {
	logger     log.FieldLogger
	provider   provider.Provider
	store      storage.Store
	warehouse  warehouse.Warehouse
	partitions *partition.Manager
	states     state.Store
	metrics    *metrics.Metrics
	opts       Options

	now      func() time.Time
	builders map[manifest.Format]*schema.Builder
}

func New(logger log.FieldLogger, p provider.Provider, store storage.Store, wh warehouse.Warehouse, states state.Store, m *metrics.Metrics, opts Options) *Loader {
	if opts.StateKey == "" {
		opts.StateKey = state.Key(p.Name(), opts.Table)
	}
	logger = logger.WithField("provider", p.Name())
	return &Loader{
		logger:     logger,
		provider:   p,
		store:      store,
		warehouse:  wh,
		partitions: partition.NewManager(logger, wh),
		states:     states,
		metrics:    m,
		opts:       opts,
		now:        time.Now,
		builders:   make(map[manifest.Format]*schema.Builder),
	}
}

// Run processes every discovered manifest newest first and commits the
// resulting state once at the end. The returned error is fatal for the run:
// the state could not be read, manifests could not be listed or the state
// could not be committed. Manifests that fail to load are reported in the
// Report, not as an error.
func (l *Loader) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:    uuid.New().String(),
		Provider: l.provider.Name(),
		Table:    l.opts.Table,
		DryRun:   l.opts.DryRun,
		Started:  l.now().UTC(),
	}
	logger := l.logger.WithFields(log.Fields{"run_id": report.RunID, "table": l.opts.Table.String()})
	logger.Infof("starting run, dry run: %t", l.opts.DryRun)

	prior, err := l.states.Load(ctx, l.opts.StateKey)
	if err != nil {
		report.Finished = l.now().UTC()
		return report, fmt.Errorf("could not load state %q: %w", l.opts.StateKey, err)
	}
	tracker := state.NewTracker(prior)

	discoverer := manifest.NewDiscoverer(logger, l.store, l.provider.ListPrefix(), l.provider.ManifestPattern(),
		manifest.ParserFunc(l.provider.Parse), l.opts.Filters...)
	discovered, err := discoverer.Discover(ctx)
	if err != nil {
		report.Finished = l.now().UTC()
		return report, err
	}
	report.Invalid = discovered.Errors

	var records []warehouse.TrackingRecord
	claimed := make(map[string]bool)
	for _, m := range discovered.Manifests {
		if err := ctx.Err(); err != nil {
			logger.WithError(err).Warn("run cancelled, remaining manifests are left for the next run")
			break
		}

		var res ManifestResult
		if claimed[m.BillingMonth()] {
			res = skipped(m, ReasonSuperseded)
		} else {
			claimed[m.BillingMonth()] = true
			res = l.process(ctx, logger, m, tracker)
		}
		report.Results = append(report.Results, res)
		l.metrics.ManifestProcessed(l.provider.Name(), string(res.Outcome))

		if res.Outcome == OutcomeLoaded {
			records = append(records, warehouse.TrackingRecord{
				ExecutionID:  res.ExecutionID,
				BillingMonth: res.BillingMonth,
				LoadedAt:     l.now().UTC(),
				RowCount:     res.RowsLoaded,
				FileCount:    res.FileCount,
				Format:       string(m.Format),
			})
		}
		if res.Outcome == OutcomeFailed && l.opts.FailFast {
			logger.Warn("stopping at the first failed manifest")
			break
		}
	}

	// Loads that completed must be recorded even if the run was cancelled.
	commitCtx := context.WithoutCancel(ctx)
	if len(records) > 0 {
		if err := l.warehouse.AppendTrackingRecords(commitCtx, l.opts.Table.Tracking(), records); err != nil {
			logger.WithError(err).Warnf("could not append %d load tracking records", len(records))
		}
	}
	if !l.opts.DryRun {
		if err := state.Commit(commitCtx, l.states, l.opts.StateKey, tracker); err != nil {
			report.Finished = l.now().UTC()
			return report, err
		}
	}
	report.State = tracker.Snapshot()
	report.Finished = l.now().UTC()
	if !report.Failed() {
		l.metrics.RunSucceeded(l.provider.Name(), report.Finished)
	}

	logger.WithFields(log.Fields{
		"loaded":      report.Count(OutcomeLoaded),
		"skipped":     report.Count(OutcomeSkipped),
		"failed":      report.Count(OutcomeFailed),
		"planned":     report.Count(OutcomePlanned),
		"invalid":     len(report.Invalid),
		"rows_loaded": report.RowsLoaded(),
	}).Info("run finished")
	return report, nil
}

func skipped(m *manifest.Manifest, reason string) ManifestResult {
	return ManifestResult{
		Path:         m.Path,
		ExecutionID:  m.ExecutionID,
		BillingMonth: m.BillingMonth(),
		Outcome:      OutcomeSkipped,
		Reason:       reason,
	}
}

// process replaces the billing month of m unless its execution is already
// loaded.
func (l *Loader) process(ctx context.Context, logger log.FieldLogger, m *manifest.Manifest, tracker *state.Tracker) ManifestResult {
	month := m.BillingMonth()
	logger = logger.WithFields(log.Fields{"billing_month": month, "execution_id": m.ExecutionID})

	if tracker.IsLoaded(month, m.ExecutionID) {
		logger.Infof("skipping %s, already loaded", m.Path)
		return skipped(m, ReasonAlreadyLoaded)
	}

	res := ManifestResult{
		Path:         m.Path,
		ExecutionID:  m.ExecutionID,
		BillingMonth: month,
	}
	fail := func(err error) ManifestResult {
		logger.WithError(err).Error("manifest failed")
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	keys := l.provider.DataKeys(m)
	if len(keys) == 0 {
		return fail(errNoDataFiles)
	}
	uris := make([]string, len(keys))
	for i, k := range keys {
		uris[i] = l.store.URI(k)
	}
	res.FileCount = len(uris)

	if l.opts.DryRun {
		logger.Infof("would replace %s with %d files from %s", month, len(uris), m.Path)
		res.Outcome = OutcomePlanned
		return res
	}
	logger.Infof("replacing %s with %d files from %s", month, len(uris), m.Path)

	// A replace that has started runs to completion; cancellation is only
	// honoured between manifests.
	ctx = context.WithoutCancel(ctx)

	fields, err := l.schemaFor(ctx, m, keys)
	if err != nil {
		return fail(err)
	}
	if err := l.ensureTable(ctx, fields); err != nil {
		return fail(err)
	}

	column := l.provider.PartitionColumn()
	deleted, err := l.partitions.DeletePartition(ctx, l.opts.Table, column, m.PartitionValue())
	if err != nil {
		return fail(err)
	}
	res.RowsDeleted = deleted
	l.metrics.RowsDeleted(l.provider.Name(), deleted)

	start := l.now()
	result, err := l.warehouse.Load(ctx, warehouse.LoadRequest{
		Table:           l.opts.Table,
		SourceURIs:      uris,
		Schema:          fields,
		Options:         l.provider.FormatOptions(m),
		WriteMode:       warehouse.WriteAppend,
		PartitionColumn: column,
		PartitionValue:  m.PartitionValue(),
		ClusterColumn:   l.provider.ClusterColumn(),
	})
	res.Duration = l.now().Sub(start)
	if err != nil {
		return fail(&LoadJobError{Manifest: m.Path, BillingMonth: month, ExecutionID: m.ExecutionID, Err: err})
	}

	tracker.MarkLoaded(month, m.ExecutionID)
	res.Outcome = OutcomeLoaded
	res.RowsLoaded = result.RowCount
	res.JobID = result.JobID
	l.metrics.LoadFinished(l.provider.Name(), res.Duration, result.RowCount)
	logger.WithFields(log.Fields{
		"rows_loaded":  result.RowCount,
		"rows_deleted": deleted,
		"job_id":       result.JobID,
	}).Infof("loaded %s", month)
	return res
}

// schemaFor returns the explicit schema of the load, or nil when the
// warehouse infers it from the files.
func (l *Loader) schemaFor(ctx context.Context, m *manifest.Manifest, keys []string) ([]schema.Field, error) {
	if columns := l.provider.SchemaColumns(m); len(columns) > 0 {
		fields, err := l.builder(m).Build(columns)
		if err != nil || fields != nil {
			return fields, err
		}
	}
	if l.warehouse.Capabilities().AutoDetectSchema {
		return nil, nil
	}
	if m.Format != manifest.FormatParquet {
		return nil, errSchemaRequired
	}

	data, err := l.store.Read(ctx, keys[0])
	if err != nil {
		return nil, fmt.Errorf("could not read %s to infer its schema: %w", keys[0], err)
	}
	inferred, err := parquet.InferFields(data, l.warehouse.Dialect(), l.provider.Namer(m))
	if err != nil {
		return nil, fmt.Errorf("could not infer the schema of %s: %w", keys[0], err)
	}
	if len(inferred.Skipped) > 0 {
		l.logger.Warnf("nested columns of %s are not loaded: %v", keys[0], inferred.Skipped)
	}
	return inferred.Fields, nil
}

func (l *Loader) builder(m *manifest.Manifest) *schema.Builder {
	b, ok := l.builders[m.Format]
	if !ok {
		b = schema.NewBuilder(l.warehouse.Dialect(), l.provider.TypeMap(), l.provider.Namer(m))
		l.builders[m.Format] = b
	}
	return b
}

// ensureTable creates the destination table on first load. Warehouses that
// infer schemas create it themselves from the load job when no schema is
// known.
func (l *Loader) ensureTable(ctx context.Context, fields []schema.Field) error {
	if fields == nil && l.warehouse.Capabilities().AutoDetectSchema {
		return nil
	}
	exists, err := l.warehouse.TableExists(ctx, l.opts.Table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	l.logger.Infof("creating table %s", l.opts.Table)
	return l.warehouse.CreateTable(ctx, warehouse.TableSpec{
		Table:           l.opts.Table,
		Fields:          fields,
		PartitionColumn: l.provider.PartitionColumn(),
		ClusterColumn:   l.provider.ClusterColumn(),
	})
}
