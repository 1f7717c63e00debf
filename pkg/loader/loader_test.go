package loader

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/metrics"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/partition"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/provider"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/schema"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/state"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse/mock"
)

var (
	testTable = warehouse.TableRef{Project: "p", Dataset: "billing", Table: "aws_cur"}
	stateKey  = "aws/p.billing.aws_cur"

	september = time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)
	october   = time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	store     *memStore
	warehouse *fakeWarehouse
	states    *memStates
	metrics   *metrics.Metrics
}

func newFixture(exports ...curExport) *fixture {
	f := &fixture{
		store:     newMemStore(),
		warehouse: newFakeWarehouse(),
		states:    newMemStates(),
		metrics:   metrics.New(),
	}
	f.store.stage(exports...)
	return f
}

func (f *fixture) loader(opts Options) *Loader {
	opts.Table = testTable
	p := provider.NewAWS(provider.Config{Prefix: "cur"})
	l := New(logrus.New(), p, f.store, f.warehouse, f.states, f.metrics, opts)
	l.now = func() time.Time { return october.AddDate(0, 0, 16) }
	return l
}

func (f *fixture) run(t *testing.T, opts Options) *Report {
	t.Helper()
	report, err := f.loader(opts).Run(context.Background())
	require.NoError(t, err)
	return report
}

func TestRunEndToEnd(t *testing.T) {
	export := curExport{assemblyID: "exec-1", month: september, files: 3}
	f := newFixture(export)

	report := f.run(t, Options{})
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, OutcomeLoaded, res.Outcome)
	assert.Equal(t, "2025-09", res.BillingMonth)
	assert.Equal(t, 3, res.FileCount)
	assert.Equal(t, int64(300), res.RowsLoaded)
	assert.Equal(t, "job-1", res.JobID)
	assert.NotEmpty(t, report.RunID)

	require.Len(t, f.warehouse.loads, 1)
	load := f.warehouse.loads[0]
	assert.Equal(t, []string{
		"gs://billing-bucket/cur/20250901-20251001/exec-1/report-1.csv.gz",
		"gs://billing-bucket/cur/20250901-20251001/exec-1/report-2.csv.gz",
		"gs://billing-bucket/cur/20250901-20251001/exec-1/report-3.csv.gz",
	}, load.SourceURIs)
	assert.Equal(t, warehouse.WriteAppend, load.WriteMode)
	assert.Equal(t, "2025-09-01", load.PartitionValue)
	assert.Equal(t, provider.AWSPartitionColumn, load.PartitionColumn)
	assert.Equal(t, provider.AWSClusterColumn, load.ClusterColumn)
	assert.Equal(t, manifest.FormatCSV, load.Options.Format)
	assert.Equal(t, []string{"identity_line_item_id", "bill_billing_period_start_date", "line_item_unblended_cost"}, schema.Names(load.Schema))

	require.Len(t, f.warehouse.created, 1, "first load creates the table")
	assert.Equal(t, state.State{"2025-09": {"exec-1"}}, f.states.states[stateKey])
	assert.Equal(t, state.State{"2025-09": {"exec-1"}}, report.State)

	require.Len(t, f.warehouse.tracking, 1)
	assert.Equal(t, warehouse.TrackingRecord{
		ExecutionID:  "exec-1",
		BillingMonth: "2025-09",
		LoadedAt:     time.Date(2025, time.October, 17, 0, 0, 0, 0, time.UTC),
		RowCount:     300,
		FileCount:    3,
		Format:       "csv",
	}, f.warehouse.tracking[0])

	n, err := testutil.GatherAndCount(f.metrics.Registry(), "billing_loader_manifests_total", "billing_loader_rows_loaded_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rerun := f.run(t, Options{})
	require.Len(t, rerun.Results, 1)
	assert.Equal(t, OutcomeSkipped, rerun.Results[0].Outcome)
	assert.Equal(t, ReasonAlreadyLoaded, rerun.Results[0].Reason)
	assert.Len(t, f.warehouse.loads, 1, "rerun loads nothing")
	assert.Len(t, f.warehouse.tracking, 1)
	assert.Equal(t, 1, f.states.saves, "unchanged state is not saved again")
}

func TestRunReplacesMonth(t *testing.T) {
	f := newFixture(curExport{assemblyID: "exec-1", month: september, files: 2})
	f.run(t, Options{})
	assert.Equal(t, int64(200), f.warehouse.partitions["2025-09-01"])

	// AWS rewrites the top-level manifest when it publishes a new version.
	f.store.stage(curExport{assemblyID: "exec-2", month: september, files: 3})
	report := f.run(t, Options{})

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, OutcomeLoaded, res.Outcome)
	assert.Equal(t, int64(200), res.RowsDeleted)
	assert.Equal(t, int64(300), f.warehouse.partitions["2025-09-01"], "month holds only the newest execution")
	assert.Equal(t, state.State{"2025-09": {"exec-1", "exec-2"}}, f.states.states[stateKey])
	assert.Len(t, f.warehouse.created, 1)
}

func TestRunNewestFirst(t *testing.T) {
	f := newFixture(
		curExport{assemblyID: "sep", month: september, files: 1},
		curExport{assemblyID: "oct", month: october, files: 1},
	)
	report := f.run(t, Options{})

	require.Len(t, report.Results, 2)
	assert.Equal(t, "2025-10", report.Results[0].BillingMonth)
	assert.Equal(t, "2025-09", report.Results[1].BillingMonth)
	assert.Equal(t, 2, report.Count(OutcomeLoaded))
	assert.Equal(t, int64(200), report.RowsLoaded())
}

// Only the newest manifest of a month is loaded in a run. Older unloaded
// executions of that month are skipped as superseded rather than loaded one
// after another.
func TestRunSupersededManifest(t *testing.T) {
	older := curExport{name: "a-report", assemblyID: "old", month: september, files: 1}
	newer := curExport{name: "b-report", assemblyID: "new", month: september, files: 2}
	f := newFixture(older, newer)

	report := f.run(t, Options{})
	require.Len(t, report.Results, 2)
	assert.Equal(t, OutcomeLoaded, report.Results[0].Outcome)
	assert.Equal(t, "new", report.Results[0].ExecutionID)
	assert.Equal(t, OutcomeSkipped, report.Results[1].Outcome)
	assert.Equal(t, ReasonSuperseded, report.Results[1].Reason)

	assert.Equal(t, int64(200), f.warehouse.partitions["2025-09-01"])
	assert.Equal(t, state.State{"2025-09": {"new"}}, f.states.states[stateKey])
}

func TestRunManifestFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := map[string]struct {
		exports  []curExport
		setup    func(f *fixture)
		failFast bool
		loadJob  bool
		check    func(t *testing.T, f *fixture, report *Report)
	}{
		"unmapped column type": {
			exports: []curExport{{assemblyID: "exec-1", month: september, files: 1, columnType: "Currency"}},
			setup: func(f *fixture) {
				f.warehouse.exists = true
				f.warehouse.partitions["2025-09-01"] = 42
			},
			check: func(t *testing.T, f *fixture, report *Report) {
				var unmapped *schema.UnmappedTypeError
				require.ErrorAs(t, report.Results[0].Err, &unmapped)
				assert.Equal(t, "Currency", unmapped.Type)
				assert.Equal(t, int64(42), f.warehouse.partitions["2025-09-01"], "existing month is kept")
			},
		},
		"partition delete fails": {
			exports: []curExport{{assemblyID: "exec-1", month: september, files: 1}},
			setup: func(f *fixture) {
				f.warehouse.exists = true
				f.warehouse.deleteErr = boom
			},
			check: func(t *testing.T, f *fixture, report *Report) {
				var deleteErr *partition.DeleteError
				require.ErrorAs(t, report.Results[0].Err, &deleteErr)
				assert.Empty(t, f.warehouse.loads)
			},
		},
		"load fails and the run continues": {
			exports: []curExport{
				{assemblyID: "oct", month: october, files: 1},
				{assemblyID: "sep", month: september, files: 1},
			},
			setup: func(f *fixture) {
				f.warehouse.loadErr["2025-10-01"] = boom
			},
			loadJob: true,
			check: func(t *testing.T, f *fixture, report *Report) {
				require.Len(t, report.Results, 2)
				assert.Equal(t, OutcomeLoaded, report.Results[1].Outcome)
				assert.Equal(t, state.State{"2025-09": {"sep"}}, f.states.states[stateKey])
				assert.Len(t, f.warehouse.tracking, 1)
			},
		},
		"load fails with fail fast": {
			exports: []curExport{
				{assemblyID: "oct", month: october, files: 1},
				{assemblyID: "sep", month: september, files: 1},
			},
			setup: func(f *fixture) {
				f.warehouse.loadErr["2025-10-01"] = boom
			},
			failFast: true,
			loadJob:  true,
			check: func(t *testing.T, f *fixture, report *Report) {
				require.Len(t, report.Results, 1)
				assert.Empty(t, f.warehouse.loads)
				assert.Zero(t, f.states.saves)
			},
		},
		"no data files": {
			exports: []curExport{{assemblyID: "exec-1", month: september}},
			check: func(t *testing.T, f *fixture, report *Report) {
				assert.ErrorIs(t, report.Results[0].Err, errNoDataFiles)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			f := newFixture(tt.exports...)
			if tt.setup != nil {
				tt.setup(f)
			}
			report := f.run(t, Options{FailFast: tt.failFast})

			require.NotEmpty(t, report.Results)
			first := report.Results[0]
			assert.Equal(t, OutcomeFailed, first.Outcome)
			var loadErr *LoadJobError
			if tt.loadJob {
				require.ErrorAs(t, first.Err, &loadErr)
				assert.Equal(t, first.BillingMonth, loadErr.BillingMonth)
				assert.ErrorIs(t, loadErr, boom)
			} else {
				assert.False(t, errors.As(first.Err, &loadErr), "only load job failures are load job errors")
			}
			assert.True(t, report.Failed())
			assert.False(t, f.states.states[stateKey].Has(first.BillingMonth, first.ExecutionID), "failed manifest is not marked")
			tt.check(t, f, report)
		})
	}
}

func TestRunTrackingFailureIsNotFatal(t *testing.T) {
	f := newFixture(curExport{assemblyID: "exec-1", month: september, files: 1})
	f.warehouse.trackingErr = errors.New("quota exceeded")

	report := f.run(t, Options{})
	assert.Equal(t, 1, report.Count(OutcomeLoaded))
	assert.Equal(t, state.State{"2025-09": {"exec-1"}}, f.states.states[stateKey])
}

func TestRunFatalErrors(t *testing.T) {
	boom := errors.New("boom")

	tests := map[string]struct {
		setup func(f *fixture)
		check func(t *testing.T, err error, f *fixture)
	}{
		"state cannot be read": {
			setup: func(f *fixture) { f.states.loadErr = boom },
			check: func(t *testing.T, err error, f *fixture) {
				assert.ErrorIs(t, err, boom)
				assert.Empty(t, f.warehouse.loads)
			},
		},
		"manifests cannot be listed": {
			setup: func(f *fixture) { f.store.listErr = boom },
			check: func(t *testing.T, err error, f *fixture) {
				var discoveryErr *manifest.DiscoveryError
				assert.ErrorAs(t, err, &discoveryErr)
				assert.Empty(t, f.warehouse.loads)
			},
		},
		"state cannot be committed": {
			setup: func(f *fixture) { f.states.saveErr = boom },
			check: func(t *testing.T, err error, f *fixture) {
				var commitErr *state.CommitError
				require.ErrorAs(t, err, &commitErr)
				assert.Equal(t, stateKey, commitErr.Key)
				assert.Len(t, f.warehouse.loads, 1)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			f := newFixture(curExport{assemblyID: "exec-1", month: september, files: 1})
			tt.setup(f)
			report, err := f.loader(Options{}).Run(context.Background())
			require.Error(t, err)
			require.NotNil(t, report)
			tt.check(t, err, f)
		})
	}
}

func TestRunInvalidManifestIsSkipped(t *testing.T) {
	f := newFixture(curExport{assemblyID: "exec-1", month: september, files: 1})
	f.store.objects["cur/20250801-20250901/report-Manifest.json"] = []byte("{not json")

	report := f.run(t, Options{})
	require.Len(t, report.Invalid, 1)
	assert.Equal(t, "cur/20250801-20250901/report-Manifest.json", report.Invalid[0].Key)
	assert.Equal(t, 1, report.Count(OutcomeLoaded))
}

func TestRunMonthFilter(t *testing.T) {
	f := newFixture(
		curExport{assemblyID: "sep", month: september, files: 1},
		curExport{assemblyID: "oct", month: october, files: 1},
	)
	report := f.run(t, Options{Filters: []manifest.Filter{manifest.MonthsFilter("2025-09")}})

	require.Len(t, report.Results, 1)
	assert.Equal(t, "2025-09", report.Results[0].BillingMonth)
	assert.Equal(t, state.State{"2025-09": {"sep"}}, f.states.states[stateKey])
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(curExport{assemblyID: "exec-1", month: september, files: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.loader(Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Empty(t, f.warehouse.loads)
}

func TestRunCancelledDuringLoad(t *testing.T) {
	f := newFixture(
		curExport{assemblyID: "oct", month: october, files: 1},
		curExport{assemblyID: "sep", month: september, files: 2},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.warehouse.afterLoad = cancel

	report, err := f.loader(Options{}).Run(ctx)
	require.NoError(t, err)

	require.Len(t, report.Results, 1, "no manifest starts after cancellation")
	res := report.Results[0]
	assert.Equal(t, OutcomeLoaded, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, int64(100), res.RowsLoaded)
	assert.Equal(t, state.State{"2025-10": {"oct"}}, f.states.states[stateKey])
	require.Len(t, f.warehouse.tracking, 1)
	assert.Equal(t, "oct", f.warehouse.tracking[0].ExecutionID)
	assert.NotContains(t, f.warehouse.partitions, "2025-09-01")
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	// Any warehouse call fails the test.
	wh := mock.NewMockWarehouse(ctrl)

	store := newMemStore()
	store.stage(
		curExport{assemblyID: "sep", month: september, files: 2},
		curExport{assemblyID: "oct", month: october, files: 1},
	)
	states := newMemStates()
	states.states[stateKey] = state.State{"2025-10": {"oct"}}

	p := provider.NewAWS(provider.Config{Prefix: "cur"})
	l := New(logrus.New(), p, store, wh, states, nil, Options{Table: testTable, DryRun: true})
	report, err := l.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, OutcomeSkipped, report.Results[0].Outcome)
	assert.Equal(t, OutcomePlanned, report.Results[1].Outcome)
	assert.Equal(t, 2, report.Results[1].FileCount)
	assert.Zero(t, states.saves)
	assert.True(t, report.DryRun)
}

func TestRunSchemaInference(t *testing.T) {
	tests := map[string]struct {
		autoDetect bool
		expectErr  error
	}{
		"warehouse infers the schema": {
			autoDetect: true,
		},
		"warehouse needs a schema": {
			expectErr: errSchemaRequired,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			store := newMemStore()
			// Azure CSV exports declare no columns.
			p := provider.NewAzure(provider.Config{Prefix: "azure", ExportName: "focus"})
			m := &manifest.Manifest{
				Path:          "azure/focus/20250901-20250930/run/manifest.json",
				ExecutionID:   "run",
				Format:        manifest.FormatCSV,
				BillingPeriod: manifest.BillingPeriod{Start: september},
				DataFiles:     []string{"part_0_0001.csv.gz"},
			}

			wh := mock.NewMockWarehouse(ctrl)
			wh.EXPECT().Capabilities().Return(warehouse.Capabilities{AutoDetectSchema: tt.autoDetect}).AnyTimes()
			wh.EXPECT().Dialect().Return(schema.ClickHouse).AnyTimes()

			l := New(logrus.New(), p, store, wh, newMemStates(), nil, Options{Table: testTable})
			fields, err := l.schemaFor(context.Background(), m, p.DataKeys(m))
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Nil(t, fields)

			// No explicit schema, so the table comes from the load job.
			assert.NoError(t, l.ensureTable(context.Background(), fields))
		})
	}
}

func TestRunInfersParquetSchema(t *testing.T) {
	buf := &bytes.Buffer{}
	pw, err := writer.NewJSONWriter(`{
  "Tag": "name=parquet_go_root, repetitiontype=REQUIRED",
  "Fields": [
    {"Tag": "name=BillingPeriodStart, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"},
    {"Tag": "name=BilledCost, type=DOUBLE, repetitiontype=OPTIONAL"}
  ]
}`, writerfile.NewWriterFile(buf), 1)
	require.NoError(t, err)
	require.NoError(t, pw.WriteStop())

	store := newMemStore()
	key := "azure/focus/20250901-20250930/run-1/part_0_0001.parquet"
	store.objects[key] = buf.Bytes()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	wh := mock.NewMockWarehouse(ctrl)
	wh.EXPECT().Capabilities().Return(warehouse.Capabilities{}).AnyTimes()
	wh.EXPECT().Dialect().Return(schema.Presto).AnyTimes()

	p := provider.NewAzure(provider.Config{Prefix: "azure", ExportName: "focus"})
	m := &manifest.Manifest{
		Path:          "azure/focus/20250901-20250930/run-1/manifest.json",
		ExecutionID:   "run-1",
		Format:        manifest.FormatParquet,
		BillingPeriod: manifest.BillingPeriod{Start: september},
		DataFiles:     []string{"some/export/path/part_0_0001.parquet"},
	}
	keys := p.DataKeys(m)
	require.Equal(t, []string{key}, keys)

	l := New(logrus.New(), p, store, wh, newMemStates(), nil, Options{Table: testTable})
	fields, err := l.schemaFor(context.Background(), m, keys)
	require.NoError(t, err)
	assert.Equal(t, []string{"billingperiodstart", "billedcost"}, schema.Names(fields))

	// Presto needs the table before the first partition delete.
	wh.EXPECT().TableExists(gomock.Any(), testTable).Return(false, nil)
	wh.EXPECT().CreateTable(gomock.Any(), warehouse.TableSpec{
		Table:           testTable,
		Fields:          fields,
		PartitionColumn: provider.AzurePartitionColumn,
		ClusterColumn:   provider.AzureClusterColumn,
	}).Return(nil)
	require.NoError(t, l.ensureTable(context.Background(), fields))
}
