// Package bigquery loads billing exports with native BigQuery load jobs
// reading directly from Cloud Storage.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	bq "cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/schema"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse"
)

const allowFieldAddition = "ALLOW_FIELD_ADDITION"

type Config struct {
	Project string
	// Location is the dataset location jobs run in, e.g. US.
	Location string
}

type Warehouse struct {
	client *bq.Client
	logger log.FieldLogger
}

var _ warehouse.Warehouse = &Warehouse{}

// New creates a client for cfg.Project using application default
// credentials.
func New(ctx context.Context, logger log.FieldLogger, cfg Config) (*Warehouse, error) {
	client, err := bq.NewClient(ctx, cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("could not create BigQuery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	return &Warehouse{
		client: client,
		logger: logger.WithField("warehouse", "bigquery"),
	}, nil
}

func (w *Warehouse) Dialect() schema.Dialect {
	return schema.BigQuery
}

func (w *Warehouse) Capabilities() warehouse.Capabilities {
	return warehouse.Capabilities{AutoDetectSchema: true}
}

func (w *Warehouse) table(ref warehouse.TableRef) *bq.Table {
	return w.client.DatasetInProject(ref.Project, ref.Dataset).Table(ref.Table)
}

func (w *Warehouse) TableExists(ctx context.Context, ref warehouse.TableRef) (bool, error) {
	_, err := w.table(ref).Metadata(ctx)
	if err == nil {
		return true, nil
	}
	if isStatus(err, http.StatusNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("could not get metadata of %s: %w", ref, err)
}

func (w *Warehouse) CountRows(ctx context.Context, ref warehouse.TableRef, p warehouse.PartitionPredicate) (int64, error) {
	params, err := w.monthParameters(ctx, ref, p)
	if err != nil {
		return 0, err
	}
	q := w.client.Query(countSQL(ref, p))
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return 0, w.wrapNotFound(ref, err)
	}
	var row []bq.Value
	if err := it.Next(&row); err != nil {
		if err == iterator.Done {
			return 0, nil
		}
		return 0, err
	}
	n, ok := row[0].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected count type %T", row[0])
	}
	return n, nil
}

func (w *Warehouse) DeleteRows(ctx context.Context, ref warehouse.TableRef, p warehouse.PartitionPredicate) (int64, error) {
	params, err := w.monthParameters(ctx, ref, p)
	if err != nil {
		return 0, err
	}
	q := w.client.Query(deleteSQL(ref, p))
	q.Parameters = params
	status, _, err := w.runJob(ctx, q.Run)
	if err != nil {
		return 0, w.wrapNotFound(ref, err)
	}
	if stats, ok := status.Statistics.Details.(*bq.QueryStatistics); ok {
		return stats.NumDMLAffectedRows, nil
	}
	return 0, nil
}

func (w *Warehouse) CreateTable(ctx context.Context, spec warehouse.TableSpec) error {
	md := &bq.TableMetadata{
		Schema: toSchema(spec.Fields),
	}
	if spec.PartitionColumn != "" {
		md.TimePartitioning = &bq.TimePartitioning{Type: bq.MonthPartitioningType, Field: spec.PartitionColumn}
	}
	if spec.ClusterColumn != "" {
		md.Clustering = &bq.Clustering{Fields: []string{spec.ClusterColumn}}
	}
	err := w.table(spec.Table).Create(ctx, md)
	if err != nil && !isStatus(err, http.StatusConflict) {
		return fmt.Errorf("could not create table %s: %w", spec.Table, err)
	}
	if err == nil {
		w.logger.Infof("created table %s", spec.Table)
	}
	return nil
}

func (w *Warehouse) Load(ctx context.Context, req warehouse.LoadRequest) (*warehouse.LoadResult, error) {
	if len(req.SourceURIs) == 0 {
		return nil, errors.New("load request has no source uris")
	}
	loader := w.table(req.Table).LoaderFrom(gcsReference(req))
	configureLoader(&loader.LoadConfig, req)

	status, jobID, err := w.runJob(ctx, loader.Run)
	if err != nil {
		return nil, fmt.Errorf("load job into %s failed: %w", req.Table, err)
	}
	res := &warehouse.LoadResult{JobID: jobID}
	if stats, ok := status.Statistics.Details.(*bq.LoadStatistics); ok {
		res.RowCount = stats.OutputRows
	}
	return res, nil
}

func (w *Warehouse) AppendTrackingRecords(ctx context.Context, ref warehouse.TableRef, records []warehouse.TrackingRecord) error {
	if len(records) == 0 {
		return nil
	}
	trackingSchema, err := bq.InferSchema(warehouse.TrackingRecord{})
	if err != nil {
		return err
	}
	t := w.table(ref)
	if err := t.Create(ctx, &bq.TableMetadata{Schema: trackingSchema}); err != nil && !isStatus(err, http.StatusConflict) {
		return fmt.Errorf("could not create tracking table %s: %w", ref, err)
	}
	if err := t.Inserter().Put(ctx, records); err != nil {
		return fmt.Errorf("could not insert tracking records into %s: %w", ref, err)
	}
	return nil
}

func (w *Warehouse) Close() error {
	return w.client.Close()
}

type runFunc func(context.Context) (*bq.Job, error)

// runJob submits a job and blocks until it finishes.
func (w *Warehouse) runJob(ctx context.Context, run runFunc) (*bq.JobStatus, string, error) {
	job, err := run(ctx)
	if err != nil {
		return nil, "", err
	}
	logger := w.logger.WithField("job_id", job.ID())
	logger.Debugf("waiting for job")
	status, err := job.Wait(ctx)
	if err != nil {
		return nil, job.ID(), err
	}
	if err := status.Err(); err != nil {
		for _, e := range status.Errors {
			logger.WithError(e).Warn("job error")
		}
		return status, job.ID(), err
	}
	return status, job.ID(), nil
}

func (w *Warehouse) wrapNotFound(ref warehouse.TableRef, err error) error {
	if isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%s: %w", ref, warehouse.ErrTableNotFound)
	}
	return err
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

func quoteTable(ref warehouse.TableRef) string {
	return "`" + ref.String() + "`"
}

func countSQL(ref warehouse.TableRef, p warehouse.PartitionPredicate) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", quoteTable(ref), partitionFilter(p))
}

func deleteSQL(ref warehouse.TableRef, p warehouse.PartitionPredicate) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", quoteTable(ref), partitionFilter(p))
}

// partitionFilter compares the raw partition column against the month
// bounds so only that month's partition is touched.
func partitionFilter(p warehouse.PartitionPredicate) string {
	return fmt.Sprintf("`%[1]s` >= @month_start AND `%[1]s` < @next_month_start", p.Column)
}

// monthParameters types the month bounds after the partition column of ref.
func (w *Warehouse) monthParameters(ctx context.Context, ref warehouse.TableRef, p warehouse.PartitionPredicate) ([]bq.QueryParameter, error) {
	month, err := p.Month()
	if err != nil {
		return nil, err
	}
	md, err := w.table(ref).Metadata(ctx)
	if err != nil {
		return nil, w.wrapNotFound(ref, err)
	}
	for _, f := range md.Schema {
		if strings.EqualFold(f.Name, p.Column) {
			return monthBounds(month, f.Type)
		}
	}
	return nil, fmt.Errorf("table %s has no partition column %s", ref, p.Column)
}

func monthBounds(month time.Time, typ bq.FieldType) ([]bq.QueryParameter, error) {
	next := month.AddDate(0, 1, 0)
	var start, end interface{}
	switch typ {
	case bq.TimestampFieldType:
		start, end = month, next
	case bq.DateFieldType:
		start, end = civil.DateOf(month), civil.DateOf(next)
	case bq.DateTimeFieldType:
		start, end = civil.DateTimeOf(month), civil.DateTimeOf(next)
	default:
		return nil, fmt.Errorf("partition column type %s is not a date or timestamp", typ)
	}
	return []bq.QueryParameter{
		{Name: "month_start", Value: start},
		{Name: "next_month_start", Value: end},
	}, nil
}

func toSchema(fields []schema.Field) bq.Schema {
	s := make(bq.Schema, len(fields))
	for i, f := range fields {
		s[i] = &bq.FieldSchema{
			Name: f.Name,
			Type: bq.FieldType(f.Type),
		}
	}
	return s
}

func gcsReference(req warehouse.LoadRequest) *bq.GCSReference {
	ref := bq.NewGCSReference(req.SourceURIs...)
	switch req.Options.Format {
	case manifest.FormatParquet:
		ref.SourceFormat = bq.Parquet
	default:
		ref.SourceFormat = bq.CSV
		ref.SkipLeadingRows = int64(req.Options.SkipLeadingRows)
		ref.AllowQuotedNewlines = req.Options.AllowQuotedNewlines
		ref.FieldDelimiter = ","
		if isGzip(req.Options.Compression) {
			ref.Compression = bq.Gzip
		}
	}
	if req.Schema != nil {
		ref.Schema = toSchema(req.Schema)
	} else if ref.SourceFormat == bq.CSV {
		ref.AutoDetect = true
	}
	return ref
}

func configureLoader(cfg *bq.LoadConfig, req warehouse.LoadRequest) {
	cfg.WriteDisposition = bq.WriteAppend
	if req.WriteMode == warehouse.WriteTruncate {
		cfg.WriteDisposition = bq.WriteTruncate
	}
	cfg.CreateDisposition = bq.CreateIfNeeded
	if req.Options.AllowFieldAddition {
		cfg.SchemaUpdateOptions = []string{allowFieldAddition}
	}
	if req.Options.Format == manifest.FormatParquet && req.Options.DecimalTarget != "" {
		cfg.DecimalTargetTypes = []bq.DecimalTargetType{bq.DecimalTargetType(req.Options.DecimalTarget)}
	}
	if req.PartitionColumn != "" {
		cfg.TimePartitioning = &bq.TimePartitioning{Type: bq.MonthPartitioningType, Field: req.PartitionColumn}
	}
	if req.ClusterColumn != "" {
		cfg.Clustering = &bq.Clustering{Fields: []string{req.ClusterColumn}}
	}
}

func isGzip(compression string) bool {
	switch compression {
	case "GZIP", "gzip", "Gzip":
		return true
	}
	return false
}
