// Package presto loads billing exports into Hive tables through Presto.
// Data files are exposed through a temporary external table over their
// directory and copied with INSERT INTO ... SELECT.
package presto

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/db"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
	prestosql "github.com/JGrubb/open-finops-pipelines-bigquery/pkg/presto"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/schema"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse"
)

const (
	// monthColumnSuffix names the varchar Hive partition key derived from
	// the partition column.
	monthColumnSuffix = "_month"

	defaultConnBackoff = 2 * time.Second
	defaultMaxRetries  = 5
)

type Config struct {
	// DSN is a presto-go-client data source name, e.g.
	// http://user@presto:8080?catalog=hive&schema=default
	DSN string
	// Catalog is used for tables whose TableRef has no Project.
	Catalog     string
	ConnBackoff time.Duration
	MaxRetries  int
	LogQueries  bool
}

type Warehouse struct {
	db      db.DB
	catalog string
	logger  log.FieldLogger
}

var _ warehouse.Warehouse = &Warehouse{}

func New(ctx context.Context, logger log.FieldLogger, cfg Config) (*Warehouse, error) {
	if cfg.ConnBackoff == 0 {
		cfg.ConnBackoff = defaultConnBackoff
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	logger = logger.WithField("warehouse", "presto")
	conn, err := prestosql.NewPrestoConnWithRetry(ctx, logger, cfg.DSN, cfg.ConnBackoff, cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	return NewFromDB(logger, db.NewLoggingDB(conn, logger, cfg.LogQueries), cfg.Catalog), nil
}

// NewFromDB uses an existing connection.
func NewFromDB(logger log.FieldLogger, conn db.DB, catalog string) *Warehouse {
	return &Warehouse{
		db:      conn,
		catalog: catalog,
		logger:  logger,
	}
}

func (w *Warehouse) Dialect() schema.Dialect {
	return schema.Presto
}

func (w *Warehouse) Capabilities() warehouse.Capabilities {
	return warehouse.Capabilities{}
}

func (w *Warehouse) resolve(ref warehouse.TableRef) warehouse.TableRef {
	if ref.Project == "" {
		ref.Project = w.catalog
	}
	return ref
}

func (w *Warehouse) fqn(ref warehouse.TableRef) string {
	ref = w.resolve(ref)
	return prestosql.FullyQualifiedTableName(ref.Project, ref.Dataset, ref.Table)
}

func (w *Warehouse) TableExists(ctx context.Context, ref warehouse.TableRef) (bool, error) {
	ref = w.resolve(ref)
	return prestosql.TableExists(ctx, w.db, ref.Project, ref.Dataset, ref.Table)
}

func (w *Warehouse) CountRows(ctx context.Context, ref warehouse.TableRef, p warehouse.PartitionPredicate) (int64, error) {
	rows, err := prestosql.ExecuteSelect(ctx, w.db, countSQL(w.fqn(ref), p))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt64(rows[0]["row_count"])
}

func (w *Warehouse) DeleteRows(ctx context.Context, ref warehouse.TableRef, p warehouse.PartitionPredicate) (int64, error) {
	exists, err := w.TableExists(ctx, ref)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%s: %w", ref, warehouse.ErrTableNotFound)
	}
	// Hive deletes only report success, so the partition is counted first.
	n, err := w.CountRows(ctx, ref, p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := prestosql.ExecQuery(ctx, w.db, deleteSQL(w.fqn(ref), p)); err != nil {
		return 0, err
	}
	return n, nil
}

func (w *Warehouse) CreateTable(ctx context.Context, spec warehouse.TableSpec) error {
	ref := w.resolve(spec.Table)
	columns, props, err := tableDefinition(spec)
	if err != nil {
		return err
	}
	if err := prestosql.CreateTable(ctx, w.db, ref.Project, ref.Dataset, ref.Table, columns, props, true); err != nil {
		return fmt.Errorf("could not create table %s: %w", ref, err)
	}
	return nil
}

func (w *Warehouse) Load(ctx context.Context, req warehouse.LoadRequest) (*warehouse.LoadResult, error) {
	if len(req.Schema) == 0 {
		return nil, errors.New("presto loads require an explicit schema")
	}
	if req.PartitionColumn == "" || req.PartitionValue == "" {
		return nil, errors.New("presto loads require a partition column and value")
	}
	uris := hiveURIs(req.SourceURIs)
	location, err := warehouse.CommonDir(uris)
	if err != nil {
		return nil, err
	}

	target := w.resolve(req.Table)
	if err := w.addMissingColumns(ctx, target, req.Schema); err != nil {
		return nil, err
	}

	staging := target
	staging.Table = stagingName(target.Table)
	columns, props := stagingDefinition(req, location)
	logger := w.logger.WithFields(log.Fields{"table": target.String(), "staging_table": staging.Table})
	logger.Debugf("creating staging table over %s", location)
	if err := prestosql.CreateTable(ctx, w.db, staging.Project, staging.Dataset, staging.Table, columns, props, false); err != nil {
		return nil, fmt.Errorf("could not create staging table %s: %w", staging, err)
	}
	defer func() {
		// The load context may be cancelled; cleanup still has to run.
		if err := prestosql.DropTable(context.Background(), w.db, staging.Project, staging.Dataset, staging.Table, true); err != nil {
			logger.WithError(err).Warn("could not drop staging table")
		}
	}()

	rows, err := prestosql.ExecuteSelect(ctx, w.db, insertSQL(w.fqn(target), w.fqn(staging), req, uris))
	if err != nil {
		return nil, fmt.Errorf("could not insert into %s: %w", target, err)
	}
	res := &warehouse.LoadResult{JobID: staging.Table}
	if len(rows) > 0 {
		if res.RowCount, err = toInt64(rows[0]["rows"]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (w *Warehouse) addMissingColumns(ctx context.Context, ref warehouse.TableRef, fields []schema.Field) error {
	cols, err := prestosql.QueryMetadata(ctx, w.db, ref.Project, ref.Dataset, ref.Table)
	if err != nil {
		return err
	}
	existing := make([]schema.Field, len(cols))
	for i, c := range cols {
		existing[i] = schema.Field{Name: c.Name, Type: c.Type}
	}
	added := schema.Additions(existing, fields)
	if len(added) == 0 {
		return nil
	}
	w.logger.Infof("adding %d columns to %s", len(added), ref)
	return prestosql.AddColumns(ctx, w.db, ref.Project, ref.Dataset, ref.Table, toColumns(added))
}

func (w *Warehouse) AppendTrackingRecords(ctx context.Context, ref warehouse.TableRef, records []warehouse.TrackingRecord) error {
	if len(records) == 0 {
		return nil
	}
	ref = w.resolve(ref)
	props := map[string]string{"format": "'PARQUET'"}
	if err := prestosql.CreateTable(ctx, w.db, ref.Project, ref.Dataset, ref.Table, trackingColumns, props, true); err != nil {
		return fmt.Errorf("could not create tracking table %s: %w", ref, err)
	}
	return prestosql.ExecQuery(ctx, w.db, trackingInsertSQL(w.fqn(ref), records))
}

func (w *Warehouse) Close() error {
	return w.db.Close()
}

var trackingColumns = []prestosql.Column{
	{Name: "execution_id", Type: "varchar"},
	{Name: "billing_month", Type: "varchar"},
	{Name: "loaded_at", Type: "timestamp"},
	{Name: "row_count", Type: "bigint"},
	{Name: "file_count", Type: "integer"},
	{Name: "format", Type: "varchar"},
}

// MonthColumn is the Hive partition key stored alongside column.
func MonthColumn(column string) string {
	return column + monthColumnSuffix
}

func monthFilter(p warehouse.PartitionPredicate) string {
	return fmt.Sprintf("%s = %s", prestosql.QuoteIdentifier(MonthColumn(p.Column)), prestosql.QuoteString(p.Value))
}

func countSQL(table string, p warehouse.PartitionPredicate) string {
	return fmt.Sprintf("SELECT count(*) AS row_count FROM %s WHERE %s", table, monthFilter(p))
}

func deleteSQL(table string, p warehouse.PartitionPredicate) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", table, monthFilter(p))
}

func toColumns(fields []schema.Field) []prestosql.Column {
	cols := make([]prestosql.Column, len(fields))
	for i, f := range fields {
		cols[i] = prestosql.Column{Name: f.Name, Type: f.Type}
	}
	return cols
}

// tableDefinition returns the columns and properties of a destination
// table. Hive requires partition keys to come last.
func tableDefinition(spec warehouse.TableSpec) ([]prestosql.Column, map[string]string, error) {
	if spec.PartitionColumn == "" {
		return nil, nil, errors.New("presto tables require a partition column")
	}
	month := MonthColumn(spec.PartitionColumn)
	columns := toColumns(spec.Fields)
	if _, ok := schema.Find(spec.Fields, spec.PartitionColumn); !ok {
		columns = append(columns, prestosql.Column{Name: spec.PartitionColumn, Type: "timestamp"})
	}
	columns = append(columns, prestosql.Column{Name: month, Type: "varchar"})
	props := map[string]string{
		"format":         "'PARQUET'",
		"partitioned_by": fmt.Sprintf("ARRAY[%s]", prestosql.QuoteString(month)),
	}
	return columns, props, nil
}

// stagingName returns a unique name for a temporary table beside table.
func stagingName(table string) string {
	return fmt.Sprintf("%s_staging_%s", table, strings.Replace(uuid.New().String(), "-", "", -1)[:12])
}

// stagingDefinition describes the external table over the files being
// loaded. CSV columns are read by position as varchar; Parquet columns are
// read by their name in the file.
func stagingDefinition(req warehouse.LoadRequest, location string) ([]prestosql.Column, map[string]string) {
	columns := make([]prestosql.Column, len(req.Schema))
	props := map[string]string{
		"external_location": prestosql.QuoteString(location),
	}
	switch req.Options.Format {
	case manifest.FormatParquet:
		props["format"] = "'PARQUET'"
		for i, f := range req.Schema {
			columns[i] = prestosql.Column{Name: stagingColumn(req.Options.Format, f), Type: f.Type}
		}
	default:
		props["format"] = "'CSV'"
		if req.Options.SkipLeadingRows > 0 {
			props["skip_header_line_count"] = fmt.Sprint(req.Options.SkipLeadingRows)
		}
		for i, f := range req.Schema {
			columns[i] = prestosql.Column{Name: stagingColumn(req.Options.Format, f), Type: "varchar"}
		}
	}
	return columns, props
}

func stagingColumn(format manifest.Format, f schema.Field) string {
	if format == manifest.FormatParquet && f.Original != "" {
		return strings.ToLower(f.Original)
	}
	return f.Name
}

// castExpr converts a staging column into the destination type. CSV values
// are text and empty strings mean NULL.
func castExpr(format manifest.Format, f schema.Field) string {
	col := prestosql.QuoteIdentifier(stagingColumn(format, f))
	if format == manifest.FormatParquet {
		return col
	}
	value := fmt.Sprintf("NULLIF(%s, '')", col)
	switch f.Kind {
	case schema.KindString:
		return value
	case schema.KindTimestamp:
		return fmt.Sprintf("CAST(from_iso8601_timestamp(%s) AS timestamp)", value)
	default:
		return fmt.Sprintf("CAST(%s AS %s)", value, f.Type)
	}
}

func insertSQL(target, staging string, req warehouse.LoadRequest, uris []string) string {
	names := make([]prestosql.Column, 0, len(req.Schema)+1)
	selects := make([]string, 0, len(req.Schema)+1)
	for _, f := range req.Schema {
		names = append(names, prestosql.Column{Name: f.Name})
		selects = append(selects, castExpr(req.Options.Format, f))
	}
	names = append(names, prestosql.Column{Name: MonthColumn(req.PartitionColumn)})
	selects = append(selects, prestosql.QuoteString(req.PartitionValue))

	paths := make([]string, len(uris))
	for i, u := range uris {
		paths[i] = prestosql.QuoteString(u)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE \"$path\" IN (%s)",
		strings.Join(selects, ", "), staging, strings.Join(paths, ", "))
	return prestosql.FormatInsertQuery(
		fmt.Sprintf("%s (%s)", target, prestosql.GenerateQuotedColumnsListSQL(names)), query)
}

func trackingInsertSQL(table string, records []warehouse.TrackingRecord) string {
	values := make([]string, len(records))
	for i, r := range records {
		values[i] = fmt.Sprintf("(%s, %s, TIMESTAMP %s, %d, %d, %s)",
			prestosql.QuoteString(r.ExecutionID),
			prestosql.QuoteString(r.BillingMonth),
			prestosql.QuoteString(r.LoadedAt.UTC().Format(prestosql.TimestampFormat)),
			r.RowCount,
			r.FileCount,
			prestosql.QuoteString(r.Format),
		)
	}
	return prestosql.FormatInsertQuery(table, "VALUES "+strings.Join(values, ", "))
}

// hiveURIs rewrites s3:// locations to the s3a:// scheme the Hive
// connector's filesystem expects.
func hiveURIs(uris []string) []string {
	out := make([]string, len(uris))
	for i, u := range uris {
		if strings.HasPrefix(u, "s3://") {
			u = "s3a://" + strings.TrimPrefix(u, "s3://")
		}
		out[i] = u
	}
	return out
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected count type %T", v)
}
