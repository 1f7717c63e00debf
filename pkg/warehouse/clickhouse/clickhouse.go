// Package clickhouse loads billing exports into MergeTree tables with the
// s3 table function, letting the server read the staged files directly.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/db"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/schema"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse"
)

const (
	gcsEndpoint = "https://storage.googleapis.com"

	timestampType = "DateTime64(3, 'UTC')"
)

type Config struct {
	// DSN is a clickhouse-go data source name, e.g.
	// clickhouse://default:@localhost:9000/billing
	DSN string
	// S3Endpoint replaces the AWS endpoint for s3:// sources, e.g. a MinIO
	// server. Buckets are addressed path style.
	S3Endpoint string
	// AccessKeyID and SecretAccessKey are passed to the s3 table function.
	// When empty the server's own credentials are used.
	AccessKeyID     string
	SecretAccessKey string
	LogQueries      bool
}

type Warehouse struct {
	db     db.DB
	cfg    Config
	logger log.FieldLogger
}

var _ warehouse.Warehouse = &Warehouse{}

func New(logger log.FieldLogger, cfg Config) (*Warehouse, error) {
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid ClickHouse DSN: %w", err)
	}
	logger = logger.WithField("warehouse", "clickhouse")
	return NewFromDB(logger, db.NewLoggingDB(clickhouse.OpenDB(opts), logger, cfg.LogQueries), cfg), nil
}

// NewFromDB uses an existing connection.
func NewFromDB(logger log.FieldLogger, conn db.DB, cfg Config) *Warehouse {
	return &Warehouse{
		db:     conn,
		cfg:    cfg,
		logger: logger,
	}
}

func (w *Warehouse) Dialect() schema.Dialect {
	return schema.ClickHouse
}

func (w *Warehouse) Capabilities() warehouse.Capabilities {
	return warehouse.Capabilities{}
}

func (w *Warehouse) TableExists(ctx context.Context, ref warehouse.TableRef) (bool, error) {
	var exists uint8
	if err := w.queryRow(ctx, &exists, "EXISTS TABLE "+tableName(ref)); err != nil {
		return false, err
	}
	return exists == 1, nil
}

func (w *Warehouse) CountRows(ctx context.Context, ref warehouse.TableRef, p warehouse.PartitionPredicate) (int64, error) {
	var n uint64
	if err := w.queryRow(ctx, &n, countSQL(ref, p), p.Value); err != nil {
		return 0, err
	}
	return int64(n), nil
}

func (w *Warehouse) DeleteRows(ctx context.Context, ref warehouse.TableRef, p warehouse.PartitionPredicate) (int64, error) {
	exists, err := w.TableExists(ctx, ref)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%s: %w", ref, warehouse.ErrTableNotFound)
	}
	n, err := w.CountRows(ctx, ref, p)
	if err != nil {
		return 0, err
	}
	query, err := dropPartitionSQL(ref, p)
	if err != nil {
		return 0, err
	}
	if _, err := w.db.ExecContext(ctx, query); err != nil {
		return 0, err
	}
	return n, nil
}

func (w *Warehouse) CreateTable(ctx context.Context, spec warehouse.TableSpec) error {
	query, err := createTableSQL(spec)
	if err != nil {
		return err
	}
	if _, err := w.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("could not create table %s: %w", spec.Table, err)
	}
	return nil
}

func (w *Warehouse) Load(ctx context.Context, req warehouse.LoadRequest) (*warehouse.LoadResult, error) {
	if len(req.Schema) == 0 {
		return nil, errors.New("clickhouse loads require an explicit schema")
	}
	source, err := w.sourceURL(req.SourceURIs)
	if err != nil {
		return nil, err
	}
	if err := w.addMissingColumns(ctx, req.Table, req.Schema); err != nil {
		return nil, err
	}

	p := warehouse.PartitionPredicate{Column: req.PartitionColumn, Value: req.PartitionValue}
	before, err := w.CountRows(ctx, req.Table, p)
	if err != nil {
		return nil, err
	}

	queryID := uuid.New().String()
	w.logger.WithFields(log.Fields{"table": req.Table.String(), "query_id": queryID}).Debugf("inserting from %s", source)
	query := insertSQL(req, w.tableFunction(source, req))
	if _, err := w.db.ExecContext(clickhouse.Context(ctx, clickhouse.WithQueryID(queryID)), query); err != nil {
		return nil, fmt.Errorf("could not insert into %s: %w", req.Table, err)
	}

	after, err := w.CountRows(ctx, req.Table, p)
	if err != nil {
		return nil, err
	}
	return &warehouse.LoadResult{RowCount: after - before, JobID: queryID}, nil
}

func (w *Warehouse) addMissingColumns(ctx context.Context, ref warehouse.TableRef, fields []schema.Field) error {
	existing, err := w.columns(ctx, ref)
	if err != nil {
		return err
	}
	for _, f := range schema.Additions(existing, fields) {
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", tableName(ref), quoteIdentifier(f.Name), f.Type)
		if _, err := w.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("could not add column %s to %s: %w", f.Name, ref, err)
		}
		w.logger.Infof("added column %s to %s", f.Name, ref)
	}
	return nil
}

func (w *Warehouse) columns(ctx context.Context, ref warehouse.TableRef) ([]schema.Field, error) {
	rows, err := w.db.QueryContext(ctx,
		"SELECT name, type FROM system.columns WHERE database = ? AND table = ? ORDER BY position",
		ref.Dataset, ref.Table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var fields []schema.Field
	for rows.Next() {
		var f schema.Field
		if err := rows.Scan(&f.Name, &f.Type); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (w *Warehouse) AppendTrackingRecords(ctx context.Context, ref warehouse.TableRef, records []warehouse.TrackingRecord) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := w.db.ExecContext(ctx, createTrackingSQL(ref)); err != nil {
		return fmt.Errorf("could not create tracking table %s: %w", ref, err)
	}
	query, args := trackingInsert(ref, records)
	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

func (w *Warehouse) Close() error {
	return w.db.Close()
}

func (w *Warehouse) queryRow(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return fmt.Errorf("no rows returned by %q", query)
	}
	if err := rows.Scan(dest); err != nil {
		return err
	}
	return rows.Err()
}

// sourceURL converts the source uris into one HTTP URL, using a glob
// alternation when several files share a directory.
func (w *Warehouse) sourceURL(uris []string) (string, error) {
	dir, err := warehouse.CommonDir(uris)
	if err != nil {
		return "", err
	}
	names := make([]string, len(uris))
	for i, u := range uris {
		names[i] = strings.TrimPrefix(u, dir)
	}
	base, err := w.httpURL(dir)
	if err != nil {
		return "", err
	}
	if len(names) == 1 {
		return base + names[0], nil
	}
	return base + "{" + strings.Join(names, ",") + "}", nil
}

func (w *Warehouse) httpURL(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "gs":
		return gcsEndpoint + "/" + u.Host + u.Path, nil
	case "s3":
		if w.cfg.S3Endpoint != "" {
			return strings.TrimSuffix(w.cfg.S3Endpoint, "/") + "/" + u.Host + u.Path, nil
		}
		return "https://" + u.Host + ".s3.amazonaws.com" + u.Path, nil
	case "http", "https":
		return uri, nil
	}
	return "", fmt.Errorf("clickhouse cannot read %s sources", u.Scheme)
}

func (w *Warehouse) tableFunction(source string, req warehouse.LoadRequest) string {
	args := []string{quoteString(source)}
	if w.cfg.AccessKeyID != "" {
		args = append(args, quoteString(w.cfg.AccessKeyID), quoteString(w.cfg.SecretAccessKey))
	}
	if req.Options.Format == manifest.FormatParquet {
		args = append(args, "'Parquet'")
	} else {
		args = append(args, "'CSV'", quoteString(csvStructure(req.Schema)), quoteString(compressionMethod(req.Options.Compression)))
	}
	return fmt.Sprintf("s3(%s)", strings.Join(args, ", "))
}

func quoteIdentifier(name string) string {
	return "`" + strings.Replace(name, "`", "\\`", -1) + "`"
}

func quoteString(s string) string {
	s = strings.Replace(s, `\`, `\\`, -1)
	return "'" + strings.Replace(s, "'", `\'`, -1) + "'"
}

func tableName(ref warehouse.TableRef) string {
	if ref.Dataset == "" {
		return quoteIdentifier(ref.Table)
	}
	return quoteIdentifier(ref.Dataset) + "." + quoteIdentifier(ref.Table)
}

func countSQL(ref warehouse.TableRef, p warehouse.PartitionPredicate) string {
	return fmt.Sprintf("SELECT count() FROM %s WHERE toStartOfMonth(%s) = toDate(?)", tableName(ref), quoteIdentifier(p.Column))
}

// dropPartitionSQL drops the toYYYYMM partition holding the predicate month.
func dropPartitionSQL(ref warehouse.TableRef, p warehouse.PartitionPredicate) (string, error) {
	month, err := p.Month()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s DROP PARTITION %s", tableName(ref), month.Format("200601")), nil
}

// notNullable strips Nullable from key column types; MergeTree keys cannot
// be nullable.
func notNullable(t string) string {
	if strings.HasPrefix(t, "Nullable(") && strings.HasSuffix(t, ")") {
		return t[len("Nullable(") : len(t)-1]
	}
	return t
}

func createTableSQL(spec warehouse.TableSpec) (string, error) {
	if spec.PartitionColumn == "" {
		return "", errors.New("clickhouse tables require a partition column")
	}
	fields := append([]schema.Field(nil), spec.Fields...)
	for _, key := range []string{spec.PartitionColumn, spec.ClusterColumn} {
		if key == "" {
			continue
		}
		if _, ok := schema.Find(fields, key); !ok {
			fields = append(fields, schema.Field{Name: key, Kind: schema.KindTimestamp, Type: timestampType})
		}
	}

	defs := make([]string, len(fields))
	for i, f := range fields {
		t := f.Type
		if equalName(f.Name, spec.PartitionColumn) || equalName(f.Name, spec.ClusterColumn) {
			t = notNullable(t)
		}
		defs[i] = fmt.Sprintf("%s %s", quoteIdentifier(f.Name), t)
	}

	orderBy := "tuple()"
	if spec.ClusterColumn != "" {
		orderBy = "(" + quoteIdentifier(spec.ClusterColumn) + ")"
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n) ENGINE = MergeTree\nPARTITION BY toYYYYMM(%s)\nORDER BY %s",
		tableName(spec.Table), strings.Join(defs, ",\n\t"), quoteIdentifier(spec.PartitionColumn), orderBy), nil
}

func equalName(a, b string) bool {
	return b != "" && strings.EqualFold(a, b)
}

// csvStructure reads every CSV column as text; values are converted by the
// insert's select list.
func csvStructure(fields []schema.Field) string {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = fmt.Sprintf("%s Nullable(String)", quoteIdentifier(f.Name))
	}
	return strings.Join(cols, ", ")
}

func compressionMethod(compression string) string {
	switch strings.ToLower(compression) {
	case "gzip":
		return "gzip"
	case "", "none":
		return "none"
	}
	return "auto"
}

func castExpr(format manifest.Format, f schema.Field) string {
	if format == manifest.FormatParquet {
		name := f.Original
		if name == "" {
			name = f.Name
		}
		return fmt.Sprintf("CAST(%s AS %s)", quoteIdentifier(name), f.Type)
	}
	value := fmt.Sprintf("nullIf(%s, '')", quoteIdentifier(f.Name))
	switch f.Kind {
	case schema.KindString:
		return value
	case schema.KindTimestamp:
		return fmt.Sprintf("parseDateTime64BestEffortOrNull(%s, 3, 'UTC')", value)
	}
	return fmt.Sprintf("CAST(%s AS %s)", value, f.Type)
}

func insertSQL(req warehouse.LoadRequest, source string) string {
	names := make([]string, len(req.Schema))
	selects := make([]string, len(req.Schema))
	for i, f := range req.Schema {
		names[i] = quoteIdentifier(f.Name)
		selects[i] = castExpr(req.Options.Format, f)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		tableName(req.Table), strings.Join(names, ", "), strings.Join(selects, ", "), source)
	if req.Options.Format != manifest.FormatParquet && req.Options.SkipLeadingRows > 0 {
		query += fmt.Sprintf(" SETTINGS input_format_csv_skip_first_lines = %d", req.Options.SkipLeadingRows)
	}
	return query
}

func createTrackingSQL(ref warehouse.TableRef) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	execution_id String,
	billing_month String,
	loaded_at %s,
	row_count Int64,
	file_count Int32,
	format String
) ENGINE = MergeTree
ORDER BY (billing_month, loaded_at)`, tableName(ref), timestampType)
}

func trackingInsert(ref warehouse.TableRef, records []warehouse.TrackingRecord) (string, []interface{}) {
	placeholders := make([]string, len(records))
	args := make([]interface{}, 0, len(records)*6)
	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?)"
		args = append(args, r.ExecutionID, r.BillingMonth, r.LoadedAt.UTC(), r.RowCount, int32(r.FileCount), r.Format)
	}
	query := fmt.Sprintf("INSERT INTO %s (execution_id, billing_month, loaded_at, row_count, file_count, format) VALUES %s",
		tableName(ref), strings.Join(placeholders, ", "))
	return query, args
}
