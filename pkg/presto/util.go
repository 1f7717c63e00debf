package presto

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/db"
)

// TimestampFormat renders timestamp literals.
const TimestampFormat = "2006-01-02 15:04:05.000"

// Row is one result row keyed by column name.
type Row map[string]interface{}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func CreateTable(ctx context.Context, queryer db.Queryer, catalog, schema, tableName string, columns []Column, properties map[string]string, ignoreExists bool) error {
	return ExecQuery(ctx, queryer, generateCreateTableSQL(catalog, schema, tableName, columns, properties, ignoreExists))
}

func DropTable(ctx context.Context, queryer db.Queryer, catalog, schema, tableName string, ignoreNotExists bool) error {
	ifExists := ""
	if ignoreNotExists {
		ifExists = "IF EXISTS "
	}
	table := FullyQualifiedTableName(catalog, schema, tableName)
	return ExecQuery(ctx, queryer, fmt.Sprintf("DROP TABLE %s%s", ifExists, table))
}

// AddColumns adds columns to an existing table one statement at a time.
func AddColumns(ctx context.Context, queryer db.Queryer, catalog, schema, tableName string, columns []Column) error {
	table := FullyQualifiedTableName(catalog, schema, tableName)
	for _, col := range columns {
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, QuoteIdentifier(col.Name), col.Type)
		if err := ExecQuery(ctx, queryer, query); err != nil {
			return fmt.Errorf("failed to add column %s to %s: %w", col.Name, table, err)
		}
	}
	return nil
}

// TableExists reports whether catalog.schema has a table named tableName.
func TableExists(ctx context.Context, queryer db.Queryer, catalog, schema, tableName string) (bool, error) {
	query := fmt.Sprintf("SHOW TABLES FROM %s.%s LIKE %s", QuoteIdentifier(catalog), QuoteIdentifier(schema), QuoteString(tableName))
	rows, err := ExecuteSelect(ctx, queryer, query)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if name, ok := row["Table"].(string); ok && strings.EqualFold(name, tableName) {
			return true, nil
		}
	}
	return false, nil
}

// QueryMetadata describes an existing table and returns its columns in
// table order.
func QueryMetadata(ctx context.Context, queryer db.Queryer, catalog, schema, tableName string) ([]Column, error) {
	rows, err := ExecuteSelect(ctx, queryer, "DESCRIBE "+FullyQualifiedTableName(catalog, schema, tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s.%s: %w", schema, tableName, err)
	}
	cols := make([]Column, 0, len(rows))
	for i, row := range rows {
		name, nameOK := row["Column"].(string)
		typ, typeOK := row["Type"].(string)
		if !nameOK || !typeOK {
			return nil, fmt.Errorf("unexpected DESCRIBE row %d for %s.%s: %v", i, schema, tableName, row)
		}
		cols = append(cols, Column{Name: name, Type: typ})
	}
	return cols, nil
}

func FullyQualifiedTableName(catalog, schema, tableName string) string {
	return fmt.Sprintf("%s.%s.%s", QuoteIdentifier(catalog), QuoteIdentifier(schema), QuoteIdentifier(tableName))
}

// QuoteIdentifier double quotes name, escaping embedded quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.Replace(name, `"`, `""`, -1) + `"`
}

// QuoteString returns s as a SQL string literal.
func QuoteString(s string) string {
	return "'" + strings.Replace(s, "'", "''", -1) + "'"
}

func GenerateQuotedColumnsListSQL(columns []Column) string {
	var columnNames []string
	for _, col := range columns {
		columnNames = append(columnNames, QuoteIdentifier(col.Name))
	}
	return strings.Join(columnNames, ", ")
}

func generateColumnDefinitionListSQL(columns []Column) string {
	c := make([]string, len(columns))
	for i, col := range columns {
		c[i] = fmt.Sprintf("%s %s", QuoteIdentifier(col.Name), col.Type)
	}
	return strings.Join(c, ",\n\t")
}

func generateCreateTableSQL(catalog, schema, tableName string, columns []Column, properties map[string]string, ignoreExists bool) string {
	ifNotExists := ""
	if ignoreExists {
		ifNotExists = "IF NOT EXISTS "
	}

	propsStr := ""
	if len(properties) != 0 {
		propsStr = fmt.Sprintf("\nWITH (%s)", generatePropertiesSQL(properties))
	}

	table := FullyQualifiedTableName(catalog, schema, tableName)

	sqlStr := `CREATE TABLE %s%s (
	%s
)%s`
	return fmt.Sprintf(sqlStr, ifNotExists, table, generateColumnDefinitionListSQL(columns), propsStr)
}

// generatePropertiesSQL renders table properties sorted by name. Values are
// used verbatim and must already be SQL expressions.
func generatePropertiesSQL(props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	propList := make([]string, len(keys))
	for i, k := range keys {
		propList[i] = fmt.Sprintf("%s = %s", k, props[k])
	}
	return strings.Join(propList, ", ")
}

func FormatInsertQuery(target, query string) string {
	return fmt.Sprintf("INSERT INTO %s %s", target, query)
}

// ExecuteSelect runs query and returns every row keyed by column name.
func ExecuteSelect(ctx context.Context, queryer db.Queryer, query string) ([]Row, error) {
	rows, err := queryer.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []Row
	values := make([]interface{}, len(names))
	dest := make([]interface{}, len(names))
	for rows.Next() {
		for i := range values {
			values[i] = nil
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(Row, len(names))
		for i, name := range names {
			row[name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// ExecQuery runs a statement whose rows are discarded. The presto driver
// reports statement failures while iterating, so rows are drained before
// checking Err.
func ExecQuery(ctx context.Context, queryer db.Queryer, query string) error {
	rows, err := queryer.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("presto SQL error: %w", err)
	}
	return nil
}
