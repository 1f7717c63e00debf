package schema

import "fmt"

// Kind is the warehouse independent class of a column.
type Kind string

const (
	KindString    Kind = "string"
	KindDecimal   Kind = "decimal"
	KindTimestamp Kind = "timestamp"
	KindDate      Kind = "date"
	KindInteger   Kind = "integer"
	KindDouble    Kind = "double"
	KindBoolean   Kind = "boolean"
)

// Dialect names a warehouse SQL dialect.
type Dialect string

const (
	BigQuery   Dialect = "bigquery"
	Presto     Dialect = "presto"
	ClickHouse Dialect = "clickhouse"
)

// Monetary amounts use the widest decimal every warehouse offers. Provider
// costs carry more than nine fractional digits, which a NUMERIC(38,9) would
// silently round.
var dialectTypes = map[Dialect]map[Kind]string{
	BigQuery: {
		KindString:    "STRING",
		KindDecimal:   "BIGNUMERIC",
		KindTimestamp: "TIMESTAMP",
		KindDate:      "DATE",
		KindInteger:   "INTEGER",
		KindDouble:    "FLOAT",
		KindBoolean:   "BOOLEAN",
	},
	Presto: {
		KindString:    "varchar",
		KindDecimal:   "decimal(38,18)",
		KindTimestamp: "timestamp",
		KindDate:      "date",
		KindInteger:   "bigint",
		KindDouble:    "double",
		KindBoolean:   "boolean",
	},
	ClickHouse: {
		KindString:    "Nullable(String)",
		KindDecimal:   "Nullable(Decimal(38, 18))",
		KindTimestamp: "Nullable(DateTime64(3, 'UTC'))",
		KindDate:      "Nullable(Date32)",
		KindInteger:   "Nullable(Int64)",
		KindDouble:    "Nullable(Float64)",
		KindBoolean:   "Nullable(Bool)",
	},
}

func (d Dialect) Valid() bool {
	_, ok := dialectTypes[d]
	return ok
}

// Type returns the column type d uses for k.
func (d Dialect) Type(k Kind) (string, error) {
	types, ok := dialectTypes[d]
	if !ok {
		return "", fmt.Errorf("unknown dialect %q", d)
	}
	t, ok := types[k]
	if !ok {
		return "", fmt.Errorf("dialect %s has no type for %s", d, k)
	}
	return t, nil
}

// TypeMap maps provider declared type names to kinds. Every type a provider
// can declare must have an entry.
type TypeMap map[string]Kind

// Field is a destination column.
type Field struct {
	// Original is the column name as it appears in the export.
	Original string
	Name     string
	Kind     Kind
	// Type is the dialect specific column type.
	Type string
}

// NewField builds a field named name with the dialect type for k.
func NewField(d Dialect, name string, k Kind) (Field, error) {
	t, err := d.Type(k)
	if err != nil {
		return Field{}, err
	}
	return Field{Original: name, Name: name, Kind: k, Type: t}, nil
}

// Names returns the field names in order.
func Names(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// Find returns the field named name, ignoring case.
func Find(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if equalNames(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}
