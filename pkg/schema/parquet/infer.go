// Package parquet infers destination fields from the footer of a Parquet
// file, for warehouses that cannot detect a schema on their own.
package parquet

import (
	"errors"
	"fmt"

	"github.com/xitongsys/parquet-go-source/buffer"
	pq "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/schema"
)

var errNoSchema = errors.New("parquet footer has no schema")

// Result holds the inferred top-level columns. Nested groups (maps, lists,
// structs) have no flat equivalent and are reported in Skipped.
type Result struct {
	Fields  []schema.Field
	Skipped []string
}

// InferFields decodes the footer of the Parquet file in data and maps every
// top-level leaf column to a kind and its dialect type. Names pass through
// namer and duplicates are resolved in column order.
func InferFields(data []byte, dialect schema.Dialect, namer schema.Namer) (*Result, error) {
	if namer == nil {
		namer = schema.LowerName
	}

	elements, err := readSchema(data)
	if err != nil {
		return nil, err
	}

	var (
		originals []string
		kinds     []schema.Kind
		res       = &Result{}
	)
	root := elements[0]
	idx := 1
	for child := int32(0); child < root.GetNumChildren(); child++ {
		if idx >= len(elements) {
			return nil, fmt.Errorf("parquet schema is truncated at element %d", idx)
		}
		el := elements[idx]
		size := subtreeSize(elements, idx)
		idx += size
		if el.GetNumChildren() > 0 {
			res.Skipped = append(res.Skipped, el.GetName())
			continue
		}
		originals = append(originals, el.GetName())
		kinds = append(kinds, kindOf(el))
	}

	names := make([]string, len(originals))
	for i, o := range originals {
		names[i] = namer(o)
	}
	names = schema.ResolveDuplicates(names)

	for i := range originals {
		t, err := dialect.Type(kinds[i])
		if err != nil {
			return nil, err
		}
		res.Fields = append(res.Fields, schema.Field{
			Original: originals[i],
			Name:     names[i],
			Kind:     kinds[i],
			Type:     t,
		})
	}
	return res, nil
}

func readSchema(data []byte) ([]*pq.SchemaElement, error) {
	pf, err := buffer.NewBufferFile(data)
	if err != nil {
		return nil, err
	}
	defer pf.Close()

	// Only the footer is needed; NewParquetReader would also rename columns
	// to Go identifiers.
	pr := &reader.ParquetReader{PFile: pf}
	if err := pr.ReadFooter(); err != nil {
		return nil, fmt.Errorf("could not read parquet footer: %w", err)
	}
	if pr.Footer == nil || len(pr.Footer.Schema) == 0 {
		return nil, errNoSchema
	}
	return pr.Footer.Schema, nil
}

func subtreeSize(elements []*pq.SchemaElement, i int) int {
	n := 1
	next := i + 1
	for c := int32(0); c < elements[i].GetNumChildren() && next < len(elements); c++ {
		s := subtreeSize(elements, next)
		n += s
		next += s
	}
	return n
}

func kindOf(el *pq.SchemaElement) schema.Kind {
	if lt := el.GetLogicalType(); lt != nil {
		switch {
		case lt.IsSetDECIMAL():
			return schema.KindDecimal
		case lt.IsSetTIMESTAMP():
			return schema.KindTimestamp
		case lt.IsSetDATE():
			return schema.KindDate
		case lt.IsSetSTRING(), lt.IsSetENUM(), lt.IsSetJSON(), lt.IsSetUUID():
			return schema.KindString
		}
	}
	if el.IsSetConvertedType() {
		switch el.GetConvertedType() {
		case pq.ConvertedType_DECIMAL:
			return schema.KindDecimal
		case pq.ConvertedType_TIMESTAMP_MILLIS, pq.ConvertedType_TIMESTAMP_MICROS:
			return schema.KindTimestamp
		case pq.ConvertedType_DATE:
			return schema.KindDate
		case pq.ConvertedType_UTF8, pq.ConvertedType_ENUM, pq.ConvertedType_JSON:
			return schema.KindString
		}
	}
	switch el.GetType() {
	case pq.Type_BOOLEAN:
		return schema.KindBoolean
	case pq.Type_INT32, pq.Type_INT64:
		return schema.KindInteger
	case pq.Type_INT96:
		return schema.KindTimestamp
	case pq.Type_FLOAT, pq.Type_DOUBLE:
		return schema.KindDouble
	default:
		return schema.KindString
	}
}
