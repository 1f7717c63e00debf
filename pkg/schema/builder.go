package schema

import (
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
)

// Namer converts an export column name to a warehouse identifier.
type Namer func(string) string

// Builder turns manifest column declarations into destination fields.
//
// A Builder remembers the kind it resolved for every original column name.
// Manifests are built newest first, so older manifests that predate typed
// columns reuse what the newer ones declared. A Builder is not safe for
// concurrent use.
type Builder struct {
	dialect Dialect
	types   TypeMap
	namer   Namer
	learned map[string]Kind
}

func NewBuilder(dialect Dialect, types TypeMap, namer Namer) *Builder {
	if namer == nil {
		namer = NormalizeName
	}
	return &Builder{
		dialect: dialect,
		types:   types,
		namer:   namer,
		learned: make(map[string]Kind),
	}
}

// Build returns the ordered, duplicate resolved fields for columns. A nil
// result with a nil error means the manifest carries no usable declaration
// and the destination should infer or reuse the existing schema: either no
// columns were declared, or none were typed and at least one type was never
// learned.
func (b *Builder) Build(columns []manifest.Column) ([]Field, error) {
	if len(columns) == 0 {
		return nil, nil
	}

	typed := false
	for _, c := range columns {
		if c.Type != "" {
			typed = true
			break
		}
	}

	kinds := make([]Kind, len(columns))
	for i, c := range columns {
		original := c.OriginalName()
		if c.Type != "" {
			k, ok := b.types[c.Type]
			if !ok {
				return nil, &UnmappedTypeError{Column: original, Type: c.Type}
			}
			kinds[i] = k
			continue
		}
		k, ok := b.learned[original]
		if !ok {
			if !typed {
				return nil, nil
			}
			return nil, &UnmappedTypeError{Column: original}
		}
		kinds[i] = k
	}

	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = b.namer(c.OriginalName())
	}
	names = ResolveDuplicates(names)

	fields := make([]Field, len(columns))
	for i, c := range columns {
		t, err := b.dialect.Type(kinds[i])
		if err != nil {
			return nil, err
		}
		fields[i] = Field{
			Original: c.OriginalName(),
			Name:     names[i],
			Kind:     kinds[i],
			Type:     t,
		}
	}

	for i, c := range columns {
		b.learned[c.OriginalName()] = kinds[i]
	}
	return fields, nil
}
