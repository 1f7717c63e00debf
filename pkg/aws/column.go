package aws

import (
	"strings"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
)

// Column is a description of a field from a AWS usage report manifest file.
// Type is absent in manifests generated before typed columns were
// introduced.
type Column struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
}

// Columns are a set of AWS Usage columns.
type Columns []Column

// Manifest converts the columns in order.
func (cols Columns) Manifest() []manifest.Column {
	if len(cols) == 0 {
		return nil
	}
	out := make([]manifest.Column, len(cols))
	for i, c := range cols {
		out[i] = manifest.Column{
			Category: strings.TrimSpace(c.Category),
			Name:     strings.TrimSpace(c.Name),
			Type:     strings.TrimSpace(c.Type),
		}
	}
	return out
}
