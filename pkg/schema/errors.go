package schema

import "fmt"

// UnmappedTypeError is returned when a manifest declares a column type with
// no entry in the provider's type map. Columns are never defaulted to a
// string type.
type UnmappedTypeError struct {
	Column string
	Type   string
}

func (e *UnmappedTypeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("column %q has no declared type and none was learned from a newer manifest", e.Column)
	}
	return fmt.Sprintf("column %q has unmapped type %q", e.Column, e.Type)
}
