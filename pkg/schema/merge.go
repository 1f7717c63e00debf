package schema

import "strings"

func equalNames(a, b string) bool {
	return strings.EqualFold(a, b)
}

// Additions returns the fields of incoming whose names are not in existing,
// in incoming order. Column names compare case-insensitively.
func Additions(existing, incoming []Field) []Field {
	var added []Field
	for _, f := range incoming {
		if _, ok := Find(existing, f.Name); ok {
			continue
		}
		if _, ok := Find(added, f.Name); ok {
			continue
		}
		added = append(added, f)
	}
	return added
}

// Merge evolves existing additively: existing fields keep their position and
// type, new fields are appended. Nothing is ever dropped.
func Merge(existing, incoming []Field) []Field {
	merged := make([]Field, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)
	return append(merged, Additions(existing, incoming)...)
}
