package schema

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// UnknownColumn replaces names with no usable characters.
	UnknownColumn = "unknown_column"

	leadingDigitPrefix = "col_"
	reservedSuffix     = "_col"
)

var (
	camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	invalidChars  = regexp.MustCompile(`[^a-z0-9_]`)
	underscoreRun = regexp.MustCompile(`_+`)
	identifier    = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// reservedWords are identifiers at least one supported warehouse refuses or
// misparses as bare column names.
var reservedWords = map[string]struct{}{
	"group":     {},
	"order":     {},
	"user":      {},
	"table":     {},
	"index":     {},
	"key":       {},
	"value":     {},
	"timestamp": {},
	"date":      {},
	"year":      {},
	"month":     {},
	"day":       {},
	"hour":      {},
	"minute":    {},
	"second":    {},
	"from":      {},
	"to":        {},
	"select":    {},
	"where":     {},
	"by":        {},
	"join":      {},
	"limit":     {},
	"partition": {},
}

func IsReserved(name string) bool {
	_, ok := reservedWords[name]
	return ok
}

// NormalizeName turns a raw export column name into a warehouse identifier.
// The steps must run in this order: the camelCase split needs the original
// casing and the character fold needs lowercase input.
func NormalizeName(raw string) string {
	name := camelBoundary.ReplaceAllString(raw, "${1}_${2}")
	name = strings.ToLower(name)
	name = invalidChars.ReplaceAllString(name, "_")
	name = underscoreRun.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")

	if name == "" {
		return UnknownColumn
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = leadingDigitPrefix + name
	}
	if IsReserved(name) {
		name += reservedSuffix
	}
	return name
}

// LowerName keeps names that are already lowercase-safe identifiers, only
// folding case. Self-describing files (Parquet) carry names such as
// BillingPeriodStart that warehouses with case-insensitive identifiers
// expose as billingperiodstart; anything else goes through NormalizeName.
func LowerName(raw string) string {
	lower := strings.ToLower(raw)
	if identifier.MatchString(lower) && !IsReserved(lower) {
		return lower
	}
	return NormalizeName(raw)
}

// ResolveDuplicates keeps the first occurrence of every name and suffixes
// later occurrences with _1, _2, ... in positional order. A suffixed
// candidate that is already used, or that appears anywhere in names, is
// skipped so the output is unique.
func ResolveDuplicates(names []string) []string {
	present := make(map[string]struct{}, len(names))
	for _, n := range names {
		present[n] = struct{}{}
	}

	used := make(map[string]struct{}, len(names))
	counters := make(map[string]int)
	resolved := make([]string, len(names))
	for i, n := range names {
		if _, taken := used[n]; !taken {
			used[n] = struct{}{}
			resolved[i] = n
			continue
		}
		for {
			counters[n]++
			candidate := fmt.Sprintf("%s_%d", n, counters[n])
			_, taken := used[candidate]
			_, reserved := present[candidate]
			if !taken && !reserved {
				used[candidate] = struct{}{}
				resolved[i] = candidate
				break
			}
		}
	}
	return resolved
}
