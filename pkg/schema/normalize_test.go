package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := map[string]struct {
		raw      string
		expected string
	}{
		"category path is folded": {
			raw:      "lineItem/UsageStartDate",
			expected: "line_item_usage_start_date",
		},
		"digits before capitals split": {
			raw:      "product/fromLocation2Type",
			expected: "product_from_location2_type",
		},
		"already snake case": {
			raw:      "bill_billing_period_start_date",
			expected: "bill_billing_period_start_date",
		},
		"runs of separators collapse": {
			raw:      "resourceTags/user:Cost Center--Name",
			expected: "resource_tags_user_cost_center_name",
		},
		"leading and trailing separators stripped": {
			raw:      "__weird name__",
			expected: "weird_name",
		},
		"empty string": {
			raw:      "",
			expected: UnknownColumn,
		},
		"only symbols": {
			raw:      "/:-",
			expected: UnknownColumn,
		},
		"leading digit": {
			raw:      "2xlarge",
			expected: "col_2xlarge",
		},
		"reserved word": {
			raw:      "group",
			expected: "group_col",
		},
		"reserved word after folding": {
			raw:      "Timestamp",
			expected: "timestamp_col",
		},
		"uppercase acronym is not split": {
			raw:      "ECU",
			expected: "ecu",
		},
		"non ascii characters": {
			raw:      "coût/réel",
			expected: "co_t_r_el",
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.raw))
		})
	}
}

func TestNormalizeNameStable(t *testing.T) {
	raw := []string{"lineItem/UnblendedCost", "ECU", "Ecu", "ecu", "group", "2x", ""}
	first := make([]string, len(raw))
	for i, r := range raw {
		first[i] = NormalizeName(r)
	}
	for run := 0; run < 5; run++ {
		for i, r := range raw {
			assert.Equal(t, first[i], NormalizeName(r))
			// normalized names are fixed points
			assert.Equal(t, first[i], NormalizeName(first[i]))
		}
	}
	assert.Equal(t, ResolveDuplicates(first), ResolveDuplicates(first))
}

func TestLowerName(t *testing.T) {
	assert.Equal(t, "billingperiodstart", LowerName("BillingPeriodStart"))
	assert.Equal(t, "line_item_usage_start_date", LowerName("line_item_usage_start_date"))
	assert.Equal(t, "x_tag_cost_center", LowerName("x_Tag/Cost Center"))
	assert.Equal(t, "value_col", LowerName("Value"))
	assert.Equal(t, "col_1st", LowerName("1st"))
}

func TestResolveDuplicates(t *testing.T) {
	tests := map[string]struct {
		names    []string
		expected []string
	}{
		"case variants of one name": {
			names:    []string{NormalizeName("ecu"), NormalizeName("ECU"), NormalizeName("Ecu")},
			expected: []string{"ecu", "ecu_1", "ecu_2"},
		},
		"unique names untouched": {
			names:    []string{"a", "b", "c"},
			expected: []string{"a", "b", "c"},
		},
		"suffix skips a name present later": {
			names:    []string{"a", "a", "a_1"},
			expected: []string{"a", "a_2", "a_1"},
		},
		"suffix skips a name present earlier": {
			names:    []string{"a_1", "a", "a"},
			expected: []string{"a_1", "a", "a_2"},
		},
		"interleaved duplicates": {
			names:    []string{"x", "y", "x", "y", "x"},
			expected: []string{"x", "y", "x_1", "y_1", "x_2"},
		},
		"empty": {
			names:    []string{},
			expected: []string{},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveDuplicates(tt.names))
		})
	}
}
