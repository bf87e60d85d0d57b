package index

import (
	"strconv"
	"strings"
)

// FilterOperator enumerates the supported filter comparisons.
type FilterOperator string

const (
	FilterEquals FilterOperator = "eq"
	FilterGT     FilterOperator = "gt"
	FilterGTE    FilterOperator = "gte"
	FilterLT     FilterOperator = "lt"
	FilterLTE    FilterOperator = "lte"
	FilterRange  FilterOperator = "range"
)

// Filter captures a structured filter expression derived from the query string or filters parameter.
type Filter struct {
	Field string
	Op    FilterOperator
	Value any
	Min   *float64
	Max   *float64
}

type jsonNumber string

func matchesAllFilters(doc map[string]any, filters []Filter) bool {
	for _, f := range filters {
		value, ok := doc[f.Field]
		if !ok {
			return false
		}

		switch f.Op {
		case FilterEquals:
			if !valuesEqual(value, f.Value) {
				return false
			}
		case FilterGT, FilterGTE, FilterLT, FilterLTE, FilterRange:
			num, ok := numericValue(value)
			if !ok || !evaluateNumericFilter(num, f) {
				return false
			}
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if na, ok := numericValue(a); ok {
		if nb, ok := numericValue(b); ok {
			return na == nb
		}
	}
	vb, ok := b.(string)
	if !ok {
		return false
	}
	switch va := a.(type) {
	case string:
		return strings.EqualFold(strings.TrimSpace(va), strings.TrimSpace(vb))
	case []string:
		return containsFold(va, vb)
	case []any:
		entries := make([]string, 0, len(va))
		for _, entry := range va {
			if s, ok := entry.(string); ok {
				entries = append(entries, s)
			}
		}
		return containsFold(entries, vb)
	}
	return false
}

func containsFold(entries []string, target string) bool {
	target = strings.TrimSpace(target)
	for _, entry := range entries {
		if strings.EqualFold(strings.TrimSpace(entry), target) {
			return true
		}
	}
	return false
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case jsonNumber:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

func evaluateNumericFilter(value float64, filter Filter) bool {
	if filter.Op == FilterRange {
		if filter.Min != nil && value < *filter.Min {
			return false
		}
		if filter.Max != nil && value > *filter.Max {
			return false
		}
		return true
	}

	target, ok := numericValue(filter.Value)
	if !ok {
		return false
	}
	switch filter.Op {
	case FilterGT:
		return value > target
	case FilterGTE:
		return value >= target
	case FilterLT:
		return value < target
	case FilterLTE:
		return value <= target
	default:
		return false
	}
}

func parseFilterToken(token string) (Filter, bool) {
	for _, op := range []string{">=", "<=", ">", "<"} {
		field, value, found := strings.Cut(token, op)
		if !found {
			continue
		}
		field, value = strings.TrimSpace(field), strings.TrimSpace(value)
		if field == "" || value == "" {
			continue
		}
		var operator FilterOperator
		switch op {
		case ">=":
			operator = FilterGTE
		case "<=":
			operator = FilterLTE
		case ">":
			operator = FilterGT
		case "<":
			operator = FilterLT
		}
		return Filter{Field: field, Op: operator, Value: jsonNumber(value)}, true
	}

	field, value, found := strings.Cut(token, ":")
	if !found {
		return Filter{}, false
	}
	field, value = strings.TrimSpace(field), strings.TrimSpace(value)
	if field == "" || value == "" {
		return Filter{}, false
	}

	// Numeric range expressed as a-b
	if lo, hi, isRange := strings.Cut(value, "-"); isRange {
		min, minErr := strconv.ParseFloat(lo, 64)
		max, maxErr := strconv.ParseFloat(hi, 64)
		if minErr == nil || maxErr == nil {
			var minPtr, maxPtr *float64
			if minErr == nil {
				minPtr = &min
			}
			if maxErr == nil {
				maxPtr = &max
			}
			return Filter{Field: field, Op: FilterRange, Min: minPtr, Max: maxPtr}, true
		}
	}

	if num, err := strconv.ParseFloat(value, 64); err == nil {
		return Filter{Field: field, Op: FilterEquals, Value: num}, true
	}
	return Filter{Field: field, Op: FilterEquals, Value: value}, true
}
