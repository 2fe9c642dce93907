// Copyright 2025 Certnode Project

package sparql

import "strings"

// aggregate partitions bindings by q.GroupBy (a single group if empty)
// and computes each of q.Aggregates over every partition, per spec §4.11.
func aggregate(q *Query, bindings []Binding) ([]Binding, error) {
	groups := groupBindings(q.GroupBy, bindings)

	out := make([]Binding, 0, len(groups))
	for _, grp := range groups {
		row := Binding{}
		for _, key := range q.GroupBy {
			if len(grp) > 0 {
				row[key] = grp[0][key]
			}
		}
		for _, agg := range q.Aggregates {
			val := computeAggregate(agg, grp)
			row[agg.Alias] = val
			if agg.Fn == AggCount {
				row["count_"+agg.Variable] = val
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// groupBindings partitions bindings by the values of keys, preserving
// first-seen group order. An empty keys list yields a single group
// containing every binding.
func groupBindings(keys []string, bindings []Binding) [][]Binding {
	if len(keys) == 0 {
		return [][]Binding{bindings}
	}

	var order []string
	byKey := map[string][]Binding{}
	for _, b := range bindings {
		k := groupKey(keys, b)
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], b)
	}

	out := make([][]Binding, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

func groupKey(keys []string, b Binding) string {
	var parts []string
	for _, k := range keys {
		parts = append(parts, stringify(b[k]))
	}
	return strings.Join(parts, "\x1f")
}

func computeAggregate(agg Aggregate, group []Binding) interface{} {
	values := collectValues(agg.Variable, group, agg.Distinct)

	switch agg.Fn {
	case AggCount:
		return int64(len(values))
	case AggSum:
		var sum float64
		for _, v := range values {
			if f, ok := asNumber(v); ok {
				sum += f
			}
		}
		return sum
	case AggAvg:
		var sum float64
		var n int
		for _, v := range values {
			if f, ok := asNumber(v); ok {
				sum += f
				n++
			}
		}
		if n == 0 {
			return nil
		}
		return sum / float64(n)
	case AggMin:
		return extremum(values, -1)
	case AggMax:
		return extremum(values, 1)
	case AggGroupConcat:
		sep, ok := agg.Options["separator"]
		if !ok {
			sep = ","
		}
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = stringify(v)
		}
		return strings.Join(parts, sep)
	default:
		return nil
	}
}

// collectValues reads variable across every binding in group, dropping
// nulls, and optionally deduplicating (for COUNT(DISTINCT ...)).
func collectValues(variable string, group []Binding, distinct bool) []interface{} {
	var out []interface{}
	seen := map[string]struct{}{}
	for _, b := range group {
		v, ok := b[variable]
		if !ok || v == nil {
			continue
		}
		if distinct {
			k := stringify(v)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		out = append(out, v)
	}
	return out
}

// extremum returns the min (sign<0) or max (sign>0) value using the same
// cross-type ordering as ORDER BY.
func extremum(values []interface{}, sign int) interface{} {
	if len(values) == 0 {
		return nil
	}
	best := values[0]
	for _, v := range values[1:] {
		cmp := compareOrdered(v, best)
		if (sign < 0 && cmp < 0) || (sign > 0 && cmp > 0) {
			best = v
		}
	}
	return best
}
