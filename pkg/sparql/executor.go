// Copyright 2025 Certnode Project

package sparql

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/certnode/factledger/pkg/apperr"
	"github.com/certnode/factledger/pkg/dag"
)

// Querier is the coordinator surface the executor needs: pattern lookup.
// store.Coordinator satisfies this.
type Querier interface {
	Query(p dag.Pattern) []dag.Row
}

// Execute runs the full pipeline from spec §4.9 against q: optimised,
// evaluated, filtered, optional-joined, aggregated, ordered, paged, and
// projected.
func Execute(q *Query, querier Querier) ([]Binding, error) {
	plan := Optimize(q)

	root := Group{Patterns: plan.Patterns, Filters: plan.Filters, Optionals: plan.Optionals, Unions: plan.Unions}
	bindings, err := executeGroup(querier, root, []Binding{{}})
	if err != nil {
		return nil, err
	}

	if plan.HasAggregates {
		bindings, err = aggregate(plan, bindings)
		if err != nil {
			return nil, err
		}
	}

	bindings = orderBindings(plan.OrderBy, bindings)
	bindings = page(plan.Offset, plan.Limit, bindings)

	return project(plan, bindings), nil
}

// executeGroup runs one BGP block's own pipeline: pattern evaluation,
// union expansion, filters, then optional left-outer-joins — spec §4.9
// steps 1-4, applied recursively for nested blocks.
func executeGroup(q Querier, g Group, incoming []Binding) ([]Binding, error) {
	bindings, err := evaluateBGP(q, g.Patterns, incoming)
	if err != nil {
		return nil, err
	}

	bindings, err = evaluateUnions(q, g, bindings)
	if err != nil {
		return nil, err
	}

	bindings, err = applyFilters(bindings, g.Filters)
	if err != nil {
		return nil, err
	}

	bindings, err = evaluateOptionals(q, g, bindings)
	if err != nil {
		return nil, err
	}

	return bindings, nil
}

func evaluateBGP(q Querier, patterns []Triple, incoming []Binding) ([]Binding, error) {
	bindings := incoming
	for _, pat := range patterns {
		var next []Binding
		for _, beta := range bindings {
			resolved := resolvePattern(pat, beta)
			rows := q.Query(resolved)
			for _, row := range rows {
				merged, ok := joinRow(beta, pat, row)
				if !ok {
					continue
				}
				next = append(next, merged)
			}
		}
		bindings = next
		if len(bindings) == 0 {
			break
		}
	}
	return bindings, nil
}

// joinRow attempts to extend beta with pat's variable bindings against
// row, failing (ok=false) if a variable the pattern shares with beta
// would be bound to a conflicting value.
func joinRow(beta Binding, pat Triple, row dag.Row) (Binding, bool) {
	assigns := map[string]string{}
	terms := []struct {
		term Term
		val  string
	}{
		{pat.S, row.Node.Subject},
		{pat.P, row.Node.Predicate},
		{pat.O, row.Node.Object},
	}
	for _, t := range terms {
		if t.term.Kind == TermVariable && t.term.Value != "" {
			assigns[t.term.Value] = t.val
		}
	}

	merged := beta.Clone()
	for name, val := range assigns {
		if existing, ok := merged[name]; ok {
			if existingStr, isStr := existing.(string); !isStr || existingStr != val {
				return nil, false
			}
			continue
		}
		merged[name] = val
	}
	for k, v := range mapRow(row) {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return merged, true
}

// resolvePattern substitutes beta's bound values into pat to produce a
// concrete dag.Pattern; an unbound variable position becomes a wildcard.
func resolvePattern(pat Triple, beta Binding) dag.Pattern {
	resolve := func(t Term) *string {
		switch t.Kind {
		case TermVariable:
			if t.Value == "" {
				return nil
			}
			v, ok := beta[t.Value]
			if !ok {
				return nil
			}
			s, ok := v.(string)
			if !ok {
				return nil
			}
			return &s
		default:
			v := t.Value
			return &v
		}
	}
	return dag.Pattern{Subject: resolve(pat.S), Predicate: resolve(pat.P), Object: resolve(pat.O)}
}

func evaluateUnions(q Querier, g Group, bindings []Binding) ([]Binding, error) {
	for _, u := range g.Unions {
		left, err := executeGroup(q, u.Left, bindings)
		if err != nil {
			return nil, err
		}
		right, err := executeGroup(q, u.Right, bindings)
		if err != nil {
			return nil, err
		}
		bindings = append(left, right...)
	}
	return bindings, nil
}

func evaluateOptionals(q Querier, g Group, bindings []Binding) ([]Binding, error) {
	for _, opt := range g.Optionals {
		exclusiveVars := collectVariables(opt)
		var out []Binding
		for _, beta := range bindings {
			extended, err := executeGroup(q, opt, []Binding{beta})
			if err != nil {
				return nil, err
			}
			if len(extended) == 0 {
				nb := beta.Clone()
				for v := range exclusiveVars {
					if _, exists := nb[v]; !exists {
						nb[v] = nil
					}
				}
				out = append(out, nb)
				continue
			}
			out = append(out, extended...)
		}
		bindings = out
	}
	return bindings, nil
}

// collectVariables gathers every variable name bound anywhere inside g,
// including nested optionals and unions.
func collectVariables(g Group) map[string]struct{} {
	vars := map[string]struct{}{}
	for _, p := range g.Patterns {
		for v := range patternVariables(p) {
			vars[v] = struct{}{}
		}
	}
	for _, opt := range g.Optionals {
		for v := range collectVariables(opt) {
			vars[v] = struct{}{}
		}
	}
	for _, u := range g.Unions {
		for v := range collectVariables(u.Left) {
			vars[v] = struct{}{}
		}
		for v := range collectVariables(u.Right) {
			vars[v] = struct{}{}
		}
	}
	return vars
}

func applyFilters(bindings []Binding, filters []Filter) ([]Binding, error) {
	if len(filters) == 0 {
		return bindings, nil
	}
	var out []Binding
	for _, b := range bindings {
		keep := true
		for _, f := range filters {
			ok, err := evalFilter(f, b)
			if err != nil {
				return nil, err
			}
			if !ok {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, b)
		}
	}
	return out, nil
}

func evalFilter(f Filter, b Binding) (bool, error) {
	left, leftOK := b[f.Variable]
	if !leftOK || left == nil {
		return false, nil
	}

	if f.Kind == FilterRegex {
		re, err := regexp.Compile(f.Value)
		if err != nil {
			return false, apperr.QueryError("filter", "invalid regex: "+err.Error())
		}
		return re.MatchString(stringify(left)), nil
	}

	var right interface{} = f.Value
	if len(f.Value) > 0 && f.Value[0] == '?' {
		v, ok := b[f.Value[1:]]
		if !ok || v == nil {
			return false, nil
		}
		right = v
	}

	switch f.Kind {
	case FilterEq, FilterNeq:
		eq := valuesEqual(left, right)
		if f.Kind == FilterEq {
			return eq, nil
		}
		return !eq, nil
	case FilterLt, FilterGt, FilterLte, FilterGte:
		lf, lok := asNumber(left)
		rf, rok := asNumber(right)
		if !lok || !rok {
			return false, nil
		}
		switch f.Kind {
		case FilterLt:
			return lf < rf, nil
		case FilterGt:
			return lf > rf, nil
		case FilterLte:
			return lf <= rf, nil
		case FilterGte:
			return lf >= rf, nil
		}
	}
	return true, nil // unknown filter kinds pass through, per spec §4.9
}

func valuesEqual(a, b interface{}) bool {
	if af, aok := asNumber(a); aok {
		if bf, bok := asNumber(b); bok {
			return af == bf
		}
	}
	return stringify(a) == stringify(b)
}

func asNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return ""
	}
}

func orderBindings(keys []OrderKey, bindings []Binding) []Binding {
	if len(keys) == 0 {
		return bindings
	}
	out := make([]Binding, len(bindings))
	copy(out, bindings)
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			cmp := compareOrdered(out[i][k.Variable], out[j][k.Variable])
			if cmp == 0 {
				continue
			}
			if k.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return out
}

// compareOrdered implements spec §4.9 step 6's cross-type ordering: nil
// first, then numeric comparison if both sides are numeric, then lexical
// string comparison, falling back to stringified comparison for mixed
// types.
func compareOrdered(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	if af, aok := asNumber(a); aok {
		if bf, bok := asNumber(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := stringify(a), stringify(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func page(offset, limit *int, bindings []Binding) []Binding {
	if offset != nil {
		o := *offset
		if o > len(bindings) {
			o = len(bindings)
		}
		bindings = bindings[o:]
	}
	if limit != nil {
		l := *limit
		if l < len(bindings) {
			bindings = bindings[:l]
		}
	}
	return bindings
}

// project picks the output columns: the plain variable list plus every
// aggregate's alias, falling back to the variable_positions map when a
// name wasn't bound directly.
func project(q *Query, bindings []Binding) []Binding {
	if len(q.Variables) == 0 && len(q.Aggregates) == 0 {
		return bindings
	}
	out := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		row := Binding{}
		for _, v := range q.Variables {
			if val, ok := b[v]; ok {
				row[v] = val
				continue
			}
			if pos, ok := q.VariablePositions[v]; ok {
				row[v] = b[pos]
				continue
			}
			row[v] = nil
		}
		for _, agg := range q.Aggregates {
			row[agg.Alias] = b[agg.Alias]
			if v, ok := b["count_"+agg.Variable]; ok {
				row["count_"+agg.Variable] = v
			}
		}
		out = append(out, row)
	}
	return out
}
