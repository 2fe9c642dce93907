// Copyright 2025 Certnode Project

package sparql

// provOSelectivePredicates score as more selective than an ordinary
// concrete predicate, per spec §4.8's PROV-O bonus.
var provOSelectivePredicates = map[string]struct{}{
	"wasGeneratedBy": {},
	"used":           {},
}

// Optimize applies the reorder/push-down strategies from spec §4.8. It is
// a pure function and purely advisory: the executor must (and does)
// produce identical results whether or not this runs.
func Optimize(q *Query) *Query {
	out := *q
	out.Patterns = reorderPatterns(q.Patterns)
	out.Filters = pushDownFilters(out.Patterns, q.Filters)
	out.Optionals = make([]Group, len(q.Optionals))
	for i, opt := range q.Optionals {
		out.Optionals[i] = optimizeGroup(opt)
	}
	out.Unions = make([]UnionBranch, len(q.Unions))
	for i, u := range q.Unions {
		out.Unions[i] = UnionBranch{Left: optimizeGroup(u.Left), Right: optimizeGroup(u.Right)}
	}
	return &out
}

func optimizeGroup(g Group) Group {
	out := g
	out.Patterns = reorderPatterns(g.Patterns)
	out.Filters = pushDownFilters(out.Patterns, g.Filters)
	out.Optionals = make([]Group, len(g.Optionals))
	for i, opt := range g.Optionals {
		out.Optionals[i] = optimizeGroup(opt)
	}
	out.Unions = make([]UnionBranch, len(g.Unions))
	for i, u := range g.Unions {
		out.Unions[i] = UnionBranch{Left: optimizeGroup(u.Left), Right: optimizeGroup(u.Right)}
	}
	return out
}

// patternScore counts concrete (non-variable) positions, applying the
// PROV-O bonus: a concrete wasGeneratedBy/used predicate counts double
// toward selectivity (i.e. lowers the score further), since those
// predicates are known from the domain to narrow results sharply.
func patternScore(t Triple) int {
	score := 3
	if t.S.Kind != TermVariable {
		score--
	}
	if t.P.Kind != TermVariable {
		score--
		if _, ok := provOSelectivePredicates[t.P.Value]; ok {
			score--
		}
	}
	if t.O.Kind != TermVariable {
		score--
	}
	return score
}

// reorderPatterns sorts patterns ascending by selectivity score (lower =
// more selective), stable so equally-selective patterns keep their
// original relative order.
func reorderPatterns(patterns []Triple) []Triple {
	out := make([]Triple, len(patterns))
	copy(out, patterns)
	scores := make([]int, len(out))
	for i, t := range out {
		scores[i] = patternScore(t)
	}
	// Simple stable insertion sort: pattern counts per query are small
	// (single-digit BGPs), so this is both clear and fast enough.
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && scores[j-1] > scores[j] {
			out[j-1], out[j] = out[j], out[j-1]
			scores[j-1], scores[j] = scores[j], scores[j-1]
			j--
		}
	}
	return out
}

// patternVariables returns the set of variable names a triple pattern
// binds.
func patternVariables(t Triple) map[string]struct{} {
	vars := map[string]struct{}{}
	for _, term := range []Term{t.S, t.P, t.O} {
		if term.Kind == TermVariable && term.Value != "" {
			vars[term.Value] = struct{}{}
		}
	}
	return vars
}

// filterVariables extracts the variable(s) a filter references: always
// its primary Variable, plus a second variable if its Value is itself a
// "?name" reference.
func filterVariables(f Filter) []string {
	vars := []string{f.Variable}
	if len(f.Value) > 0 && f.Value[0] == '?' {
		vars = append(vars, f.Value[1:])
	}
	return vars
}

// pushDownFilters reorders filters so that ones whose variables are bound
// earliest in the pattern order sort first. This is advisory only: actual
// filtering still happens after full BGP evaluation, so reordering has no
// effect on results, only on where an implementation could choose to
// short-circuit.
func pushDownFilters(patterns []Triple, filters []Filter) []Filter {
	boundAt := make(map[string]int, len(patterns)*2)
	for i, p := range patterns {
		for v := range patternVariables(p) {
			if _, seen := boundAt[v]; !seen {
				boundAt[v] = i
			}
		}
	}

	attachIndex := func(f Filter) int {
		maxIdx := -1
		for _, v := range filterVariables(f) {
			idx, ok := boundAt[v]
			if !ok {
				return len(patterns) // unresolvable here; stays at query root
			}
			if idx > maxIdx {
				maxIdx = idx
			}
		}
		return maxIdx
	}

	out := make([]Filter, len(filters))
	copy(out, filters)
	idx := make([]int, len(out))
	for i, f := range out {
		idx[i] = attachIndex(f)
	}
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && idx[j-1] > idx[j] {
			out[j-1], out[j] = out[j], out[j-1]
			idx[j-1], idx[j] = idx[j], idx[j-1]
			j--
		}
	}
	return out
}
