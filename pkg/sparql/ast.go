// Copyright 2025 Certnode Project
//
// Package sparql implements the query pipeline described in spec §4.7-§4.12:
// a hand-rolled recursive-descent parser for a SPARQL subset, a logical
// optimiser, an executor that evaluates plans against a storage
// coordinator, an aggregator, and a PROV-O variable mapper. No
// parser-combinator or lexer library appears anywhere in the reference
// corpus for this kind of grammar, so the parser is written by hand in the
// same recursive-descent style the corpus uses for other structured text
// (e.g. the teacher's config loaders).
package sparql

// TermKind distinguishes the three things a triple position can hold.
type TermKind int

const (
	TermVariable TermKind = iota
	TermLiteral
	TermIRI
)

// Term is one position of a triple pattern. A nil triple component in the
// spec's pseudocode is represented here as TermVariable with an empty
// Value — the wildcard case — matching dag.Pattern's nil-means-wildcard
// convention once resolved against a binding.
type Term struct {
	Kind  TermKind
	Value string
}

// Triple is one BGP triple pattern. Any position may be a variable.
type Triple struct {
	S, P, O Term
}

// FilterKind enumerates the comparison/regex operators spec §4.7 supports.
type FilterKind string

const (
	FilterEq    FilterKind = "="
	FilterNeq   FilterKind = "!="
	FilterLt    FilterKind = "<"
	FilterGt    FilterKind = ">"
	FilterLte   FilterKind = "<="
	FilterGte   FilterKind = ">="
	FilterRegex FilterKind = "regex"
)

// Filter is one FILTER(...) expression, always of the shape
// `?variable op value` or `regex(?variable, "pattern")`.
type Filter struct {
	Kind     FilterKind
	Variable string
	Value    string
}

// AggregateFn enumerates the supported aggregate functions.
type AggregateFn string

const (
	AggCount       AggregateFn = "COUNT"
	AggSum         AggregateFn = "SUM"
	AggAvg         AggregateFn = "AVG"
	AggMin         AggregateFn = "MIN"
	AggMax         AggregateFn = "MAX"
	AggGroupConcat AggregateFn = "GROUP_CONCAT"
)

// Aggregate is one SELECT-list aggregate expression.
type Aggregate struct {
	Fn       AggregateFn
	Variable string
	Distinct bool
	Alias    string
	Options  map[string]string
}

// OrderKey is one ORDER BY key.
type OrderKey struct {
	Variable string
	Desc     bool
}

// Group is a recursive BGP block: the body of the query root, of an
// OPTIONAL, or of one side of a UNION.
type Group struct {
	Patterns  []Triple
	Filters   []Filter
	Optionals []Group
	Unions    []UnionBranch
}

// UnionBranch is one `{ ... } UNION { ... }` pair.
type UnionBranch struct {
	Left, Right Group
}

// Query is the logical plan produced by the parser and consumed by the
// optimiser and executor, matching spec §4.7's Query shape.
type Query struct {
	Variables         []string
	Aggregates        []Aggregate
	HasAggregates     bool
	Patterns          []Triple
	Filters           []Filter
	Optionals         []Group
	Unions            []UnionBranch
	GroupBy           []string
	OrderBy           []OrderKey
	Limit             *int
	Offset            *int
	Prefixes          map[string]string
	VariablePositions map[string]string
}
