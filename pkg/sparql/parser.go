// Copyright 2025 Certnode Project

package sparql

import (
	"strconv"
	"strings"

	"github.com/certnode/factledger/pkg/apperr"
)

// forbiddenKeywords are rejected anywhere in the raw query text, up front,
// before any parsing begins — this store is append-only and read-only
// from SPARQL's perspective (spec §4.7).
var forbiddenKeywords = []string{"INSERT", "DELETE", "DROP", "LOAD", "CLEAR"}

// unsupportedForms parse as a clean "unsupported" error rather than a
// generic parse failure, since they are recognisable SPARQL query forms
// this subset simply doesn't implement.
var unsupportedForms = []string{"CONSTRUCT", "ASK", "DESCRIBE"}

func parseErrorAt(msg string, pos int) error {
	return apperr.ParseError(msg, pos)
}

// Parse compiles a SPARQL-subset query string into a logical Query plan.
func Parse(src string) (*Query, error) {
	if kw, pos := findForbiddenKeyword(src); kw != "" {
		return nil, apperr.SecurityViolation("mutating keyword " + kw + " is not permitted in a query (at offset " + strconv.Itoa(pos) + ")")
	}

	toks, err := newLexer(src).tokenize()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.parseQuery()
}

// findForbiddenKeyword scans raw text for any forbidden keyword as a
// standalone word (case-insensitive), returning the first match and its
// byte offset.
func findForbiddenKeyword(src string) (string, int) {
	upper := strings.ToUpper(src)
	for _, kw := range forbiddenKeywords {
		idx := 0
		for {
			rel := strings.Index(upper[idx:], kw)
			if rel < 0 {
				break
			}
			at := idx + rel
			if wordBoundary(upper, at, len(kw)) {
				return kw, at
			}
			idx = at + len(kw)
		}
	}
	return "", 0
}

func wordBoundary(s string, at, n int) bool {
	before := byte(' ')
	if at > 0 {
		before = s[at-1]
	}
	after := byte(' ')
	if at+n < len(s) {
		after = s[at+n]
	}
	isWord := func(b byte) bool {
		return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
	}
	return !isWord(before) && !isWord(after)
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) atKeyword(kw string) bool {
	t := p.cur()
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func (p *parser) expectKeyword(kw string) error {
	if !p.atKeyword(kw) {
		return parseErrorAt("expected '"+kw+"'", p.cur().pos)
	}
	p.advance()
	return nil
}

func (p *parser) expectPunct(s string) error {
	t := p.cur()
	if t.kind != tokPunct || t.text != s {
		return parseErrorAt("expected '"+s+"'", t.pos)
	}
	p.advance()
	return nil
}

func (p *parser) parseQuery() (*Query, error) {
	q := &Query{Prefixes: map[string]string{}, VariablePositions: map[string]string{}}

	for p.atKeyword("PREFIX") {
		p.advance()
		t := p.cur()
		if t.kind != tokPrefixedName && t.kind != tokIdent {
			return nil, parseErrorAt("expected prefix name", t.pos)
		}
		name := strings.TrimSuffix(t.text, ":")
		p.advance()
		iriTok := p.cur()
		if iriTok.kind != tokIRI {
			return nil, parseErrorAt("expected IRI after PREFIX", iriTok.pos)
		}
		p.advance()
		q.Prefixes[name] = iriTok.text
	}
	if p.atKeyword("BASE") {
		p.advance()
		if p.cur().kind != tokIRI {
			return nil, parseErrorAt("expected IRI after BASE", p.cur().pos)
		}
		p.advance()
	}

	for _, form := range unsupportedForms {
		if p.atKeyword(form) {
			return nil, parseErrorAt(form+" is not supported", p.cur().pos)
		}
	}

	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	if p.atKeyword("DISTINCT") {
		p.advance() // top-level DISTINCT on the whole result set: accepted, not separately tracked
	}

	if err := p.parseSelectList(q); err != nil {
		return nil, err
	}

	if err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	root, err := p.parseGroup(q)
	if err != nil {
		return nil, err
	}
	q.Patterns = root.Patterns
	q.Filters = root.Filters
	q.Optionals = root.Optionals
	q.Unions = root.Unions

	if p.atKeyword("GROUP") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for p.cur().kind == tokVariable {
			q.GroupBy = append(q.GroupBy, p.advance().text)
		}
	}

	if p.atKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			desc := false
			if p.atKeyword("ASC") {
				p.advance()
			} else if p.atKeyword("DESC") {
				p.advance()
				desc = true
			}
			if p.cur().kind != tokVariable {
				break
			}
			v := p.advance().text
			q.OrderBy = append(q.OrderBy, OrderKey{Variable: v, Desc: desc})
			if p.cur().kind == tokPunct && p.cur().text == "," {
				p.advance()
				continue
			}
			break
		}
	}

	if p.atKeyword("LIMIT") {
		p.advance()
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		q.Limit = &n
	}
	if p.atKeyword("OFFSET") {
		p.advance()
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		q.Offset = &n
	}

	if p.cur().kind != tokEOF {
		return nil, parseErrorAt("unexpected trailing input", p.cur().pos)
	}

	q.HasAggregates = len(q.Aggregates) > 0
	return q, nil
}

func (p *parser) parseIntLiteral() (int, error) {
	t := p.cur()
	if t.kind != tokNumber {
		return 0, parseErrorAt("expected integer", t.pos)
	}
	p.advance()
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, parseErrorAt("invalid integer literal", t.pos)
	}
	return n, nil
}

var aggregateFns = map[string]AggregateFn{
	"COUNT": AggCount, "SUM": AggSum, "AVG": AggAvg,
	"MIN": AggMin, "MAX": AggMax, "GROUP_CONCAT": AggGroupConcat,
}

func (p *parser) parseSelectList(q *Query) error {
	if p.cur().kind == tokPunct && p.cur().text == "*" {
		return parseErrorAt("SELECT * is not supported", p.cur().pos)
	}
	for {
		t := p.cur()
		switch {
		case t.kind == tokVariable:
			q.Variables = append(q.Variables, t.text)
			p.advance()
		case t.kind == tokIdent:
			fn, ok := aggregateFns[strings.ToUpper(t.text)]
			if !ok {
				return parseErrorAt("unknown select-list item '"+t.text+"'", t.pos)
			}
			agg, err := p.parseAggregate(fn)
			if err != nil {
				return err
			}
			q.Aggregates = append(q.Aggregates, *agg)
		case t.kind == tokPunct && t.text == "(":
			p.advance()
			inner := p.cur()
			fn, ok := aggregateFns[strings.ToUpper(inner.text)]
			if inner.kind != tokIdent || !ok {
				return parseErrorAt("expected an aggregate inside '(' in SELECT list", inner.pos)
			}
			agg, err := p.parseAggregate(fn)
			if err != nil {
				return err
			}
			if err := p.expectPunct(")"); err != nil {
				return err
			}
			q.Aggregates = append(q.Aggregates, *agg)
		default:
			if p.atKeyword("WHERE") {
				return parseErrorAt("empty SELECT list", t.pos)
			}
			return parseErrorAt("expected a variable or aggregate in SELECT list", t.pos)
		}
		if p.atKeyword("WHERE") {
			return nil
		}
	}
}

// parseAggregate parses "FN(DISTINCT? ?var [SEPARATOR "s"]) [AS ?alias]"
// once FN has already been consumed-as-lookahead (t.text) but not advanced.
func (p *parser) parseAggregate(fn AggregateFn) (*Aggregate, error) {
	p.advance() // consume the function name identifier
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	agg := &Aggregate{Fn: fn, Options: map[string]string{}}
	if p.atKeyword("DISTINCT") {
		p.advance()
		agg.Distinct = true
	}
	if p.cur().kind != tokVariable {
		return nil, parseErrorAt("expected variable in aggregate", p.cur().pos)
	}
	agg.Variable = p.advance().text

	if fn == AggGroupConcat && p.atKeyword("SEPARATOR") {
		p.advance()
		if p.cur().kind != tokString {
			return nil, parseErrorAt("expected string after SEPARATOR", p.cur().pos)
		}
		agg.Options["separator"] = p.advance().text
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	agg.Alias = strings.ToLower(string(fn)) + "_" + agg.Variable
	if p.atKeyword("AS") {
		p.advance()
		if p.cur().kind != tokVariable {
			return nil, parseErrorAt("expected variable after AS", p.cur().pos)
		}
		agg.Alias = p.advance().text
	}
	return agg, nil
}

// parseGroup parses the body of a `{ ... }` block: a sequence of triple
// patterns, FILTER clauses, nested OPTIONAL blocks, and UNION pairs.
// parseGroup consumes both the opening `{` and the closing `}` itself,
// at the root and for nested blocks alike.
func (p *parser) parseGroup(q *Query) (*Group, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	g, err := p.parseGroupBody(q)
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return g, nil
}

func (p *parser) parseGroupBody(q *Query) (*Group, error) {
	g := &Group{}
	for {
		t := p.cur()
		switch {
		case t.kind == tokPunct && t.text == "}":
			return g, nil
		case t.kind == tokIdent && strings.EqualFold(t.text, "FILTER"):
			p.advance()
			f, err := p.parseFilter()
			if err != nil {
				return nil, err
			}
			g.Filters = append(g.Filters, *f)
		case t.kind == tokIdent && strings.EqualFold(t.text, "OPTIONAL"):
			p.advance()
			opt, err := p.parseGroup(q)
			if err != nil {
				return nil, err
			}
			g.Optionals = append(g.Optionals, *opt)
		case t.kind == tokPunct && t.text == "{":
			left, err := p.parseGroup(q)
			if err != nil {
				return nil, err
			}
			if !p.atKeyword("UNION") {
				return nil, parseErrorAt("expected UNION after '{ ... }' block", p.cur().pos)
			}
			p.advance()
			right, err := p.parseGroup(q)
			if err != nil {
				return nil, err
			}
			g.Unions = append(g.Unions, UnionBranch{Left: *left, Right: *right})
		case t.kind == tokVariable || t.kind == tokString || t.kind == tokIRI || t.kind == tokPrefixedName || t.kind == tokIdent:
			tr, err := p.parseTriple(q)
			if err != nil {
				return nil, err
			}
			g.Patterns = append(g.Patterns, *tr)
			if p.cur().kind == tokPunct && p.cur().text == "." {
				p.advance()
			}
		default:
			return nil, parseErrorAt("unexpected token in group body", t.pos)
		}
	}
}

func (p *parser) parseTriple(q *Query) (*Triple, error) {
	s, err := p.parseTerm(q, "s")
	if err != nil {
		return nil, err
	}
	pr, err := p.parseTerm(q, "p")
	if err != nil {
		return nil, err
	}
	o, err := p.parseTerm(q, "o")
	if err != nil {
		return nil, err
	}
	return &Triple{S: s, P: pr, O: o}, nil
}

func (p *parser) parseTerm(q *Query, position string) (Term, error) {
	t := p.cur()
	switch t.kind {
	case tokVariable:
		p.advance()
		if _, exists := q.VariablePositions[t.text]; !exists {
			q.VariablePositions[t.text] = position
		}
		return Term{Kind: TermVariable, Value: t.text}, nil
	case tokString:
		p.advance()
		return Term{Kind: TermLiteral, Value: t.text}, nil
	case tokIRI:
		p.advance()
		return Term{Kind: TermIRI, Value: t.text}, nil
	case tokPrefixedName:
		p.advance()
		return Term{Kind: TermIRI, Value: p.expandPrefixed(q, t.text)}, nil
	case tokIdent:
		// A bare identifier in a triple position is treated as a PROV-O
		// verbatim name (e.g. "wasGeneratedBy" without a prefix).
		p.advance()
		return Term{Kind: TermIRI, Value: t.text}, nil
	default:
		return Term{}, parseErrorAt("expected a term (variable, literal, or IRI) in position "+position, t.pos)
	}
}

// expandPrefixed resolves "pfx:local" against the declared prefix map. If
// the prefix is unknown but is one of the PROV-O short names this package
// recognises out of the box, it is kept verbatim (spec §4.7).
func (p *parser) expandPrefixed(q *Query, text string) string {
	parts := strings.SplitN(text, ":", 2)
	if len(parts) != 2 {
		return text
	}
	pfx, local := parts[0], parts[1]
	if iri, ok := q.Prefixes[pfx]; ok {
		return iri + local
	}
	if _, ok := provOPrefixes[pfx]; ok {
		return text
	}
	return text
}

var provOPrefixes = map[string]struct{}{
	"prov": {},
}

var filterOps = map[string]FilterKind{
	"=": FilterEq, "!=": FilterNeq, "<": FilterLt, ">": FilterGt, "<=": FilterLte, ">=": FilterGte,
}

// parseFilter parses "(?var op value)" or "(regex(?var, \"pattern\"))".
func (p *parser) parseFilter() (*Filter, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}

	if p.atKeyword("regex") {
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		if p.cur().kind != tokVariable {
			return nil, parseErrorAt("expected variable in regex(...)", p.cur().pos)
		}
		v := p.advance().text
		if err := p.expectPunct(","); err != nil {
			return nil, err
		}
		if p.cur().kind != tokString {
			return nil, parseErrorAt("expected string pattern in regex(...)", p.cur().pos)
		}
		pat := p.advance().text
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &Filter{Kind: FilterRegex, Variable: v, Value: pat}, nil
	}

	if p.cur().kind != tokVariable {
		return nil, parseErrorAt("expected a variable in FILTER", p.cur().pos)
	}
	v := p.advance().text

	opTok := p.cur()
	if opTok.kind != tokPunct {
		return nil, parseErrorAt("expected a comparison operator in FILTER", opTok.pos)
	}
	kind, ok := filterOps[opTok.text]
	if !ok {
		return nil, parseErrorAt("unsupported filter operator '"+opTok.text+"'", opTok.pos)
	}
	p.advance()

	valTok := p.cur()
	var value string
	switch valTok.kind {
	case tokString:
		value = valTok.text
	case tokNumber:
		value = valTok.text
	case tokVariable:
		value = "?" + valTok.text
	default:
		return nil, parseErrorAt("expected a value in FILTER", valTok.pos)
	}
	p.advance()

	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &Filter{Kind: kind, Variable: v, Value: value}, nil
}
