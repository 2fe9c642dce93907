// Copyright 2025 Certnode Project

package sparql

import (
	"strings"

	"github.com/certnode/factledger/pkg/dag"
)

// Binding maps a variable name to its bound value. A value of nil means
// the variable is known (appears in the projection) but unbound, which
// happens for an OPTIONAL block's exclusive variables when the block had
// no match.
type Binding map[string]interface{}

// Clone returns a shallow copy, used whenever a binding is extended along
// a new path so sibling branches don't share mutable state.
func (b Binding) Clone() Binding {
	out := make(Binding, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// provORoles is the fixed PROV-O predicate -> role-name table from spec
// §4.12. Each recognised predicate injects two role aliases, bound to the
// triple's subject and object respectively.
var provORoles = map[string][2]string{
	"wasGeneratedBy":    {"entity", "activity"},
	"used":              {"activity", "entity"},
	"wasAssociatedWith": {"activity", "agent"},
	"wasAttributedTo":   {"entity", "agent"},
	"wasDerivedFrom":    {"generatedEntity", "usedEntity"},
	"actedOnBehalfOf":   {"delegate", "responsible"},
	"wasInformedBy":     {"informed", "informant"},
}

// convenienceAliases maps a friendly name to one of the three storage
// positions, per spec §4.12.
var convenienceAliases = map[string]string{
	"person":   "s",
	"relation": "p",
	"target":   "o",
	"friend":   "o",
}

// mapRow builds the raw positional binding for one storage row, including
// standard aliases, convenience aliases, and (when recognised) PROV-O
// role aliases. joinRow binds the pattern's own variable names first and
// then adds these entries only under names not already bound.
func mapRow(row dag.Row) Binding {
	b := Binding{
		"s": row.Node.Subject,
		"p": row.Node.Predicate,
		"o": row.Node.Object,

		"subject":   row.Node.Subject,
		"predicate": row.Node.Predicate,
		"object":    row.Node.Object,

		"validator": row.Node.Validator,
		"timestamp": row.Node.Timestamp,
	}
	for alias, pos := range convenienceAliases {
		b[alias] = b[pos]
	}
	if roles, ok := provORoles[stripProvPrefix(row.Node.Predicate)]; ok {
		b[roles[0]] = row.Node.Subject
		b[roles[1]] = row.Node.Object
	}
	return b
}

// stripProvPrefix normalises a predicate to the bare PROV-O name the role
// table is keyed on. expandPrefixed keeps a "prov:"-prefixed predicate
// verbatim rather than resolving it to a URI, so "prov:wasGeneratedBy" and
// the bare "wasGeneratedBy" both need to reach the same table entry.
func stripProvPrefix(predicate string) string {
	for pfx := range provOPrefixes {
		if cut, ok := strings.CutPrefix(predicate, pfx+":"); ok {
			return cut
		}
	}
	return predicate
}
