// Package matcher evaluates subscription patterns against alarm ids.
// Patterns mirror the shape of alarmid.ID but may carry the wildcard token
// at any position.
package matcher

import (
	"fmt"
	"strings"

	"alarmist/internal/alarmid"
)

// Wildcard is the pattern token that matches any single element.
const Wildcard = "_"

// Pattern is a subscription pattern. Any matches every id. For a tuple
// pattern, TagWild or a wildcard ParamPattern matches any tag/param value;
// arity must still match exactly.
type Pattern struct {
	Any      bool
	Tuple    bool
	AtomWild bool
	Atom     alarmid.Atom
	TagWild  bool
	Tag      alarmid.Atom
	Params   []ParamPattern
}

// ParamPattern is one element of a tuple pattern's parameter list.
type ParamPattern struct {
	Wild  bool
	Value interface{}
}

// All returns the bare "_" pattern, matching every id.
func All() Pattern { return Pattern{Any: true} }

// Leaf builds a pattern matching exactly one atom id.
func Leaf(atom alarmid.Atom) Pattern {
	return Pattern{Atom: atom}
}

// Tagged builds a tuple pattern with a concrete tag and per-position
// parameter patterns.
func Tagged(tag alarmid.Atom, params ...ParamPattern) Pattern {
	return Pattern{Tuple: true, Tag: tag, Params: params}
}

// TaggedWild builds a tuple pattern whose tag is wildcarded.
func TaggedWild(arity int) Pattern {
	params := make([]ParamPattern, arity)
	for i := range params {
		params[i] = ParamPattern{Wild: true}
	}
	return Pattern{Tuple: true, TagWild: true, Params: params}
}

// Value builds a concrete (non-wildcard) parameter pattern element.
func Value(v interface{}) ParamPattern { return ParamPattern{Value: v} }

// WildParam is the wildcard parameter pattern element.
func WildParam() ParamPattern { return ParamPattern{Wild: true} }

// Match reports whether id satisfies pattern.
func Match(pattern Pattern, id alarmid.ID) bool {
	if pattern.Any {
		return true
	}
	if pattern.Tuple != id.Tuple {
		return false
	}
	if !pattern.Tuple {
		return pattern.AtomWild || pattern.Atom == id.Atom
	}
	if len(pattern.Params) != len(id.Params) {
		return false
	}
	if !pattern.TagWild && pattern.Tag != id.Tag {
		return false
	}
	for i, pp := range pattern.Params {
		if pp.Wild {
			continue
		}
		if !paramEqual(pp.Value, id.Params[i]) {
			return false
		}
	}
	return true
}

func paramEqual(a, b interface{}) bool {
	// Normalise int/int64 so pattern authors don't need to care which one
	// they wrote.
	na, oka := normaliseInt(a)
	nb, okb := normaliseInt(b)
	if oka && okb {
		return na == nb
	}
	return a == b
}

func normaliseInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// String renders a pattern for logging/diagnostics.
func (p Pattern) String() string {
	if p.Any {
		return Wildcard
	}
	if !p.Tuple {
		if p.AtomWild {
			return Wildcard
		}
		return string(p.Atom)
	}
	tag := string(p.Tag)
	if p.TagWild {
		tag = Wildcard
	}
	parts := make([]string, 0, len(p.Params)+1)
	parts = append(parts, tag)
	for _, pp := range p.Params {
		if pp.Wild {
			parts = append(parts, Wildcard)
		} else {
			parts = append(parts, fmt.Sprintf("%v", pp.Value))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
