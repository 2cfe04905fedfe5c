// Package alarmid defines the identifier and state types shared by every
// other package in alarmist: alarm ids, severity levels, and the tri-state
// value (Set/Clear/Unknown) an alarm can hold.
package alarmid

import (
	"fmt"
	"strconv"
	"strings"
)

// Atom is an interned-symbol-like string used for alarm tags and bare ids.
type Atom string

// ID identifies an alarm. It is either a bare atom (Tuple == false) or an
// ordered tuple whose first element is Tag and whose remaining elements are
// Params (each a string, int64, or Atom). IDs compare structurally via Key.
type ID struct {
	Tuple  bool
	Atom   Atom
	Tag    Atom
	Params []interface{}
}

// Leaf builds a bare-atom id.
func Leaf(atom Atom) ID {
	return ID{Atom: atom}
}

// Tagged builds a tuple id.
func Tagged(tag Atom, params ...interface{}) ID {
	return ID{Tuple: true, Tag: tag, Params: params}
}

// Key returns a canonical string encoding suitable for use as a map key.
// Two ids are structurally equal iff their Key()s are equal.
func (id ID) Key() string {
	var b strings.Builder
	if !id.Tuple {
		b.WriteString("a:")
		b.WriteString(string(id.Atom))
		return b.String()
	}
	b.WriteString("t:")
	b.WriteString(string(id.Tag))
	b.WriteByte('(')
	b.WriteString(strconv.Itoa(len(id.Params)))
	b.WriteByte(')')
	for _, p := range id.Params {
		b.WriteByte('|')
		writeParam(&b, p)
	}
	return b.String()
}

func writeParam(b *strings.Builder, p interface{}) {
	switch v := p.(type) {
	case Atom:
		b.WriteString("a:" + string(v))
	case string:
		b.WriteString("s:" + v)
	case int64:
		b.WriteString("i:" + strconv.FormatInt(v, 10))
	case int:
		b.WriteString("i:" + strconv.Itoa(v))
	default:
		b.WriteString(fmt.Sprintf("?:%v", v))
	}
}

// Equal reports structural equality.
func (id ID) Equal(other ID) bool {
	return id.Key() == other.Key()
}

// Arity returns the number of params for a tuple id, 0 for an atom.
func (id ID) Arity() int {
	if !id.Tuple {
		return 0
	}
	return len(id.Params)
}

// String renders a human-readable form, used in logs and error messages.
func (id ID) String() string {
	if !id.Tuple {
		return string(id.Atom)
	}
	parts := make([]string, 0, len(id.Params)+1)
	parts = append(parts, string(id.Tag))
	for _, p := range id.Params {
		parts = append(parts, fmt.Sprintf("%v", p))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Temporary mints the Nth compiler-generated temporary id owned by result.
// Temporaries retain result's tuple shape so a managed alarm instance and
// its temporaries can be bound to concrete ids by the same substitution.
func Temporary(result ID, n int) ID {
	if !result.Tuple {
		return Leaf(Atom(fmt.Sprintf("%s.%d", result.Atom, n)))
	}
	return ID{
		Tuple:  true,
		Tag:    Atom(fmt.Sprintf("%s.%d", result.Tag, n)),
		Params: result.Params,
	}
}

// State is the tri-state value an alarm holds.
type State int

const (
	Clear State = iota
	Set
	Unknown
)

func (s State) String() string {
	switch s {
	case Set:
		return "set"
	case Clear:
		return "clear"
	default:
		return "unknown"
	}
}

// AsBoolean collapses Unknown to Clear, the default semantics every
// operator except unknown_as_set applies.
func (s State) AsBoolean() State {
	if s == Set {
		return Set
	}
	return Clear
}

// Level is an alarm severity, ordered most to least severe.
type Level int

const (
	Emergency Level = iota
	Alert
	Critical
	Error
	Warning
	Notice
	Info
	Debug
)

var levelNames = map[Level]string{
	Emergency: "emergency",
	Alert:     "alert",
	Critical:  "critical",
	Error:     "error",
	Warning:   "warning",
	Notice:    "notice",
	Info:      "info",
	Debug:     "debug",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "warning"
}

// ParseLevel parses a level name, defaulting to Warning on mismatch (callers
// that need strict validation should compare against ErrUnknownLevel).
func ParseLevel(name string) (Level, error) {
	for lvl, n := range levelNames {
		if n == name {
			return lvl, nil
		}
	}
	return Warning, fmt.Errorf("%w: %q", ErrUnknownLevel, name)
}

// DefaultLeafLevel and DefaultTemporaryLevel are the levels assigned when no
// override or declared level applies.
const (
	DefaultLeafLevel      = Warning
	DefaultTemporaryLevel = Debug
)
