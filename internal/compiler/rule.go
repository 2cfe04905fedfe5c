package compiler

import "alarmist/internal/alarmid"

// Op names the primitive rule operators.
type Op string

const (
	OpCopy          Op = "copy"
	OpNot           Op = "not"
	OpAnd           Op = "and"
	OpOr            Op = "or"
	OpUnknownAsSet  Op = "unknown_as_set"
	OpDebounce      Op = "debounce"
	OpHold          Op = "hold"
	OpIntensity     Op = "intensity"
	OpOnTime        Op = "on_time"
	OpSustainWindow Op = "sustain_window"
)

// IDExpr is an id that is either already concrete or needs the registering
// managed alarm's own tuple parameters substituted in.
type IDExpr struct {
	Concrete *alarmid.ID
	Template *TemplateRef
}

func concreteID(id alarmid.ID) IDExpr { return IDExpr{Concrete: &id} }

// Const wraps a literal argument (millis/count/period).
type Const struct{ Value int64 }

// Arg is one operand of a Rule: exactly one of ID or Literal is set.
type Arg struct {
	ID      *IDExpr
	Literal *Const
}

func idArg(ie IDExpr) Arg    { return Arg{ID: &ie} }
func litArg(v int64) Arg     { return Arg{Literal: &Const{Value: v}} }

// Rule is the three-address form (Op, Dest, [arg…]).
type Rule struct {
	Op   Op
	Dest IDExpr
	Args []Arg
}

// CompiledCondition is the compiler's output.
type CompiledCondition struct {
	Rules       []Rule
	Temporaries []IDExpr
	Style       Style
	Parameters  []string
}
