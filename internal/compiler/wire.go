package compiler

import (
	"fmt"

	"alarmist/internal/alarmid"
)

// The types in this file are the JSON-friendly mirror of the compiled
// condition wire format a DSL/macro frontend hands to add_managed_alarm:
// "{rules: [(OpName, DestId, [Arg])], temporaries: [AlarmId], options:
// {style, parameters}}". They let an external caller (the REST API, a
// config file, a future frontend) submit an already-compiled condition
// without re-running the compiler.

// WireID is the JSON-friendly mirror of alarmid.ID.
type WireID struct {
	Tag    string        `json:"tag,omitempty"`
	Params []interface{} `json:"params,omitempty"`
}

// WireIDExpr mirrors IDExpr: exactly one of Concrete or Template is set.
type WireIDExpr struct {
	Concrete *WireID         `json:"concrete,omitempty"`
	Template *WireTemplateRef `json:"template,omitempty"`
}

// WireTemplateRef mirrors TemplateRef.
type WireTemplateRef struct {
	Tag   string          `json:"tag"`
	Elems []WireTemplateElem `json:"elems"`
}

// WireTemplateElem mirrors TemplateElem.
type WireTemplateElem struct {
	ParamName string      `json:"param,omitempty"`
	Const     interface{} `json:"const,omitempty"`
}

// WireArg mirrors Arg: exactly one of ID or Literal is set.
type WireArg struct {
	ID      *WireIDExpr `json:"id,omitempty"`
	Literal *int64      `json:"literal,omitempty"`
}

// WireRule mirrors Rule: the three-address (Op, Dest, [Arg...]) triple.
type WireRule struct {
	Op   string      `json:"op"`
	Dest WireIDExpr  `json:"dest"`
	Args []WireArg   `json:"args"`
}

// WireOptions mirrors the {style, parameters} options block.
type WireOptions struct {
	Style      string   `json:"style"`
	Parameters []string `json:"parameters"`
}

// FromWire reconstructs a CompiledCondition from the wire format without
// re-running the compiler; used when a caller submits an already-compiled
// condition.
func FromWire(rules []WireRule, temporaries []WireIDExpr, options WireOptions) (CompiledCondition, error) {
	style := StyleAtom
	if options.Style == "tagged_tuple" {
		style = StyleTaggedTuple
	} else if options.Style != "" && options.Style != "atom" {
		return CompiledCondition{}, fmt.Errorf("compiler: unknown wire style %q", options.Style)
	}

	outRules := make([]Rule, len(rules))
	for i, wr := range rules {
		dest, err := idExprFromWire(wr.Dest)
		if err != nil {
			return CompiledCondition{}, fmt.Errorf("compiler: rule %d dest: %w", i, err)
		}
		op, err := opFromWire(wr.Op)
		if err != nil {
			return CompiledCondition{}, fmt.Errorf("compiler: rule %d: %w", i, err)
		}
		args := make([]Arg, len(wr.Args))
		for j, wa := range wr.Args {
			arg, err := argFromWire(wa)
			if err != nil {
				return CompiledCondition{}, fmt.Errorf("compiler: rule %d arg %d: %w", i, j, err)
			}
			args[j] = arg
		}
		outRules[i] = Rule{Op: op, Dest: dest, Args: args}
	}

	outTemps := make([]IDExpr, len(temporaries))
	for i, wt := range temporaries {
		ie, err := idExprFromWire(wt)
		if err != nil {
			return CompiledCondition{}, fmt.Errorf("compiler: temporary %d: %w", i, err)
		}
		outTemps[i] = ie
	}

	return CompiledCondition{
		Rules:       outRules,
		Temporaries: outTemps,
		Style:       style,
		Parameters:  options.Parameters,
	}, nil
}

// ToWire is FromWire's inverse, used to serialize a compiled condition for
// transport or inspection.
func ToWire(cc CompiledCondition) ([]WireRule, []WireIDExpr, WireOptions) {
	rules := make([]WireRule, len(cc.Rules))
	for i, r := range cc.Rules {
		args := make([]WireArg, len(r.Args))
		for j, a := range r.Args {
			args[j] = argToWire(a)
		}
		rules[i] = WireRule{Op: string(r.Op), Dest: idExprToWire(r.Dest), Args: args}
	}
	temps := make([]WireIDExpr, len(cc.Temporaries))
	for i, t := range cc.Temporaries {
		temps[i] = idExprToWire(t)
	}
	style := "atom"
	if cc.Style == StyleTaggedTuple {
		style = "tagged_tuple"
	}
	return rules, temps, WireOptions{Style: style, Parameters: cc.Parameters}
}

func opFromWire(s string) (Op, error) {
	switch Op(s) {
	case OpCopy, OpNot, OpAnd, OpOr, OpUnknownAsSet, OpDebounce, OpHold, OpIntensity, OpOnTime, OpSustainWindow:
		return Op(s), nil
	default:
		return "", fmt.Errorf("unknown operator %q", s)
	}
}

// idFromWire distinguishes a bare atom from an arity-0 tuple by the
// presence of Params; a wire caller meaning a plain atom omits Params.
func idFromWire(w WireID) alarmid.ID {
	if w.Params == nil {
		return alarmid.Leaf(alarmid.Atom(w.Tag))
	}
	return alarmid.Tagged(alarmid.Atom(w.Tag), w.Params...)
}

func idExprFromWire(w WireIDExpr) (IDExpr, error) {
	switch {
	case w.Concrete != nil:
		id := idFromWire(*w.Concrete)
		return IDExpr{Concrete: &id}, nil
	case w.Template != nil:
		elems := make([]TemplateElem, len(w.Template.Elems))
		for i, e := range w.Template.Elems {
			elems[i] = TemplateElem{ParamName: e.ParamName, Const: e.Const}
		}
		return IDExpr{Template: &TemplateRef{Tag: alarmid.Atom(w.Template.Tag), Elems: elems}}, nil
	default:
		return IDExpr{}, fmt.Errorf("id expr has neither concrete nor template")
	}
}

func idExprToWire(ie IDExpr) WireIDExpr {
	if ie.Concrete != nil {
		id := *ie.Concrete
		if !id.Tuple {
			return WireIDExpr{Concrete: &WireID{Tag: string(id.Atom)}}
		}
		return WireIDExpr{Concrete: &WireID{Tag: string(id.Tag), Params: id.Params}}
	}
	elems := make([]WireTemplateElem, len(ie.Template.Elems))
	for i, e := range ie.Template.Elems {
		elems[i] = WireTemplateElem{ParamName: e.ParamName, Const: e.Const}
	}
	return WireIDExpr{Template: &WireTemplateRef{Tag: string(ie.Template.Tag), Elems: elems}}
}

func argFromWire(w WireArg) (Arg, error) {
	switch {
	case w.ID != nil:
		ie, err := idExprFromWire(*w.ID)
		if err != nil {
			return Arg{}, err
		}
		return Arg{ID: &ie}, nil
	case w.Literal != nil:
		return Arg{Literal: &Const{Value: *w.Literal}}, nil
	default:
		return Arg{}, fmt.Errorf("arg has neither id nor literal")
	}
}

func argToWire(a Arg) WireArg {
	if a.ID != nil {
		ie := idExprToWire(*a.ID)
		return WireArg{ID: &ie}
	}
	v := a.Literal.Value
	return WireArg{Literal: &v}
}
