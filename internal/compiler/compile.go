package compiler

import (
	"errors"
	"fmt"

	"alarmist/internal/alarmid"
)

// CompileError is surfaced at managed-alarm registration.
type CompileError struct {
	Msg string
}

func (e *CompileError) Error() string { return "compiler: " + e.Msg }

func compileErrorf(format string, args ...interface{}) error {
	return &CompileError{Msg: fmt.Sprintf(format, args...)}
}

var errNilExpr = errors.New("compiler: nil expression")

type builder struct {
	style      Style
	parameters []string
	paramIndex map[string]bool
	rules      []Rule
	temps      []IDExpr
	counter    int
	result     IDExpr
}

// Compile lowers root into a CompiledCondition whose top-level rule writes
// to result. result is Concrete for a one-off atom-style alarm, or a
// Template (elems referencing names in parameters) for a tagged_tuple
// condition meant to be registered against many concrete ids sharing a tag.
func Compile(root Expr, result IDExpr, style Style, parameters []string) (CompiledCondition, error) {
	if root == nil {
		return CompiledCondition{}, errNilExpr
	}
	if style == StyleAtom && len(parameters) != 0 {
		return CompiledCondition{}, compileErrorf("style=atom but parameters declared: %v", parameters)
	}
	if style == StyleTaggedTuple && result.Template == nil {
		return CompiledCondition{}, compileErrorf("style=tagged_tuple requires a template result id")
	}
	if style == StyleAtom && result.Concrete == nil {
		return CompiledCondition{}, compileErrorf("style=atom requires a concrete result id")
	}

	idx := make(map[string]bool, len(parameters))
	for _, p := range parameters {
		idx[p] = true
	}
	b := &builder{style: style, parameters: parameters, paramIndex: idx, result: result}
	if style == StyleTaggedTuple {
		if _, err := b.checkTemplate(*result.Template); err != nil {
			return CompiledCondition{}, err
		}
	}

	switch top := root.(type) {
	case Leaf:
		arg, err := b.resolveIDExprArg(concreteID(top.ID))
		if err != nil {
			return CompiledCondition{}, err
		}
		b.emit(Rule{Op: OpCopy, Dest: result, Args: []Arg{arg}})
	case TemplateRef:
		tr, err := b.checkTemplate(top)
		if err != nil {
			return CompiledCondition{}, err
		}
		b.emit(Rule{Op: OpCopy, Dest: result, Args: []Arg{idArg(IDExpr{Template: tr})}})
	default:
		if err := b.compileInto(root, result); err != nil {
			return CompiledCondition{}, err
		}
	}

	// compileInto appends a node's rule after its children's rules, so the
	// root's rule is emitted last; reverse so the order is newest (most
	// recently emitted) first, with the root's rule at index 0.
	reversed := make([]Rule, len(b.rules))
	for i, r := range b.rules {
		reversed[len(b.rules)-1-i] = r
	}

	return CompiledCondition{
		Rules:       reversed,
		Temporaries: b.temps,
		Style:       style,
		Parameters:  parameters,
	}, nil
}

func (b *builder) emit(r Rule) {
	b.rules = append(b.rules, r)
}

func (b *builder) freshTemp() IDExpr {
	b.counter++
	t := temporaryOf(b.result, b.counter)
	b.temps = append(b.temps, t)
	return t
}

func temporaryOf(result IDExpr, n int) IDExpr {
	if result.Concrete != nil {
		id := alarmid.Temporary(*result.Concrete, n)
		return concreteID(id)
	}
	t := result.Template
	return IDExpr{Template: &TemplateRef{
		Tag:   alarmid.Atom(fmt.Sprintf("%s.%d", t.Tag, n)),
		Elems: t.Elems,
	}}
}

// compileInto compiles expr's own node directly into dest (used for the
// top-level expression so the root rule aliases straight to the declared
// result id rather than via an extra temporary copy).
func (b *builder) compileInto(expr Expr, dest IDExpr) error {
	switch e := expr.(type) {
	case Leaf:
		arg, err := b.resolveIDExprArg(concreteID(e.ID))
		if err != nil {
			return err
		}
		b.emit(Rule{Op: OpCopy, Dest: dest, Args: []Arg{arg}})
	case TemplateRef:
		tr, err := b.checkTemplate(e)
		if err != nil {
			return err
		}
		b.emit(Rule{Op: OpCopy, Dest: dest, Args: []Arg{idArg(IDExpr{Template: tr})}})
	case Not:
		arg, err := b.compileSub(e.X)
		if err != nil {
			return err
		}
		b.emit(Rule{Op: OpNot, Dest: dest, Args: []Arg{arg}})
	case And:
		args, err := b.compileSubs(e.Xs)
		if err != nil {
			return err
		}
		b.emit(Rule{Op: OpAnd, Dest: dest, Args: args})
	case Or:
		args, err := b.compileSubs(e.Xs)
		if err != nil {
			return err
		}
		b.emit(Rule{Op: OpOr, Dest: dest, Args: args})
	case UnknownAsSet:
		arg, err := b.compileSub(e.X)
		if err != nil {
			return err
		}
		b.emit(Rule{Op: OpUnknownAsSet, Dest: dest, Args: []Arg{arg}})
	case Debounce:
		arg, err := b.compileSub(e.X)
		if err != nil {
			return err
		}
		b.emit(Rule{Op: OpDebounce, Dest: dest, Args: []Arg{arg, litArg(e.Millis)}})
	case Hold:
		arg, err := b.compileSub(e.X)
		if err != nil {
			return err
		}
		b.emit(Rule{Op: OpHold, Dest: dest, Args: []Arg{arg, litArg(e.Millis)}})
	case Intensity:
		arg, err := b.compileSub(e.X)
		if err != nil {
			return err
		}
		b.emit(Rule{Op: OpIntensity, Dest: dest, Args: []Arg{arg, litArg(int64(e.Count)), litArg(e.PeriodMillis)}})
	case OnTime:
		arg, err := b.compileSub(e.X)
		if err != nil {
			return err
		}
		b.emit(Rule{Op: OpOnTime, Dest: dest, Args: []Arg{arg, litArg(e.OnMillis), litArg(e.PeriodMillis)}})
	case SustainWindow:
		arg, err := b.compileSub(e.X)
		if err != nil {
			return err
		}
		b.emit(Rule{Op: OpSustainWindow, Dest: dest, Args: []Arg{arg, litArg(e.OnMillis), litArg(e.PeriodMillis)}})
	default:
		return compileErrorf("unknown AST node %T", expr)
	}
	return nil
}

// compileSub compiles a sub-expression used as an operand: leaves and
// template refs are referenced directly (no rule emitted); anything else
// gets a fresh temporary.
func (b *builder) compileSub(expr Expr) (Arg, error) {
	switch e := expr.(type) {
	case Leaf:
		return b.resolveIDExprArg(concreteID(e.ID))
	case TemplateRef:
		tr, err := b.checkTemplate(e)
		if err != nil {
			return Arg{}, err
		}
		return idArg(IDExpr{Template: tr}), nil
	default:
		temp := b.freshTemp()
		if err := b.compileInto(expr, temp); err != nil {
			return Arg{}, err
		}
		return idArg(temp), nil
	}
}

func (b *builder) compileSubs(exprs []Expr) ([]Arg, error) {
	args := make([]Arg, 0, len(exprs))
	for _, e := range exprs {
		a, err := b.compileSub(e)
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	return args, nil
}

func (b *builder) resolveIDExprArg(ie IDExpr) (Arg, error) {
	return idArg(ie), nil
}

func (b *builder) checkTemplate(t TemplateRef) (*TemplateRef, error) {
	if b.style != StyleTaggedTuple {
		return nil, compileErrorf("template id %v used but style is not tagged_tuple", t.Tag)
	}
	for _, el := range t.Elems {
		if el.ParamName != "" && !b.paramIndex[el.ParamName] {
			return nil, compileErrorf("template id %v references undeclared parameter %q", t.Tag, el.ParamName)
		}
	}
	cp := t
	return &cp, nil
}
