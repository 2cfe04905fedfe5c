package compiler

import (
	"fmt"

	"alarmist/internal/alarmid"
)

// BoundArg is a Rule argument after parameter substitution: exactly one of
// ID or Literal is set.
type BoundArg struct {
	ID      *alarmid.ID
	Literal *int64
}

// BoundRule is a Rule after parameter substitution, ready for the engine's
// dependency index.
type BoundRule struct {
	Op   Op
	Dest alarmid.ID
	Args []BoundArg
}

// Bind substitutes managedID's own tuple parameters into every template
// reference in cc, producing concrete rules and temporary ids for
// registration against that one managed alarm.
func Bind(cc CompiledCondition, managedID alarmid.ID) ([]BoundRule, []alarmid.ID, error) {
	switch cc.Style {
	case StyleAtom:
		if managedID.Tuple {
			return nil, nil, fmt.Errorf("compiler: atom-style condition bound to tuple id %s", managedID)
		}
	case StyleTaggedTuple:
		if !managedID.Tuple {
			return nil, nil, fmt.Errorf("compiler: tagged_tuple condition bound to atom id %s", managedID)
		}
		if len(managedID.Params) != len(cc.Parameters) {
			return nil, nil, fmt.Errorf("compiler: condition declares %d parameters, id %s has %d",
				len(cc.Parameters), managedID, len(managedID.Params))
		}
	}

	values := managedID.Params

	rules := make([]BoundRule, len(cc.Rules))
	for i, r := range cc.Rules {
		dest, err := bindIDExpr(r.Dest, cc.Parameters, values)
		if err != nil {
			return nil, nil, err
		}
		args := make([]BoundArg, len(r.Args))
		for j, a := range r.Args {
			if a.Literal != nil {
				v := a.Literal.Value
				args[j] = BoundArg{Literal: &v}
				continue
			}
			id, err := bindIDExpr(*a.ID, cc.Parameters, values)
			if err != nil {
				return nil, nil, err
			}
			args[j] = BoundArg{ID: &id}
		}
		rules[i] = BoundRule{Op: r.Op, Dest: dest, Args: args}
	}

	temps := make([]alarmid.ID, len(cc.Temporaries))
	for i, t := range cc.Temporaries {
		id, err := bindIDExpr(t, cc.Parameters, values)
		if err != nil {
			return nil, nil, err
		}
		temps[i] = id
	}

	return rules, temps, nil
}

func bindIDExpr(ie IDExpr, paramNames []string, values []interface{}) (alarmid.ID, error) {
	if ie.Concrete != nil {
		return *ie.Concrete, nil
	}
	t := ie.Template
	params := make([]interface{}, len(t.Elems))
	for i, el := range t.Elems {
		if el.ParamName == "" {
			params[i] = el.Const
			continue
		}
		idx := indexOf(paramNames, el.ParamName)
		if idx < 0 || idx >= len(values) {
			return alarmid.ID{}, fmt.Errorf("compiler: unbound parameter %q", el.ParamName)
		}
		params[i] = values[idx]
	}
	return alarmid.Tagged(t.Tag, params...), nil
}

func indexOf(xs []string, v string) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
