package config

import (
	"fmt"

	"alarmist/internal/alarmid"
	"alarmist/internal/compiler"
)

// exprNode is the YAML-friendly mirror of compiler.Expr. Exactly the fields
// relevant to Op are populated; others are ignored.
type exprNode struct {
	Op string `yaml:"op"`

	// leaf
	ID string `yaml:"id,omitempty"`

	// template_ref
	Tag   string     `yaml:"tag,omitempty"`
	Elems []elemNode `yaml:"elems,omitempty"`

	// unary operators
	X *exprNode `yaml:"x,omitempty"`
	// and/or
	Xs []exprNode `yaml:"xs,omitempty"`

	Millis       int64 `yaml:"millis,omitempty"`
	Count        int   `yaml:"count,omitempty"`
	OnMillis     int64 `yaml:"on_millis,omitempty"`
	PeriodMillis int64 `yaml:"period_millis,omitempty"`
}

type elemNode struct {
	Param string      `yaml:"param,omitempty"`
	Const interface{} `yaml:"const,omitempty"`
}

func buildExpr(n *exprNode) (compiler.Expr, error) {
	if n == nil {
		return nil, fmt.Errorf("config: empty expr node")
	}
	switch n.Op {
	case "leaf":
		if n.ID == "" {
			return nil, fmt.Errorf("config: leaf node missing id")
		}
		return compiler.Leaf{ID: alarmid.Leaf(alarmid.Atom(n.ID))}, nil

	case "template_ref":
		elems := make([]compiler.TemplateElem, len(n.Elems))
		for i, e := range n.Elems {
			elems[i] = compiler.TemplateElem{ParamName: e.Param, Const: e.Const}
		}
		return compiler.TemplateRef{Tag: alarmid.Atom(n.Tag), Elems: elems}, nil

	case "not":
		x, err := buildExpr(n.X)
		if err != nil {
			return nil, err
		}
		return compiler.Not{X: x}, nil

	case "and", "or":
		xs := make([]compiler.Expr, len(n.Xs))
		for i := range n.Xs {
			x, err := buildExpr(&n.Xs[i])
			if err != nil {
				return nil, err
			}
			xs[i] = x
		}
		if n.Op == "and" {
			return compiler.And{Xs: xs}, nil
		}
		return compiler.Or{Xs: xs}, nil

	case "unknown_as_set":
		x, err := buildExpr(n.X)
		if err != nil {
			return nil, err
		}
		return compiler.UnknownAsSet{X: x}, nil

	case "debounce":
		x, err := buildExpr(n.X)
		if err != nil {
			return nil, err
		}
		return compiler.Debounce{X: x, Millis: n.Millis}, nil

	case "hold":
		x, err := buildExpr(n.X)
		if err != nil {
			return nil, err
		}
		return compiler.Hold{X: x, Millis: n.Millis}, nil

	case "intensity":
		x, err := buildExpr(n.X)
		if err != nil {
			return nil, err
		}
		return compiler.Intensity{X: x, Count: n.Count, PeriodMillis: n.PeriodMillis}, nil

	case "on_time":
		x, err := buildExpr(n.X)
		if err != nil {
			return nil, err
		}
		return compiler.OnTime{X: x, OnMillis: n.OnMillis, PeriodMillis: n.PeriodMillis}, nil

	case "sustain_window":
		x, err := buildExpr(n.X)
		if err != nil {
			return nil, err
		}
		return compiler.SustainWindow{X: x, OnMillis: n.OnMillis, PeriodMillis: n.PeriodMillis}, nil

	default:
		return nil, fmt.Errorf("config: unknown expr op %q", n.Op)
	}
}
