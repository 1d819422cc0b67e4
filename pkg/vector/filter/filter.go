// Package filter is a small metadata filter language shared by the vector
// drivers. A Filter is built with the constructors in this package and
// translated into each store's native query form.
package filter

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFilter is returned when a translator cannot express a node.
var ErrUnsupportedFilter = errors.New("unsupported filter")

// Op is a comparison or logical operator.
type Op string

const (
	OpEq    Op = "eq"
	OpNe    Op = "ne"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpIn    Op = "in"
	OpNotIn Op = "nin"
	OpAnd   Op = "and"
	OpOr    Op = "or"
	OpNot   Op = "not"
)

// Filter is a node of the filter tree. A nil Filter matches everything.
type Filter interface {
	filter()
}

// Comparison compares the metadata value under Key with Value. For OpIn and
// OpNotIn, Value is a []any.
type Comparison struct {
	Op    Op
	Key   string
	Value any
}

// Logical combines two filters with OpAnd or OpOr.
type Logical struct {
	Op    Op
	Left  Filter
	Right Filter
}

// Negation inverts a filter.
type Negation struct {
	Inner Filter
}

func (*Comparison) filter() {}
func (*Logical) filter()    {}
func (*Negation) filter()   {}

func Eq(key string, value any) Filter  { return &Comparison{Op: OpEq, Key: key, Value: value} }
func Ne(key string, value any) Filter  { return &Comparison{Op: OpNe, Key: key, Value: value} }
func Gt(key string, value any) Filter  { return &Comparison{Op: OpGt, Key: key, Value: value} }
func Gte(key string, value any) Filter { return &Comparison{Op: OpGte, Key: key, Value: value} }
func Lt(key string, value any) Filter  { return &Comparison{Op: OpLt, Key: key, Value: value} }
func Lte(key string, value any) Filter { return &Comparison{Op: OpLte, Key: key, Value: value} }

func In(key string, values ...any) Filter {
	return &Comparison{Op: OpIn, Key: key, Value: values}
}

func NotIn(key string, values ...any) Filter {
	return &Comparison{Op: OpNotIn, Key: key, Value: values}
}

// And combines filters left to right. Nil operands are dropped.
func And(filters ...Filter) Filter {
	return fold(OpAnd, filters)
}

// Or combines filters left to right. Nil operands are dropped.
func Or(filters ...Filter) Filter {
	return fold(OpOr, filters)
}

func Not(f Filter) Filter {
	return &Negation{Inner: f}
}

func fold(op Op, filters []Filter) Filter {
	var out Filter
	for _, f := range filters {
		if f == nil {
			continue
		}
		if out == nil {
			out = f
			continue
		}
		out = &Logical{Op: op, Left: out, Right: f}
	}
	return out
}

// values returns the operand list of an In/NotIn comparison.
func (c *Comparison) values() ([]any, error) {
	vs, ok := c.Value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %q needs a list", ErrUnsupportedFilter, c.Op, c.Key)
	}
	return vs, nil
}

func unsupported(f Filter, target string) error {
	return fmt.Errorf("%w: %T for %s", ErrUnsupportedFilter, f, target)
}
