package filter

import (
	"cmp"
	"fmt"
)

// Match evaluates f against a document's metadata in process. A missing
// key fails every comparison except Ne and NotIn. A nil filter matches.
func Match(f Filter, metadata map[string]any) (bool, error) {
	if f == nil {
		return true, nil
	}

	switch n := f.(type) {
	case *Comparison:
		return matchComparison(n, metadata)
	case *Logical:
		left, err := Match(n.Left, metadata)
		if err != nil {
			return false, err
		}
		if n.Op == OpAnd && !left {
			return false, nil
		}
		if n.Op == OpOr && left {
			return true, nil
		}
		return Match(n.Right, metadata)
	case *Negation:
		inner, err := Match(n.Inner, metadata)
		return !inner, err
	default:
		return false, unsupported(f, "match")
	}
}

func matchComparison(c *Comparison, metadata map[string]any) (bool, error) {
	actual, present := metadata[c.Key]

	switch c.Op {
	case OpIn, OpNotIn:
		values, err := c.values()
		if err != nil {
			return false, err
		}
		found := false
		if present {
			for _, v := range values {
				if equal(actual, v) {
					found = true
					break
				}
			}
		}
		return found == (c.Op == OpIn), nil
	case OpEq:
		return present && equal(actual, c.Value), nil
	case OpNe:
		return !present || !equal(actual, c.Value), nil
	}

	if !present {
		return false, nil
	}
	order, ok := compare(actual, c.Value)
	if !ok {
		return false, nil
	}
	switch c.Op {
	case OpGt:
		return order > 0, nil
	case OpGte:
		return order >= 0, nil
	case OpLt:
		return order < 0, nil
	case OpLte:
		return order <= 0, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedFilter, c.Op)
	}
}

func equal(a, b any) bool {
	if order, ok := compare(a, b); ok {
		return order == 0
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}
	return false
}

// compare orders two numbers or two strings. Mixed kinds do not compare.
func compare(a, b any) (int, bool) {
	if _, x, ok := number(a); ok {
		_, y, ok := number(b)
		if !ok {
			return 0, false
		}
		return cmp.Compare(x, y), true
	}

	x, aok := a.(string)
	y, bok := b.(string)
	if !aok || !bok {
		return 0, false
	}
	return cmp.Compare(x, y), true
}
