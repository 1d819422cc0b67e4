package filter

import (
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// ToQdrant renders f as a Qdrant payload filter. A nil filter gives nil.
func ToQdrant(f Filter) (*qdrant.Filter, error) {
	if f == nil {
		return nil, nil
	}
	cond, err := qdrantCondition(f)
	if err != nil {
		return nil, err
	}
	if nested := cond.GetFilter(); nested != nil {
		return nested, nil
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{cond}}, nil
}

func qdrantCondition(f Filter) (*qdrant.Condition, error) {
	switch n := f.(type) {
	case *Comparison:
		return qdrantComparison(n)
	case *Logical:
		left, err := qdrantCondition(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := qdrantCondition(n.Right)
		if err != nil {
			return nil, err
		}
		if n.Op == OpOr {
			return qdrant.NewFilterAsCondition(&qdrant.Filter{Should: []*qdrant.Condition{left, right}}), nil
		}
		return qdrant.NewFilterAsCondition(&qdrant.Filter{Must: []*qdrant.Condition{left, right}}), nil
	case *Negation:
		inner, err := qdrantCondition(n.Inner)
		if err != nil {
			return nil, err
		}
		return qdrant.NewFilterAsCondition(&qdrant.Filter{MustNot: []*qdrant.Condition{inner}}), nil
	default:
		return nil, unsupported(f, "qdrant")
	}
}

func qdrantComparison(c *Comparison) (*qdrant.Condition, error) {
	switch c.Op {
	case OpEq:
		return qdrantMatch(c.Key, c.Value)
	case OpNe:
		match, err := qdrantMatch(c.Key, c.Value)
		if err != nil {
			return nil, err
		}
		return qdrant.NewFilterAsCondition(&qdrant.Filter{MustNot: []*qdrant.Condition{match}}), nil
	case OpGt, OpGte, OpLt, OpLte:
		_, v, ok := number(c.Value)
		if !ok {
			return nil, fmt.Errorf("%w: qdrant range on %q needs a number", ErrUnsupportedFilter, c.Key)
		}
		r := &qdrant.Range{}
		switch c.Op {
		case OpGt:
			r.Gt = &v
		case OpGte:
			r.Gte = &v
		case OpLt:
			r.Lt = &v
		case OpLte:
			r.Lte = &v
		}
		return qdrant.NewRange(c.Key, r), nil
	case OpIn, OpNotIn:
		values, err := c.values()
		if err != nil {
			return nil, err
		}
		if ints, ok := allIntegers(values); ok {
			if c.Op == OpIn {
				return qdrant.NewMatchInts(c.Key, ints...), nil
			}
			return qdrant.NewMatchExceptInts(c.Key, ints...), nil
		}
		keywords := make([]string, len(values))
		for i, v := range values {
			keywords[i] = text(v)
		}
		if c.Op == OpIn {
			return qdrant.NewMatchKeywords(c.Key, keywords...), nil
		}
		return qdrant.NewMatchExcept(c.Key, keywords...), nil
	default:
		return nil, fmt.Errorf("%w: %s for qdrant", ErrUnsupportedFilter, c.Op)
	}
}

func qdrantMatch(key string, value any) (*qdrant.Condition, error) {
	switch v := value.(type) {
	case string:
		return qdrant.NewMatch(key, v), nil
	case bool:
		return qdrant.NewMatchBool(key, v), nil
	}
	if i, ok := integer(value); ok {
		return qdrant.NewMatchInt(key, i), nil
	}
	if _, f, ok := number(value); ok {
		// Qdrant matches exact values on keywords, integers and booleans
		// only; a float equality becomes a closed range.
		return qdrant.NewRange(key, &qdrant.Range{Gte: &f, Lte: &f}), nil
	}
	return nil, fmt.Errorf("%w: qdrant cannot match %T on %q", ErrUnsupportedFilter, value, key)
}

func allIntegers(values []any) ([]int64, bool) {
	out := make([]int64, 0, len(values))
	for _, v := range values {
		if _, isString := v.(string); isString {
			return nil, false
		}
		i, ok := integer(v)
		if !ok {
			return nil, false
		}
		out = append(out, i)
	}
	return out, true
}
