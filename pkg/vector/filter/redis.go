package filter

import "fmt"

// ToRedis renders f as a RediSearch pre-filter. Only numeric comparisons
// and And are expressible; a nil filter gives "*".
func ToRedis(f Filter) (string, error) {
	if f == nil {
		return "*", nil
	}
	s, err := redisNode(f)
	if err != nil {
		return "", err
	}
	return "(" + s + ")", nil
}

func redisNode(f Filter) (string, error) {
	switch n := f.(type) {
	case *Comparison:
		return redisComparison(n)
	case *Logical:
		if n.Op != OpAnd {
			return "", unsupported(f, "redis")
		}
		left, err := redisNode(n.Left)
		if err != nil {
			return "", err
		}
		right, err := redisNode(n.Right)
		if err != nil {
			return "", err
		}
		return left + " " + right, nil
	default:
		return "", unsupported(f, "redis")
	}
}

func redisComparison(c *Comparison) (string, error) {
	if c.Op == OpIn || c.Op == OpNotIn {
		return "", fmt.Errorf("%w: %s for redis", ErrUnsupportedFilter, c.Op)
	}
	v, _, ok := number(c.Value)
	if !ok {
		return "", fmt.Errorf("%w: redis only filters on numeric fields, %q is %T", ErrUnsupportedFilter, c.Key, c.Value)
	}

	switch c.Op {
	case OpEq:
		return "@" + c.Key + ":[" + v + " " + v + "]", nil
	case OpNe:
		return "-@" + c.Key + ":[" + v + " " + v + "]", nil
	case OpGt:
		return "@" + c.Key + ":[(" + v + " inf]", nil
	case OpGte:
		return "@" + c.Key + ":[" + v + " inf]", nil
	case OpLt:
		return "@" + c.Key + ":[-inf (" + v + "]", nil
	case OpLte:
		return "@" + c.Key + ":[-inf " + v + "]", nil
	default:
		return "", fmt.Errorf("%w: %s for redis", ErrUnsupportedFilter, c.Op)
	}
}
