package filter

import (
	"fmt"
	"strings"
)

// ToPostgres renders f as a SQL boolean expression over a JSONB "metadata"
// column. Placeholders start at $argOffset+1; the returned args bind them
// in order. A nil filter gives "TRUE".
func ToPostgres(f Filter, argOffset int) (string, []any, error) {
	if f == nil {
		return "TRUE", nil, nil
	}
	b := &pgBuilder{next: argOffset}
	sql, err := b.node(f)
	if err != nil {
		return "", nil, err
	}
	return sql, b.args, nil
}

type pgBuilder struct {
	next int
	args []any
}

func (b *pgBuilder) bind(v any) string {
	b.args = append(b.args, v)
	b.next++
	return fmt.Sprintf("$%d", b.next)
}

func (b *pgBuilder) node(f Filter) (string, error) {
	switch n := f.(type) {
	case *Comparison:
		return b.comparison(n)
	case *Logical:
		left, err := b.node(n.Left)
		if err != nil {
			return "", err
		}
		right, err := b.node(n.Right)
		if err != nil {
			return "", err
		}
		op := "AND"
		if n.Op == OpOr {
			op = "OR"
		}
		return "(" + left + " " + op + " " + right + ")", nil
	case *Negation:
		inner, err := b.node(n.Inner)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	default:
		return "", unsupported(f, "postgres")
	}
}

func pgField(key string) string {
	return "metadata->>'" + strings.ReplaceAll(key, "'", "''") + "'"
}

// pgTyped casts the text field to the type of sample and converts sample
// into the bind value.
func pgTyped(key string, sample any) (string, any) {
	field := pgField(key)
	if _, f, ok := number(sample); ok {
		return "(" + field + ")::numeric", f
	}
	if bv, ok := sample.(bool); ok {
		return "(" + field + ")::boolean", bv
	}
	return field, fmt.Sprint(sample)
}

func (b *pgBuilder) comparison(c *Comparison) (string, error) {
	switch c.Op {
	case OpIn, OpNotIn:
		values, err := c.values()
		if err != nil {
			return "", err
		}
		if len(values) == 0 {
			return "", fmt.Errorf("%w: empty %s list for %q", ErrUnsupportedFilter, c.Op, c.Key)
		}
		expr, list := pgList(c.Key, values)
		clause := expr + " = ANY(" + b.bind(list) + ")"
		if c.Op == OpNotIn {
			return "(" + pgField(c.Key) + " IS NULL OR NOT " + clause + ")", nil
		}
		return clause, nil
	}

	expr, value := pgTyped(c.Key, c.Value)
	ops := map[Op]string{OpEq: "=", OpNe: "<>", OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}
	op, ok := ops[c.Op]
	if !ok {
		return "", fmt.Errorf("%w: %s for postgres", ErrUnsupportedFilter, c.Op)
	}
	clause := expr + " " + op + " " + b.bind(value)
	if c.Op == OpNe {
		return "(" + pgField(c.Key) + " IS NULL OR " + clause + ")", nil
	}
	return clause, nil
}

// pgList types an IN list by its first element.
func pgList(key string, values []any) (string, any) {
	if _, _, ok := number(values[0]); ok {
		nums := make([]float64, 0, len(values))
		for _, v := range values {
			_, f, _ := number(v)
			nums = append(nums, f)
		}
		return "(" + pgField(key) + ")::numeric", nums
	}
	strs := make([]string, 0, len(values))
	for _, v := range values {
		strs = append(strs, text(v))
	}
	return pgField(key), strs
}
