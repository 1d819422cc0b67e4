package filter

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// number reports whether v is numeric and returns its literal form and
// float value. json.Number keeps the text it was decoded from.
func number(v any) (string, float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return "", 0, false
		}
		return n.String(), f, true
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32), float64(n), true
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), n, true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), float64(rv.Uint()), true
	default:
		return "", 0, false
	}
}

// integer reports whether v is a whole number and returns it.
func integer(v any) (int64, bool) {
	lit, f, ok := number(v)
	if !ok {
		return 0, false
	}
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return i, true
	}
	if f == float64(int64(f)) {
		return int64(f), true
	}
	return 0, false
}

// native converts json.Number into float64 or int64 so values serialize as
// JSON numbers in store documents. Other values pass through.
func native(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, _ := n.Float64()
	return f
}

func nativeAll(vs []any) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = native(v)
	}
	return out
}

// text renders a scalar for comparison with stored string metadata.
func text(v any) string {
	if lit, _, ok := number(v); ok {
		return lit
	}
	return fmt.Sprint(v)
}

// negate pushes a negation one level down, for stores without a native
// NOT. Comparisons flip their operator; And and Or follow De Morgan.
func negate(f Filter) (Filter, error) {
	switch n := f.(type) {
	case *Comparison:
		flipped := map[Op]Op{
			OpEq: OpNe, OpNe: OpEq,
			OpGt: OpLte, OpGte: OpLt,
			OpLt: OpGte, OpLte: OpGt,
			OpIn: OpNotIn, OpNotIn: OpIn,
		}
		op, ok := flipped[n.Op]
		if !ok {
			return nil, fmt.Errorf("%w: cannot negate %s", ErrUnsupportedFilter, n.Op)
		}
		return &Comparison{Op: op, Key: n.Key, Value: n.Value}, nil
	case *Logical:
		left, err := negate(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := negate(n.Right)
		if err != nil {
			return nil, err
		}
		op := OpOr
		if n.Op == OpOr {
			op = OpAnd
		}
		return &Logical{Op: op, Left: left, Right: right}, nil
	case *Negation:
		return n.Inner, nil
	default:
		return nil, unsupported(f, "negation")
	}
}
