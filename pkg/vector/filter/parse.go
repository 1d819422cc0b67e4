package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// node is the JSON form of a filter:
//
//	{"op": "eq", "key": "year", "value": 2024}
//	{"op": "and", "filters": [ ... ]}
//	{"op": "not", "filter": { ... }}
type node struct {
	Op      Op              `json:"op"`
	Key     string          `json:"key,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Filters []node          `json:"filters,omitempty"`
	Filter  *node           `json:"filter,omitempty"`
}

// Parse decodes the JSON form of a filter. Numbers are kept as json.Number
// so translators render them as written. An empty document or "null" gives
// a nil Filter.
func Parse(raw []byte) (Filter, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var n node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decoding filter: %w", err)
	}
	return n.build()
}

func (n *node) build() (Filter, error) {
	switch n.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn:
		if n.Key == "" {
			return nil, fmt.Errorf("filter %s: key is required", n.Op)
		}
		value, err := decodeValue(n.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %s on %q: %w", n.Op, n.Key, err)
		}
		if n.Op == OpIn || n.Op == OpNotIn {
			if _, ok := value.([]any); !ok {
				return nil, fmt.Errorf("filter %s on %q: value must be a list", n.Op, n.Key)
			}
		}
		return &Comparison{Op: n.Op, Key: n.Key, Value: value}, nil
	case OpAnd, OpOr:
		if len(n.Filters) == 0 {
			return nil, fmt.Errorf("filter %s: filters are required", n.Op)
		}
		children := make([]Filter, 0, len(n.Filters))
		for i := range n.Filters {
			child, err := n.Filters[i].build()
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return fold(n.Op, children), nil
	case OpNot:
		if n.Filter == nil {
			return nil, fmt.Errorf("filter not: filter is required")
		}
		inner, err := n.Filter.build()
		if err != nil {
			return nil, err
		}
		return Not(inner), nil
	default:
		return nil, fmt.Errorf("%w: operator %q", ErrUnsupportedFilter, n.Op)
	}
}

func decodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("value is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
