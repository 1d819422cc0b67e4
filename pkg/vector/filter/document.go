package filter

// ToChroma renders f as a Chroma "where" document. Negations are pushed
// down since Chroma has no $not. A nil filter gives nil.
func ToChroma(f Filter) (map[string]any, error) {
	return operatorDocument(f, "chroma")
}

// ToPinecone renders f as a Pinecone metadata filter. A nil filter gives
// nil.
func ToPinecone(f Filter) (map[string]any, error) {
	return operatorDocument(f, "pinecone")
}

// operatorDocument builds the Mongo-style {"key": {"$op": v}} documents both
// Chroma and Pinecone accept.
func operatorDocument(f Filter, target string) (map[string]any, error) {
	if f == nil {
		return nil, nil
	}

	switch n := f.(type) {
	case *Comparison:
		if n.Op == OpIn || n.Op == OpNotIn {
			values, err := n.values()
			if err != nil {
				return nil, err
			}
			return map[string]any{n.Key: map[string]any{"$" + string(n.Op): nativeAll(values)}}, nil
		}
		return map[string]any{n.Key: map[string]any{"$" + string(n.Op): native(n.Value)}}, nil
	case *Logical:
		left, err := operatorDocument(n.Left, target)
		if err != nil {
			return nil, err
		}
		right, err := operatorDocument(n.Right, target)
		if err != nil {
			return nil, err
		}
		return map[string]any{"$" + string(n.Op): []any{left, right}}, nil
	case *Negation:
		pushed, err := negate(n.Inner)
		if err != nil {
			return nil, err
		}
		return operatorDocument(pushed, target)
	default:
		return nil, unsupported(f, target)
	}
}
