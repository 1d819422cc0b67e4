package redis

import "github.com/papercomputeco/llmkit/pkg/vector"

func NewSchema(s Schema) Schema {
	s.withDefaults()
	return s
}

func (s *Schema) CreateArgs() []any { return s.createArgs() }

func (s *Schema) KNNQuery(prefilter string, k int) string { return s.knnQuery(prefilter, k) }

func ParseSearchReply(s Schema, reply any) ([]vector.QueryResult, error) {
	d := &Driver{schema: s}
	return d.parseSearchReply(reply)
}

var Blob = blob
