package redis

import (
	"fmt"
	"strings"
)

const (
	DefaultIndexName   = "embedding-index"
	DefaultPrefix      = "embedding:"
	DefaultVectorField = "vector"
	DefaultTextField   = "text"
	DefaultAlgorithm   = "HNSW"
	DefaultMetric      = "COSINE"

	scoreField = "vector_score"
)

// Schema describes the RediSearch index over the JSON documents.
type Schema struct {
	IndexName   string
	Prefix      string
	VectorField string
	TextField   string

	// TextualMetadataFields are indexed as TEXT, NumericMetadataFields as
	// NUMERIC. Only numeric fields can be filtered on.
	TextualMetadataFields []string
	NumericMetadataFields []string

	// Algorithm is FLAT or HNSW.
	Algorithm  string
	Dimensions uint

	// Metric is COSINE, L2 or IP.
	Metric string
}

func (s *Schema) withDefaults() {
	if s.IndexName == "" {
		s.IndexName = DefaultIndexName
	}
	if s.Prefix == "" {
		s.Prefix = DefaultPrefix
	}
	// Follow the redis key naming convention.
	if !strings.HasSuffix(s.Prefix, ":") {
		s.Prefix += ":"
	}
	if s.VectorField == "" {
		s.VectorField = DefaultVectorField
	}
	if s.TextField == "" {
		s.TextField = DefaultTextField
	}
	if s.Algorithm == "" {
		s.Algorithm = DefaultAlgorithm
	}
	if s.Metric == "" {
		s.Metric = DefaultMetric
	}
	s.Algorithm = strings.ToUpper(s.Algorithm)
	s.Metric = strings.ToUpper(s.Metric)
}

// createArgs renders the FT.CREATE command for the schema.
func (s *Schema) createArgs() []any {
	args := []any{
		"FT.CREATE", s.IndexName,
		"ON", "JSON",
		"PREFIX", 1, s.Prefix,
		"SCHEMA",
		"$." + s.TextField, "AS", s.TextField, "TEXT", "WEIGHT", "1.0",
		"$." + s.VectorField, "AS", s.VectorField, "VECTOR", s.Algorithm, 6,
		"TYPE", "FLOAT32",
		"DIM", s.Dimensions,
		"DISTANCE_METRIC", s.Metric,
	}
	for _, f := range s.TextualMetadataFields {
		args = append(args, "$."+f, "AS", f, "TEXT", "WEIGHT", "1.0")
	}
	for _, f := range s.NumericMetadataFields {
		args = append(args, "$."+f, "AS", f, "NUMERIC")
	}
	return args
}

// knnQuery renders the hybrid query for a prefilter.
func (s *Schema) knnQuery(prefilter string, k int) string {
	return fmt.Sprintf("%s=>[ KNN %d @%s $BLOB AS %s ]", prefilter, k, s.VectorField, scoreField)
}
