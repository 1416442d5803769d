// Package stages builds aggregation pipeline stages.
package stages

import (
	"github.com/MorphiaOrg/morphia/aggregation/expressions"
	"github.com/MorphiaOrg/morphia/codec"
	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/MorphiaOrg/morphia/query/filters"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Stage is one pipeline stage.
type Stage interface {
	// Name is the stage operator, such as "$match".
	Name() string
	// Encode returns the stage's argument.
	Encode(enc codec.FieldEncoder) (any, error)
}

// Render encodes stages into a pipeline.
func Render(enc codec.FieldEncoder, stages ...Stage) ([]bson.D, error) {
	catcher := grip.NewBasicCatcher()
	out := make([]bson.D, 0, len(stages))
	for i, s := range stages {
		value, err := s.Encode(enc)
		if err != nil {
			catcher.Wrapf(err, "encoding stage %d (%s)", i, s.Name())
			continue
		}
		out = append(out, bson.D{{Key: s.Name(), Value: value}})
	}
	if catcher.HasErrors() {
		return nil, catcher.Resolve()
	}
	return out, nil
}

// rawEncoder leaves paths untouched, for fields of another collection.
type rawEncoder struct {
	codec.FieldEncoder
}

func (rawEncoder) Path(field string) (string, *mapping.PropertyModel, error) {
	return field, nil, nil
}

func (r rawEncoder) Elem(string) codec.FieldEncoder { return r }

func (rawEncoder) Model() *mapping.EntityModel { return nil }

func foreign(enc codec.FieldEncoder) codec.FieldEncoder {
	if _, ok := enc.(rawEncoder); ok {
		return enc
	}
	return rawEncoder{FieldEncoder: enc}
}

type simpleStage struct {
	name  string
	value any
}

func (s simpleStage) Name() string { return s.name }

func (s simpleStage) Encode(codec.FieldEncoder) (any, error) { return s.value, nil }

// Limit passes the first n documents.
func Limit(n int64) Stage { return simpleStage{name: "$limit", value: n} }

// Skip drops the first n documents.
func Skip(n int64) Stage { return simpleStage{name: "$skip", value: n} }

// Sample picks size random documents.
func Sample(size int64) Stage {
	return simpleStage{name: "$sample", value: bson.D{{Key: "size", Value: size}}}
}

// Count replaces the documents with one document holding their count in
// field.
func Count(field string) Stage { return simpleStage{name: "$count", value: field} }

// IndexStats reports index usage for the collection.
func IndexStats() Stage { return simpleStage{name: "$indexStats", value: bson.D{}} }

// CollStatsStage reports collection statistics.
type CollStatsStage struct {
	histograms bool
	scale      int64
	count      bool
}

// CollStats reports storage statistics; add sections with the methods.
func CollStats() *CollStatsStage { return &CollStatsStage{} }

// LatencyHistograms adds latency histograms to the latency stats.
func (s *CollStatsStage) LatencyHistograms() *CollStatsStage {
	s.histograms = true
	return s
}

// StorageScale reports storage stats, with sizes divided by scale.
func (s *CollStatsStage) StorageScale(scale int64) *CollStatsStage {
	s.scale = scale
	return s
}

// Count reports the document count.
func (s *CollStatsStage) Count() *CollStatsStage {
	s.count = true
	return s
}

func (s *CollStatsStage) Name() string { return "$collStats" }

func (s *CollStatsStage) Encode(codec.FieldEncoder) (any, error) {
	doc := bson.D{{Key: "latencyStats", Value: bson.D{{Key: "histograms", Value: s.histograms}}}}
	if s.scale > 0 {
		doc = append(doc, bson.E{Key: "storageStats", Value: bson.D{{Key: "scale", Value: s.scale}}})
	}
	if s.count {
		doc = append(doc, bson.E{Key: "count", Value: bson.D{}})
	}
	return doc, nil
}

type matchStage struct {
	filters []filters.Filter
}

// Match passes the documents matching every filter.
func Match(f ...filters.Filter) Stage { return matchStage{filters: f} }

func (matchStage) Name() string { return "$match" }

func (s matchStage) Encode(enc codec.FieldEncoder) (any, error) {
	doc, err := filters.Render(enc, s.filters...)
	return doc, errors.Wrap(err, "rendering $match")
}

type expressionStage struct {
	name       string
	expression expressions.Expression
	wrap       string
}

func (s expressionStage) Name() string { return s.name }

func (s expressionStage) Encode(enc codec.FieldEncoder) (any, error) {
	if s.expression == nil {
		return nil, errors.Errorf("%s requires an expression", s.name)
	}
	value, err := s.expression.Encode(enc)
	if err != nil {
		return nil, err
	}
	if s.wrap != "" {
		return bson.D{{Key: s.wrap, Value: value}}, nil
	}
	return value, nil
}

// Redact prunes documents by evaluating expression, which yields
// expressions.DESCEND, PRUNE or KEEP.
func Redact(expression expressions.Expression) Stage {
	return expressionStage{name: "$redact", expression: expression}
}

// ReplaceRoot promotes the document produced by expression to the top
// level.
func ReplaceRoot(expression expressions.Expression) Stage {
	return expressionStage{name: "$replaceRoot", expression: expression, wrap: "newRoot"}
}

// ReplaceWith is ReplaceRoot without the wrapping document.
func ReplaceWith(expression expressions.Expression) Stage {
	return expressionStage{name: "$replaceWith", expression: expression}
}

// SortByCount groups by expression and sorts the groups by size.
func SortByCount(expression expressions.Expression) Stage {
	return expressionStage{name: "$sortByCount", expression: expression}
}

type unsetStage struct {
	fields []string
}

// Unset removes fields.
func Unset(fields ...string) Stage { return unsetStage{fields: fields} }

func (unsetStage) Name() string { return "$unset" }

func (s unsetStage) Encode(enc codec.FieldEncoder) (any, error) {
	if len(s.fields) == 0 {
		return nil, errors.New("$unset requires at least one field")
	}
	if len(s.fields) == 1 {
		return expressions.FieldPath(enc, s.fields[0]), nil
	}
	out := make(bson.A, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, expressions.FieldPath(enc, f))
	}
	return out, nil
}
