package stages

import (
	"github.com/MorphiaOrg/morphia/aggregation/expressions"
	"github.com/MorphiaOrg/morphia/codec"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// BucketStage groups documents into buckets by boundaries.
type BucketStage struct {
	groupBy    expressions.Expression
	boundaries []any
	fallback   any
	output     []namedValue
}

// Bucket groups by groupBy into the ranges set with Boundaries.
func Bucket(groupBy expressions.Expression) *BucketStage {
	return &BucketStage{groupBy: groupBy}
}

// Boundaries sets the sorted lower bounds of the buckets; the last value
// is the exclusive upper bound of the last bucket.
func (s *BucketStage) Boundaries(values ...any) *BucketStage {
	s.boundaries = values
	return s
}

// Default names the bucket for values outside the boundaries.
func (s *BucketStage) Default(value any) *BucketStage {
	s.fallback = value
	return s
}

// Output adds an accumulated field to each bucket.
func (s *BucketStage) Output(name string, accumulator expressions.Expression) *BucketStage {
	s.output = append(s.output, namedValue{name: name, value: accumulator})
	return s
}

func (s *BucketStage) Name() string { return "$bucket" }

func (s *BucketStage) Encode(enc codec.FieldEncoder) (any, error) {
	if len(s.boundaries) < 2 {
		return nil, errors.New("$bucket requires at least two boundaries")
	}
	groupBy, err := s.groupBy.Encode(enc)
	if err != nil {
		return nil, errors.Wrap(err, "encoding $bucket groupBy")
	}
	doc := bson.D{
		{Key: "groupBy", Value: groupBy},
		{Key: "boundaries", Value: bson.A(s.boundaries)},
	}
	if s.fallback != nil {
		doc = append(doc, bson.E{Key: "default", Value: s.fallback})
	}
	if len(s.output) > 0 {
		output, err := encodeFields(enc, s.output, false)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "output", Value: output})
	}
	return doc, nil
}

// BucketAutoStage groups documents into evenly filled buckets.
type BucketAutoStage struct {
	groupBy     expressions.Expression
	buckets     int
	granularity string
	output      []namedValue
}

// BucketAuto groups by groupBy into the given number of buckets.
func BucketAuto(groupBy expressions.Expression, buckets int) *BucketAutoStage {
	return &BucketAutoStage{groupBy: groupBy, buckets: buckets}
}

// Granularity rounds bucket bounds to a preferred number series such as
// "R5" or "POWERSOF2".
func (s *BucketAutoStage) Granularity(granularity string) *BucketAutoStage {
	s.granularity = granularity
	return s
}

// Output adds an accumulated field to each bucket.
func (s *BucketAutoStage) Output(name string, accumulator expressions.Expression) *BucketAutoStage {
	s.output = append(s.output, namedValue{name: name, value: accumulator})
	return s
}

func (s *BucketAutoStage) Name() string { return "$bucketAuto" }

func (s *BucketAutoStage) Encode(enc codec.FieldEncoder) (any, error) {
	if s.buckets <= 0 {
		return nil, errors.New("$bucketAuto requires a positive bucket count")
	}
	groupBy, err := s.groupBy.Encode(enc)
	if err != nil {
		return nil, errors.Wrap(err, "encoding $bucketAuto groupBy")
	}
	doc := bson.D{
		{Key: "groupBy", Value: groupBy},
		{Key: "buckets", Value: s.buckets},
	}
	if len(s.output) > 0 {
		output, err := encodeFields(enc, s.output, false)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "output", Value: output})
	}
	if s.granularity != "" {
		doc = append(doc, bson.E{Key: "granularity", Value: s.granularity})
	}
	return doc, nil
}

// FacetStage runs several sub pipelines over the same input.
type FacetStage struct {
	facets []facet
}

type facet struct {
	name   string
	stages []Stage
}

// Facet starts an empty $facet stage.
func Facet() *FacetStage { return &FacetStage{} }

// Field adds a sub pipeline whose results are stored under name.
func (s *FacetStage) Field(name string, stages ...Stage) *FacetStage {
	s.facets = append(s.facets, facet{name: name, stages: stages})
	return s
}

func (s *FacetStage) Name() string { return "$facet" }

func (s *FacetStage) Encode(enc codec.FieldEncoder) (any, error) {
	if len(s.facets) == 0 {
		return nil, errors.New("$facet requires at least one pipeline")
	}
	out := make(bson.D, 0, len(s.facets))
	for _, f := range s.facets {
		pipeline, err := Render(enc, f.stages...)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding facet '%s'", f.name)
		}
		out = append(out, bson.E{Key: f.name, Value: pipeline})
	}
	return out, nil
}
