package stages

import (
	"github.com/MorphiaOrg/morphia/aggregation/expressions"
	"github.com/MorphiaOrg/morphia/codec"
	"github.com/MorphiaOrg/morphia/query/filters"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// LookupStage joins documents from another collection.
type LookupStage struct {
	from         string
	localField   string
	foreignField string
	as           string
	let          []namedValue
	pipeline     []Stage
}

// Lookup joins documents from the collection from. Use LocalField and
// ForeignField for an equality join, Pipeline for a correlated one, or
// both.
func Lookup(from string) *LookupStage { return &LookupStage{from: from} }

// LocalField is the field of the input documents to join on.
func (s *LookupStage) LocalField(field string) *LookupStage {
	s.localField = field
	return s
}

// ForeignField is the field of the joined collection to join on.
func (s *LookupStage) ForeignField(field string) *LookupStage {
	s.foreignField = field
	return s
}

// As names the array field holding the joined documents.
func (s *LookupStage) As(field string) *LookupStage {
	s.as = field
	return s
}

// Let binds a variable available in the pipeline as "$$name".
func (s *LookupStage) Let(name string, value expressions.Expression) *LookupStage {
	s.let = append(s.let, namedValue{name: name, value: value})
	return s
}

// Pipeline runs stages over the joined collection.
func (s *LookupStage) Pipeline(stages ...Stage) *LookupStage {
	s.pipeline = stages
	return s
}

func (s *LookupStage) Name() string { return "$lookup" }

func (s *LookupStage) Encode(enc codec.FieldEncoder) (any, error) {
	if s.as == "" {
		return nil, errors.New("$lookup requires an output field")
	}
	if s.pipeline == nil && (s.localField == "" || s.foreignField == "") {
		return nil, errors.New("$lookup requires local and foreign fields or a pipeline")
	}
	doc := bson.D{{Key: "from", Value: s.from}}
	if s.localField != "" {
		doc = append(doc,
			bson.E{Key: "localField", Value: expressions.FieldPath(enc, s.localField)},
			bson.E{Key: "foreignField", Value: s.foreignField})
	}
	if len(s.let) > 0 {
		vars, err := encodeFields(enc, s.let, false)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "let", Value: vars})
	}
	if s.pipeline != nil {
		pipeline, err := Render(foreign(enc), s.pipeline...)
		if err != nil {
			return nil, errors.Wrap(err, "encoding $lookup pipeline")
		}
		doc = append(doc, bson.E{Key: "pipeline", Value: pipeline})
	}
	return append(doc, bson.E{Key: "as", Value: s.as}), nil
}

// GraphLookupStage runs a recursive search over a collection.
type GraphLookupStage struct {
	from             string
	startWith        expressions.Expression
	connectFromField string
	connectToField   string
	as               string
	maxDepth         *int
	depthField       string
	restrict         []filters.Filter
}

// GraphLookup searches from starting at startWith, following
// connectFromField to connectToField.
func GraphLookup(from string, startWith expressions.Expression, connectFromField, connectToField, as string) *GraphLookupStage {
	return &GraphLookupStage{
		from:             from,
		startWith:        startWith,
		connectFromField: connectFromField,
		connectToField:   connectToField,
		as:               as,
	}
}

// MaxDepth limits the recursion depth.
func (s *GraphLookupStage) MaxDepth(depth int) *GraphLookupStage {
	s.maxDepth = &depth
	return s
}

// DepthField stores each match's recursion depth in field.
func (s *GraphLookupStage) DepthField(field string) *GraphLookupStage {
	s.depthField = field
	return s
}

// RestrictSearchWithMatch only follows documents matching f.
func (s *GraphLookupStage) RestrictSearchWithMatch(f ...filters.Filter) *GraphLookupStage {
	s.restrict = f
	return s
}

func (s *GraphLookupStage) Name() string { return "$graphLookup" }

func (s *GraphLookupStage) Encode(enc codec.FieldEncoder) (any, error) {
	start, err := s.startWith.Encode(enc)
	if err != nil {
		return nil, errors.Wrap(err, "encoding $graphLookup startWith")
	}
	doc := bson.D{
		{Key: "from", Value: s.from},
		{Key: "startWith", Value: start},
		{Key: "connectFromField", Value: expressions.FieldPath(enc, s.connectFromField)},
		{Key: "connectToField", Value: expressions.FieldPath(enc, s.connectToField)},
		{Key: "as", Value: s.as},
	}
	if s.maxDepth != nil {
		doc = append(doc, bson.E{Key: "maxDepth", Value: *s.maxDepth})
	}
	if s.depthField != "" {
		doc = append(doc, bson.E{Key: "depthField", Value: s.depthField})
	}
	if len(s.restrict) > 0 {
		match, err := filters.Render(foreign(enc), s.restrict...)
		if err != nil {
			return nil, errors.Wrap(err, "encoding $graphLookup restriction")
		}
		doc = append(doc, bson.E{Key: "restrictSearchWithMatch", Value: match})
	}
	return doc, nil
}

// UnionWithStage appends the documents of another collection.
type UnionWithStage struct {
	collection string
	pipeline   []Stage
}

// UnionWith appends the documents of collection.
func UnionWith(collection string) *UnionWithStage {
	return &UnionWithStage{collection: collection}
}

// Pipeline transforms the appended documents first.
func (s *UnionWithStage) Pipeline(stages ...Stage) *UnionWithStage {
	s.pipeline = stages
	return s
}

func (s *UnionWithStage) Name() string { return "$unionWith" }

func (s *UnionWithStage) Encode(enc codec.FieldEncoder) (any, error) {
	if len(s.pipeline) == 0 {
		return s.collection, nil
	}
	pipeline, err := Render(foreign(enc), s.pipeline...)
	if err != nil {
		return nil, errors.Wrap(err, "encoding $unionWith pipeline")
	}
	return bson.D{{Key: "coll", Value: s.collection}, {Key: "pipeline", Value: pipeline}}, nil
}

// UnwindStage emits one document per array element.
type UnwindStage struct {
	field         string
	indexField    string
	preserveEmpty bool
}

// Unwind deconstructs the array at field.
func Unwind(field string) *UnwindStage { return &UnwindStage{field: field} }

// IncludeArrayIndex stores the element index in field.
func (s *UnwindStage) IncludeArrayIndex(field string) *UnwindStage {
	s.indexField = field
	return s
}

// PreserveNullAndEmptyArrays keeps documents whose array is missing,
// null or empty.
func (s *UnwindStage) PreserveNullAndEmptyArrays() *UnwindStage {
	s.preserveEmpty = true
	return s
}

func (s *UnwindStage) Name() string { return "$unwind" }

func (s *UnwindStage) Encode(enc codec.FieldEncoder) (any, error) {
	path := "$" + expressions.FieldPath(enc, s.field)
	if s.indexField == "" && !s.preserveEmpty {
		return path, nil
	}
	doc := bson.D{{Key: "path", Value: path}}
	if s.indexField != "" {
		doc = append(doc, bson.E{Key: "includeArrayIndex", Value: s.indexField})
	}
	if s.preserveEmpty {
		doc = append(doc, bson.E{Key: "preserveNullAndEmptyArrays", Value: true})
	}
	return doc, nil
}
