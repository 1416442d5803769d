package stages

import (
	"github.com/MorphiaOrg/morphia/aggregation/expressions"
	"github.com/MorphiaOrg/morphia/codec"
	"github.com/MorphiaOrg/morphia/query/filters"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// OutStage writes the results to a collection, replacing it.
type OutStage struct {
	database   string
	collection string
}

// Out writes the results to collection.
func Out(collection string) *OutStage { return &OutStage{collection: collection} }

// Database writes to a collection of another database.
func (s *OutStage) Database(database string) *OutStage {
	s.database = database
	return s
}

// Collection is the target collection.
func (s *OutStage) Collection() string { return s.collection }

func (s *OutStage) Name() string { return "$out" }

func (s *OutStage) Encode(codec.FieldEncoder) (any, error) {
	if s.collection == "" {
		return nil, errors.New("$out requires a collection")
	}
	if s.database == "" {
		return s.collection, nil
	}
	return bson.D{{Key: "db", Value: s.database}, {Key: "coll", Value: s.collection}}, nil
}

// Merge actions.
const (
	WhenMatchedReplace      = "replace"
	WhenMatchedKeepExisting = "keepExisting"
	WhenMatchedMerge        = "merge"
	WhenMatchedFail         = "fail"
	WhenNotMatchedInsert    = "insert"
	WhenNotMatchedDiscard   = "discard"
	WhenNotMatchedFail      = "fail"
)

// MergeStage merges the results into a collection.
type MergeStage struct {
	database       string
	collection     string
	on             []string
	whenMatched    string
	whenNotMatched string
}

// Merge merges the results into collection.
func Merge(collection string) *MergeStage { return &MergeStage{collection: collection} }

// Database merges into a collection of another database.
func (s *MergeStage) Database(database string) *MergeStage {
	s.database = database
	return s
}

// On sets the fields identifying matching documents; _id by default.
func (s *MergeStage) On(fields ...string) *MergeStage {
	s.on = fields
	return s
}

// WhenMatched sets the action for results matching an existing document.
func (s *MergeStage) WhenMatched(action string) *MergeStage {
	s.whenMatched = action
	return s
}

// WhenNotMatched sets the action for new results.
func (s *MergeStage) WhenNotMatched(action string) *MergeStage {
	s.whenNotMatched = action
	return s
}

// Collection is the target collection.
func (s *MergeStage) Collection() string { return s.collection }

func (s *MergeStage) Name() string { return "$merge" }

func (s *MergeStage) Encode(enc codec.FieldEncoder) (any, error) {
	if s.collection == "" {
		return nil, errors.New("$merge requires a collection")
	}
	var into any = s.collection
	if s.database != "" {
		into = bson.D{{Key: "db", Value: s.database}, {Key: "coll", Value: s.collection}}
	}
	doc := bson.D{{Key: "into", Value: into}}
	switch len(s.on) {
	case 0:
	case 1:
		doc = append(doc, bson.E{Key: "on", Value: expressions.FieldPath(enc, s.on[0])})
	default:
		on := make(bson.A, 0, len(s.on))
		for _, f := range s.on {
			on = append(on, expressions.FieldPath(enc, f))
		}
		doc = append(doc, bson.E{Key: "on", Value: on})
	}
	if s.whenMatched != "" {
		doc = append(doc, bson.E{Key: "whenMatched", Value: s.whenMatched})
	}
	if s.whenNotMatched != "" {
		doc = append(doc, bson.E{Key: "whenNotMatched", Value: s.whenNotMatched})
	}
	return doc, nil
}

// GeoNearStage orders documents by distance from a point. It must be the
// first stage of a pipeline.
type GeoNearStage struct {
	near               filters.Point
	distanceField      string
	key                string
	spherical          bool
	maxDistance        *float64
	minDistance        *float64
	distanceMultiplier *float64
	includeLocs        string
	query              []filters.Filter
}

// GeoNear orders by distance from near, storing the distance in
// distanceField.
func GeoNear(near filters.Point, distanceField string) *GeoNearStage {
	return &GeoNearStage{near: near, distanceField: distanceField, spherical: true}
}

// Key selects the geospatial index field when there are several.
func (s *GeoNearStage) Key(field string) *GeoNearStage {
	s.key = field
	return s
}

// Planar uses flat geometry instead of spherical.
func (s *GeoNearStage) Planar() *GeoNearStage {
	s.spherical = false
	return s
}

// MaxDistance drops documents farther than meters.
func (s *GeoNearStage) MaxDistance(meters float64) *GeoNearStage {
	s.maxDistance = &meters
	return s
}

// MinDistance drops documents closer than meters.
func (s *GeoNearStage) MinDistance(meters float64) *GeoNearStage {
	s.minDistance = &meters
	return s
}

// DistanceMultiplier scales the reported distances.
func (s *GeoNearStage) DistanceMultiplier(factor float64) *GeoNearStage {
	s.distanceMultiplier = &factor
	return s
}

// IncludeLocs stores the matched location in field.
func (s *GeoNearStage) IncludeLocs(field string) *GeoNearStage {
	s.includeLocs = field
	return s
}

// Query limits the candidates to documents matching f.
func (s *GeoNearStage) Query(f ...filters.Filter) *GeoNearStage {
	s.query = f
	return s
}

func (s *GeoNearStage) Name() string { return "$geoNear" }

func (s *GeoNearStage) Encode(enc codec.FieldEncoder) (any, error) {
	if s.distanceField == "" {
		return nil, errors.New("$geoNear requires a distance field")
	}
	doc := bson.D{
		{Key: "near", Value: s.near.GeoJSON()},
		{Key: "distanceField", Value: s.distanceField},
		{Key: "spherical", Value: s.spherical},
	}
	if s.key != "" {
		doc = append(doc, bson.E{Key: "key", Value: expressions.FieldPath(enc, s.key)})
	}
	if s.maxDistance != nil {
		doc = append(doc, bson.E{Key: "maxDistance", Value: *s.maxDistance})
	}
	if s.minDistance != nil {
		doc = append(doc, bson.E{Key: "minDistance", Value: *s.minDistance})
	}
	if s.distanceMultiplier != nil {
		doc = append(doc, bson.E{Key: "distanceMultiplier", Value: *s.distanceMultiplier})
	}
	if s.includeLocs != "" {
		doc = append(doc, bson.E{Key: "includeLocs", Value: s.includeLocs})
	}
	if len(s.query) > 0 {
		query, err := filters.Render(enc, s.query...)
		if err != nil {
			return nil, errors.Wrap(err, "encoding $geoNear query")
		}
		doc = append(doc, bson.E{Key: "query", Value: query})
	}
	return doc, nil
}
