package filters

import (
	"github.com/MorphiaOrg/morphia/codec"
	"github.com/MorphiaOrg/morphia/mapping"
	"go.mongodb.org/mongo-driver/bson"
)

// Point is a GeoJSON point. Coordinates are longitude first.
type Point struct {
	Longitude float64
	Latitude  float64
}

// GeoJSON renders the point as a GeoJSON document.
func (p Point) GeoJSON() bson.D {
	return bson.D{
		{Key: "type", Value: "Point"},
		{Key: "coordinates", Value: bson.A{p.Longitude, p.Latitude}},
	}
}

// Polygon is a GeoJSON polygon with a single ring. The ring is closed
// automatically.
type Polygon []Point

// GeoJSON renders the polygon as a GeoJSON document.
func (p Polygon) GeoJSON() bson.D {
	ring := make(bson.A, 0, len(p)+1)
	for _, point := range p {
		ring = append(ring, bson.A{point.Longitude, point.Latitude})
	}
	if len(p) > 0 && p[0] != p[len(p)-1] {
		ring = append(ring, bson.A{p[0].Longitude, p[0].Latitude})
	}
	return bson.D{
		{Key: "type", Value: "Polygon"},
		{Key: "coordinates", Value: bson.A{ring}},
	}
}

// Geometry is a shape rendered as GeoJSON.
type Geometry interface {
	GeoJSON() bson.D
}

// NearFilter matches documents by distance from a point.
type NearFilter struct {
	*FieldFilter
	point       Point
	maxDistance *float64
	minDistance *float64
}

// Near orders documents by proximity to point on a 2dsphere index.
func Near(field string, point Point) *NearFilter {
	return newNear(field, "$near", point)
}

// NearSphere is Near using spherical geometry.
func NearSphere(field string, point Point) *NearFilter {
	return newNear(field, "$nearSphere", point)
}

func newNear(field, operator string, point Point) *NearFilter {
	f := &NearFilter{point: point}
	f.FieldFilter = newFilter(field, operator, nil, raw)
	f.render = func(codec.FieldEncoder, string, *mapping.PropertyModel) (any, error) {
		doc := bson.D{{Key: "$geometry", Value: f.point.GeoJSON()}}
		if f.maxDistance != nil {
			doc = append(doc, bson.E{Key: "$maxDistance", Value: *f.maxDistance})
		}
		if f.minDistance != nil {
			doc = append(doc, bson.E{Key: "$minDistance", Value: *f.minDistance})
		}
		return doc, nil
	}
	return f
}

// MaxDistance limits results to meters from the point.
func (f *NearFilter) MaxDistance(meters float64) *NearFilter {
	f.maxDistance = &meters
	return f
}

// MinDistance excludes results closer than meters to the point.
func (f *NearFilter) MinDistance(meters float64) *NearFilter {
	f.minDistance = &meters
	return f
}

// GeoWithin matches geometries inside shape.
func GeoWithin(field string, shape Geometry) *FieldFilter {
	return newFilter(field, "$geoWithin", bson.D{{Key: "$geometry", Value: shape.GeoJSON()}}, raw)
}

// GeoIntersects matches geometries intersecting shape.
func GeoIntersects(field string, shape Geometry) *FieldFilter {
	return newFilter(field, "$geoIntersects", bson.D{{Key: "$geometry", Value: shape.GeoJSON()}}, raw)
}

// Box matches legacy coordinate pairs inside the rectangle given by its
// bottom left and top right corners.
func Box(field string, bottomLeft, topRight Point) *FieldFilter {
	return newFilter(field, "$geoWithin", bson.D{{Key: "$box", Value: bson.A{
		bson.A{bottomLeft.Longitude, bottomLeft.Latitude},
		bson.A{topRight.Longitude, topRight.Latitude},
	}}}, raw)
}

// Center matches legacy coordinate pairs within radius of center.
func Center(field string, center Point, radius float64) *FieldFilter {
	return newFilter(field, "$geoWithin", bson.D{{Key: "$center", Value: bson.A{
		bson.A{center.Longitude, center.Latitude}, radius,
	}}}, raw)
}
