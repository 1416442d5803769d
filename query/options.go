package query

import (
	"time"

	"github.com/MorphiaOrg/morphia/codec"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Sort orders query results by one field.
type Sort struct {
	Field string
	Order int
	Meta  string
}

// Ascending sorts by field in ascending order.
func Ascending(field string) Sort { return Sort{Field: field, Order: 1} }

// Descending sorts by field in descending order.
func Descending(field string) Sort { return Sort{Field: field, Order: -1} }

// Meta sorts by a metadata value such as "textScore", stored under field.
func Meta(field, meta string) Sort { return Sort{Field: field, Meta: meta} }

func renderSort(enc codec.FieldEncoder, sorts []Sort) (bson.D, error) {
	if len(sorts) == 0 {
		return nil, nil
	}
	out := make(bson.D, 0, len(sorts))
	for _, s := range sorts {
		if s.Meta != "" {
			out = append(out, bson.E{Key: s.Field, Value: bson.D{{Key: "$meta", Value: s.Meta}}})
			continue
		}
		path, _, err := enc.Path(s.Field)
		if err != nil {
			return nil, errors.Wrap(err, "rendering sort")
		}
		out = append(out, bson.E{Key: path, Value: s.Order})
	}
	return out, nil
}

// Projection selects the fields returned by a query.
type Projection struct {
	elements []projectionElement
}

type projectionElement struct {
	field string
	value any
}

// Include returns a projection including fields.
func Include(fields ...string) *Projection {
	return (&Projection{}).Include(fields...)
}

// Exclude returns a projection excluding fields.
func Exclude(fields ...string) *Projection {
	return (&Projection{}).Exclude(fields...)
}

// Include adds included fields.
func (p *Projection) Include(fields ...string) *Projection {
	for _, f := range fields {
		p.elements = append(p.elements, projectionElement{field: f, value: 1})
	}
	return p
}

// Exclude adds excluded fields.
func (p *Projection) Exclude(fields ...string) *Projection {
	for _, f := range fields {
		p.elements = append(p.elements, projectionElement{field: f, value: 0})
	}
	return p
}

// Slice limits the array at field to its first n elements, or the last n
// when n is negative.
func (p *Projection) Slice(field string, n int) *Projection {
	p.elements = append(p.elements, projectionElement{field: field, value: bson.D{{Key: "$slice", Value: n}}})
	return p
}

// SliceRange returns limit array elements starting at skip.
func (p *Projection) SliceRange(field string, skip, limit int) *Projection {
	p.elements = append(p.elements, projectionElement{field: field, value: bson.D{{Key: "$slice", Value: bson.A{skip, limit}}}})
	return p
}

func (p *Projection) includes() bool {
	for _, e := range p.elements {
		if e.value == 1 {
			return true
		}
	}
	return false
}

func (p *Projection) render(enc codec.FieldEncoder) (bson.D, error) {
	if p == nil || len(p.elements) == 0 {
		return nil, nil
	}
	out := make(bson.D, 0, len(p.elements))
	for _, e := range p.elements {
		path, _, err := enc.Path(e.field)
		if err != nil {
			return nil, errors.Wrap(err, "rendering projection")
		}
		out = append(out, bson.E{Key: path, Value: e.value})
	}
	return out, nil
}

// FindOptions tune a find.
type FindOptions struct {
	Sort       []Sort
	Skip       int64
	Limit      int64
	BatchSize  int32
	Projection *Projection
	MaxTime    time.Duration
	Hint       any
	Comment    string
}

// CountOptions tune a count.
type CountOptions struct {
	Skip    int64
	Limit   int64
	MaxTime time.Duration
}

// DeleteOptions tune a delete. Without Multi only the first match is
// removed.
type DeleteOptions struct {
	Multi bool
}

// UpdateOptions tune an update. Without Multi only the first match is
// updated.
type UpdateOptions struct {
	Multi  bool
	Upsert bool
}

// ModifyOptions tune a find-and-modify.
type ModifyOptions struct {
	ReturnNew  bool
	Upsert     bool
	Sort       []Sort
	Projection *Projection
}

func mergeFindOptions(opts []FindOptions) FindOptions {
	var out FindOptions
	for _, o := range opts {
		if len(o.Sort) > 0 {
			out.Sort = o.Sort
		}
		if o.Skip > 0 {
			out.Skip = o.Skip
		}
		if o.Limit > 0 {
			out.Limit = o.Limit
		}
		if o.BatchSize > 0 {
			out.BatchSize = o.BatchSize
		}
		if o.Projection != nil {
			out.Projection = o.Projection
		}
		if o.MaxTime > 0 {
			out.MaxTime = o.MaxTime
		}
		if o.Hint != nil {
			out.Hint = o.Hint
		}
		if o.Comment != "" {
			out.Comment = o.Comment
		}
	}
	return out
}

func (o FindOptions) driver(enc codec.FieldEncoder, projection bson.D) (*options.FindOptions, error) {
	out := options.Find()
	sort, err := renderSort(enc, o.Sort)
	if err != nil {
		return nil, err
	}
	if sort != nil {
		out.SetSort(sort)
	}
	if projection != nil {
		out.SetProjection(projection)
	}
	if o.Skip > 0 {
		out.SetSkip(o.Skip)
	}
	if o.Limit > 0 {
		out.SetLimit(o.Limit)
	}
	if o.BatchSize > 0 {
		out.SetBatchSize(o.BatchSize)
	}
	if o.MaxTime > 0 {
		out.SetMaxTime(o.MaxTime)
	}
	if o.Hint != nil {
		out.SetHint(o.Hint)
	}
	if o.Comment != "" {
		out.SetComment(o.Comment)
	}
	return out, nil
}
