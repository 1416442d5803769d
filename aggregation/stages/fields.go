package stages

import (
	"github.com/MorphiaOrg/morphia/aggregation/expressions"
	"github.com/MorphiaOrg/morphia/codec"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

type namedValue struct {
	name  string
	value expressions.Expression
}

func encodeFields(enc codec.FieldEncoder, fields []namedValue, mapNames bool) (bson.D, error) {
	out := make(bson.D, 0, len(fields))
	for _, f := range fields {
		value, err := f.value.Encode(enc)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding field '%s'", f.name)
		}
		name := f.name
		if mapNames {
			name = expressions.FieldPath(enc, name)
		}
		out = append(out, bson.E{Key: name, Value: value})
	}
	return out, nil
}

// AddFieldsStage adds computed fields to each document.
type AddFieldsStage struct {
	name   string
	fields []namedValue
}

// AddFields starts an $addFields stage.
func AddFields() *AddFieldsStage { return &AddFieldsStage{name: "$addFields"} }

// Set is the $set alias of AddFields.
func Set() *AddFieldsStage { return &AddFieldsStage{name: "$set"} }

// Field sets name to value. Names of mapped fields are translated.
func (s *AddFieldsStage) Field(name string, value expressions.Expression) *AddFieldsStage {
	s.fields = append(s.fields, namedValue{name: name, value: value})
	return s
}

func (s *AddFieldsStage) Name() string { return s.name }

func (s *AddFieldsStage) Encode(enc codec.FieldEncoder) (any, error) {
	if len(s.fields) == 0 {
		return nil, errors.Errorf("%s requires at least one field", s.name)
	}
	return encodeFields(enc, s.fields, true)
}

// ProjectStage reshapes documents.
type ProjectStage struct {
	elements []projectElement
}

type projectElement struct {
	name     string
	included *bool
	value    expressions.Expression
}

// Project starts an empty $project stage.
func Project() *ProjectStage { return &ProjectStage{} }

// Include keeps fields.
func (s *ProjectStage) Include(fields ...string) *ProjectStage {
	return s.toggle(true, fields)
}

// Exclude drops fields.
func (s *ProjectStage) Exclude(fields ...string) *ProjectStage {
	return s.toggle(false, fields)
}

// SuppressID drops _id, which is otherwise always included.
func (s *ProjectStage) SuppressID() *ProjectStage {
	return s.toggle(false, []string{"_id"})
}

func (s *ProjectStage) toggle(include bool, fields []string) *ProjectStage {
	for _, f := range fields {
		include := include
		s.elements = append(s.elements, projectElement{name: f, included: &include})
	}
	return s
}

// Field computes a new field name from value.
func (s *ProjectStage) Field(name string, value expressions.Expression) *ProjectStage {
	s.elements = append(s.elements, projectElement{name: name, value: value})
	return s
}

func (s *ProjectStage) Name() string { return "$project" }

func (s *ProjectStage) Encode(enc codec.FieldEncoder) (any, error) {
	if len(s.elements) == 0 {
		return nil, errors.New("$project requires at least one field")
	}
	out := make(bson.D, 0, len(s.elements))
	for _, e := range s.elements {
		if e.included != nil {
			out = append(out, bson.E{Key: expressions.FieldPath(enc, e.name), Value: *e.included})
			continue
		}
		value, err := e.value.Encode(enc)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding projected field '%s'", e.name)
		}
		out = append(out, bson.E{Key: e.name, Value: value})
	}
	return out, nil
}

// GroupStage groups documents by an id expression.
type GroupStage struct {
	id     expressions.Expression
	fields []namedValue
}

// Group groups by id; a nil id puts every document in one group.
func Group(id expressions.Expression) *GroupStage { return &GroupStage{id: id} }

// Field adds an accumulated field.
func (s *GroupStage) Field(name string, accumulator expressions.Expression) *GroupStage {
	s.fields = append(s.fields, namedValue{name: name, value: accumulator})
	return s
}

func (s *GroupStage) Name() string { return "$group" }

func (s *GroupStage) Encode(enc codec.FieldEncoder) (any, error) {
	var id any
	if s.id != nil {
		var err error
		if id, err = s.id.Encode(enc); err != nil {
			return nil, errors.Wrap(err, "encoding group id")
		}
	}
	fields, err := encodeFields(enc, s.fields, false)
	if err != nil {
		return nil, err
	}
	return append(bson.D{{Key: "_id", Value: id}}, fields...), nil
}

// SortStage orders documents.
type SortStage struct {
	fields []sortField
}

type sortField struct {
	name  string
	value any
	meta  bool
}

// Sort starts an empty $sort stage.
func Sort() *SortStage { return &SortStage{} }

// Ascending sorts by fields in ascending order.
func (s *SortStage) Ascending(fields ...string) *SortStage {
	for _, f := range fields {
		s.fields = append(s.fields, sortField{name: f, value: 1})
	}
	return s
}

// Descending sorts by fields in descending order.
func (s *SortStage) Descending(fields ...string) *SortStage {
	for _, f := range fields {
		s.fields = append(s.fields, sortField{name: f, value: -1})
	}
	return s
}

// Meta sorts by a metadata value such as "textScore" projected as field.
func (s *SortStage) Meta(field, meta string) *SortStage {
	s.fields = append(s.fields, sortField{name: field, value: bson.D{{Key: "$meta", Value: meta}}, meta: true})
	return s
}

func (s *SortStage) Name() string { return "$sort" }

func (s *SortStage) Encode(enc codec.FieldEncoder) (any, error) {
	if len(s.fields) == 0 {
		return nil, errors.New("$sort requires at least one field")
	}
	out := make(bson.D, 0, len(s.fields))
	for _, f := range s.fields {
		name := f.name
		if !f.meta {
			name = expressions.FieldPath(enc, name)
		}
		out = append(out, bson.E{Key: name, Value: f.value})
	}
	return out, nil
}
