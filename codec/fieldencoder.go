package codec

import (
	"reflect"

	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/pkg/errors"
)

// FieldEncoder translates field paths and values of one model for filters,
// updates and pipeline stages.
type FieldEncoder interface {
	// Path returns the stored path for field and the property it ends on,
	// which is nil when the path leaves the mapped model.
	Path(field string) (string, *mapping.PropertyModel, error)
	// Value encodes v as it is stored for prop. A nil prop encodes v as a
	// plain value.
	Value(prop *mapping.PropertyModel, v any) (any, error)
	// Elem returns an encoder for the elements stored at path, used by
	// operators whose arguments are relative to an array element.
	Elem(path string) FieldEncoder
	// Model returns the model paths are resolved against. It may be nil.
	Model() *mapping.EntityModel
}

type fieldEncoder struct {
	codec    *Codec
	model    *mapping.EntityModel
	validate bool
}

// NewFieldEncoder returns an encoder resolving paths against model. A nil
// model passes paths through untouched. With validate set, unknown paths
// are errors.
func NewFieldEncoder(c *Codec, model *mapping.EntityModel, validate bool) FieldEncoder {
	return &fieldEncoder{codec: c, model: model, validate: validate}
}

func (e *fieldEncoder) Model() *mapping.EntityModel { return e.model }

func (e *fieldEncoder) Path(field string) (string, *mapping.PropertyModel, error) {
	if e.model == nil {
		return field, nil, nil
	}
	target, err := e.codec.mapper.ResolvePath(e.model, field, e.validate)
	if err != nil {
		return "", nil, errors.WithStack(err)
	}
	return target.Path, target.Property, nil
}

func (e *fieldEncoder) Value(prop *mapping.PropertyModel, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if prop != nil && prop.IsReference && holdsEntities(e.codec.mapper, rv.Type()) {
		return e.codec.encodeReference(prop, rv)
	}
	return e.codec.encodeValue(rv, false)
}

func (e *fieldEncoder) Elem(path string) FieldEncoder {
	out := &fieldEncoder{codec: e.codec, validate: e.validate}
	if e.model == nil {
		return out
	}
	target, err := e.codec.mapper.ResolvePath(e.model, path, false)
	if err != nil || target.Property == nil {
		return out
	}
	out.model = e.codec.mapper.ElemModel(target.Property)
	return out
}

// holdsEntities reports whether values of t are mapped entities or
// references to them, as opposed to raw ids.
func holdsEntities(m *mapping.Mapper, t reflect.Type) bool {
	base := mapping.BaseType(t)
	if mapping.IsLazyReference(base) {
		return true
	}
	if !mapping.IsMappable(base) {
		return false
	}
	model, err := m.Model(base)
	return err == nil && model.IsEntity
}
