package mapping

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/mongodb/anser/bsonutil"
	"github.com/pkg/errors"
)

// ErrUnknownPath is returned when a path does not match a mapped property.
var ErrUnknownPath = errors.New("unknown field path")

// PathTarget is a resolved field path.
type PathTarget struct {
	// Path is the stored, dotted path.
	Path string
	// Property is the last mapped property on the path, or nil if the path
	// left the mapped model.
	Property *PropertyModel
	// Model is the model the last property belongs to.
	Model *EntityModel
}

// ResolvePath translates a path of Go field names or stored names into the
// stored dotted path. With validate set, unknown segments and paths through
// references are errors; otherwise the remaining segments pass through
// unchanged.
func (m *Mapper) ResolvePath(model *EntityModel, path string, validate bool) (PathTarget, error) {
	if model == nil || path == "" || strings.HasPrefix(path, "$") {
		return PathTarget{Path: path}, nil
	}

	segments := strings.Split(path, ".")
	out := make([]string, 0, len(segments))
	current := model
	var (
		prop     *PropertyModel
		owner    *EntityModel
		mapKey   bool
		fieldTyp reflect.Type
	)

	for i, segment := range segments {
		if isPositional(segment) {
			out = append(out, segment)
			continue
		}
		if mapKey {
			out = append(out, segment)
			mapKey = false
			current = m.modelFor(containerElem(fieldTyp, true))
			continue
		}
		if current == nil {
			out = append(out, segments[i:]...)
			break
		}

		next := current.Property(segment)
		if next == nil && segment == current.DiscriminatorKey {
			out = append(out, segments[i:]...)
			prop = nil
			break
		}
		if next == nil {
			if validate {
				return PathTarget{}, errors.Wrapf(ErrUnknownPath, "'%s' has no field '%s' (path '%s')", current.Name, segment, path)
			}
			out = append(out, segments[i:]...)
			prop = nil
			break
		}
		prop, owner = next, current
		out = append(out, prop.StoredName)
		fieldTyp = prop.Type

		if prop.IsReference {
			current = nil
			if validate && i < len(segments)-1 {
				return PathTarget{}, errors.Errorf("cannot resolve '%s' through reference '%s'", path, prop.Name)
			}
			continue
		}
		if isMapType(fieldTyp) {
			mapKey = true
			current = nil
			continue
		}
		current = m.modelFor(containerElem(fieldTyp, false))
	}

	return PathTarget{
		Path:     bsonutil.GetDottedKeyName(out...),
		Property: prop,
		Model:    owner,
	}, nil
}

// ElemModel returns the model of the values held by prop: the struct itself,
// or the element of a slice, array, map or pointer.
func (m *Mapper) ElemModel(prop *PropertyModel) *EntityModel {
	if prop == nil || prop.IsReference {
		return nil
	}
	return m.modelFor(BaseType(prop.Type))
}

func (m *Mapper) modelFor(t reflect.Type) *EntityModel {
	if t == nil || !IsMappable(t) {
		return nil
	}
	model, err := m.Model(t)
	if err != nil {
		return nil
	}
	return model
}

// containerElem strips pointers and, unless the caller is stepping into a
// map value, one slice or array level.
func containerElem(t reflect.Type, mapValue bool) reflect.Type {
	if t == nil {
		return nil
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if mapValue && t.Kind() == reflect.Map {
		t = t.Elem()
	}
	return BaseType(t)
}

func isMapType(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.Map
}

func isPositional(segment string) bool {
	if segment == "$" || strings.HasPrefix(segment, "$[") {
		return true
	}
	_, err := strconv.Atoi(segment)
	return err == nil
}
