package codec

import (
	"reflect"
	"sort"
	"strconv"

	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Encode renders v, a mapped struct or a pointer to one, as a document. The
// id is written first, followed by the discriminator when the model uses
// one and then the remaining properties in declaration order.
func (c *Codec) Encode(v any) (bson.D, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, errors.New("cannot encode a nil value")
		}
		rv = rv.Elem()
	}
	model, err := c.mapper.Model(rv.Type())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return c.encodeStruct(model, addressable(rv), false)
}

// EncodeValue encodes an arbitrary value the way it would be stored inside
// a document.
func (c *Codec) EncodeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return c.encodeValue(reflect.ValueOf(v), false)
}

func (c *Codec) encodeStruct(model *mapping.EntityModel, rv reflect.Value, forceDiscriminator bool) (bson.D, error) {
	opts := c.mapper.Options()
	doc := bson.D{}

	if model.ID != nil && !model.ID.NotSaved {
		id := model.ID.Value(rv)
		if !id.IsZero() {
			value, err := c.encodeValue(id, false)
			if err != nil {
				return nil, errors.Wrapf(err, "encoding id of '%s'", model.Name)
			}
			doc = append(doc, bson.E{Key: "_id", Value: value})
		}
	}
	if forceDiscriminator || model.UseDiscriminator {
		doc = append(doc, bson.E{Key: model.DiscriminatorKey, Value: model.Discriminator})
	}

	for _, prop := range model.Properties {
		if prop.IsID || prop.NotSaved {
			continue
		}
		field := prop.Value(rv)
		if prop.OmitEmpty && field.IsZero() {
			continue
		}
		if isNil(field) {
			if opts.StoreNulls {
				doc = append(doc, bson.E{Key: prop.StoredName, Value: nil})
			}
			continue
		}
		if isEmpty(field) && !opts.StoreEmpties {
			continue
		}

		var (
			value any
			err   error
		)
		if prop.IsReference {
			value, err = c.encodeReference(prop, field)
		} else {
			value, err = c.encodeValue(field, false)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "encoding '%s.%s'", model.Name, prop.Name)
		}
		if value == nil && !opts.StoreNulls {
			continue
		}
		doc = append(doc, bson.E{Key: prop.StoredName, Value: value})
	}
	return doc, nil
}

func (c *Codec) encodeValue(v reflect.Value, forceDiscriminator bool) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return c.encodeValue(v.Elem(), true)
	case reflect.Ptr:
		if v.IsNil() {
			return nil, nil
		}
		if mapping.IsLeafType(v.Type()) {
			return v.Interface(), nil
		}
		return c.encodeValue(v.Elem(), forceDiscriminator)
	}

	t := v.Type()
	if mapping.IsLeafType(t) {
		return v.Interface(), nil
	}

	switch t.Kind() {
	case reflect.Struct:
		if mapping.IsLazyReference(t) {
			return nil, errors.Errorf("reference '%s' outside of a reference property", t)
		}
		model, err := c.mapper.Model(t)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return c.encodeStruct(model, addressable(v), forceDiscriminator)
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return v.Interface(), nil
		}
		if t.Kind() == reflect.Slice && v.IsNil() {
			return nil, nil
		}
		out := make(bson.A, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			elem, err := c.encodeValue(v.Index(i), false)
			if err != nil {
				return nil, errors.Wrapf(err, "element %d", i)
			}
			out = append(out, elem)
		}
		return out, nil
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		return c.encodeMap(v, func(elem reflect.Value) (any, error) {
			return c.encodeValue(elem, false)
		})
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, errors.Errorf("cannot encode value of type '%s'", t)
	default:
		return v.Interface(), nil
	}
}

// encodeMap renders a map as a document with sorted keys.
func (c *Codec) encodeMap(v reflect.Value, encode func(reflect.Value) (any, error)) (bson.D, error) {
	keys := make([]string, 0, v.Len())
	values := make(map[string]reflect.Value, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
		values[key] = iter.Value()
	}
	sort.Strings(keys)

	out := make(bson.D, 0, len(keys))
	for _, key := range keys {
		elem, err := encode(values[key])
		if err != nil {
			return nil, errors.Wrapf(err, "map key '%s'", key)
		}
		out = append(out, bson.E{Key: key, Value: elem})
	}
	return out, nil
}

// encodeReference renders a reference property value, which may be a
// single target or a slice, array or map of targets.
func (c *Codec) encodeReference(prop *mapping.PropertyModel, v reflect.Value) (any, error) {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return c.encodeReference(prop, v.Elem())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil, nil
		}
		out := make(bson.A, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			elem, err := c.encodeReference(prop, v.Index(i))
			if err != nil {
				return nil, errors.Wrapf(err, "element %d", i)
			}
			out = append(out, elem)
		}
		return out, nil
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		return c.encodeMap(v, func(elem reflect.Value) (any, error) {
			return c.encodeReference(prop, elem)
		})
	case reflect.Struct:
		return c.encodeReferenceTarget(prop, addressable(v))
	default:
		return nil, errors.Errorf("reference values must be structs, not '%s'", v.Type())
	}
}

func (c *Codec) encodeReferenceTarget(prop *mapping.PropertyModel, v reflect.Value) (any, error) {
	var (
		model *mapping.EntityModel
		id    any
		err   error
	)
	if ref, ok := v.Addr().Interface().(mapping.ReferenceValue); ok {
		id, err = ref.ReferenceID(c.mapper)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if id == nil {
			return nil, nil
		}
		model, err = c.mapper.Model(ref.TargetType())
	} else {
		model, err = c.mapper.Model(v.Type())
		if err == nil {
			if model.HasZeroID(v) {
				return nil, errors.Errorf("referenced '%s' has no id; save it first", model.Name)
			}
			id, err = model.IDValue(v)
		}
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	encodedID, err := c.encodeValue(reflect.ValueOf(id), false)
	if err != nil {
		return nil, errors.Wrap(err, "encoding reference id")
	}
	if prop != nil && prop.IDOnly {
		return encodedID, nil
	}
	return bson.D{
		{Key: "$ref", Value: model.Collection},
		{Key: "$id", Value: encodedID},
	}, nil
}

func mapKey(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), nil
	default:
		return "", errors.Errorf("unsupported map key type '%s'", k.Type())
	}
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}

// isEmpty reports whether v is an empty, non-nil collection.
func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Map, reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 && v.Kind() == reflect.Slice {
			return false
		}
		return v.Len() == 0
	default:
		return false
	}
}
