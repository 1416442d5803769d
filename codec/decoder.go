package codec

import (
	"context"
	"reflect"
	"strconv"

	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Decode fills out, a non-nil pointer, from doc. Structs are decoded through
// their models; interface targets are resolved with the stored
// discriminator.
func (c *Codec) Decode(ctx context.Context, doc bson.Raw, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.Errorf("decode target must be a non-nil pointer, not '%T'", out)
	}
	d := &decoder{
		Codec:    c,
		ctx:      ctx,
		entities: map[entityKey]reflect.Value{},
	}
	return d.decodeValue(bson.RawValue{Type: bsontype.EmbeddedDocument, Value: doc}, rv.Elem())
}

type entityKey struct {
	typ reflect.Type
	id  string
}

// decoder holds the state of one Decode call. Entities resolved through
// references are tracked by id so cycles reuse the value being decoded.
type decoder struct {
	*Codec
	ctx      context.Context
	entities map[entityKey]reflect.Value
}

func (d *decoder) decodeValue(raw bson.RawValue, target reflect.Value) error {
	if raw.Type == bsontype.Null || raw.Type == bsontype.Undefined {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}

	t := target.Type()
	if mapping.IsLeafType(t) {
		return d.decodeLeaf(raw, target)
	}

	switch t.Kind() {
	case reflect.Ptr:
		elem := reflect.New(t.Elem())
		if err := d.decodeValue(raw, elem.Elem()); err != nil {
			return err
		}
		target.Set(elem)
		return nil
	case reflect.Interface:
		return d.decodeInterface(raw, target)
	case reflect.Struct:
		doc, ok := raw.DocumentOK()
		if !ok {
			return errors.Errorf("cannot decode BSON %s into '%s'", raw.Type, t)
		}
		model, err := d.mapper.Model(t)
		if err != nil {
			return errors.WithStack(err)
		}
		return d.decodeStruct(model, doc, target)
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return d.decodeLeaf(raw, target)
		}
		return d.decodeSlice(raw, target, d.decodeValue)
	case reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return d.decodeLeaf(raw, target)
		}
		return d.decodeArray(raw, target, d.decodeValue)
	case reflect.Map:
		return d.decodeMap(raw, target, d.decodeValue)
	default:
		return d.decodeLeaf(raw, target)
	}
}

func (d *decoder) decodeLeaf(raw bson.RawValue, target reflect.Value) error {
	return errors.Wrapf(raw.UnmarshalWithRegistry(d.registry, target.Addr().Interface()),
		"decoding BSON %s into '%s'", raw.Type, target.Type())
}

func (d *decoder) decodeStruct(model *mapping.EntityModel, doc bson.Raw, target reflect.Value) error {
	entity := target.Addr().Interface()
	if model.IsEntity && model.ID != nil {
		if id, err := doc.LookupErr("_id"); err == nil {
			d.entities[entityKey{typ: model.Type, id: id.String()}] = target.Addr()
		}
	}

	if err := d.mapper.FirePreLoad(d.ctx, model, entity, doc); err != nil {
		return errors.WithStack(err)
	}

	elements, err := doc.Elements()
	if err != nil {
		return errors.Wrapf(err, "reading document for '%s'", model.Name)
	}
	for _, elem := range elements {
		key := elem.Key()
		prop, ok := model.PropertyForLoad(key)
		if !ok {
			continue
		}
		if key != prop.StoredName {
			// the stored name wins over alsoLoad names
			if _, err = doc.LookupErr(prop.StoredName); err == nil {
				continue
			}
		}

		field := prop.Value(target)
		if prop.IsReference {
			err = d.decodeReference(prop, elem.Value(), field)
		} else {
			err = d.decodeValue(elem.Value(), field)
		}
		if err != nil {
			return errors.Wrapf(err, "decoding '%s.%s'", model.Name, prop.Name)
		}
	}

	return errors.WithStack(d.mapper.FirePostLoad(d.ctx, model, entity, doc))
}

// decodeInterface picks the concrete type from the stored discriminator.
// Values without a known discriminator are left to the driver when the
// target is the empty interface.
func (d *decoder) decodeInterface(raw bson.RawValue, target reflect.Value) error {
	t := target.Type()
	if doc, ok := raw.DocumentOK(); ok {
		model, err := d.discriminated(doc, t)
		if err != nil {
			return err
		}
		if model != nil {
			ptr := reflect.New(model.Type)
			var value reflect.Value
			switch {
			case ptr.Type().Implements(t):
				value = ptr
			case model.Type.Implements(t):
				value = ptr.Elem()
			default:
				return errors.Errorf("stored type '%s' does not implement '%s'", model.Name, t)
			}
			if err := d.decodeStruct(model, doc, ptr.Elem()); err != nil {
				return err
			}
			target.Set(value)
			return nil
		}
	}
	if t.NumMethod() > 0 {
		return errors.Errorf("cannot determine the concrete type for '%s' without a discriminator", t)
	}
	return d.decodeLeaf(raw, target)
}

// discriminated finds the mapped type named by the stored discriminator
// among the models assignable to the interface t. Values shared by types in
// different collections are told apart by the interface.
func (d *decoder) discriminated(doc bson.Raw, t reflect.Type) (*mapping.EntityModel, error) {
	for _, key := range d.mapper.DiscriminatorKeys() {
		value, err := doc.LookupErr(key)
		if err != nil {
			continue
		}
		name, ok := value.StringValueOK()
		if !ok {
			continue
		}

		var candidates []*mapping.EntityModel
		for _, model := range d.mapper.DiscriminatedModels(name) {
			if model.DiscriminatorKey == key && implements(model.Type, t) {
				candidates = append(candidates, model)
			}
		}
		if len(candidates) == 0 {
			grip.Debug(message.Fields{
				"message":       "unknown discriminator",
				"key":           key,
				"discriminator": name,
				"target":        t.String(),
			})
			continue
		}
		model, ok := mapping.PreferExplicit(candidates)
		if !ok {
			return nil, errors.Errorf("discriminator '%s' is ambiguous for '%s': '%s' and '%s' both match", name, t, candidates[0].Type, candidates[1].Type)
		}
		return model, nil
	}
	return nil, nil
}

func implements(t, iface reflect.Type) bool {
	return t.Implements(iface) || reflect.PointerTo(t).Implements(iface)
}

type decodeFunc func(bson.RawValue, reflect.Value) error

// decodeSlice accepts arrays as well as single values, which become a one
// element slice.
func (d *decoder) decodeSlice(raw bson.RawValue, target reflect.Value, decode decodeFunc) error {
	arr, ok := raw.ArrayOK()
	if !ok {
		out := reflect.MakeSlice(target.Type(), 1, 1)
		if err := decode(raw, out.Index(0)); err != nil {
			return err
		}
		target.Set(out)
		return nil
	}
	values, err := arr.Values()
	if err != nil {
		return errors.Wrap(err, "reading array")
	}
	out := reflect.MakeSlice(target.Type(), len(values), len(values))
	for i, value := range values {
		if err := decode(value, out.Index(i)); err != nil {
			return errors.Wrapf(err, "element %d", i)
		}
	}
	target.Set(out)
	return nil
}

func (d *decoder) decodeArray(raw bson.RawValue, target reflect.Value, decode decodeFunc) error {
	arr, ok := raw.ArrayOK()
	if !ok {
		return errors.Errorf("cannot decode BSON %s into '%s'", raw.Type, target.Type())
	}
	values, err := arr.Values()
	if err != nil {
		return errors.Wrap(err, "reading array")
	}
	if len(values) > target.Len() {
		return errors.Errorf("%d elements do not fit into '%s'", len(values), target.Type())
	}
	for i, value := range values {
		if err := decode(value, target.Index(i)); err != nil {
			return errors.Wrapf(err, "element %d", i)
		}
	}
	return nil
}

func (d *decoder) decodeMap(raw bson.RawValue, target reflect.Value, decode decodeFunc) error {
	doc, ok := raw.DocumentOK()
	if !ok {
		return errors.Errorf("cannot decode BSON %s into '%s'", raw.Type, target.Type())
	}
	elements, err := doc.Elements()
	if err != nil {
		return errors.Wrap(err, "reading document")
	}
	t := target.Type()
	out := reflect.MakeMapWithSize(t, len(elements))
	for _, elem := range elements {
		key, err := parseMapKey(elem.Key(), t.Key())
		if err != nil {
			return err
		}
		value := reflect.New(t.Elem()).Elem()
		if err = decode(elem.Value(), value); err != nil {
			return errors.Wrapf(err, "map key '%s'", elem.Key())
		}
		out.SetMapIndex(key, value)
	}
	target.Set(out)
	return nil
}

func parseMapKey(key string, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		out.SetString(key)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(key, 10, t.Bits())
		if err != nil {
			return out, errors.Wrapf(err, "parsing map key '%s'", key)
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(key, 10, t.Bits())
		if err != nil {
			return out, errors.Wrapf(err, "parsing map key '%s'", key)
		}
		out.SetUint(n)
	default:
		return out, errors.Errorf("unsupported map key type '%s'", t)
	}
	return out, nil
}

// decodeReference decodes a reference property. Lazy references are bound
// to a loader; eager ones are fetched through the resolver immediately.
func (d *decoder) decodeReference(prop *mapping.PropertyModel, raw bson.RawValue, target reflect.Value) error {
	if raw.Type == bsontype.Null || raw.Type == bsontype.Undefined {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	decode := func(raw bson.RawValue, target reflect.Value) error {
		return d.decodeReference(prop, raw, target)
	}

	switch target.Kind() {
	case reflect.Slice:
		return d.decodeSlice(raw, target, decode)
	case reflect.Array:
		return d.decodeArray(raw, target, decode)
	case reflect.Map:
		return d.decodeMap(raw, target, decode)
	case reflect.Ptr:
		if mapping.IsLazyReference(target.Type().Elem()) {
			elem := reflect.New(target.Type().Elem())
			if err := d.bindReference(prop, raw, elem.Elem()); err != nil {
				return err
			}
			target.Set(elem)
			return nil
		}
		ptr, err := d.fetchReference(prop, raw)
		if err != nil || !ptr.IsValid() {
			return err
		}
		target.Set(ptr)
		return nil
	case reflect.Struct:
		if mapping.IsLazyReference(target.Type()) {
			return d.bindReference(prop, raw, target)
		}
		ptr, err := d.fetchReference(prop, raw)
		if err != nil || !ptr.IsValid() {
			return err
		}
		target.Set(ptr.Elem())
		return nil
	default:
		return errors.Errorf("cannot decode a reference into '%s'", target.Type())
	}
}

// referenceTarget extracts the collection and id from a stored reference,
// which is either a DBRef document or a bare id.
func (d *decoder) referenceTarget(model *mapping.EntityModel, raw bson.RawValue) (string, bson.RawValue, any, error) {
	collection, idRaw := model.Collection, raw
	if doc, ok := raw.DocumentOK(); ok {
		if ref, err := doc.LookupErr("$ref"); err == nil {
			collection = ref.StringValue()
			if idRaw, err = doc.LookupErr("$id"); err != nil {
				return "", idRaw, nil, errors.New("reference document has no $id")
			}
		}
	}
	var id any
	if err := idRaw.UnmarshalWithRegistry(d.registry, &id); err != nil {
		return "", idRaw, nil, errors.Wrap(err, "decoding reference id")
	}
	return collection, idRaw, id, nil
}

func (d *decoder) bindReference(prop *mapping.PropertyModel, raw bson.RawValue, target reflect.Value) error {
	model, err := d.mapper.Model(prop.ReferenceTarget)
	if err != nil {
		return errors.WithStack(err)
	}
	collection, _, id, err := d.referenceTarget(model, raw)
	if err != nil {
		return err
	}
	target.Addr().Interface().(mapping.ReferenceValue).Bind(id, d.loader(collection, id))
	return nil
}

// fetchReference loads the referenced entity and returns a pointer to it.
// The returned value is invalid when an ignored reference is missing.
func (d *decoder) fetchReference(prop *mapping.PropertyModel, raw bson.RawValue) (reflect.Value, error) {
	model, err := d.mapper.Model(prop.ReferenceTarget)
	if err != nil {
		return reflect.Value{}, errors.WithStack(err)
	}
	collection, idRaw, id, err := d.referenceTarget(model, raw)
	if err != nil {
		return reflect.Value{}, err
	}

	if existing, ok := d.entities[entityKey{typ: model.Type, id: idRaw.String()}]; ok {
		return existing, nil
	}
	if d.resolver == nil {
		return reflect.Value{}, errors.Errorf("cannot resolve reference to '%s' without a resolver", model.Name)
	}

	doc, err := d.resolver.Find(d.ctx, collection, id)
	if err != nil {
		return reflect.Value{}, errors.Wrapf(err, "resolving reference to '%s' %v", model.Name, id)
	}
	if doc == nil {
		if prop.IgnoreMissing {
			grip.Debug(message.Fields{
				"message":    "ignoring missing reference",
				"property":   prop.Name,
				"collection": collection,
				"id":         id,
			})
			return reflect.Value{}, nil
		}
		return reflect.Value{}, errors.Wrapf(mapping.ErrReferenceNotFound, "'%s' %v in '%s'", model.Name, id, collection)
	}

	ptr := model.New()
	if err = d.decodeStruct(model, doc, ptr.Elem()); err != nil {
		return reflect.Value{}, err
	}
	return ptr, nil
}

// loader returns the function a lazy reference uses to load its target.
// Each load runs as its own decode.
func (d *decoder) loader(collection string, id any) mapping.Loader {
	c := d.Codec
	return func(ctx context.Context, out any) (bool, error) {
		if c.resolver == nil {
			return false, errors.New("no resolver for lazy reference")
		}
		doc, err := c.resolver.Find(ctx, collection, id)
		if err != nil {
			return false, errors.WithStack(err)
		}
		if doc == nil {
			return false, nil
		}
		return true, c.Decode(ctx, doc, out)
	}
}
