// Package updates builds update operator documents.
package updates

import (
	"math"
	"reflect"

	"github.com/MorphiaOrg/morphia/codec"
	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/MorphiaOrg/morphia/query/filters"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Update is one update operator applied to one field.
type Update interface {
	// Operator is the update operator, such as "$set".
	Operator() string
	// Encode returns the element for the operator document.
	Encode(enc codec.FieldEncoder) (bson.E, error)
}

type fieldUpdate struct {
	operator string
	field    string
	value    any
	mapped   bool
	render   func(enc codec.FieldEncoder, prop *mapping.PropertyModel) (any, error)
	err      error
}

func (u *fieldUpdate) Operator() string { return u.operator }

func (u *fieldUpdate) Encode(enc codec.FieldEncoder) (bson.E, error) {
	if u.err != nil {
		return bson.E{}, errors.Wrapf(u.err, "encoding %s of '%s'", u.operator, u.field)
	}
	path, prop, err := enc.Path(u.field)
	if err != nil {
		return bson.E{}, errors.WithStack(err)
	}
	var value any
	switch {
	case u.render != nil:
		value, err = u.render(enc, prop)
	case u.mapped:
		value, err = enc.Value(prop, u.value)
	default:
		value = u.value
	}
	if err != nil {
		return bson.E{}, errors.Wrapf(err, "encoding %s of '%s'", u.operator, u.field)
	}
	return bson.E{Key: path, Value: value}, nil
}

// Set replaces the value of field.
func Set(field string, value any) Update {
	return &fieldUpdate{operator: "$set", field: field, value: value, mapped: true}
}

// SetOnInsert sets field only when an upsert inserts a document.
func SetOnInsert(field string, value any) Update {
	return &fieldUpdate{operator: "$setOnInsert", field: field, value: value, mapped: true}
}

// Unset removes field.
func Unset(field string) Update {
	return &fieldUpdate{operator: "$unset", field: field, value: ""}
}

// Inc adds amount to field.
func Inc(field string, amount any) Update {
	return &fieldUpdate{operator: "$inc", field: field, value: amount}
}

// Dec subtracts amount from field. Unsigned amounts are sent as negative
// int64 values; amounts that cannot be negated fail to encode.
func Dec(field string, amount any) Update {
	value, err := negate(amount)
	return &fieldUpdate{operator: "$inc", field: field, value: value, err: err}
}

// Mul multiplies field by factor.
func Mul(field string, factor any) Update {
	return &fieldUpdate{operator: "$mul", field: field, value: factor}
}

// Min sets field to value when value is smaller.
func Min(field string, value any) Update {
	return &fieldUpdate{operator: "$min", field: field, value: value, mapped: true}
}

// Max sets field to value when value is larger.
func Max(field string, value any) Update {
	return &fieldUpdate{operator: "$max", field: field, value: value, mapped: true}
}

// Rename moves field to newName, which is resolved like any other path.
func Rename(field, newName string) Update {
	return &fieldUpdate{
		operator: "$rename",
		field:    field,
		render: func(enc codec.FieldEncoder, _ *mapping.PropertyModel) (any, error) {
			path, _, err := enc.Path(newName)
			return path, errors.WithStack(err)
		},
	}
}

// CurrentDateUpdate sets a field to the current date or timestamp.
type CurrentDateUpdate struct {
	fieldUpdate
	timestamp bool
}

// CurrentDate sets field to the current date.
func CurrentDate(field string) *CurrentDateUpdate {
	u := &CurrentDateUpdate{fieldUpdate: fieldUpdate{operator: "$currentDate", field: field}}
	u.render = func(codec.FieldEncoder, *mapping.PropertyModel) (any, error) {
		if u.timestamp {
			return bson.D{{Key: "$type", Value: "timestamp"}}, nil
		}
		return true, nil
	}
	return u
}

// Timestamp stores a BSON timestamp instead of a date.
func (u *CurrentDateUpdate) Timestamp() *CurrentDateUpdate {
	u.timestamp = true
	return u
}

// PushUpdate appends values to an array.
type PushUpdate struct {
	fieldUpdate
	values   []any
	position *int
	slice    *int
	sort     any
}

// Push appends values to the array at field.
func Push(field string, values ...any) *PushUpdate {
	u := &PushUpdate{fieldUpdate: fieldUpdate{operator: "$push", field: field}, values: values}
	u.render = u.renderPush
	return u
}

// Position inserts the values at index instead of appending.
func (u *PushUpdate) Position(index int) *PushUpdate {
	u.position = &index
	return u
}

// Slice trims the array to n elements after the push.
func (u *PushUpdate) Slice(n int) *PushUpdate {
	u.slice = &n
	return u
}

// Sort orders the array after the push, 1 or -1 for scalar arrays.
func (u *PushUpdate) Sort(direction int) *PushUpdate {
	u.sort = direction
	return u
}

// SortBy orders an array of documents by the given element fields, which
// are resolved against the element model.
func (u *PushUpdate) SortBy(fields bson.D) *PushUpdate {
	u.sort = fields
	return u
}

func (u *PushUpdate) renderPush(enc codec.FieldEncoder, prop *mapping.PropertyModel) (any, error) {
	values, err := encodeEach(enc, prop, u.values)
	if err != nil {
		return nil, err
	}
	if len(values) == 1 && u.position == nil && u.slice == nil && u.sort == nil {
		return values[0], nil
	}

	doc := bson.D{{Key: "$each", Value: values}}
	if u.position != nil {
		doc = append(doc, bson.E{Key: "$position", Value: *u.position})
	}
	if u.slice != nil {
		doc = append(doc, bson.E{Key: "$slice", Value: *u.slice})
	}
	switch sort := u.sort.(type) {
	case nil:
	case bson.D:
		elem := enc.Elem(u.field)
		rendered := make(bson.D, 0, len(sort))
		for _, e := range sort {
			path, _, err := elem.Path(e.Key)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			rendered = append(rendered, bson.E{Key: path, Value: e.Value})
		}
		doc = append(doc, bson.E{Key: "$sort", Value: rendered})
	default:
		doc = append(doc, bson.E{Key: "$sort", Value: sort})
	}
	return doc, nil
}

// AddToSet adds values to the array at field unless already present.
func AddToSet(field string, values ...any) Update {
	u := &fieldUpdate{operator: "$addToSet", field: field}
	u.render = func(enc codec.FieldEncoder, prop *mapping.PropertyModel) (any, error) {
		encoded, err := encodeEach(enc, prop, values)
		if err != nil {
			return nil, err
		}
		if len(encoded) == 1 {
			return encoded[0], nil
		}
		return bson.D{{Key: "$each", Value: encoded}}, nil
	}
	return u
}

// PopUpdate removes the first or last array element.
type PopUpdate struct {
	fieldUpdate
}

// Pop removes the last element of the array at field.
func Pop(field string) *PopUpdate {
	return &PopUpdate{fieldUpdate: fieldUpdate{operator: "$pop", field: field, value: 1}}
}

// RemoveFirst pops the first element instead of the last.
func (u *PopUpdate) RemoveFirst() *PopUpdate {
	u.value = -1
	return u
}

// Pull removes array elements equal to value. A filters.Filter value
// removes the elements matching it, with paths relative to the element.
func Pull(field string, value any) Update {
	u := &fieldUpdate{operator: "$pull", field: field}
	u.render = func(enc codec.FieldEncoder, prop *mapping.PropertyModel) (any, error) {
		if filter, ok := value.(filters.Filter); ok {
			return filters.Render(enc.Elem(field), filter)
		}
		return encodeElement(enc, prop, value)
	}
	return u
}

// PullAll removes every element equal to one of values.
func PullAll(field string, values ...any) Update {
	u := &fieldUpdate{operator: "$pullAll", field: field}
	u.render = func(enc codec.FieldEncoder, prop *mapping.PropertyModel) (any, error) {
		return encodeEach(enc, prop, values)
	}
	return u
}

// BitUpdate is a bitwise update.
type BitUpdate struct {
	fieldUpdate
}

// Bit starts a bitwise update of field; finish it with And, Or or Xor.
// Chained operations are applied by the server in order.
func Bit(field string) *BitUpdate {
	return &BitUpdate{fieldUpdate: fieldUpdate{operator: "$bit", field: field}}
}

// And applies a bitwise and with mask.
func (u *BitUpdate) And(mask int64) *BitUpdate { return u.with("and", mask) }

// Or applies a bitwise or with mask.
func (u *BitUpdate) Or(mask int64) *BitUpdate { return u.with("or", mask) }

// Xor applies a bitwise xor with mask.
func (u *BitUpdate) Xor(mask int64) *BitUpdate { return u.with("xor", mask) }

func (u *BitUpdate) with(op string, mask int64) *BitUpdate {
	ops, _ := u.value.(bson.D)
	for _, existing := range ops {
		if existing.Key == op && u.err == nil {
			u.err = errors.Errorf("bitwise %s applied twice", op)
		}
	}
	u.value = append(ops, bson.E{Key: op, Value: mask})
	return u
}

func (u *BitUpdate) Encode(enc codec.FieldEncoder) (bson.E, error) {
	if u.value == nil && u.err == nil {
		return bson.E{}, errors.Errorf("bit update of '%s' needs and, or or xor", u.field)
	}
	return u.fieldUpdate.Encode(enc)
}

// Render groups updates by operator into one update document. Setting the
// same path twice under one operator is an error.
func Render(enc codec.FieldEncoder, updates ...Update) (bson.D, error) {
	if len(updates) == 0 {
		return nil, errors.New("no updates given")
	}
	catcher := grip.NewBasicCatcher()
	out := bson.D{}
	index := map[string]int{}
	for _, u := range updates {
		elem, err := u.Encode(enc)
		if err != nil {
			catcher.Add(err)
			continue
		}
		op := u.Operator()
		i, ok := index[op]
		if !ok {
			index[op] = len(out)
			out = append(out, bson.E{Key: op, Value: bson.D{elem}})
			continue
		}
		fields := out[i].Value.(bson.D)
		conflict := false
		for _, existing := range fields {
			if existing.Key == elem.Key {
				conflict = true
				break
			}
		}
		if conflict {
			catcher.Errorf("'%s' is updated twice by %s", elem.Key, op)
			continue
		}
		out[i].Value = append(fields, elem)
	}
	if catcher.HasErrors() {
		return nil, catcher.Resolve()
	}
	return out, nil
}

// Touches reports whether the update document writes path with any
// operator.
func Touches(update bson.D, path string) bool {
	for _, op := range update {
		fields, ok := op.Value.(bson.D)
		if !ok {
			continue
		}
		for _, f := range fields {
			if f.Key == path {
				return true
			}
		}
	}
	return false
}

// encodeElement encodes a single array element for prop, which describes
// the whole array.
func encodeElement(enc codec.FieldEncoder, prop *mapping.PropertyModel, value any) (any, error) {
	out, err := enc.Value(prop, value)
	return out, errors.WithStack(err)
}

func encodeEach(enc codec.FieldEncoder, prop *mapping.PropertyModel, values []any) (bson.A, error) {
	out := make(bson.A, 0, len(values))
	for _, v := range values {
		encoded, err := encodeElement(enc, prop, v)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded)
	}
	return out, nil
}

func negate(amount any) (any, error) {
	if d, ok := amount.(primitive.Decimal128); ok {
		return negateDecimal(d)
	}
	v := reflect.ValueOf(amount)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out := reflect.New(v.Type()).Elem()
		out.SetInt(-v.Int())
		if v.Int() != 0 && out.Int() == v.Int() {
			return nil, errors.Errorf("cannot negate %v without overflow", amount)
		}
		return out.Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if v.Uint() > math.MaxInt64 {
			return nil, errors.Errorf("cannot negate %v as an int64", amount)
		}
		return -int64(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		out := reflect.New(v.Type()).Elem()
		out.SetFloat(-v.Float())
		return out.Interface(), nil
	default:
		return nil, errors.Errorf("cannot decrement by %T", amount)
	}
}

func negateDecimal(d primitive.Decimal128) (any, error) {
	digits, exp, err := d.BigInt()
	if err != nil {
		return nil, errors.Wrapf(err, "negating %s", d)
	}
	out, ok := primitive.ParseDecimal128FromBigInt(digits.Neg(digits), exp)
	if !ok {
		return nil, errors.Errorf("cannot negate %s", d)
	}
	return out, nil
}
