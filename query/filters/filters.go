// Package filters builds query filter documents. Field names may be Go
// field paths or stored names; they are translated through the mapper when
// the filter is rendered.
package filters

import (
	"reflect"
	"strings"

	"github.com/MorphiaOrg/morphia/codec"
	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Filter renders a query predicate.
type Filter interface {
	Encode(enc codec.FieldEncoder) (bson.D, error)
}

// valueMode controls how a field filter's argument is rendered.
type valueMode int

const (
	// mapped values are encoded as stored for the field's property.
	mapped valueMode = iota
	// raw values are passed to the driver unchanged.
	raw
)

// FieldFilter is an operator applied to one field.
type FieldFilter struct {
	field    string
	operator string
	value    any
	mode     valueMode
	not      bool
	render   func(enc codec.FieldEncoder, path string, prop *mapping.PropertyModel) (any, error)
}

func newFilter(field, operator string, value any, mode valueMode) *FieldFilter {
	return &FieldFilter{field: field, operator: operator, value: value, mode: mode}
}

// Field returns the field the filter applies to, as given by the caller.
func (f *FieldFilter) Field() string { return f.field }

// Operator returns the query operator, such as "$eq".
func (f *FieldFilter) Operator() string { return f.operator }

// Not negates the filter with $not.
func (f *FieldFilter) Not() *FieldFilter {
	f.not = !f.not
	return f
}

func (f *FieldFilter) Encode(enc codec.FieldEncoder) (bson.D, error) {
	path, prop, err := enc.Path(f.field)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var value any
	switch {
	case f.render != nil:
		value, err = f.render(enc, path, prop)
	case f.mode == mapped:
		value, err = enc.Value(prop, f.value)
	default:
		value = f.value
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s filter on '%s'", f.operator, f.field)
	}

	var doc bson.D
	if opDoc, ok := value.(bson.D); ok && f.operator == "" {
		doc = opDoc
	} else {
		doc = bson.D{{Key: f.operator, Value: value}}
	}
	if f.not {
		doc = bson.D{{Key: "$not", Value: doc}}
	}
	return bson.D{{Key: path, Value: doc}}, nil
}

// Eq matches documents where field equals value.
func Eq(field string, value any) *FieldFilter { return newFilter(field, "$eq", value, mapped) }

// Ne matches documents where field does not equal value.
func Ne(field string, value any) *FieldFilter { return newFilter(field, "$ne", value, mapped) }

// Gt matches documents where field is greater than value.
func Gt(field string, value any) *FieldFilter { return newFilter(field, "$gt", value, mapped) }

// Gte matches documents where field is greater than or equal to value.
func Gte(field string, value any) *FieldFilter { return newFilter(field, "$gte", value, mapped) }

// Lt matches documents where field is less than value.
func Lt(field string, value any) *FieldFilter { return newFilter(field, "$lt", value, mapped) }

// Lte matches documents where field is less than or equal to value.
func Lte(field string, value any) *FieldFilter { return newFilter(field, "$lte", value, mapped) }

// In matches any of values, which must be a slice or array.
func In(field string, values any) *FieldFilter {
	return newFilter(field, "$in", asArray(values), mapped)
}

// Nin matches none of values, which must be a slice or array.
func Nin(field string, values any) *FieldFilter {
	return newFilter(field, "$nin", asArray(values), mapped)
}

// All matches arrays containing every element of values.
func All(field string, values any) *FieldFilter {
	return newFilter(field, "$all", asArray(values), mapped)
}

// Exists matches documents containing field.
func Exists(field string) *FieldFilter { return newFilter(field, "$exists", true, raw) }

// Type matches values of any of the given BSON type aliases, such as
// "string" or "objectId".
func Type(field string, types ...string) *FieldFilter {
	var value any = types
	if len(types) == 1 {
		value = types[0]
	}
	return newFilter(field, "$type", value, raw)
}

// Size matches arrays of exactly size elements.
func Size(field string, size int) *FieldFilter { return newFilter(field, "$size", size, raw) }

// Mod matches values where value % divisor == remainder.
func Mod(field string, divisor, remainder int64) *FieldFilter {
	return newFilter(field, "$mod", bson.A{divisor, remainder}, raw)
}

// BitsAllSet matches values where every bit of mask is set.
func BitsAllSet(field string, mask int64) *FieldFilter {
	return newFilter(field, "$bitsAllSet", mask, raw)
}

// BitsAnySet matches values where any bit of mask is set.
func BitsAnySet(field string, mask int64) *FieldFilter {
	return newFilter(field, "$bitsAnySet", mask, raw)
}

// BitsAllClear matches values where every bit of mask is clear.
func BitsAllClear(field string, mask int64) *FieldFilter {
	return newFilter(field, "$bitsAllClear", mask, raw)
}

// BitsAnyClear matches values where any bit of mask is clear.
func BitsAnyClear(field string, mask int64) *FieldFilter {
	return newFilter(field, "$bitsAnyClear", mask, raw)
}

// RegexFilter matches string values against a regular expression.
type RegexFilter struct {
	*FieldFilter
	pattern string
	options string
}

// Regex matches field against pattern.
func Regex(field, pattern string) *RegexFilter {
	f := &RegexFilter{pattern: pattern}
	f.FieldFilter = newFilter(field, "", nil, raw)
	f.render = func(codec.FieldEncoder, string, *mapping.PropertyModel) (any, error) {
		doc := bson.D{{Key: "$regex", Value: f.pattern}}
		if f.options != "" {
			doc = append(doc, bson.E{Key: "$options", Value: f.options})
		}
		return doc, nil
	}
	return f
}

// Options sets the regular expression flags, such as "i".
func (f *RegexFilter) Options(options string) *RegexFilter {
	f.options = options
	return f
}

// CaseInsensitive adds the "i" flag.
func (f *RegexFilter) CaseInsensitive() *RegexFilter {
	if !strings.Contains(f.options, "i") {
		f.options += "i"
	}
	return f
}

// ElemMatch matches arrays with at least one element satisfying every
// filter. Filters are relative to the array element.
func ElemMatch(field string, filters ...Filter) *FieldFilter {
	f := newFilter(field, "$elemMatch", nil, raw)
	f.render = func(enc codec.FieldEncoder, path string, _ *mapping.PropertyModel) (any, error) {
		return Render(enc.Elem(field), filters...)
	}
	return f
}

// Where matches documents for which the JavaScript expression is true.
func Where(javascript string) Filter {
	return documentFilter{key: "$where", value: javascript}
}

// JSONSchema matches documents valid against schema.
func JSONSchema(schema any) Filter {
	return documentFilter{key: "$jsonSchema", value: schema}
}

// Comment attaches a comment to the query.
func Comment(comment string) Filter {
	return documentFilter{key: "$comment", value: comment}
}

type documentFilter struct {
	key   string
	value any
}

func (f documentFilter) Encode(codec.FieldEncoder) (bson.D, error) {
	return bson.D{{Key: f.key, Value: f.value}}, nil
}

// asArray passes slices and arrays through and wraps anything else in a
// one element array.
func asArray(values any) any {
	if values == nil {
		return []any{}
	}
	switch reflect.TypeOf(values).Kind() {
	case reflect.Slice, reflect.Array:
		return values
	default:
		return []any{values}
	}
}

// Render combines filters into one document. Operators on the same field
// are merged into one operator document; if two filters conflict the
// result falls back to an explicit $and.
func Render(enc codec.FieldEncoder, filters ...Filter) (bson.D, error) {
	catcher := grip.NewBasicCatcher()
	docs := make([]bson.D, 0, len(filters))
	for _, f := range filters {
		if f == nil {
			continue
		}
		doc, err := f.Encode(enc)
		if err != nil {
			catcher.Add(err)
			continue
		}
		docs = append(docs, doc)
	}
	if catcher.HasErrors() {
		return nil, catcher.Resolve()
	}

	out := bson.D{}
	for _, doc := range docs {
		for _, elem := range doc {
			if !mergeInto(&out, elem) {
				all := make(bson.A, 0, len(docs))
				for _, d := range docs {
					all = append(all, d)
				}
				return bson.D{{Key: "$and", Value: all}}, nil
			}
		}
	}
	return out, nil
}

// mergeInto adds elem to doc, merging operator documents on the same key.
// It returns false when the key is taken and cannot be merged.
func mergeInto(doc *bson.D, elem bson.E) bool {
	for i, existing := range *doc {
		if existing.Key != elem.Key {
			continue
		}
		left, ok := existing.Value.(bson.D)
		if !ok || !isOperatorDoc(left) {
			return false
		}
		right, ok := elem.Value.(bson.D)
		if !ok || !isOperatorDoc(right) {
			return false
		}
		merged := append(bson.D{}, left...)
		for _, op := range right {
			for _, have := range left {
				if have.Key == op.Key {
					return false
				}
			}
			merged = append(merged, op)
		}
		(*doc)[i].Value = merged
		return true
	}
	*doc = append(*doc, elem)
	return true
}

func isOperatorDoc(doc bson.D) bool {
	if len(doc) == 0 {
		return false
	}
	for _, e := range doc {
		if !strings.HasPrefix(e.Key, "$") {
			return false
		}
	}
	return true
}
