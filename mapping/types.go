package mapping

import (
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
)

const driverPackage = "go.mongodb.org/mongo-driver"

var (
	timeType             = reflect.TypeOf(time.Time{})
	marshalerType        = reflect.TypeOf((*bson.Marshaler)(nil)).Elem()
	unmarshalerType      = reflect.TypeOf((*bson.Unmarshaler)(nil)).Elem()
	valueMarshalerType   = reflect.TypeOf((*bsoncodec.ValueMarshaler)(nil)).Elem()
	valueUnmarshalerType = reflect.TypeOf((*bsoncodec.ValueUnmarshaler)(nil)).Elem()
	referenceValueType   = reflect.TypeOf((*ReferenceValue)(nil)).Elem()
)

// IsLeafType reports whether values of t are handed to the driver as is
// instead of being walked by the mapper: driver types, time.Time and types
// with their own BSON marshaling.
func IsLeafType(t reflect.Type) bool {
	if t == timeType || strings.HasPrefix(t.PkgPath(), driverPackage) {
		return true
	}
	ptr := reflect.PointerTo(t)
	for _, iface := range []reflect.Type{marshalerType, unmarshalerType, valueMarshalerType, valueUnmarshalerType} {
		if t.Implements(iface) || ptr.Implements(iface) {
			return true
		}
	}
	return false
}

// IsMappable reports whether t is a struct the mapper builds a model for.
func IsMappable(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && !IsLeafType(t) && !IsLazyReference(t)
}

// IsLazyReference reports whether t is a Reference[T].
func IsLazyReference(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && reflect.PointerTo(t).Implements(referenceValueType)
}

// BaseType strips pointers, slices, arrays and maps from t and returns the
// element type underneath. Byte slices are returned unchanged.
func BaseType(t reflect.Type) reflect.Type {
	for {
		switch t.Kind() {
		case reflect.Ptr:
			t = t.Elem()
		case reflect.Slice, reflect.Array:
			if t.Elem().Kind() == reflect.Uint8 {
				return t
			}
			t = t.Elem()
		case reflect.Map:
			t = t.Elem()
		default:
			return t
		}
	}
}

func isIntegerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int32, reflect.Int64:
		return true
	default:
		return false
	}
}
