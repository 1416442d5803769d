package mapping

import (
	"reflect"

	"github.com/pkg/errors"
)

// Entity marks a struct as a top level entity stored in its own
// collection. Entity options go in the marker's tag:
//
//	type Book struct {
//		mapping.Entity `morphia:"collection=books"`
//		ID primitive.ObjectID `bson:"_id"`
//	}
type Entity struct{}

// Embedded marks a struct that is only stored inside other documents.
// Structs without a marker are mapped as embedded implicitly; the marker is
// needed to set an explicit discriminator.
type Embedded struct{}

var (
	entityMarkerType   = reflect.TypeOf(Entity{})
	embeddedMarkerType = reflect.TypeOf(Embedded{})
)

// Write concern names accepted by the "concern" entity option.
const (
	ConcernMajority       = "majority"
	ConcernAcknowledged   = "acknowledged"
	ConcernUnacknowledged = "unacknowledged"
	ConcernJournaled      = "journaled"
)

// EntityModel is the mapping metadata for one Go struct type.
type EntityModel struct {
	Type reflect.Type
	Name string

	// IsEntity is set for types carrying the Entity marker.
	IsEntity   bool
	Collection string

	Discriminator    string
	DiscriminatorKey string
	// UseDiscriminator controls whether the discriminator is always written.
	// Values stored through interface typed fields carry it regardless.
	UseDiscriminator bool
	explicit         bool

	Concern          string
	CappedSize       int64
	CappedCount      int64
	ValidationLevel  string
	ValidationAction string

	Properties []*PropertyModel
	ID         *PropertyModel
	Version    *PropertyModel

	byName   map[string]*PropertyModel
	byStored map[string]*PropertyModel
	byAlias  map[string]*PropertyModel
}

// PropertyModel describes one mapped field.
type PropertyModel struct {
	Name       string
	StoredName string
	// FieldIndex is the reflect index path of the field, spanning inlined
	// structs.
	FieldIndex []int
	Type       reflect.Type

	IsID          bool
	IsVersion     bool
	IsReference   bool
	IsLazy        bool
	IDOnly        bool
	IgnoreMissing bool
	NotSaved      bool
	OmitEmpty     bool
	AlsoLoad      []string

	// Indexed holds the field level index options, if any.
	Indexed *FieldIndex

	// ReferenceTarget is the entity type referenced by this property.
	ReferenceTarget reflect.Type

	owner *EntityModel
}

// Owner returns the model declaring the property.
func (p *PropertyModel) Owner() *EntityModel { return p.owner }

// Value returns the property's field on v, which must be a value of the
// owner's struct type.
func (p *PropertyModel) Value(v reflect.Value) reflect.Value {
	return v.FieldByIndex(p.FieldIndex)
}

// Property looks up a property by Go field name or stored name.
func (m *EntityModel) Property(name string) *PropertyModel {
	if p, ok := m.byName[name]; ok {
		return p
	}
	return m.byStored[name]
}

// PropertyForLoad finds the property a stored element belongs to, honoring
// alsoLoad names.
func (m *EntityModel) PropertyForLoad(stored string) (*PropertyModel, bool) {
	if p, ok := m.byStored[stored]; ok {
		return p, true
	}
	p, ok := m.byAlias[stored]
	return p, ok
}

// New returns a pointer to a new zero value of the model's type.
func (m *EntityModel) New() reflect.Value {
	return reflect.New(m.Type)
}

// IDValue returns the id of v, which must be the model's struct value or a
// pointer to it.
func (m *EntityModel) IDValue(v reflect.Value) (any, error) {
	if m.ID == nil {
		return nil, errors.Errorf("type '%s' has no id property", m.Name)
	}
	v = reflect.Indirect(v)
	if v.Type() != m.Type {
		return nil, errors.Errorf("value of type '%s' is not a '%s'", v.Type(), m.Name)
	}
	id := m.ID.Value(v)
	if isNilValue(id) {
		return nil, nil
	}
	return id.Interface(), nil
}

// HasZeroID reports whether the id of v is unset.
func (m *EntityModel) HasZeroID(v reflect.Value) bool {
	if m.ID == nil {
		return true
	}
	return reflect.Indirect(v).FieldByIndex(m.ID.FieldIndex).IsZero()
}

func (m *EntityModel) addProperty(p *PropertyModel) {
	p.owner = m
	m.Properties = append(m.Properties, p)
	m.byName[p.Name] = p
	m.byStored[p.StoredName] = p
	for _, alias := range p.AlsoLoad {
		m.byAlias[alias] = p
	}
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}
