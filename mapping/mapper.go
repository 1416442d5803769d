package mapping

import (
	"reflect"
	"sort"
	"sync"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// DefaultDiscriminatorKey is the element holding a document's discriminator.
const DefaultDiscriminatorKey = "_t"

// Options controls how models are built.
type Options struct {
	CollectionNaming NamingStrategy
	PropertyNaming   NamingStrategy
	DiscriminatorKey string
	Discriminator    DiscriminatorFunction
	StoreNulls       bool
	StoreEmpties     bool
}

// DefaultOptions returns the mapping defaults.
func DefaultOptions() Options {
	return Options{
		CollectionNaming: CamelCase,
		PropertyNaming:   CamelCase,
		DiscriminatorKey: DefaultDiscriminatorKey,
		Discriminator:    SimpleName,
	}
}

// Mapper builds and caches entity models. It is safe for concurrent use.
type Mapper struct {
	opts Options

	mu             sync.RWMutex
	models         map[reflect.Type]*EntityModel
	discriminators map[discriminatorScope][]*EntityModel
	interceptors   []EntityInterceptor
}

// discriminatorScope is where a discriminator value must be unique: the
// collection of an entity, or the shared scope of embedded types.
type discriminatorScope struct {
	collection string
	value      string
}

func scopeOf(model *EntityModel) discriminatorScope {
	scope := discriminatorScope{value: model.Discriminator}
	if model.IsEntity {
		scope.collection = model.Collection
	}
	return scope
}

// NewMapper returns a mapper using opts. Empty options fall back to the
// defaults.
func NewMapper(opts Options) *Mapper {
	def := DefaultOptions()
	if opts.CollectionNaming == "" {
		opts.CollectionNaming = def.CollectionNaming
	}
	if opts.PropertyNaming == "" {
		opts.PropertyNaming = def.PropertyNaming
	}
	if opts.DiscriminatorKey == "" {
		opts.DiscriminatorKey = def.DiscriminatorKey
	}
	if opts.Discriminator == "" {
		opts.Discriminator = def.Discriminator
	}
	return &Mapper{
		opts:           opts,
		models:         map[reflect.Type]*EntityModel{},
		discriminators: map[discriminatorScope][]*EntityModel{},
	}
}

// Options returns the mapper's options.
func (m *Mapper) Options() Options { return m.opts }

// Map builds models for the types of values, which may be struct values,
// pointers to structs or reflect.Types.
func (m *Mapper) Map(values ...any) ([]*EntityModel, error) {
	catcher := grip.NewBasicCatcher()
	out := make([]*EntityModel, 0, len(values))
	for _, v := range values {
		model, err := m.Model(typeOf(v))
		if err != nil {
			catcher.Add(err)
			continue
		}
		out = append(out, model)
	}
	return out, catcher.Resolve()
}

// ModelOf returns the model for the dynamic type of v.
func (m *Mapper) ModelOf(v any) (*EntityModel, error) {
	return m.Model(typeOf(v))
}

// Model returns the model for t, building and validating it on first use.
// Pointer types are dereferenced.
func (m *Mapper) Model(t reflect.Type) (*EntityModel, error) {
	if t == nil {
		return nil, errors.New("cannot map a nil type")
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	m.mu.RLock()
	model, ok := m.models[t]
	m.mu.RUnlock()
	if ok {
		return model, nil
	}

	if !IsMappable(t) {
		return nil, errors.Errorf("type '%s' is not a mappable struct", t)
	}

	model, err := m.buildModel(t)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping '%s'", t)
	}

	m.mu.Lock()
	if existing, ok := m.models[t]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	if err = m.registerDiscriminator(model); err != nil {
		m.mu.Unlock()
		return nil, errors.Wrapf(err, "mapping '%s'", t)
	}
	m.models[t] = model
	m.mu.Unlock()

	if err = m.validateReferences(model); err != nil {
		m.unregister(model)
		return nil, errors.Wrapf(err, "mapping '%s'", t)
	}

	grip.Debug(message.Fields{
		"message":    "mapped type",
		"type":       model.Name,
		"entity":     model.IsEntity,
		"collection": model.Collection,
		"properties": len(model.Properties),
	})
	return model, nil
}

// IsMapped reports whether t already has a model.
func (m *Mapper) IsMapped(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.models[t]
	return ok
}

// Models returns every mapped model ordered by type name.
func (m *Mapper) Models() []*EntityModel {
	m.mu.RLock()
	out := make([]*EntityModel, 0, len(m.models))
	for _, model := range m.models {
		out = append(out, model)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Type.String() < out[j].Type.String() })
	return out
}

// EntityModels returns the mapped models that are entities.
func (m *Mapper) EntityModels() []*EntityModel {
	var out []*EntityModel
	for _, model := range m.Models() {
		if model.IsEntity {
			out = append(out, model)
		}
	}
	return out
}

// ResolveDiscriminator returns the entity stored in collection with the
// given discriminator value. An empty collection looks up embedded types.
// Implicitly mapped types sharing the value resolve only when exactly one
// of them declares it explicitly.
func (m *Mapper) ResolveDiscriminator(collection, value string) (*EntityModel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return PreferExplicit(m.discriminators[discriminatorScope{collection: collection, value: value}])
}

// DiscriminatedModels returns every model using the discriminator value in
// any scope, ordered by type name.
func (m *Mapper) DiscriminatedModels(value string) []*EntityModel {
	m.mu.RLock()
	var out []*EntityModel
	for scope, models := range m.discriminators {
		if scope.value == value {
			out = append(out, models...)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Type.String() < out[j].Type.String() })
	return out
}

// PreferExplicit picks the single candidate, or the single one carrying an
// Entity or Embedded marker.
func PreferExplicit(candidates []*EntityModel) (*EntityModel, bool) {
	if len(candidates) == 1 {
		return candidates[0], true
	}
	var found *EntityModel
	for _, model := range candidates {
		if !model.explicit {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = model
	}
	return found, found != nil
}

// DiscriminatorKeys returns the distinct discriminator keys in use, the
// configured default first.
func (m *Mapper) DiscriminatorKeys() []string {
	keys := []string{m.opts.DiscriminatorKey}
	seen := map[string]bool{m.opts.DiscriminatorKey: true}
	for _, model := range m.Models() {
		if !seen[model.DiscriminatorKey] {
			seen[model.DiscriminatorKey] = true
			keys = append(keys, model.DiscriminatorKey)
		}
	}
	return keys
}

// ImplementersOf returns the mapped entity models whose type, or pointer to
// it, implements iface.
func (m *Mapper) ImplementersOf(iface reflect.Type) []*EntityModel {
	var out []*EntityModel
	for _, model := range m.EntityModels() {
		if model.Type.Implements(iface) || reflect.PointerTo(model.Type).Implements(iface) {
			out = append(out, model)
		}
	}
	return out
}

// CollectionModels returns the entity models stored in collection.
func (m *Mapper) CollectionModels(collection string) []*EntityModel {
	var out []*EntityModel
	for _, model := range m.EntityModels() {
		if model.Collection == collection {
			out = append(out, model)
		}
	}
	return out
}

// IsShared reports whether more than one entity type is stored in the
// model's collection, in which case queries need a discriminator filter.
func (m *Mapper) IsShared(model *EntityModel) bool {
	return model.IsEntity && len(m.CollectionModels(model.Collection)) > 1
}

func (m *Mapper) registerDiscriminator(model *EntityModel) error {
	scope := scopeOf(model)
	registered := m.discriminators[scope]
	for _, existing := range registered {
		if !existing.explicit || !model.explicit {
			continue
		}
		if model.IsEntity {
			return errors.Errorf("discriminator '%s' is already used by '%s' in collection '%s'", model.Discriminator, existing.Type, model.Collection)
		}
		return errors.Errorf("discriminator '%s' is already used by '%s'", model.Discriminator, existing.Type)
	}
	if len(registered) > 0 {
		grip.Warning(message.Fields{
			"message":       "discriminator shared by implicitly mapped types",
			"discriminator": model.Discriminator,
			"collection":    scope.collection,
			"type":          model.Type.String(),
			"existing":      registered[0].Type.String(),
		})
	}
	m.discriminators[scope] = append(registered, model)
	return nil
}

func (m *Mapper) unregister(model *EntityModel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.models, model.Type)
	scope := scopeOf(model)
	registered := m.discriminators[scope]
	for i, existing := range registered {
		if existing == model {
			registered = append(registered[:i:i], registered[i+1:]...)
			break
		}
	}
	if len(registered) == 0 {
		delete(m.discriminators, scope)
		return
	}
	m.discriminators[scope] = registered
}

func (m *Mapper) buildModel(t reflect.Type) (*EntityModel, error) {
	model := &EntityModel{
		Type:             t,
		Name:             t.Name(),
		Discriminator:    m.opts.Discriminator.Apply(t),
		DiscriminatorKey: m.opts.DiscriminatorKey,
		byName:           map[string]*PropertyModel{},
		byStored:         map[string]*PropertyModel{},
		byAlias:          map[string]*PropertyModel{},
	}

	catcher := grip.NewBasicCatcher()
	catcher.Add(m.applyMarker(model))
	catcher.Add(m.collectProperties(model, t, nil, map[reflect.Type]bool{t: true}))
	if catcher.HasErrors() {
		return nil, catcher.Resolve()
	}
	if err := validateModel(model); err != nil {
		return nil, err
	}
	return model, nil
}

func (m *Mapper) applyMarker(model *EntityModel) error {
	for i := 0; i < model.Type.NumField(); i++ {
		f := model.Type.Field(i)
		if !f.Anonymous || (f.Type != entityMarkerType && f.Type != embeddedMarkerType) {
			continue
		}
		if model.explicit {
			return errors.New("more than one Entity or Embedded marker")
		}
		opts := parseTag(f.Tag.Get(TagName))
		model.explicit = true
		model.IsEntity = f.Type == entityMarkerType
		model.UseDiscriminator = !opts.has("noDiscriminator")
		if v := opts.get("discriminator"); v != "" {
			model.Discriminator = v
		}
		if v := opts.get("discriminatorKey"); v != "" {
			model.DiscriminatorKey = v
		}
		if !model.IsEntity {
			continue
		}

		model.Collection = opts.get("collection")
		if model.Collection == "" {
			model.Collection = m.opts.CollectionNaming.Apply(model.Name)
		}
		model.Concern = opts.get("concern")
		model.ValidationLevel = opts.get("validationLevel")
		model.ValidationAction = opts.get("validationAction")

		catcher := grip.NewBasicCatcher()
		var err error
		model.CappedSize, err = opts.int64("cappedSize")
		catcher.Add(err)
		model.CappedCount, err = opts.int64("cappedCount")
		catcher.Add(err)
		if catcher.HasErrors() {
			return catcher.Resolve()
		}
	}
	return nil
}

func (m *Mapper) collectProperties(model *EntityModel, t reflect.Type, prefix []int, seen map[reflect.Type]bool) error {
	catcher := grip.NewBasicCatcher()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && (f.Type == entityMarkerType || f.Type == embeddedMarkerType) {
			continue
		}
		if !f.IsExported() && !(f.Anonymous && f.Type.Kind() == reflect.Struct) {
			continue
		}

		index := append(append([]int{}, prefix...), i)
		btag := parseBSONTag(f)
		opts := parseTag(f.Tag.Get(TagName))
		if btag.skip || opts.has("transient") {
			continue
		}

		if f.Type.Kind() == reflect.Struct && (btag.inline || (f.Anonymous && btag.name == "")) && IsMappable(f.Type) {
			if seen[f.Type] {
				catcher.Errorf("inlined struct '%s' is recursive", f.Type)
				continue
			}
			seen[f.Type] = true
			catcher.Add(m.collectProperties(model, f.Type, index, seen))
			delete(seen, f.Type)
			continue
		}
		if !f.IsExported() {
			continue
		}

		prop, err := m.buildProperty(f, index, btag, opts)
		if err != nil {
			catcher.Wrapf(err, "field '%s'", f.Name)
			continue
		}
		if existing := model.byStored[prop.StoredName]; existing != nil {
			catcher.Errorf("fields '%s' and '%s' are both stored as '%s'", existing.Name, prop.Name, prop.StoredName)
			continue
		}
		if prop.IsID {
			if model.ID != nil {
				catcher.Errorf("more than one id property: '%s' and '%s'", model.ID.Name, prop.Name)
				continue
			}
			model.ID = prop
		}
		if prop.IsVersion {
			if model.Version != nil {
				catcher.Errorf("more than one version property: '%s' and '%s'", model.Version.Name, prop.Name)
				continue
			}
			model.Version = prop
		}
		model.addProperty(prop)
	}
	return catcher.Resolve()
}

func (m *Mapper) buildProperty(f reflect.StructField, index []int, btag bsonTag, opts tagOptions) (*PropertyModel, error) {
	prop := &PropertyModel{
		Name:          f.Name,
		StoredName:    btag.name,
		FieldIndex:    index,
		Type:          f.Type,
		IsID:          opts.has("id") || btag.name == "_id",
		IsVersion:     opts.has("version"),
		IsReference:   opts.has("ref"),
		IDOnly:        opts.has("idOnly"),
		IgnoreMissing: opts.has("ignoreMissing"),
		NotSaved:      opts.has("notSaved"),
		OmitEmpty:     btag.omitEmpty,
		AlsoLoad:      opts.list("alsoLoad"),
	}
	if prop.IsID {
		prop.StoredName = "_id"
	}
	if prop.StoredName == "" {
		prop.StoredName = m.opts.PropertyNaming.Apply(f.Name)
	}

	base := BaseType(f.Type)
	if IsLazyReference(base) {
		prop.IsReference = true
		prop.IsLazy = true
		prop.ReferenceTarget = reflect.New(base).Interface().(ReferenceValue).TargetType()
	} else if prop.IsReference {
		prop.ReferenceTarget = base
	}

	if (prop.IDOnly || prop.IgnoreMissing) && !prop.IsReference {
		return nil, errors.New("idOnly and ignoreMissing require ref")
	}

	idx, err := fieldIndex(opts)
	if err != nil {
		return nil, err
	}
	prop.Indexed = idx
	return prop, nil
}

func fieldIndex(opts tagOptions) (*FieldIndex, error) {
	if !opts.has("index") && !opts.has("unique") && !opts.has("text") && !opts.has("expire") {
		return nil, nil
	}
	idx := &FieldIndex{
		Unique: opts.has("unique"),
		Sparse: opts.has("sparse"),
		Desc:   opts.has("desc"),
		Text:   opts.has("text"),
	}
	weight, err := opts.int64("weight")
	if err != nil {
		return nil, err
	}
	idx.Weight = int32(weight)
	if opts.has("expire") {
		expire, err := opts.int64("expire")
		if err != nil {
			return nil, err
		}
		seconds := int32(expire)
		idx.Expire = &seconds
	}
	return idx, nil
}

func typeOf(v any) reflect.Type {
	if t, ok := v.(reflect.Type); ok {
		return t
	}
	return reflect.TypeOf(v)
}
