package mapping

import (
	"context"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// Loader fetches a referenced entity into out, which is a pointer to the
// target type. It returns false when the entity does not exist.
type Loader func(ctx context.Context, out any) (bool, error)

// ReferenceValue is implemented by *Reference[T]. The codec uses it to store
// and bind lazy references without knowing T.
type ReferenceValue interface {
	// ReferenceID returns the id of the referenced entity.
	ReferenceID(m *Mapper) (any, error)
	// TargetType is the referenced struct type.
	TargetType() reflect.Type
	// Bind points the reference at id, fetched with load on first use.
	Bind(id any, load Loader)
}

// ErrReferenceNotFound is returned when a referenced entity does not exist.
var ErrReferenceNotFound = errors.New("referenced entity not found")

// Reference is a lazily loaded reference to an entity of type T. Decoded
// references only hold the target id until Get is called.
type Reference[T any] struct {
	mu     sync.Mutex
	id     any
	value  *T
	loaded bool
	load   Loader
}

// NewReference returns a resolved reference to entity.
func NewReference[T any](entity *T) Reference[T] {
	return Reference[T]{value: entity, loaded: entity != nil}
}

// ReferenceTo returns an unresolved reference to the entity with id.
func ReferenceTo[T any](id any) Reference[T] {
	return Reference[T]{id: id}
}

// ID returns the referenced id when known. References created with
// NewReference only know their id through the mapper; see ReferenceID.
func (r *Reference[T]) ID() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// IsResolved reports whether the target has been loaded or was set
// directly.
func (r *Reference[T]) IsResolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// IsEmpty reports whether the reference points nowhere.
func (r *Reference[T]) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id == nil && r.value == nil
}

// Get returns the referenced entity, loading it on first use. A missing
// target yields ErrReferenceNotFound.
func (r *Reference[T]) Get(ctx context.Context) (*T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded || r.id == nil {
		return r.value, nil
	}
	if r.load == nil {
		return nil, errors.Errorf("reference to '%v' is not bound to a datastore", r.id)
	}

	out := new(T)
	found, err := r.load(ctx, out)
	if err != nil {
		return nil, errors.Wrapf(err, "loading reference '%v'", r.id)
	}
	if !found {
		return nil, errors.Wrapf(ErrReferenceNotFound, "id '%v'", r.id)
	}
	r.value = out
	r.loaded = true
	return out, nil
}

// Set points the reference at entity.
func (r *Reference[T]) Set(entity *T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = entity
	r.loaded = entity != nil
	r.id = nil
}

func (r *Reference[T]) ReferenceID(m *Mapper) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.value == nil {
		return r.id, nil
	}
	model, err := m.Model(r.TargetType())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	id, err := model.IDValue(reflect.ValueOf(r.value))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if id == nil || model.HasZeroID(reflect.ValueOf(r.value)) {
		return nil, errors.Errorf("referenced '%s' has no id; save it first", model.Name)
	}
	return id, nil
}

func (r *Reference[T]) TargetType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (r *Reference[T]) Bind(id any, load Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = id
	r.load = load
	r.value = nil
	r.loaded = false
}
