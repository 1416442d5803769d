package mapping

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// PrePersister is called before an entity is encoded for a write.
type PrePersister interface {
	PrePersist(ctx context.Context) error
}

// PostPersister is called after an entity was written, with the stored
// document.
type PostPersister interface {
	PostPersist(ctx context.Context, doc bson.D) error
}

// PreLoader is called with the raw document before an entity is decoded.
type PreLoader interface {
	PreLoad(ctx context.Context, doc bson.Raw) error
}

// PostLoader is called after an entity was decoded.
type PostLoader interface {
	PostLoad(ctx context.Context, doc bson.Raw) error
}

// EntityInterceptor observes the lifecycle of every entity its Applies
// method accepts. Register global interceptors with Mapper.AddInterceptor or
// return type specific ones from EntityListeners.
type EntityInterceptor interface {
	Applies(model *EntityModel) bool
	PrePersist(ctx context.Context, entity any, model *EntityModel) error
	PostPersist(ctx context.Context, entity any, doc bson.D, model *EntityModel) error
	PreLoad(ctx context.Context, entity any, doc bson.Raw, model *EntityModel) error
	PostLoad(ctx context.Context, entity any, doc bson.Raw, model *EntityModel) error
}

// ListenerProvider is implemented by entities with their own interceptors.
type ListenerProvider interface {
	EntityListeners() []EntityInterceptor
}

// NoopInterceptor applies to every model and does nothing. Embed it to
// implement only some callbacks.
type NoopInterceptor struct{}

func (NoopInterceptor) Applies(*EntityModel) bool { return true }
func (NoopInterceptor) PrePersist(context.Context, any, *EntityModel) error {
	return nil
}
func (NoopInterceptor) PostPersist(context.Context, any, bson.D, *EntityModel) error {
	return nil
}
func (NoopInterceptor) PreLoad(context.Context, any, bson.Raw, *EntityModel) error {
	return nil
}
func (NoopInterceptor) PostLoad(context.Context, any, bson.Raw, *EntityModel) error {
	return nil
}

// AddInterceptor registers a global interceptor.
func (m *Mapper) AddInterceptor(i EntityInterceptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interceptors = append(m.interceptors, i)
}

// Interceptors returns the interceptors that apply to entity: its own
// listeners first, then the global ones.
func (m *Mapper) Interceptors(model *EntityModel, entity any) []EntityInterceptor {
	var out []EntityInterceptor
	if lp, ok := entity.(ListenerProvider); ok {
		out = append(out, lp.EntityListeners()...)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, i := range m.interceptors {
		if i.Applies(model) {
			out = append(out, i)
		}
	}
	return out
}

// FirePrePersist runs the entity's own PrePersist and then the
// interceptors.
func (m *Mapper) FirePrePersist(ctx context.Context, model *EntityModel, entity any) error {
	if h, ok := entity.(PrePersister); ok {
		if err := h.PrePersist(ctx); err != nil {
			return errors.Wrapf(err, "pre-persist of '%s'", model.Name)
		}
	}
	for _, i := range m.Interceptors(model, entity) {
		if err := i.PrePersist(ctx, entity, model); err != nil {
			return errors.Wrapf(err, "pre-persist interceptor of '%s'", model.Name)
		}
	}
	return nil
}

// FirePostPersist runs the entity's own PostPersist and then the
// interceptors.
func (m *Mapper) FirePostPersist(ctx context.Context, model *EntityModel, entity any, doc bson.D) error {
	if h, ok := entity.(PostPersister); ok {
		if err := h.PostPersist(ctx, doc); err != nil {
			return errors.Wrapf(err, "post-persist of '%s'", model.Name)
		}
	}
	for _, i := range m.Interceptors(model, entity) {
		if err := i.PostPersist(ctx, entity, doc, model); err != nil {
			return errors.Wrapf(err, "post-persist interceptor of '%s'", model.Name)
		}
	}
	return nil
}

// FirePreLoad runs the entity's own PreLoad and then the interceptors.
func (m *Mapper) FirePreLoad(ctx context.Context, model *EntityModel, entity any, doc bson.Raw) error {
	if h, ok := entity.(PreLoader); ok {
		if err := h.PreLoad(ctx, doc); err != nil {
			return errors.Wrapf(err, "pre-load of '%s'", model.Name)
		}
	}
	for _, i := range m.Interceptors(model, entity) {
		if err := i.PreLoad(ctx, entity, doc, model); err != nil {
			return errors.Wrapf(err, "pre-load interceptor of '%s'", model.Name)
		}
	}
	return nil
}

// FirePostLoad runs the entity's own PostLoad and then the interceptors.
func (m *Mapper) FirePostLoad(ctx context.Context, model *EntityModel, entity any, doc bson.Raw) error {
	if h, ok := entity.(PostLoader); ok {
		if err := h.PostLoad(ctx, doc); err != nil {
			return errors.Wrapf(err, "post-load of '%s'", model.Name)
		}
	}
	for _, i := range m.Interceptors(model, entity) {
		if err := i.PostLoad(ctx, entity, doc, model); err != nil {
			return errors.Wrapf(err, "post-load interceptor of '%s'", model.Name)
		}
	}
	return nil
}
