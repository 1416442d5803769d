// Package codec converts mapped Go values to and from BSON documents using
// the models built by the mapping package.
package codec

import (
	"context"
	"reflect"

	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
)

// Resolver fetches referenced documents. Find returns a nil document when
// nothing matches id.
type Resolver interface {
	Find(ctx context.Context, collection string, id any) (bson.Raw, error)
}

// Codec encodes and decodes mapped values.
type Codec struct {
	mapper   *mapping.Mapper
	registry *bsoncodec.Registry
	resolver Resolver
}

// New returns a codec over mapper. The resolver may be nil, in which case
// eager references cannot be decoded.
func New(mapper *mapping.Mapper, resolver Resolver) *Codec {
	return &Codec{
		mapper:   mapper,
		registry: bson.DefaultRegistry,
		resolver: resolver,
	}
}

// WithRegistry returns a copy of the codec that hands leaf values to the
// driver using registry.
func (c *Codec) WithRegistry(registry *bsoncodec.Registry) *Codec {
	out := *c
	out.registry = registry
	return &out
}

// WithResolver returns a copy of the codec resolving references with r.
func (c *Codec) WithResolver(r Resolver) *Codec {
	out := *c
	out.resolver = r
	return &out
}

// Mapper returns the mapper the codec uses.
func (c *Codec) Mapper() *mapping.Mapper { return c.mapper }

// Registry returns the driver registry used for leaf values.
func (c *Codec) Registry() *bsoncodec.Registry { return c.registry }

// ValueFor encodes value as it would be stored at path on model, for use in
// filters and updates. It returns the stored path as well.
func (c *Codec) ValueFor(model *mapping.EntityModel, path string, value any) (string, any, error) {
	enc := NewFieldEncoder(c, model, false)
	stored, prop, err := enc.Path(path)
	if err != nil {
		return "", nil, errors.WithStack(err)
	}
	out, err := enc.Value(prop, value)
	if err != nil {
		return "", nil, errors.Wrapf(err, "encoding value for '%s'", path)
	}
	return stored, out, nil
}

// addressable returns v itself when it can be addressed, or an addressable
// copy.
func addressable(v reflect.Value) reflect.Value {
	if v.CanAddr() {
		return v
	}
	out := reflect.New(v.Type()).Elem()
	out.Set(v)
	return out
}
