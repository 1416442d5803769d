package morphia

import (
	"context"
	"reflect"

	"github.com/MorphiaOrg/morphia/aggregation"
	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/MorphiaOrg/morphia/query"
	"github.com/MorphiaOrg/morphia/query/filters"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

func (ds *Datastore) querySettings() query.Settings {
	return query.Settings{Polymorphic: ds.conf.EnablePolymorphicQueries}
}

// Find returns a query over the collection of T. T may be an interface when
// polymorphic queries are enabled, as long as every mapped entity
// implementing it is stored in the same collection.
func Find[T any](ds *Datastore) (*query.Query[T], error) {
	coll, err := ds.collectionFor(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	return query.New[T](ds.codec, coll, ds.querySettings())
}

// FindIn returns a query for T over the named collection instead of T's
// own.
func FindIn[T any](ds *Datastore, collection string) (*query.Query[T], error) {
	return query.New[T](ds.codec, ds.database.Collection(collection), ds.querySettings())
}

// FindByID returns the T with id, or nil when there is none.
func FindByID[T any](ctx context.Context, ds *Datastore, id any) (*T, error) {
	q, err := Find[T](ds)
	if err != nil {
		return nil, err
	}
	return q.Filter(filters.Eq("_id", id)).First(ctx)
}

func (ds *Datastore) collectionFor(t reflect.Type) (*mongo.Collection, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Interface {
		model, err := ds.mapper.Model(t)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if !model.IsEntity {
			return nil, errors.Errorf("'%s' is not an entity", model.Name)
		}
		return ds.Collection(model), nil
	}

	implementers := ds.mapper.ImplementersOf(t)
	if len(implementers) == 0 {
		return nil, errors.Errorf("no mapped entity implements '%s'", t)
	}
	for _, m := range implementers[1:] {
		if m.Collection != implementers[0].Collection {
			return nil, errors.Errorf("implementers of '%s' are stored in both '%s' and '%s'", t, implementers[0].Collection, m.Collection)
		}
	}
	return ds.Collection(implementers[0]), nil
}

// Aggregate starts a pipeline. The source is an entity value, a pointer to
// one or its reflect.Type, whose collection and model the pipeline uses, or
// a collection name for a pipeline without a model.
func (ds *Datastore) Aggregate(source any) (*aggregation.Aggregation, error) {
	if name, ok := source.(string); ok {
		if name == "" {
			return nil, errors.New("collection name must not be empty")
		}
		return aggregation.New(ds.codec, ds.database.Collection(name), nil), nil
	}

	var (
		model *mapping.EntityModel
		err   error
	)
	if t, ok := source.(reflect.Type); ok {
		model, err = ds.mapper.Model(t)
	} else {
		model, err = ds.mapper.ModelOf(source)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !model.IsEntity {
		return nil, errors.Errorf("'%s' is not an entity", model.Name)
	}
	return aggregation.New(ds.codec, ds.Collection(model), model), nil
}
