// Package query runs typed finds, counts, deletes and updates against a
// mapped collection.
package query

import (
	"context"
	"reflect"

	"github.com/MorphiaOrg/morphia/codec"
	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/MorphiaOrg/morphia/query/filters"
	"github.com/MorphiaOrg/morphia/query/updates"
	"github.com/MorphiaOrg/morphia/telemetry"
	adb "github.com/mongodb/anser/db"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = telemetry.Tracer("query")

// ErrPolymorphicQueriesDisabled is returned for interface typed queries
// when polymorphic queries are turned off.
var ErrPolymorphicQueriesDisabled = errors.New("polymorphic queries are disabled")

// Query is a find over the collection of T. T is a mapped entity type or an
// interface implemented by mapped entities stored in one collection.
type Query[T any] struct {
	codec *codec.Codec
	coll  *mongo.Collection

	// model is nil for interface queries.
	model *mapping.EntityModel
	// discriminated lists the models the discriminator filter accepts.
	discriminated []*mapping.EntityModel

	filters  []filters.Filter
	validate bool
}

// Settings carry the datastore options a query needs.
type Settings struct {
	Polymorphic bool
}

// New returns a query for T over coll.
func New[T any](c *codec.Codec, coll *mongo.Collection, settings Settings) (*Query[T], error) {
	q := &Query[T]{codec: c, coll: coll, validate: true}
	mapper := c.Mapper()

	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Kind() == reflect.Interface {
		if !settings.Polymorphic {
			return nil, errors.Wrapf(ErrPolymorphicQueriesDisabled, "querying '%s'", t)
		}
		q.discriminated = mapper.ImplementersOf(t)
		if len(q.discriminated) == 0 {
			return nil, errors.Errorf("no mapped entity implements '%s'", t)
		}
		return q, nil
	}

	model, err := mapper.Model(t)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !model.IsEntity {
		return nil, errors.Errorf("'%s' is not an entity", model.Name)
	}
	q.model = model
	if mapper.IsShared(model) {
		q.discriminated = []*mapping.EntityModel{model}
	}
	return q, nil
}

// Model returns the entity model of T, or nil for interface queries.
func (q *Query[T]) Model() *mapping.EntityModel { return q.model }

// Collection returns the queried collection.
func (q *Query[T]) Collection() *mongo.Collection { return q.coll }

// Filter adds filters, which are combined with the existing ones.
func (q *Query[T]) Filter(f ...filters.Filter) *Query[T] {
	q.filters = append(q.filters, f...)
	return q
}

// DisableValidation lets filters, sorts and projections reference paths
// the model does not declare.
func (q *Query[T]) DisableValidation() *Query[T] {
	q.validate = false
	return q
}

// EnableValidation undoes DisableValidation.
func (q *Query[T]) EnableValidation() *Query[T] {
	q.validate = true
	return q
}

func (q *Query[T]) encoder() codec.FieldEncoder {
	return codec.NewFieldEncoder(q.codec, q.model, q.validate && q.model != nil)
}

// ToDocument renders the query filter, including the discriminator filter
// when one is needed.
func (q *Query[T]) ToDocument() (bson.D, error) {
	all := append([]filters.Filter{}, q.filters...)
	if f := q.discriminatorFilter(); f != nil {
		all = append(all, f)
	}
	doc, err := filters.Render(q.encoder(), all...)
	return doc, errors.Wrap(err, "rendering query filter")
}

func (q *Query[T]) discriminatorFilter() filters.Filter {
	switch len(q.discriminated) {
	case 0:
		return nil
	case 1:
		m := q.discriminated[0]
		return filters.Eq(m.DiscriminatorKey, m.Discriminator)
	default:
		values := make([]string, 0, len(q.discriminated))
		for _, m := range q.discriminated {
			values = append(values, m.Discriminator)
		}
		return filters.In(q.discriminated[0].DiscriminatorKey, values)
	}
}

func (q *Query[T]) projection(p *Projection) (bson.D, error) {
	doc, err := p.render(q.encoder())
	if err != nil || doc == nil {
		return doc, err
	}
	if len(q.discriminated) > 0 && p.includes() {
		doc = append(doc, bson.E{Key: q.discriminated[0].DiscriminatorKey, Value: 1})
	}
	return doc, nil
}

// Iterator runs the query and returns a cursor over the results.
func (q *Query[T]) Iterator(ctx context.Context, opts ...FindOptions) (*codec.Cursor[T], error) {
	ctx, span := telemetry.Start(ctx, tracer, "find", q.coll.Name())
	var err error
	defer func() { telemetry.End(span, err) }()

	filter, err := q.ToDocument()
	if err != nil {
		return nil, err
	}
	o := mergeFindOptions(opts)
	projection, err := q.projection(o.Projection)
	if err != nil {
		return nil, err
	}
	findOpts, err := o.driver(q.encoder(), projection)
	if err != nil {
		return nil, err
	}

	grip.Debug(message.Fields{
		"message":    "find",
		"collection": q.coll.Name(),
		"filter":     filter,
	})
	cursor, err := q.coll.Find(ctx, filter, findOpts)
	if err != nil {
		err = errors.Wrapf(err, "finding in '%s'", q.coll.Name())
		return nil, err
	}
	return codec.NewCursor[T](cursor, q.codec), nil
}

// List runs the query and returns every result.
func (q *Query[T]) List(ctx context.Context, opts ...FindOptions) ([]T, error) {
	cursor, err := q.Iterator(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return cursor.ToList(ctx)
}

// First returns the first result, or nil when nothing matches.
func (q *Query[T]) First(ctx context.Context, opts ...FindOptions) (*T, error) {
	o := mergeFindOptions(opts)
	o.Limit = 1
	cursor, err := q.Iterator(ctx, o)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err = cursor.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	out := cursor.Current()
	return &out, nil
}

// Count returns the number of matching documents.
func (q *Query[T]) Count(ctx context.Context, opts ...CountOptions) (int64, error) {
	ctx, span := telemetry.Start(ctx, tracer, "count", q.coll.Name())
	var err error
	defer func() { telemetry.End(span, err) }()

	filter, err := q.ToDocument()
	if err != nil {
		return 0, err
	}
	countOpts := options.Count()
	for _, o := range opts {
		if o.Skip > 0 {
			countOpts.SetSkip(o.Skip)
		}
		if o.Limit > 0 {
			countOpts.SetLimit(o.Limit)
		}
		if o.MaxTime > 0 {
			countOpts.SetMaxTime(o.MaxTime)
		}
	}
	n, err := q.coll.CountDocuments(ctx, filter, countOpts)
	if err != nil {
		err = errors.Wrapf(err, "counting in '%s'", q.coll.Name())
		return 0, err
	}
	span.SetAttributes(attribute.Int64(telemetry.CountAttribute, n))
	return n, nil
}

// Delete removes the first matching document, or all of them with Multi.
// It returns the number removed.
func (q *Query[T]) Delete(ctx context.Context, opts ...DeleteOptions) (int64, error) {
	ctx, span := telemetry.Start(ctx, tracer, "delete", q.coll.Name())
	var err error
	defer func() { telemetry.End(span, err) }()

	filter, err := q.ToDocument()
	if err != nil {
		return 0, err
	}
	var o DeleteOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	var res *mongo.DeleteResult
	if o.Multi {
		res, err = q.coll.DeleteMany(ctx, filter)
	} else {
		res, err = q.coll.DeleteOne(ctx, filter)
	}
	if err != nil {
		err = errors.Wrapf(err, "deleting from '%s'", q.coll.Name())
		return 0, err
	}
	grip.Debug(message.Fields{
		"message":    "delete",
		"collection": q.coll.Name(),
		"filter":     filter,
		"deleted":    res.DeletedCount,
	})
	return res.DeletedCount, nil
}

// FindAndDelete removes the first matching document and returns it, or nil
// when nothing matches.
func (q *Query[T]) FindAndDelete(ctx context.Context, opts ...FindOptions) (*T, error) {
	ctx, span := telemetry.Start(ctx, tracer, "find-and-delete", q.coll.Name())
	var err error
	defer func() { telemetry.End(span, err) }()

	filter, err := q.ToDocument()
	if err != nil {
		return nil, err
	}
	o := mergeFindOptions(opts)
	deleteOpts := options.FindOneAndDelete()
	sort, err := renderSort(q.encoder(), o.Sort)
	if err != nil {
		return nil, err
	}
	if sort != nil {
		deleteOpts.SetSort(sort)
	}
	projection, err := q.projection(o.Projection)
	if err != nil {
		return nil, err
	}
	if projection != nil {
		deleteOpts.SetProjection(projection)
	}

	var out *T
	out, err = q.decodeSingle(ctx, q.coll.FindOneAndDelete(ctx, filter, deleteOpts))
	return out, err
}

// Distinct returns the distinct values stored at field among the matching
// documents.
func (q *Query[T]) Distinct(ctx context.Context, field string) ([]any, error) {
	ctx, span := telemetry.Start(ctx, tracer, "distinct", q.coll.Name())
	var err error
	defer func() { telemetry.End(span, err) }()

	filter, err := q.ToDocument()
	if err != nil {
		return nil, err
	}
	path, _, err := q.encoder().Path(field)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	values, err := q.coll.Distinct(ctx, path, filter)
	if err != nil {
		err = errors.Wrapf(err, "distinct '%s' in '%s'", path, q.coll.Name())
		return nil, err
	}
	return values, nil
}

// Explain returns the server's plan for the query.
func (q *Query[T]) Explain(ctx context.Context, verbosity string, opts ...FindOptions) (bson.M, error) {
	filter, err := q.ToDocument()
	if err != nil {
		return nil, err
	}
	if verbosity == "" {
		verbosity = "queryPlanner"
	}
	o := mergeFindOptions(opts)
	find := bson.D{{Key: "find", Value: q.coll.Name()}, {Key: "filter", Value: filter}}
	sort, err := renderSort(q.encoder(), o.Sort)
	if err != nil {
		return nil, err
	}
	if sort != nil {
		find = append(find, bson.E{Key: "sort", Value: sort})
	}
	if o.Limit > 0 {
		find = append(find, bson.E{Key: "limit", Value: o.Limit})
	}

	var out bson.M
	err = q.coll.Database().RunCommand(ctx, bson.D{
		{Key: "explain", Value: find},
		{Key: "verbosity", Value: verbosity},
	}).Decode(&out)
	return out, errors.Wrapf(err, "explaining query on '%s'", q.coll.Name())
}

// Update prepares an update of the matching documents.
func (q *Query[T]) Update(u ...updates.Update) *UpdateOperation[T] {
	return &UpdateOperation[T]{query: q, updates: u}
}

// Modify prepares a find-and-modify of the first matching document.
func (q *Query[T]) Modify(u ...updates.Update) *ModifyOperation[T] {
	return &ModifyOperation[T]{query: q, updates: u}
}

// renderUpdate renders updates and, for versioned entities, increments the
// version unless the caller already changes it.
func (q *Query[T]) renderUpdate(u []updates.Update) (bson.D, error) {
	enc := q.encoder()
	doc, err := updates.Render(enc, u...)
	if err != nil {
		return nil, errors.Wrap(err, "rendering update")
	}
	if q.model == nil || q.model.Version == nil || updates.Touches(doc, q.model.Version.StoredName) {
		return doc, nil
	}
	doc, err = updates.Render(enc, append(u, updates.Inc(q.model.Version.Name, 1))...)
	return doc, errors.Wrap(err, "rendering update")
}

func (q *Query[T]) decodeSingle(ctx context.Context, res *mongo.SingleResult) (*T, error) {
	raw, err := res.Raw()
	if adb.ResultsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading result from '%s'", q.coll.Name())
	}
	var out T
	if err = q.codec.Decode(ctx, raw, &out); err != nil {
		return nil, errors.WithStack(err)
	}
	return &out, nil
}

// UpdateOperation is a pending update.
type UpdateOperation[T any] struct {
	query   *Query[T]
	updates []updates.Update
}

// ToDocument renders the update document.
func (u *UpdateOperation[T]) ToDocument() (bson.D, error) {
	return u.query.renderUpdate(u.updates)
}

// Execute applies the update.
func (u *UpdateOperation[T]) Execute(ctx context.Context, opts ...UpdateOptions) (*mongo.UpdateResult, error) {
	q := u.query
	ctx, span := telemetry.Start(ctx, tracer, "update", q.coll.Name())
	var err error
	defer func() { telemetry.End(span, err) }()

	filter, err := q.ToDocument()
	if err != nil {
		return nil, err
	}
	update, err := u.ToDocument()
	if err != nil {
		return nil, err
	}
	var o UpdateOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	updateOpts := options.Update().SetUpsert(o.Upsert)

	var res *mongo.UpdateResult
	if o.Multi {
		res, err = q.coll.UpdateMany(ctx, filter, update, updateOpts)
	} else {
		res, err = q.coll.UpdateOne(ctx, filter, update, updateOpts)
	}
	if err != nil {
		err = errors.Wrapf(err, "updating '%s'", q.coll.Name())
		return nil, err
	}
	grip.Debug(message.Fields{
		"message":    "update",
		"collection": q.coll.Name(),
		"filter":     filter,
		"update":     update,
		"matched":    res.MatchedCount,
		"modified":   res.ModifiedCount,
	})
	return res, nil
}

// ModifyOperation is a pending find-and-modify.
type ModifyOperation[T any] struct {
	query   *Query[T]
	updates []updates.Update
}

// ToDocument renders the update document.
func (m *ModifyOperation[T]) ToDocument() (bson.D, error) {
	return m.query.renderUpdate(m.updates)
}

// Execute applies the update to the first match and returns the document
// before the change, or after it with ReturnNew. It returns nil when
// nothing matched and nothing was upserted.
func (m *ModifyOperation[T]) Execute(ctx context.Context, opts ...ModifyOptions) (*T, error) {
	q := m.query
	ctx, span := telemetry.Start(ctx, tracer, "modify", q.coll.Name())
	var err error
	defer func() { telemetry.End(span, err) }()

	filter, err := q.ToDocument()
	if err != nil {
		return nil, err
	}
	update, err := m.ToDocument()
	if err != nil {
		return nil, err
	}
	var o ModifyOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	modifyOpts := options.FindOneAndUpdate().SetUpsert(o.Upsert)
	if o.ReturnNew {
		modifyOpts.SetReturnDocument(options.After)
	}
	sort, err := renderSort(q.encoder(), o.Sort)
	if err != nil {
		return nil, err
	}
	if sort != nil {
		modifyOpts.SetSort(sort)
	}
	projection, err := q.projection(o.Projection)
	if err != nil {
		return nil, err
	}
	if projection != nil {
		modifyOpts.SetProjection(projection)
	}

	var out *T
	out, err = q.decodeSingle(ctx, q.coll.FindOneAndUpdate(ctx, filter, update, modifyOpts))
	return out, err
}
