package morphia

import (
	"context"
	"reflect"

	"github.com/MorphiaOrg/morphia/db"
	"github.com/MorphiaOrg/morphia/mapping"
	adb "github.com/mongodb/anser/db"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var objectIDType = reflect.TypeOf(primitive.ObjectID{})

// entityRef is a pointer to a mapped entity together with its model.
type entityRef struct {
	model  *mapping.EntityModel
	value  reflect.Value
	entity any
}

func (ds *Datastore) entityOf(entity any) (*entityRef, error) {
	rv := reflect.ValueOf(entity)
	if !rv.IsValid() || rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, errors.Errorf("entity must be a non-nil pointer to a struct, not %T", entity)
	}
	model, err := ds.mapper.Model(rv.Type())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !model.IsEntity {
		return nil, errors.Errorf("'%s' is not an entity", model.Name)
	}
	return &entityRef{model: model, value: rv.Elem(), entity: entity}, nil
}

func (e *entityRef) id() (any, error) {
	id, err := e.model.IDValue(e.value)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return id, nil
}

func (e *entityRef) requireID() (any, error) {
	if e.model.HasZeroID(e.value) {
		return nil, errors.Errorf("'%s' has no id", e.model.Name)
	}
	return e.id()
}

// generateID fills a zero ObjectID id.
func (e *entityRef) generateID() {
	if e.model.ID == nil || !e.model.HasZeroID(e.value) {
		return
	}
	field := e.model.ID.Value(e.value)
	if field.Type() == objectIDType {
		field.Set(reflect.ValueOf(primitive.NewObjectID()))
	}
}

// adoptID stores the id the server generated for an insert.
func (e *entityRef) adoptID(id any) {
	if e.model.ID == nil || id == nil || !e.model.HasZeroID(e.value) {
		return
	}
	field := e.model.ID.Value(e.value)
	v := reflect.ValueOf(id)
	if v.Type().AssignableTo(field.Type()) {
		field.Set(v)
	}
}

func (e *entityRef) versioned() bool { return e.model.Version != nil }

func (e *entityRef) version() int64 {
	if !e.versioned() {
		return 0
	}
	return e.model.Version.Value(e.value).Int()
}

func (e *entityRef) setVersion(v int64) {
	if e.versioned() {
		e.model.Version.Value(e.value).SetInt(v)
	}
}

func (e *entityRef) idFilter(id any) bson.D {
	return bson.D{{Key: "_id", Value: id}}
}

func (e *entityRef) versionFilter(id any, version int64) bson.D {
	filter := e.idFilter(id)
	if e.versioned() {
		filter = append(filter, bson.E{Key: e.model.Version.StoredName, Value: version})
	}
	return filter
}

// prepareInsert runs the pre-persist callbacks, fills the id and starts the
// version. It returns the previous version for restoring on failure.
func (ds *Datastore) prepareInsert(ctx context.Context, e *entityRef) (bson.D, int64, error) {
	if err := ds.mapper.FirePrePersist(ctx, e.model, e.entity); err != nil {
		return nil, 0, err
	}
	e.generateID()
	previous := e.version()
	if e.versioned() && previous == 0 {
		e.setVersion(1)
	}
	doc, err := ds.codec.Encode(e.entity)
	if err != nil {
		e.setVersion(previous)
		return nil, 0, errors.Wrapf(err, "encoding '%s'", e.model.Name)
	}
	return doc, previous, nil
}

// Insert writes a new entity. A zero ObjectID id is generated first and a
// zero version starts at 1.
func (ds *Datastore) Insert(ctx context.Context, entity any) (err error) {
	e, err := ds.entityOf(entity)
	if err != nil {
		return err
	}
	coll := ds.Collection(e.model)
	ctx, done := observe(ctx, "insert", coll.Name())
	defer func() { done(err) }()
	ctx, cancel := ds.operationContext(ctx)
	defer cancel()

	doc, previous, err := ds.prepareInsert(ctx, e)
	if err != nil {
		return err
	}
	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		e.setVersion(previous)
		return errors.Wrapf(err, "inserting into '%s'", coll.Name())
	}
	e.adoptID(res.InsertedID)

	grip.Debug(message.Fields{
		"message":    "inserted entity",
		"collection": coll.Name(),
		"id":         res.InsertedID,
	})
	return ds.mapper.FirePostPersist(ctx, e.model, e.entity, doc)
}

// InsertMany writes new entities of one type in a single ordered batch.
func (ds *Datastore) InsertMany(ctx context.Context, entities ...any) (err error) {
	if len(entities) == 0 {
		return nil
	}
	refs := make([]*entityRef, 0, len(entities))
	for _, entity := range entities {
		e, err := ds.entityOf(entity)
		if err != nil {
			return err
		}
		if len(refs) > 0 && refs[0].model.Collection != e.model.Collection {
			return errors.Errorf("cannot insert '%s' and '%s' in one batch", refs[0].model.Name, e.model.Name)
		}
		refs = append(refs, e)
	}

	coll := ds.Collection(refs[0].model)
	ctx, done := observe(ctx, "insertMany", coll.Name())
	defer func() { done(err) }()
	ctx, cancel := ds.operationContext(ctx)
	defer cancel()

	docs := make([]any, 0, len(refs))
	previous := make([]int64, 0, len(refs))
	restore := func() {
		for i, v := range previous {
			refs[i].setVersion(v)
		}
	}
	for _, e := range refs {
		doc, prev, err := ds.prepareInsert(ctx, e)
		if err != nil {
			restore()
			return err
		}
		docs = append(docs, doc)
		previous = append(previous, prev)
	}

	res, err := coll.InsertMany(ctx, docs)
	if err != nil {
		restore()
		return errors.Wrapf(err, "inserting %d documents into '%s'", len(docs), coll.Name())
	}

	catcher := grip.NewBasicCatcher()
	for i, e := range refs {
		if i < len(res.InsertedIDs) {
			e.adoptID(res.InsertedIDs[i])
		}
		catcher.Add(ds.mapper.FirePostPersist(ctx, e.model, e.entity, docs[i].(bson.D)))
	}
	return catcher.Resolve()
}

// Save inserts an entity without an id and otherwise replaces the stored
// document, creating it if needed. Versioned entities only replace the
// stored document when its version matches and get ErrConcurrentModification
// otherwise.
func (ds *Datastore) Save(ctx context.Context, entity any) (err error) {
	e, err := ds.entityOf(entity)
	if err != nil {
		return err
	}
	if e.model.HasZeroID(e.value) {
		return ds.Insert(ctx, entity)
	}

	coll := ds.Collection(e.model)
	ctx, done := observe(ctx, "save", coll.Name())
	defer func() { done(err) }()
	ctx, cancel := ds.operationContext(ctx)
	defer cancel()

	if err = ds.mapper.FirePrePersist(ctx, e.model, e.entity); err != nil {
		return err
	}
	id, err := e.id()
	if err != nil {
		return err
	}

	if !e.versioned() {
		doc, err := ds.codec.Encode(e.entity)
		if err != nil {
			return errors.Wrapf(err, "encoding '%s'", e.model.Name)
		}
		if _, err = coll.ReplaceOne(ctx, e.idFilter(id), doc, options.Replace().SetUpsert(true)); err != nil {
			return errors.Wrapf(err, "saving '%v' to '%s'", id, coll.Name())
		}
		return ds.mapper.FirePostPersist(ctx, e.model, e.entity, doc)
	}

	previous := e.version()
	e.setVersion(previous + 1)
	doc, err := ds.codec.Encode(e.entity)
	if err != nil {
		e.setVersion(previous)
		return errors.Wrapf(err, "encoding '%s'", e.model.Name)
	}

	if previous == 0 {
		_, err = coll.InsertOne(ctx, doc)
		if db.IsDuplicateKey(err) {
			e.setVersion(previous)
			return errors.Wrapf(ErrConcurrentModification, "'%s' with id '%v' already exists", e.model.Name, id)
		}
	} else {
		var res *mongo.UpdateResult
		res, err = coll.ReplaceOne(ctx, e.versionFilter(id, previous), doc)
		if err == nil && res.MatchedCount == 0 {
			e.setVersion(previous)
			return errors.Wrapf(ErrConcurrentModification, "'%s' with id '%v' is not at version %d", e.model.Name, id, previous)
		}
	}
	if err != nil {
		e.setVersion(previous)
		return errors.Wrapf(err, "saving '%v' to '%s'", id, coll.Name())
	}
	return ds.mapper.FirePostPersist(ctx, e.model, e.entity, doc)
}

// Replace overwrites the stored document of an existing entity. It returns
// ErrNotFound when nothing has the entity's id, or ErrConcurrentModification
// when a versioned entity is out of date.
func (ds *Datastore) Replace(ctx context.Context, entity any) (err error) {
	return ds.rewrite(ctx, "replace", entity, func(ctx context.Context, coll *mongo.Collection, filter, doc bson.D) (*mongo.UpdateResult, error) {
		return coll.ReplaceOne(ctx, filter, doc)
	})
}

// Merge sets the stored fields of an existing entity from the entity's
// encoded values, leaving fields that encode to nothing untouched.
func (ds *Datastore) Merge(ctx context.Context, entity any) (err error) {
	return ds.rewrite(ctx, "merge", entity, func(ctx context.Context, coll *mongo.Collection, filter, doc bson.D) (*mongo.UpdateResult, error) {
		set := make(bson.D, 0, len(doc))
		for _, elem := range doc {
			if elem.Key != "_id" {
				set = append(set, elem)
			}
		}
		if len(set) == 0 {
			n, err := coll.CountDocuments(ctx, filter)
			return &mongo.UpdateResult{MatchedCount: n}, err
		}
		return coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: set}})
	})
}

type rewriteFunc func(ctx context.Context, coll *mongo.Collection, filter, doc bson.D) (*mongo.UpdateResult, error)

func (ds *Datastore) rewrite(ctx context.Context, operation string, entity any, write rewriteFunc) (err error) {
	e, err := ds.entityOf(entity)
	if err != nil {
		return err
	}
	id, err := e.requireID()
	if err != nil {
		return errors.Wrapf(err, "cannot %s", operation)
	}

	coll := ds.Collection(e.model)
	ctx, done := observe(ctx, operation, coll.Name())
	defer func() { done(err) }()
	ctx, cancel := ds.operationContext(ctx)
	defer cancel()

	if err = ds.mapper.FirePrePersist(ctx, e.model, e.entity); err != nil {
		return err
	}
	previous := e.version()
	if e.versioned() {
		e.setVersion(previous + 1)
	}
	doc, err := ds.codec.Encode(e.entity)
	if err != nil {
		e.setVersion(previous)
		return errors.Wrapf(err, "encoding '%s'", e.model.Name)
	}

	res, err := write(ctx, coll, e.versionFilter(id, previous), doc)
	if err != nil {
		e.setVersion(previous)
		return errors.Wrapf(err, "%s of '%v' in '%s'", operation, id, coll.Name())
	}
	if res.MatchedCount == 0 {
		e.setVersion(previous)
		if e.versioned() {
			return errors.Wrapf(ErrConcurrentModification, "'%s' with id '%v' at version %d", e.model.Name, id, previous)
		}
		return errors.Wrapf(ErrNotFound, "'%s' with id '%v'", e.model.Name, id)
	}
	return ds.mapper.FirePostPersist(ctx, e.model, e.entity, doc)
}

// Delete removes the stored document of entity and returns the number of
// documents deleted. Versioned entities are only deleted at their current
// version.
func (ds *Datastore) Delete(ctx context.Context, entity any) (count int64, err error) {
	e, err := ds.entityOf(entity)
	if err != nil {
		return 0, err
	}
	id, err := e.requireID()
	if err != nil {
		return 0, errors.Wrap(err, "cannot delete")
	}

	coll := ds.Collection(e.model)
	ctx, done := observe(ctx, "delete", coll.Name())
	defer func() { done(err) }()
	ctx, cancel := ds.operationContext(ctx)
	defer cancel()

	filter := e.idFilter(id)
	if e.version() != 0 {
		filter = e.versionFilter(id, e.version())
	}
	res, err := coll.DeleteOne(ctx, filter)
	if err != nil {
		return 0, errors.Wrapf(err, "deleting '%v' from '%s'", id, coll.Name())
	}
	if res.DeletedCount == 0 && e.version() != 0 {
		return 0, errors.Wrapf(ErrConcurrentModification, "'%s' with id '%v' at version %d", e.model.Name, id, e.version())
	}
	return res.DeletedCount, nil
}

// Refresh reloads entity from its stored document, discarding unsaved
// changes. It returns ErrNotFound when the document no longer exists.
func (ds *Datastore) Refresh(ctx context.Context, entity any) (err error) {
	e, err := ds.entityOf(entity)
	if err != nil {
		return err
	}
	id, err := e.requireID()
	if err != nil {
		return errors.Wrap(err, "cannot refresh")
	}

	coll := ds.Collection(e.model)
	ctx, done := observe(ctx, "refresh", coll.Name())
	defer func() { done(err) }()
	ctx, cancel := ds.operationContext(ctx)
	defer cancel()

	raw, err := coll.FindOne(ctx, e.idFilter(id)).Raw()
	if adb.ResultsNotFound(err) {
		return errors.Wrapf(ErrNotFound, "'%s' with id '%v'", e.model.Name, id)
	}
	if err != nil {
		return errors.Wrapf(err, "loading '%v' from '%s'", id, coll.Name())
	}

	e.value.Set(reflect.Zero(e.value.Type()))
	return errors.Wrapf(ds.codec.Decode(ctx, raw, e.entity), "decoding '%s'", e.model.Name)
}
