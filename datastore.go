package morphia

import (
	"context"
	"time"

	"github.com/MorphiaOrg/morphia/codec"
	"github.com/MorphiaOrg/morphia/db/cache"
	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/MorphiaOrg/morphia/telemetry"
	"github.com/jpillora/backoff"
	adb "github.com/mongodb/anser/db"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

var tracer = telemetry.Tracer("datastore")

const (
	minConnectBackoff = 100 * time.Millisecond
	maxConnectBackoff = 5 * time.Second
)

// Datastore maps entities onto one database and runs operations on them.
// It is safe for concurrent use.
type Datastore struct {
	client   *mongo.Client
	database *mongo.Database
	conf     Config
	mapper   *mapping.Mapper
	codec    *codec.Codec
}

// Connect opens a client for conf, waits for the server to answer a ping
// and returns a datastore over conf's database.
func Connect(ctx context.Context, conf Config) (*Datastore, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	opts := options.Client().ApplyURI(conf.URI)
	if conf.ConnectTimeout > 0 {
		opts.SetConnectTimeout(conf.ConnectTimeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "problem connecting to the database")
	}
	if err = ping(ctx, client, conf); err != nil {
		grip.Warning(errors.Wrap(client.Disconnect(ctx), "disconnecting client"))
		return nil, err
	}
	return NewDatastore(client, conf)
}

func ping(ctx context.Context, client *mongo.Client, conf Config) error {
	interval := backoff.Backoff{
		Min:    minConnectBackoff,
		Max:    maxConnectBackoff,
		Factor: 2,
		Jitter: true,
	}
	for attempt := 0; ; attempt++ {
		pingCtx, cancel := withTimeout(ctx, conf.ConnectTimeout)
		err := client.Ping(pingCtx, readpref.Primary())
		cancel()
		if err == nil {
			return nil
		}
		if attempt >= conf.ConnectRetries {
			return errors.Wrapf(err, "pinging '%s' after %d attempts", conf.Database, attempt+1)
		}

		wait := interval.Duration()
		grip.Warning(message.WrapError(err, message.Fields{
			"message":  "database is not reachable, retrying",
			"attempt":  attempt + 1,
			"retries":  conf.ConnectRetries,
			"wait":     wait.String(),
			"database": conf.Database,
		}))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), "waiting to retry ping")
		case <-timer.C:
		}
	}
}

// NewDatastore returns a datastore using an already connected client.
func NewDatastore(client *mongo.Client, conf Config) (*Datastore, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	ds := &Datastore{
		client:   client,
		database: client.Database(conf.Database),
		conf:     conf,
		mapper:   mapping.NewMapper(conf.MapperOptions()),
	}
	ds.codec = codec.New(ds.mapper, &resolver{ds: ds})
	return ds, nil
}

// Close disconnects the underlying client.
func (ds *Datastore) Close(ctx context.Context) error {
	return errors.Wrap(ds.client.Disconnect(ctx), "disconnecting client")
}

func (ds *Datastore) Client() *mongo.Client     { return ds.client }
func (ds *Datastore) Database() *mongo.Database { return ds.database }
func (ds *Datastore) Mapper() *mapping.Mapper   { return ds.mapper }
func (ds *Datastore) Codec() *codec.Codec       { return ds.codec }
func (ds *Datastore) Config() Config            { return ds.conf }

// Map maps the types of values, which may be struct values, pointers or
// reflect.Types, and then creates caps, indexes and validators for any new
// entities as the configuration asks.
func (ds *Datastore) Map(ctx context.Context, values ...any) ([]*mapping.EntityModel, error) {
	models, err := ds.mapper.Map(values...)
	if err != nil {
		return nil, errors.Wrap(err, "mapping entities")
	}
	entities := make([]*mapping.EntityModel, 0, len(models))
	for _, m := range models {
		if m.IsEntity {
			entities = append(entities, m)
		}
	}

	if ds.conf.ApplyCaps {
		if err = ds.ensureCaps(ctx, entities); err != nil {
			return nil, err
		}
	}
	if ds.conf.ApplyIndexes {
		if err = ds.ensureIndexes(ctx, entities); err != nil {
			return nil, err
		}
	}
	if ds.conf.ApplyDocumentValidations {
		if err = ds.enableDocumentValidation(ctx, entities); err != nil {
			return nil, err
		}
	}
	return models, nil
}

// Collection returns the collection of model with the model's write
// concern applied.
func (ds *Datastore) Collection(model *mapping.EntityModel) *mongo.Collection {
	opts := options.Collection()
	if wc := writeConcern(model.Concern); wc != nil {
		opts.SetWriteConcern(wc)
	}
	return ds.database.Collection(model.Collection, opts)
}

func writeConcern(concern string) *writeconcern.WriteConcern {
	switch concern {
	case mapping.ConcernMajority:
		return writeconcern.Majority()
	case mapping.ConcernAcknowledged:
		return writeconcern.W1()
	case mapping.ConcernUnacknowledged:
		return writeconcern.Unacknowledged()
	case mapping.ConcernJournaled:
		return writeconcern.Journaled()
	default:
		return nil
	}
}

// WithEntityCache returns a context under which referenced documents are
// loaded at most once per cache lifetime.
func (ds *Datastore) WithEntityCache(ctx context.Context) context.Context {
	return cache.Embed(ctx, "morphia", ds.conf.CacheLifetime)
}

func (ds *Datastore) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, ds.conf.OperationTimeout)
}

// withTimeout applies timeout unless it is zero or ctx already has a
// deadline.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// observe starts a span for an operation on collection. The returned
// function ends it and records the operation's metrics.
func observe(ctx context.Context, operation, collection string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := telemetry.Start(ctx, tracer, operation, collection)
	return ctx, func(err error) {
		telemetry.End(span, err)
		telemetry.RecordOperation(ctx, operation, collection, start, err)
	}
}

// resolver loads referenced documents for the codec, going through the
// context's entity cache when there is one.
type resolver struct {
	ds *Datastore
}

func (r *resolver) Find(ctx context.Context, collection string, id any) (bson.Raw, error) {
	if doc, ok := cache.Get(ctx, collection, id); ok {
		return doc, nil
	}

	doc, err := r.ds.database.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Raw()
	if adb.ResultsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading '%v' from '%s'", id, collection)
	}

	cache.Put(ctx, collection, id, doc)
	return doc, nil
}
