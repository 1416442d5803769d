package morphia

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/MorphiaOrg/morphia/query"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

type writer struct {
	mapping.Entity `morphia:"collection=writers"`
	ID             primitive.ObjectID `bson:"_id"`
	Name           string             `morphia:"index,unique"`
	Country        string             `bson:"cc"`
}

type article struct {
	mapping.Entity `morphia:"collection=articles,concern=majority"`
	ID             primitive.ObjectID `bson:"_id"`
	Title          string             `morphia:"text,weight=5"`
	Body           string
	Words          int     `bson:"words"`
	Writer         *writer `morphia:"ref"`
	Tags           []string
	Version        int64 `morphia:"version"`

	events []string
}

func (a *article) PrePersist(context.Context) error {
	a.events = append(a.events, "prePersist")
	return nil
}

func (a *article) PostPersist(_ context.Context, doc bson.D) error {
	a.events = append(a.events, "postPersist")
	return nil
}

func (a *article) Indexes() []mapping.Index {
	return []mapping.Index{{
		Name:   "words_tags",
		Fields: []mapping.IndexField{{Name: "words", Type: mapping.Descending}, {Name: "tags"}},
	}}
}

type logEntry struct {
	mapping.Entity `morphia:"collection=log,cappedSize=65536,cappedCount=100"`
	ID             primitive.ObjectID `bson:"_id"`
	Message        string
	At             time.Time
}

type note struct {
	mapping.Entity `morphia:"collection=notes,validationLevel=strict,validationAction=error"`
	ID             string `bson:"_id"`
	Text           string
}

func (note) Validation() bson.M {
	return bson.M{"text": bson.M{"$type": "string"}}
}

type address struct {
	Street string
}

type media interface {
	Length() int
}

type podcast struct {
	mapping.Entity `morphia:"collection=media"`
	ID             primitive.ObjectID `bson:"_id"`
	Minutes        int
}

func (p *podcast) Length() int { return p.Minutes }

type video struct {
	mapping.Entity `morphia:"collection=media"`
	ID             primitive.ObjectID `bson:"_id"`
	Seconds        int
}

func (v *video) Length() int { return v.Seconds / 60 }

type playable interface {
	Play() string
}

type song struct {
	mapping.Entity `morphia:"collection=songs"`
	ID             primitive.ObjectID `bson:"_id"`
}

func (*song) Play() string { return "song" }

type clip struct {
	mapping.Entity `morphia:"collection=clips"`
	ID             primitive.ObjectID `bson:"_id"`
}

func (*clip) Play() string { return "clip" }

// offlineDatastore returns a datastore whose client never reaches a
// server, for tests that only build requests.
func offlineDatastore(t *testing.T, edit func(*Config)) *Datastore {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI("mongodb://localhost:1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	conf := DefaultConfig()
	conf.Database = "offline"
	if edit != nil {
		edit(&conf)
	}
	ds, err := NewDatastore(client, conf)
	require.NoError(t, err)
	return ds
}

func TestNewDatastore(t *testing.T) {
	_, err := NewDatastore(nil, DefaultConfig())
	assert.Error(t, err)

	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI("mongodb://localhost:1"))
	require.NoError(t, err)
	defer func() { _ = client.Disconnect(context.Background()) }()

	_, err = NewDatastore(client, DefaultConfig())
	assert.Error(t, err, "config without a database is invalid")

	ds := offlineDatastore(t, func(c *Config) { c.PropertyNaming = mapping.SnakeCase })
	assert.Equal(t, "offline", ds.Database().Name())
	assert.Equal(t, mapping.SnakeCase, ds.Mapper().Options().PropertyNaming)
	assert.Same(t, ds.Mapper(), ds.Codec().Mapper())
}

func TestConnectFailsAfterRetries(t *testing.T) {
	conf := DefaultConfig()
	conf.URI = "mongodb://localhost:1/?serverSelectionTimeoutMS=50"
	conf.Database = "unreachable"
	conf.ConnectTimeout = 50 * time.Millisecond
	conf.ConnectRetries = 1

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := Connect(ctx, conf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 attempts")
}

func TestCollectionWriteConcern(t *testing.T) {
	ds := offlineDatastore(t, nil)
	model, err := ds.Mapper().ModelOf(article{})
	require.NoError(t, err)
	coll := ds.Collection(model)
	assert.Equal(t, "articles", coll.Name())
	assert.Equal(t, writeconcern.Majority(), coll.WriteConcern())

	for concern, expected := range map[string]*writeconcern.WriteConcern{
		mapping.ConcernAcknowledged:   writeconcern.W1(),
		mapping.ConcernUnacknowledged: writeconcern.Unacknowledged(),
		mapping.ConcernJournaled:      writeconcern.Journaled(),
		"":                            nil,
	} {
		assert.Equal(t, expected, writeConcern(concern), concern)
	}
}

func TestIndexModels(t *testing.T) {
	ds := offlineDatastore(t, nil)
	model, err := ds.Mapper().ModelOf(article{})
	require.NoError(t, err)
	indexes, err := ds.Mapper().IndexesFor(model)
	require.NoError(t, err)

	models := IndexModels(indexes)
	require.Len(t, models, 2)

	text := models[0]
	assert.Equal(t, bson.D{{Key: "title", Value: "text"}}, text.Keys)
	assert.Equal(t, bson.D{{Key: "title", Value: int32(5)}}, text.Options.Weights)
	assert.Nil(t, text.Options.Name)

	compound := models[1]
	assert.Equal(t, bson.D{{Key: "words", Value: -1}, {Key: "tags", Value: 1}}, compound.Keys)
	require.NotNil(t, compound.Options.Name)
	assert.Equal(t, "words_tags", *compound.Options.Name)
	assert.Nil(t, compound.Options.Unique)

	expire := int32(60)
	ttl := IndexModels([]mapping.Index{{
		Fields:             []mapping.IndexField{{Name: "at"}},
		Unique:             true,
		Sparse:             true,
		ExpireAfterSeconds: &expire,
		PartialFilter:      bson.D{{Key: "at", Value: bson.D{{Key: "$exists", Value: true}}}},
		DefaultLanguage:    "french",
	}})[0]
	assert.True(t, *ttl.Options.Unique)
	assert.True(t, *ttl.Options.Sparse)
	assert.Equal(t, int32(60), *ttl.Options.ExpireAfterSeconds)
	assert.NotNil(t, ttl.Options.PartialFilterExpression)
	assert.Equal(t, "french", *ttl.Options.DefaultLanguage)
}

func TestEntityOf(t *testing.T) {
	ds := offlineDatastore(t, nil)

	_, err := ds.entityOf(article{})
	assert.Error(t, err, "values are not addressable")
	_, err = ds.entityOf((*article)(nil))
	assert.Error(t, err)
	_, err = ds.entityOf(nil)
	assert.Error(t, err)
	_, err = ds.entityOf(&address{})
	assert.Error(t, err, "embedded types are not entities")

	a := &article{Version: 3}
	e, err := ds.entityOf(a)
	require.NoError(t, err)
	assert.True(t, e.versioned())
	assert.EqualValues(t, 3, e.version())
	e.setVersion(4)
	assert.EqualValues(t, 4, a.Version)

	filter := e.versionFilter("id", 4)
	assert.Equal(t, bson.D{{Key: "_id", Value: "id"}, {Key: "version", Value: int64(4)}}, filter)

	_, err = e.requireID()
	assert.Error(t, err)
}

func TestPrepareInsert(t *testing.T) {
	ds := offlineDatastore(t, nil)
	ctx := context.Background()

	a := &article{Title: "On Mapping", Words: 1200}
	e, err := ds.entityOf(a)
	require.NoError(t, err)

	doc, previous, err := ds.prepareInsert(ctx, e)
	require.NoError(t, err)
	assert.Zero(t, previous)
	assert.False(t, a.ID.IsZero(), "object ids are generated")
	assert.EqualValues(t, 1, a.Version, "versions start at one")
	assert.Equal(t, []string{"prePersist"}, a.events)

	require.NotEmpty(t, doc)
	assert.Equal(t, "_id", doc[0].Key)
	assert.Equal(t, a.ID, doc[0].Value)
	assert.Contains(t, doc, bson.E{Key: "version", Value: int64(1)})

	n := &note{Text: "plain"}
	e, err = ds.entityOf(n)
	require.NoError(t, err)
	_, _, err = ds.prepareInsert(ctx, e)
	require.NoError(t, err)
	assert.Empty(t, n.ID, "only object ids are generated")
	e.adoptID("generated")
	assert.Equal(t, "generated", n.ID)
}

func TestFindQueries(t *testing.T) {
	ds := offlineDatastore(t, func(c *Config) { c.EnablePolymorphicQueries = true })

	q, err := Find[article](ds)
	require.NoError(t, err)
	assert.Equal(t, "articles", q.Collection().Name())

	in, err := FindIn[article](ds, "archive")
	require.NoError(t, err)
	assert.Equal(t, "archive", in.Collection().Name())

	_, err = Find[address](ds)
	assert.Error(t, err)

	// nothing here declares caps or indexes, so mapping needs no server
	models, err := ds.Map(context.Background(), podcast{}, video{}, song{}, clip{})
	require.NoError(t, err)
	assert.Len(t, models, 4)

	mq, err := Find[media](ds)
	require.NoError(t, err)
	assert.Equal(t, "media", mq.Collection().Name())
	filter, err := mq.ToDocument()
	require.NoError(t, err)
	assert.Len(t, filter, 1)

	_, err = Find[playable](ds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stored in both")

	mono := offlineDatastore(t, nil)
	_, err = mono.Mapper().Map(podcast{}, video{})
	require.NoError(t, err)
	_, err = Find[media](mono)
	assert.True(t, errors.Is(err, query.ErrPolymorphicQueriesDisabled))
}

func TestAggregateSources(t *testing.T) {
	ds := offlineDatastore(t, nil)

	agg, err := ds.Aggregate("events")
	require.NoError(t, err)
	assert.Nil(t, agg.Model())
	assert.Equal(t, "events", agg.Collection().Name())

	agg, err = ds.Aggregate(&article{})
	require.NoError(t, err)
	require.NotNil(t, agg.Model())
	assert.Equal(t, "articles", agg.Collection().Name())

	agg, err = ds.Aggregate(reflect.TypeOf(writer{}))
	require.NoError(t, err)
	assert.Equal(t, "writers", agg.Collection().Name())

	_, err = ds.Aggregate("")
	assert.Error(t, err)
	_, err = ds.Aggregate(address{})
	assert.Error(t, err)
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := withTimeout(context.Background(), 0)
	_, ok := ctx.Deadline()
	assert.False(t, ok)
	cancel()

	ctx, cancel = withTimeout(context.Background(), time.Minute)
	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	cancel()

	parent, parentCancel := context.WithTimeout(context.Background(), time.Hour)
	defer parentCancel()
	ctx, cancel = withTimeout(parent, time.Minute)
	defer cancel()
	inner, _ := ctx.Deadline()
	assert.True(t, inner.After(deadline), "an existing deadline is kept")
}
