package query

import (
	"testing"

	"github.com/MorphiaOrg/morphia/codec"
	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/MorphiaOrg/morphia/query/filters"
	"github.com/MorphiaOrg/morphia/query/updates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ticket struct {
	mapping.Entity `morphia:"collection=tickets"`
	ID             primitive.ObjectID `bson:"_id"`
	Title          string
	Priority       int `bson:"prio"`
	Version        int64 `morphia:"version"`
}

type vehicle interface {
	Wheels() int
}

type car struct {
	mapping.Entity `morphia:"collection=vehicles"`
	ID             primitive.ObjectID `bson:"_id"`
	Seats          int
}

func (car) Wheels() int { return 4 }

type bike struct {
	mapping.Entity `morphia:"collection=vehicles"`
	ID             primitive.ObjectID `bson:"_id"`
	Gears          int
}

func (bike) Wheels() int { return 2 }

type QuerySuite struct {
	suite.Suite
	codec *codec.Codec
}

func TestQuerySuite(t *testing.T) {
	suite.Run(t, new(QuerySuite))
}

func (s *QuerySuite) SetupTest() {
	mapper := mapping.NewMapper(mapping.DefaultOptions())
	_, err := mapper.Map(ticket{}, car{}, bike{})
	s.Require().NoError(err)
	s.codec = codec.New(mapper, nil)
}

func (s *QuerySuite) TestFilterDocument() {
	q, err := New[ticket](s.codec, nil, Settings{})
	s.Require().NoError(err)
	q.Filter(filters.Eq("Title", "broken"), filters.Gt("Priority", 2))

	doc, err := q.ToDocument()
	s.Require().NoError(err)
	s.Equal(bson.D{
		{Key: "title", Value: bson.D{{Key: "$eq", Value: "broken"}}},
		{Key: "prio", Value: bson.D{{Key: "$gt", Value: 2}}},
	}, doc)
}

func (s *QuerySuite) TestValidation() {
	q, err := New[ticket](s.codec, nil, Settings{})
	s.Require().NoError(err)
	q.Filter(filters.Eq("assignee", "ann"))

	_, err = q.ToDocument()
	s.Error(err)

	doc, err := q.DisableValidation().ToDocument()
	s.Require().NoError(err)
	s.Equal("assignee", doc[0].Key)
}

func (s *QuerySuite) TestSharedCollectionAddsDiscriminator() {
	q, err := New[car](s.codec, nil, Settings{})
	s.Require().NoError(err)

	doc, err := q.Filter(filters.Gte("Seats", 2)).ToDocument()
	s.Require().NoError(err)
	s.Equal(bson.D{
		{Key: "seats", Value: bson.D{{Key: "$gte", Value: 2}}},
		{Key: mapping.DefaultDiscriminatorKey, Value: bson.D{{Key: "$eq", Value: "car"}}},
	}, doc)
}

func (s *QuerySuite) TestInterfaceQueries() {
	_, err := New[vehicle](s.codec, nil, Settings{})
	s.ErrorIs(err, ErrPolymorphicQueriesDisabled)

	q, err := New[vehicle](s.codec, nil, Settings{Polymorphic: true})
	s.Require().NoError(err)
	s.Nil(q.Model())

	doc, err := q.ToDocument()
	s.Require().NoError(err)
	s.Require().Len(doc, 1)
	s.Equal(mapping.DefaultDiscriminatorKey, doc[0].Key)
	in := doc[0].Value.(bson.D)[0]
	s.Equal("$in", in.Key)
	s.ElementsMatch(bson.A{"car", "bike"}, in.Value)
}

func (s *QuerySuite) TestNonEntityRejected() {
	type loose struct{ Name string }
	_, err := New[loose](s.codec, nil, Settings{})
	s.Error(err)
}

func (s *QuerySuite) TestUpdateIncrementsVersion() {
	q, err := New[ticket](s.codec, nil, Settings{})
	s.Require().NoError(err)

	doc, err := q.Update(updates.Set("Title", "fixed")).ToDocument()
	s.Require().NoError(err)
	s.Equal(bson.D{
		{Key: "$set", Value: bson.D{{Key: "title", Value: "fixed"}}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
	}, doc)

	doc, err = q.Modify(updates.Set("Version", int64(7))).ToDocument()
	s.Require().NoError(err)
	s.Equal(bson.D{{Key: "$set", Value: bson.D{{Key: "version", Value: int64(7)}}}}, doc)
}

func (s *QuerySuite) TestProjectionKeepsDiscriminator() {
	q, err := New[bike](s.codec, nil, Settings{})
	s.Require().NoError(err)

	doc, err := q.projection(Include("Gears"))
	s.Require().NoError(err)
	s.Equal(bson.D{
		{Key: "gears", Value: 1},
		{Key: mapping.DefaultDiscriminatorKey, Value: 1},
	}, doc)

	doc, err = q.projection(Exclude("Gears"))
	s.Require().NoError(err)
	s.Equal(bson.D{{Key: "gears", Value: 0}}, doc)
}

func TestFindOptions(t *testing.T) {
	mapper := mapping.NewMapper(mapping.DefaultOptions())
	model, err := mapper.ModelOf(ticket{})
	require.NoError(t, err)
	enc := codec.NewFieldEncoder(codec.New(mapper, nil), model, true)

	merged := mergeFindOptions([]FindOptions{
		{Limit: 5, Sort: []Sort{Descending("Priority")}},
		{Skip: 10, Comment: "triage"},
	})
	assert.EqualValues(t, 5, merged.Limit)
	assert.EqualValues(t, 10, merged.Skip)

	opts, err := merged.driver(enc, nil)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "prio", Value: -1}}, opts.Sort)
	assert.EqualValues(t, 5, *opts.Limit)
	assert.EqualValues(t, 10, *opts.Skip)
	assert.Nil(t, opts.Projection)

	sort, err := renderSort(enc, []Sort{Meta("score", "textScore"), Ascending("Title")})
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}},
		{Key: "title", Value: 1},
	}, sort)

	_, err = renderSort(enc, []Sort{Ascending("nope")})
	assert.Error(t, err)
}
