package codec

import (
	"context"
	"fmt"
	"testing"

	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/MorphiaOrg/morphia/testutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type shape interface {
	Area() float64
}

type circle struct {
	Radius float64
}

func (c *circle) Area() float64 { return 3 * c.Radius * c.Radius }

type publisher struct {
	Name    string
	Country string `bson:"cc"`
}

type author struct {
	mapping.Entity `morphia:"collection=authors"`
	ID             primitive.ObjectID `bson:"_id"`
	Name           string
	Best           *book `morphia:"ref"`
}

type book struct {
	mapping.Entity `morphia:"collection=books"`
	ID             string `bson:"_id"`
	Title          string
	Author         *author                   `morphia:"ref"`
	Editor         mapping.Reference[author] `morphia:"idOnly"`
	Sequel         *book                     `morphia:"ref,ignoreMissing"`
	Publisher      publisher
	Ratings        map[string]int
	Tags           []string
	Cover          shape
	Summary        string `morphia:"alsoLoad=blurb"`
	Version        int64  `morphia:"version"`

	hooks []string
}

func (b *book) PreLoad(context.Context, bson.Raw) error {
	b.hooks = append(b.hooks, "preLoad")
	return nil
}

func (b *book) PostLoad(context.Context, bson.Raw) error {
	b.hooks = append(b.hooks, "postLoad")
	return nil
}

// memoryResolver serves referenced documents from memory, keyed by
// collection and the printed id.
type memoryResolver struct {
	docs  map[string]bson.Raw
	finds int
}

func (r *memoryResolver) put(t *testing.T, collection string, doc any) {
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var id any
	require.NoError(t, bson.Raw(raw).Lookup("_id").Unmarshal(&id))
	r.docs[fmt.Sprintf("%s/%v", collection, id)] = raw
}

func (r *memoryResolver) Find(_ context.Context, collection string, id any) (bson.Raw, error) {
	r.finds++
	return r.docs[fmt.Sprintf("%s/%v", collection, id)], nil
}

type CodecSuite struct {
	mapper   *mapping.Mapper
	resolver *memoryResolver
	codec    *Codec
	ctx      context.Context
	suite.Suite
}

func TestCodecSuite(t *testing.T) {
	suite.Run(t, new(CodecSuite))
}

func (s *CodecSuite) SetupTest() {
	s.ctx = testutil.TestContext(s.T())
	s.mapper = mapping.NewMapper(mapping.DefaultOptions())
	_, err := s.mapper.Map(book{}, author{}, circle{})
	s.Require().NoError(err)
	s.resolver = &memoryResolver{docs: map[string]bson.Raw{}}
	s.codec = New(s.mapper, s.resolver)
}

func (s *CodecSuite) decode(doc bson.D, out any) error {
	raw, err := bson.Marshal(doc)
	s.Require().NoError(err)
	return s.codec.Decode(s.ctx, raw, out)
}

func (s *CodecSuite) TestEncodeDocumentLayout() {
	authorID := primitive.NewObjectID()
	b := &book{
		ID:        "dune",
		Title:     "Dune",
		Author:    &author{ID: authorID, Name: "Herbert"},
		Publisher: publisher{Name: "Chilton", Country: "US"},
		Ratings:   map[string]int{"b": 2, "a": 1},
		Tags:      []string{},
		Cover:     &circle{Radius: 2},
		Version:   3,
	}
	doc, err := s.codec.Encode(b)
	s.Require().NoError(err)

	s.Equal(bson.D{
		{Key: "_id", Value: "dune"},
		{Key: "_t", Value: "book"},
		{Key: "title", Value: "Dune"},
		{Key: "author", Value: bson.D{{Key: "$ref", Value: "authors"}, {Key: "$id", Value: authorID}}},
		{Key: "publisher", Value: bson.D{{Key: "name", Value: "Chilton"}, {Key: "cc", Value: "US"}}},
		{Key: "ratings", Value: bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}}},
		{Key: "cover", Value: bson.D{{Key: "_t", Value: "circle"}, {Key: "radius", Value: 2.0}}},
		{Key: "summary", Value: ""},
		{Key: "version", Value: int64(3)},
	}, doc)
}

func (s *CodecSuite) TestEncodeNullsAndEmpties() {
	mapper := mapping.NewMapper(mapping.Options{StoreNulls: true, StoreEmpties: true})
	c := New(mapper, nil)

	doc, err := c.Encode(&book{ID: "empty", Tags: []string{}})
	s.Require().NoError(err)
	m := doc.Map()
	s.Contains(m, "author")
	s.Nil(m["author"])
	s.Contains(m, "ratings")
	s.Equal(bson.A{}, m["tags"])
	s.Contains(m, "cover")
}

func (s *CodecSuite) TestEncodeReferences() {
	s.Run("IDOnly", func() {
		editor := &author{ID: primitive.NewObjectID()}
		doc, err := s.codec.Encode(&book{ID: "one", Editor: mapping.NewReference(editor)})
		s.Require().NoError(err)
		s.Equal(editor.ID, doc.Map()["editor"])
	})
	s.Run("UnsavedTarget", func() {
		_, err := s.codec.Encode(&book{ID: "one", Author: &author{Name: "nobody"}})
		s.Error(err)
	})
	s.Run("UnresolvedLazy", func() {
		id := primitive.NewObjectID()
		doc, err := s.codec.Encode(&book{ID: "one", Editor: mapping.ReferenceTo[author](id)})
		s.Require().NoError(err)
		s.Equal(id, doc.Map()["editor"])
	})
	s.Run("ValueFor", func() {
		model, err := s.mapper.ModelOf(book{})
		s.Require().NoError(err)
		target := &author{ID: primitive.NewObjectID()}

		path, value, err := s.codec.ValueFor(model, "Author", target)
		s.Require().NoError(err)
		s.Equal("author", path)
		s.Equal(bson.D{{Key: "$ref", Value: "authors"}, {Key: "$id", Value: target.ID}}, value)

		path, value, err = s.codec.ValueFor(model, "Author", target.ID)
		s.Require().NoError(err)
		s.Equal("author", path)
		s.Equal(target.ID, value)
	})
}

func (s *CodecSuite) TestRoundTrip() {
	in := &book{
		ID:        "dune",
		Title:     "Dune",
		Publisher: publisher{Name: "Chilton", Country: "US"},
		Ratings:   map[string]int{"a": 1},
		Tags:      []string{"classic", "sf"},
		Cover:     &circle{Radius: 2},
		Summary:   "spice",
		Version:   2,
	}
	doc, err := s.codec.Encode(in)
	s.Require().NoError(err)

	var out book
	s.Require().NoError(s.decode(doc, &out))
	s.Equal(in.Title, out.Title)
	s.Equal(in.Publisher, out.Publisher)
	s.Equal(in.Ratings, out.Ratings)
	s.Equal(in.Tags, out.Tags)
	s.Equal(in.Summary, out.Summary)
	s.Equal(in.Version, out.Version)
	s.Require().IsType(&circle{}, out.Cover)
	s.Equal(2.0, out.Cover.(*circle).Radius)
	s.Equal([]string{"preLoad", "postLoad"}, out.hooks)
}

func (s *CodecSuite) TestDecodeLeniency() {
	s.Run("AlsoLoad", func() {
		var out book
		s.Require().NoError(s.decode(bson.D{{Key: "_id", Value: "b"}, {Key: "blurb", Value: "old"}}, &out))
		s.Equal("old", out.Summary)
	})
	s.Run("StoredNameWins", func() {
		var out book
		s.Require().NoError(s.decode(bson.D{
			{Key: "_id", Value: "b"},
			{Key: "summary", Value: "new"},
			{Key: "blurb", Value: "old"},
		}, &out))
		s.Equal("new", out.Summary)
	})
	s.Run("UnknownElements", func() {
		var out book
		s.Require().NoError(s.decode(bson.D{{Key: "_id", Value: "b"}, {Key: "extra", Value: 1}}, &out))
		s.Equal("b", out.ID)
	})
	s.Run("SingleValueIntoSlice", func() {
		var out book
		s.Require().NoError(s.decode(bson.D{{Key: "_id", Value: "b"}, {Key: "tags", Value: "solo"}}, &out))
		s.Equal([]string{"solo"}, out.Tags)
	})
	s.Run("MissingDiscriminator", func() {
		var out book
		err := s.decode(bson.D{{Key: "_id", Value: "b"}, {Key: "cover", Value: bson.D{{Key: "radius", Value: 1.0}}}}, &out)
		s.Error(err)
	})
	s.Run("Null", func() {
		out := book{Title: "set"}
		s.Require().NoError(s.decode(bson.D{{Key: "_id", Value: "b"}, {Key: "title", Value: nil}}, &out))
		s.Empty(out.Title)
	})
}

func (s *CodecSuite) TestEagerReferences() {
	authorID := primitive.NewObjectID()
	s.resolver.put(s.T(), "authors", bson.D{
		{Key: "_id", Value: authorID},
		{Key: "name", Value: "Herbert"},
		{Key: "best", Value: bson.D{{Key: "$ref", Value: "books"}, {Key: "$id", Value: "dune"}}},
	})

	s.Run("CyclesReuseDecodedEntities", func() {
		var out book
		s.Require().NoError(s.decode(bson.D{
			{Key: "_id", Value: "dune"},
			{Key: "author", Value: bson.D{{Key: "$ref", Value: "authors"}, {Key: "$id", Value: authorID}}},
		}, &out))
		s.Require().NotNil(out.Author)
		s.Equal("Herbert", out.Author.Name)
		s.Same(&out, out.Author.Best)
	})
	s.Run("Missing", func() {
		var out book
		err := s.decode(bson.D{
			{Key: "_id", Value: "lost"},
			{Key: "author", Value: bson.D{{Key: "$ref", Value: "authors"}, {Key: "$id", Value: primitive.NewObjectID()}}},
		}, &out)
		s.Require().Error(err)
		s.True(errors.Is(err, mapping.ErrReferenceNotFound))
	})
	s.Run("IgnoreMissing", func() {
		var out book
		s.Require().NoError(s.decode(bson.D{
			{Key: "_id", Value: "dune"},
			{Key: "sequel", Value: bson.D{{Key: "$ref", Value: "books"}, {Key: "$id", Value: "messiah"}}},
		}, &out))
		s.Nil(out.Sequel)
	})
	s.Run("NoResolver", func() {
		var out book
		raw, err := bson.Marshal(bson.D{
			{Key: "_id", Value: "dune"},
			{Key: "author", Value: bson.D{{Key: "$ref", Value: "authors"}, {Key: "$id", Value: authorID}}},
		})
		s.Require().NoError(err)
		s.Error(New(s.mapper, nil).Decode(s.ctx, raw, &out))
	})
}

func (s *CodecSuite) TestLazyReferences() {
	editorID := primitive.NewObjectID()
	s.resolver.put(s.T(), "authors", bson.D{{Key: "_id", Value: editorID}, {Key: "name", Value: "Campbell"}})

	var out book
	s.Require().NoError(s.decode(bson.D{{Key: "_id", Value: "dune"}, {Key: "editor", Value: editorID}}, &out))
	s.False(out.Editor.IsResolved())
	s.Equal(editorID, out.Editor.ID())
	s.Zero(s.resolver.finds)

	editor, err := out.Editor.Get(s.ctx)
	s.Require().NoError(err)
	s.Equal("Campbell", editor.Name)
	s.Equal(1, s.resolver.finds)

	_, err = out.Editor.Get(s.ctx)
	s.NoError(err)
	s.Equal(1, s.resolver.finds)
}

func (s *CodecSuite) TestFieldEncoder() {
	model, err := s.mapper.ModelOf(book{})
	s.Require().NoError(err)
	enc := NewFieldEncoder(s.codec, model, true)

	path, prop, err := enc.Path("Publisher.Country")
	s.Require().NoError(err)
	s.Equal("publisher.cc", path)
	s.Equal("Country", prop.Name)

	_, _, err = enc.Path("Publisher.Missing")
	s.Error(err)

	elem := enc.Elem("Publisher")
	s.Require().NotNil(elem.Model())
	path, _, err = elem.Path("Country")
	s.Require().NoError(err)
	s.Equal("cc", path)

	value, err := enc.Value(nil, []string{"a", "b"})
	s.Require().NoError(err)
	s.Equal(bson.A{"a", "b"}, value)

	path, _, err = NewFieldEncoder(s.codec, nil, true).Path("Anything.Goes")
	s.Require().NoError(err)
	s.Equal("Anything.Goes", path)
}

func TestCursor(t *testing.T) {
	mapper := mapping.NewMapper(mapping.DefaultOptions())
	c := New(mapper, nil)
	ctx := context.Background()

	cur, err := mongo.NewCursorFromDocuments([]any{
		bson.D{{Key: "_id", Value: "one"}, {Key: "title", Value: "First"}},
		bson.D{{Key: "_id", Value: "two"}, {Key: "title", Value: "Second"}},
	}, nil, nil)
	require.NoError(t, err)

	books, err := NewCursor[*book](cur, c).ToList(ctx)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "First", books[0].Title)
	assert.Equal(t, "two", books[1].ID)

	cur, err = mongo.NewCursorFromDocuments([]any{
		bson.D{{Key: "_id", Value: "one"}, {Key: "title", Value: 42}},
	}, nil, nil)
	require.NoError(t, err)
	typed := NewCursor[book](cur, c)
	assert.False(t, typed.Next(ctx))
	assert.Error(t, typed.Err())
	assert.NoError(t, typed.Close(ctx))

	cur, err = mongo.NewCursorFromDocuments([]any{
		bson.D{{Key: "_id", Value: "one"}, {Key: "title", Value: "First"}},
		bson.D{{Key: "_id", Value: "two"}, {Key: "title", Value: 42}},
	}, nil, nil)
	require.NoError(t, err)
	partial, err := NewCursor[book](cur, c).ToList(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding cursor document", "the decoding error wins over closing")
	assert.Nil(t, partial)
	assert.False(t, cur.Next(ctx), "the cursor is closed")
}

type feline interface{ Purr() string }

type canine interface{ Bark() string }

type housecat struct {
	mapping.Entity `morphia:"collection=cats,discriminator=pet"`
	ID             string `bson:"_id"`
	Name           string
}

func (*housecat) Purr() string { return "purr" }

type terrier struct {
	mapping.Entity `morphia:"collection=dogs,discriminator=pet"`
	ID             string `bson:"_id"`
	Name           string
}

func (*terrier) Bark() string { return "woof" }

type household struct {
	Cat feline
	Dog canine
	Any any
}

func TestDecodeSharedDiscriminator(t *testing.T) {
	mapper := mapping.NewMapper(mapping.DefaultOptions())
	_, err := mapper.Map(housecat{}, terrier{}, household{})
	require.NoError(t, err)
	c := New(mapper, nil)

	pet := bson.D{{Key: "_t", Value: "pet"}, {Key: "_id", Value: "rex"}, {Key: "name", Value: "Rex"}}
	raw, err := bson.Marshal(bson.D{{Key: "cat", Value: pet}, {Key: "dog", Value: pet}})
	require.NoError(t, err)

	var h household
	require.NoError(t, c.Decode(context.Background(), raw, &h))
	require.IsType(t, &housecat{}, h.Cat)
	assert.Equal(t, "Rex", h.Cat.(*housecat).Name)
	require.IsType(t, &terrier{}, h.Dog)
	assert.Equal(t, "rex", h.Dog.(*terrier).ID)

	raw, err = bson.Marshal(bson.D{{Key: "any", Value: pet}})
	require.NoError(t, err)
	err = c.Decode(context.Background(), raw, &household{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}
