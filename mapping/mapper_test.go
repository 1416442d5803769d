package mapping

import (
	"context"
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type testAuthor struct {
	Entity `morphia:"collection=authors"`
	ID     primitive.ObjectID `bson:"_id"`
	Name   string             `morphia:"index,unique"`
}

type testAddress struct {
	Street string
	City   string `bson:"town"`
}

type testChapter struct {
	Title string
	Pages int
}

type testAudit struct {
	CreatedBy string
}

type testBook struct {
	Entity   `morphia:"collection=books,discriminator=Book,concern=majority"`
	ID       primitive.ObjectID `morphia:"id"`
	Title    string             `morphia:"text,weight=10"`
	Author   *testAuthor        `morphia:"ref,idOnly"`
	Editor   Reference[testAuthor]
	Address  testAddress
	Places   map[string]testAddress
	Chapters []testChapter
	Version  int64  `morphia:"version"`
	Cached   string `morphia:"transient"`
	Skipped  string `bson:"-"`
	Summary  string `morphia:"alsoLoad=blurb|abstract"`
	Tags     []string `bson:"labels,omitempty"`
	Expires  int64    `morphia:"expire=3600"`
	internal string
	testAudit
}

func (testBook) Indexes() []Index {
	return []Index{{
		Fields: []IndexField{{Name: "Author"}, {Name: "Address.City", Type: Descending}},
		Unique: true,
	}}
}

type testShape interface {
	Area() float64
}

type testCircle struct {
	Entity `morphia:"collection=shapes"`
	ID     string `bson:"_id"`
	Radius float64
}

func (c *testCircle) Area() float64 { return 3 * c.Radius * c.Radius }

type testSquare struct {
	Entity `morphia:"collection=shapes"`
	ID     string `bson:"_id"`
	Side   float64
}

func (s testSquare) Area() float64 { return s.Side * s.Side }

func TestMapEntity(t *testing.T) {
	m := NewMapper(DefaultOptions())
	model, err := m.ModelOf(&testBook{})
	require.NoError(t, err)

	assert.True(t, model.IsEntity)
	assert.Equal(t, "books", model.Collection)
	assert.Equal(t, "Book", model.Discriminator)
	assert.Equal(t, DefaultDiscriminatorKey, model.DiscriminatorKey)
	assert.True(t, model.UseDiscriminator)
	assert.Equal(t, ConcernMajority, model.Concern)

	require.NotNil(t, model.ID)
	assert.Equal(t, "_id", model.ID.StoredName)
	require.NotNil(t, model.Version)
	assert.Equal(t, "version", model.Version.StoredName)

	t.Run("Properties", func(t *testing.T) {
		assert.Nil(t, model.Property("Cached"))
		assert.Nil(t, model.Property("Skipped"))
		assert.Nil(t, model.Property("internal"))

		tags := model.Property("Tags")
		require.NotNil(t, tags)
		assert.Equal(t, "labels", tags.StoredName)
		assert.True(t, tags.OmitEmpty)
		assert.Equal(t, tags, model.Property("labels"))

		inlined := model.Property("CreatedBy")
		require.NotNil(t, inlined)
		assert.Equal(t, "createdBy", inlined.StoredName)
		assert.Equal(t, []int{15, 0}, inlined.FieldIndex)
	})
	t.Run("References", func(t *testing.T) {
		author := model.Property("Author")
		require.NotNil(t, author)
		assert.True(t, author.IsReference)
		assert.True(t, author.IDOnly)
		assert.False(t, author.IsLazy)
		assert.Equal(t, reflect.TypeOf(testAuthor{}), author.ReferenceTarget)

		editor := model.Property("Editor")
		require.NotNil(t, editor)
		assert.True(t, editor.IsReference)
		assert.True(t, editor.IsLazy)
		assert.Equal(t, reflect.TypeOf(testAuthor{}), editor.ReferenceTarget)
		assert.True(t, m.IsMapped(reflect.TypeOf(testAuthor{})))
	})
	t.Run("AlsoLoad", func(t *testing.T) {
		p, ok := model.PropertyForLoad("blurb")
		require.True(t, ok)
		assert.Equal(t, "Summary", p.Name)
		p, ok = model.PropertyForLoad("summary")
		require.True(t, ok)
		assert.Equal(t, "Summary", p.Name)
		_, ok = model.PropertyForLoad("missing")
		assert.False(t, ok)
	})
	t.Run("FieldIndexes", func(t *testing.T) {
		title := model.Property("Title")
		require.NotNil(t, title.Indexed)
		assert.True(t, title.Indexed.Text)
		assert.EqualValues(t, 10, title.Indexed.Weight)

		expires := model.Property("Expires")
		require.NotNil(t, expires.Indexed)
		require.NotNil(t, expires.Indexed.Expire)
		assert.EqualValues(t, 3600, *expires.Indexed.Expire)
	})
}

func TestMapperIndexes(t *testing.T) {
	m := NewMapper(DefaultOptions())
	model, err := m.ModelOf(testBook{})
	require.NoError(t, err)

	indexes, err := m.IndexesFor(model)
	require.NoError(t, err)
	require.Len(t, indexes, 3)

	assert.Equal(t, bson.D{{Key: "title", Value: "text"}}, indexes[0].Keys())
	assert.Equal(t, bson.D{{Key: "title", Value: int32(10)}}, indexes[0].Weights())
	assert.Equal(t, bson.D{{Key: "expires", Value: 1}}, indexes[1].Keys())
	assert.Equal(t, bson.D{{Key: "author", Value: 1}, {Key: "address.town", Value: -1}}, indexes[2].Keys())
	assert.True(t, indexes[2].Unique)
	assert.Equal(t, "author_1_address.town_-1", indexes[2].DefaultName())
}

func TestMapValidation(t *testing.T) {
	type noID struct {
		Entity `morphia:"collection=things"`
		Name   string
	}
	type badVersion struct {
		Entity  `morphia:"collection=things"`
		ID      string `bson:"_id"`
		Version string `morphia:"version"`
	}
	type duplicateNames struct {
		ID    string `bson:"_id"`
		Name  string
		Other string `bson:"name"`
	}
	type idOnlyWithoutRef struct {
		ID    string `bson:"_id"`
		Owner string `morphia:"idOnly"`
	}
	type refToEmbedded struct {
		Entity  `morphia:"collection=things"`
		ID      string       `bson:"_id"`
		Address *testAddress `morphia:"ref"`
	}
	type aliasCollision struct {
		ID   string `bson:"_id"`
		Name string
		Nick string `morphia:"alsoLoad=name"`
	}
	type badConcern struct {
		Entity `morphia:"collection=things,concern=sometimes,cappedCount=10"`
		ID     string `bson:"_id"`
	}
	type twoIDs struct {
		ID    string `bson:"_id"`
		Other string `morphia:"id"`
	}

	for name, value := range map[string]any{
		"MissingID":        noID{},
		"StringVersion":    badVersion{},
		"DuplicateStored":  duplicateNames{},
		"IDOnlyWithoutRef": idOnlyWithoutRef{},
		"RefToEmbedded":    refToEmbedded{},
		"AliasCollision":   aliasCollision{},
		"BadConcern":       badConcern{},
		"TwoIDs":           twoIDs{},
	} {
		t.Run(name, func(t *testing.T) {
			m := NewMapper(DefaultOptions())
			_, err := m.ModelOf(value)
			assert.Error(t, err)
			assert.False(t, m.IsMapped(reflect.TypeOf(value)))
		})
	}

	t.Run("ReportsEveryProblem", func(t *testing.T) {
		m := NewMapper(DefaultOptions())
		_, err := m.ModelOf(badConcern{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid write concern")
		assert.Contains(t, err.Error(), "capped count requires a capped size")
	})
	t.Run("NotAStruct", func(t *testing.T) {
		m := NewMapper(DefaultOptions())
		_, err := m.ModelOf(42)
		assert.Error(t, err)
		_, err = m.ModelOf(primitive.NewObjectID())
		assert.Error(t, err)
	})
}

func TestDiscriminators(t *testing.T) {
	t.Run("ExplicitCollision", func(t *testing.T) {
		type first struct {
			Embedded `morphia:"discriminator=Same"`
		}
		type second struct {
			Embedded `morphia:"discriminator=Same"`
		}
		m := NewMapper(DefaultOptions())
		_, err := m.Map(first{})
		require.NoError(t, err)
		_, err = m.Map(second{})
		assert.Error(t, err)
	})
	t.Run("Resolve", func(t *testing.T) {
		m := NewMapper(DefaultOptions())
		_, err := m.Map(&testCircle{}, testSquare{})
		require.NoError(t, err)

		model, ok := m.ResolveDiscriminator("shapes", "testCircle")
		require.True(t, ok)
		assert.Equal(t, reflect.TypeOf(testCircle{}), model.Type)
		_, ok = m.ResolveDiscriminator("shapes", "testTriangle")
		assert.False(t, ok)
		_, ok = m.ResolveDiscriminator("solids", "testCircle")
		assert.False(t, ok)
	})
	t.Run("ScopedByCollection", func(t *testing.T) {
		type cat struct {
			Entity `morphia:"collection=cats,discriminator=pet"`
			ID     string `bson:"_id"`
		}
		type dog struct {
			Entity `morphia:"collection=dogs,discriminator=pet"`
			ID     string `bson:"_id"`
		}
		type kennelDog struct {
			Entity `morphia:"collection=dogs,discriminator=pet"`
			ID     string `bson:"_id"`
		}
		m := NewMapper(DefaultOptions())
		models, err := m.Map(cat{}, dog{})
		require.NoError(t, err)
		require.Len(t, models, 2)

		model, ok := m.ResolveDiscriminator("cats", "pet")
		require.True(t, ok)
		assert.Equal(t, reflect.TypeOf(cat{}), model.Type)
		model, ok = m.ResolveDiscriminator("dogs", "pet")
		require.True(t, ok)
		assert.Equal(t, reflect.TypeOf(dog{}), model.Type)
		assert.Len(t, m.DiscriminatedModels("pet"), 2)

		_, err = m.Map(kennelDog{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "collection 'dogs'")
		assert.False(t, m.IsMapped(reflect.TypeOf(kennelDog{})))
	})
	t.Run("ImplicitNamesShared", func(t *testing.T) {
		type plain struct{ Name string }
		type marked struct {
			Embedded `morphia:"discriminator=plain"`
			Name     string
		}
		m := NewMapper(DefaultOptions())
		_, err := m.Map(plain{}, marked{})
		require.NoError(t, err)
		assert.Len(t, m.DiscriminatedModels("plain"), 2)

		model, ok := m.ResolveDiscriminator("", "plain")
		require.True(t, ok)
		assert.Equal(t, reflect.TypeOf(marked{}), model.Type)
	})
	t.Run("SharedCollections", func(t *testing.T) {
		m := NewMapper(DefaultOptions())
		circle, err := m.ModelOf(testCircle{})
		require.NoError(t, err)
		assert.False(t, m.IsShared(circle))

		_, err = m.ModelOf(testSquare{})
		require.NoError(t, err)
		assert.True(t, m.IsShared(circle))
		assert.Len(t, m.CollectionModels("shapes"), 2)

		implementers := m.ImplementersOf(reflect.TypeOf((*testShape)(nil)).Elem())
		assert.Len(t, implementers, 2)
	})
	t.Run("CustomKey", func(t *testing.T) {
		type keyed struct {
			Embedded `morphia:"discriminatorKey=kind"`
		}
		m := NewMapper(Options{DiscriminatorKey: "className"})
		_, err := m.Map(keyed{})
		require.NoError(t, err)
		assert.Equal(t, []string{"className", "kind"}, m.DiscriminatorKeys())
	})
}

func TestResolvePath(t *testing.T) {
	m := NewMapper(DefaultOptions())
	model, err := m.ModelOf(testBook{})
	require.NoError(t, err)

	for path, expected := range map[string]string{
		"Title":               "title",
		"title":               "title",
		"Address.City":        "address.town",
		"address.town":        "address.town",
		"Places.home.City":    "places.home.town",
		"Chapters.Title":      "chapters.title",
		"Chapters.$.Pages":    "chapters.$.pages",
		"Chapters.1.Pages":    "chapters.1.pages",
		"Chapters.$[].Pages":  "chapters.$[].pages",
		"Tags":                "labels",
		"ID":                  "_id",
		"Author":              "author",
		"$where":              "$where",
		"CreatedBy":           "createdBy",
	} {
		target, err := m.ResolvePath(model, path, true)
		require.NoError(t, err, path)
		assert.Equal(t, expected, target.Path, path)
	}

	t.Run("Property", func(t *testing.T) {
		target, err := m.ResolvePath(model, "Address.City", true)
		require.NoError(t, err)
		require.NotNil(t, target.Property)
		assert.Equal(t, "City", target.Property.Name)
		assert.Equal(t, "testAddress", target.Model.Name)
	})
	t.Run("UnknownValidated", func(t *testing.T) {
		_, err := m.ResolvePath(model, "Address.Country", true)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownPath))
	})
	t.Run("UnknownLenient", func(t *testing.T) {
		target, err := m.ResolvePath(model, "Address.Country.Code", false)
		require.NoError(t, err)
		assert.Equal(t, "address.Country.Code", target.Path)
		assert.Nil(t, target.Property)
	})
	t.Run("ThroughReference", func(t *testing.T) {
		_, err := m.ResolvePath(model, "Author.Name", true)
		assert.Error(t, err)

		target, err := m.ResolvePath(model, "Author.Name", false)
		require.NoError(t, err)
		assert.Equal(t, "author.Name", target.Path)
	})
}

func TestReference(t *testing.T) {
	m := NewMapper(DefaultOptions())
	ctx := context.Background()

	t.Run("Resolved", func(t *testing.T) {
		author := &testAuthor{ID: primitive.NewObjectID(), Name: "Le Guin"}
		ref := NewReference(author)
		assert.True(t, ref.IsResolved())

		id, err := ref.ReferenceID(m)
		require.NoError(t, err)
		assert.Equal(t, author.ID, id)

		out, err := ref.Get(ctx)
		require.NoError(t, err)
		assert.Same(t, author, out)
	})
	t.Run("UnsavedTarget", func(t *testing.T) {
		ref := NewReference(&testAuthor{Name: "anonymous"})
		_, err := ref.ReferenceID(m)
		assert.Error(t, err)
	})
	t.Run("Lazy", func(t *testing.T) {
		id := primitive.NewObjectID()
		calls := 0
		var ref Reference[testAuthor]
		assert.True(t, ref.IsEmpty())
		ref.Bind(id, func(_ context.Context, out any) (bool, error) {
			calls++
			out.(*testAuthor).ID = id
			out.(*testAuthor).Name = "Butler"
			return true, nil
		})
		assert.False(t, ref.IsResolved())
		assert.Equal(t, id, ref.ID())

		for i := 0; i < 2; i++ {
			author, err := ref.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, "Butler", author.Name)
		}
		assert.Equal(t, 1, calls)
		assert.True(t, ref.IsResolved())
	})
	t.Run("Missing", func(t *testing.T) {
		ref := ReferenceTo[testAuthor]("gone")
		_, err := ref.Get(ctx)
		assert.Error(t, err)

		ref.Bind("gone", func(context.Context, any) (bool, error) { return false, nil })
		_, err = ref.Get(ctx)
		assert.True(t, errors.Is(err, ErrReferenceNotFound))
	})
	t.Run("Empty", func(t *testing.T) {
		var ref Reference[testAuthor]
		out, err := ref.Get(ctx)
		assert.NoError(t, err)
		assert.Nil(t, out)
	})
}

type recordingInterceptor struct {
	NoopInterceptor
	calls *[]string
}

func (r recordingInterceptor) PrePersist(context.Context, any, *EntityModel) error {
	*r.calls = append(*r.calls, "interceptor")
	return nil
}

type hookedEntity struct {
	Entity `morphia:"collection=hooked"`
	ID     string `bson:"_id"`
	calls  *[]string
}

func (h *hookedEntity) PrePersist(context.Context) error {
	*h.calls = append(*h.calls, "entity")
	return nil
}

func (h *hookedEntity) EntityListeners() []EntityInterceptor {
	return []EntityInterceptor{recordingInterceptor{calls: h.calls}}
}

func TestLifecycleOrder(t *testing.T) {
	m := NewMapper(DefaultOptions())
	var calls []string
	m.AddInterceptor(recordingInterceptor{calls: &calls})

	entity := &hookedEntity{ID: "one", calls: &calls}
	model, err := m.ModelOf(entity)
	require.NoError(t, err)

	require.NoError(t, m.FirePrePersist(context.Background(), model, entity))
	assert.Equal(t, []string{"entity", "interceptor", "interceptor"}, calls)
	assert.NoError(t, m.FirePostLoad(context.Background(), model, entity, nil))
}
