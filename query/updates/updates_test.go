package updates

import (
	"math"
	"testing"

	"github.com/MorphiaOrg/morphia/codec"
	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/MorphiaOrg/morphia/query/filters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type reviewer struct {
	mapping.Entity `morphia:"collection=reviewers"`
	ID             primitive.ObjectID `bson:"_id"`
}

type review struct {
	By    string `bson:"by"`
	Stars int
}

type product struct {
	mapping.Entity `morphia:"collection=products"`
	ID             primitive.ObjectID `bson:"_id"`
	Name           string
	Stock          int     `bson:"qty"`
	Price          float64 `bson:"cost"`
	Flags          int64
	Tags           []string
	Reviews        []review
	Approver       *reviewer `morphia:"ref,idOnly"`
	Updated        primitive.DateTime
	Version        int64 `morphia:"version"`
}

func encoder(t *testing.T) codec.FieldEncoder {
	mapper := mapping.NewMapper(mapping.DefaultOptions())
	model, err := mapper.ModelOf(product{})
	require.NoError(t, err)
	return codec.NewFieldEncoder(codec.New(mapper, nil), model, true)
}

func TestRenderGroupsByOperator(t *testing.T) {
	enc := encoder(t)

	doc, err := Render(enc,
		Set("Name", "lamp"),
		Inc("Stock", 2),
		Set("Price", 9.5),
		Dec("Flags", int64(3)),
		Unset("Tags"),
	)
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "$set", Value: bson.D{{Key: "name", Value: "lamp"}, {Key: "cost", Value: 9.5}}},
		{Key: "$inc", Value: bson.D{{Key: "qty", Value: 2}, {Key: "flags", Value: int64(-3)}}},
		{Key: "$unset", Value: bson.D{{Key: "tags", Value: ""}}},
	}, doc)

	assert.True(t, Touches(doc, "qty"))
	assert.False(t, Touches(doc, "version"))
}

func TestRenderErrors(t *testing.T) {
	enc := encoder(t)

	_, err := Render(enc)
	assert.Error(t, err)

	_, err = Render(enc, Set("Name", "a"), Set("Name", "b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "updated twice")

	_, err = Render(enc, Set("Nothing", 1))
	assert.Error(t, err)

	_, err = Render(enc, Bit("Flags"))
	assert.Error(t, err)
}

func TestArrayUpdates(t *testing.T) {
	enc := encoder(t)

	t.Run("SinglePushIsBare", func(t *testing.T) {
		doc, err := Render(enc, Push("Tags", "new"))
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "$push", Value: bson.D{{Key: "tags", Value: "new"}}}}, doc)
	})
	t.Run("PushModifiersUseEach", func(t *testing.T) {
		doc, err := Render(enc, Push("Reviews", review{By: "ann", Stars: 4}).Slice(-5).SortBy(bson.D{{Key: "Stars", Value: -1}}))
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "$push", Value: bson.D{{Key: "reviews", Value: bson.D{
			{Key: "$each", Value: bson.A{bson.D{{Key: "by", Value: "ann"}, {Key: "stars", Value: 4}}}},
			{Key: "$slice", Value: -5},
			{Key: "$sort", Value: bson.D{{Key: "stars", Value: -1}}},
		}}}}}, doc)
	})
	t.Run("AddToSetEach", func(t *testing.T) {
		doc, err := Render(enc, AddToSet("Tags", "a", "b"))
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "$addToSet", Value: bson.D{{Key: "tags", Value: bson.D{
			{Key: "$each", Value: bson.A{"a", "b"}},
		}}}}}, doc)
	})
	t.Run("PopFirst", func(t *testing.T) {
		doc, err := Render(enc, Pop("Tags").RemoveFirst())
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "$pop", Value: bson.D{{Key: "tags", Value: -1}}}}, doc)
	})
	t.Run("PullWithFilter", func(t *testing.T) {
		doc, err := Render(enc, Pull("Reviews", filters.Lt("Stars", 2)))
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "$pull", Value: bson.D{{Key: "reviews", Value: bson.D{
			{Key: "stars", Value: bson.D{{Key: "$lt", Value: 2}}},
		}}}}}, doc)
	})
	t.Run("PullAll", func(t *testing.T) {
		doc, err := Render(enc, PullAll("Tags", "x", "y"))
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "$pullAll", Value: bson.D{{Key: "tags", Value: bson.A{"x", "y"}}}}}, doc)
	})
}

func TestFieldUpdates(t *testing.T) {
	enc := encoder(t)

	t.Run("RenameResolvesTarget", func(t *testing.T) {
		doc, err := Render(enc, Rename("Stock", "Price"))
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "$rename", Value: bson.D{{Key: "qty", Value: "cost"}}}}, doc)
	})
	t.Run("CurrentDate", func(t *testing.T) {
		doc, err := Render(enc, CurrentDate("Updated").Timestamp())
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "$currentDate", Value: bson.D{
			{Key: "updated", Value: bson.D{{Key: "$type", Value: "timestamp"}}},
		}}}, doc)
	})
	t.Run("Bitwise", func(t *testing.T) {
		doc, err := Render(enc, Bit("Flags").Or(4))
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "$bit", Value: bson.D{
			{Key: "flags", Value: bson.D{{Key: "or", Value: int64(4)}}},
		}}}, doc)

		doc, err = Render(enc, Bit("Flags").And(5).Or(2))
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "$bit", Value: bson.D{
			{Key: "flags", Value: bson.D{{Key: "and", Value: int64(5)}, {Key: "or", Value: int64(2)}}},
		}}}, doc)

		_, err = Render(enc, Bit("Flags").Xor(1).Xor(2))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "xor applied twice")
	})
	t.Run("ReferencesStoreIDs", func(t *testing.T) {
		r := &reviewer{ID: primitive.NewObjectID()}
		doc, err := Render(enc, Set("Approver", r))
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "$set", Value: bson.D{{Key: "approver", Value: r.ID}}}}, doc)
	})
	t.Run("MinMaxMul", func(t *testing.T) {
		doc, err := Render(enc, Min("Price", 1.0), Max("Stock", 10), Mul("Price", 2))
		require.NoError(t, err)
		assert.Equal(t, bson.D{
			{Key: "$min", Value: bson.D{{Key: "cost", Value: 1.0}}},
			{Key: "$max", Value: bson.D{{Key: "qty", Value: 10}}},
			{Key: "$mul", Value: bson.D{{Key: "cost", Value: 2}}},
		}, doc)
	})
}

func TestDecrement(t *testing.T) {
	enc := encoder(t)

	inc := func(t *testing.T, u Update) any {
		doc, err := Render(enc, u)
		require.NoError(t, err)
		require.Len(t, doc, 1)
		require.Equal(t, "$inc", doc[0].Key)
		return doc[0].Value.(bson.D)[0].Value
	}

	t.Run("Signed", func(t *testing.T) {
		assert.Equal(t, int32(-3), inc(t, Dec("Stock", int32(3))))
		assert.Equal(t, -1.5, inc(t, Dec("Price", 1.5)))
	})
	t.Run("Unsigned", func(t *testing.T) {
		assert.Equal(t, int64(-3), inc(t, Dec("Stock", uint32(3))))
		assert.Equal(t, int64(-7), inc(t, Dec("Stock", uint(7))))

		_, err := Render(enc, Dec("Stock", uint64(math.MaxUint64)))
		assert.Error(t, err)
	})
	t.Run("Decimal", func(t *testing.T) {
		amount, err := primitive.ParseDecimal128("2.50")
		require.NoError(t, err)
		value := inc(t, Dec("Price", amount))
		require.IsType(t, primitive.Decimal128{}, value)
		assert.Equal(t, "-2.50", value.(primitive.Decimal128).String())
	})
	t.Run("Unsupported", func(t *testing.T) {
		for name, amount := range map[string]any{
			"String":  "3",
			"Nil":     nil,
			"MinInt":  int64(math.MinInt64),
			"Boolean": true,
		} {
			_, err := Render(enc, Dec("Stock", amount))
			assert.Error(t, err, name)
		}
	})
}
