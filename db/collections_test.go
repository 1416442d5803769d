package db

import (
	"context"
	"testing"
	"time"

	"github.com/MorphiaOrg/morphia/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestCollectionHelpers(t *testing.T) {
	client := testutil.MongoClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database := client.Database(testutil.DatabaseName("morphia_db"))
	require.NoError(t, database.Drop(ctx))
	defer func() { assert.NoError(t, database.Drop(ctx)) }()

	require.NoError(t, CreateCollections(ctx, database, "a", "b"))
	require.NoError(t, CreateCollections(ctx, database, "a"), "existing collections are fine")

	names, err := CollectionNames(ctx, database)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)

	_, err = database.Collection("a").InsertMany(ctx, []any{bson.M{"n": 1}, bson.M{"n": 2}})
	require.NoError(t, err)

	stats, err := CollectionStats(ctx, database, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Count)
	assert.False(t, stats.Capped)
	assert.Positive(t, stats.Size)

	require.NoError(t, ClearCollections(ctx, database, "a"))
	count, err := database.Collection("a").CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Zero(t, count)

	created, err := CreateCappedCollection(ctx, database, "capped", 4096, 10)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = CreateCappedCollection(ctx, database, "capped", 4096, 10)
	require.NoError(t, err)
	assert.False(t, created)

	opts, err := CollectionOptions(ctx, database, "capped")
	require.NoError(t, err)
	assert.Equal(t, true, opts["capped"])
	opts, err = CollectionOptions(ctx, database, "nothing")
	require.NoError(t, err)
	assert.Nil(t, opts)

	require.NoError(t, DropCollections(ctx, database, "a", "b", "capped"))
	names, err = CollectionNames(ctx, database)
	require.NoError(t, err)
	assert.Empty(t, names)
}
