// Package db holds low level collection helpers used by the datastore, the
// command line tool and tests.
package db

import (
	"context"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateCollections ensures that all the given collections are created,
// returning an error immediately if creating any one of them fails.
func CreateCollections(ctx context.Context, database *mongo.Database, collections ...string) error {
	for _, collection := range collections {
		err := database.CreateCollection(ctx, collection)
		if err == nil {
			continue
		}
		// If the collection already exists, this does not count as an error.
		if IsNamespaceExists(err) {
			continue
		}
		return errors.Wrapf(err, "creating collection '%s'", collection)
	}
	return nil
}

// CreateCappedCollection creates collection capped at size bytes and, if
// positive, count documents. It returns false without error when the
// collection already exists.
func CreateCappedCollection(ctx context.Context, database *mongo.Database, collection string, size, count int64) (bool, error) {
	opts := options.CreateCollection().SetCapped(true).SetSizeInBytes(size)
	if count > 0 {
		opts.SetMaxDocuments(count)
	}
	err := database.CreateCollection(ctx, collection, opts)
	if IsNamespaceExists(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "creating capped collection '%s'", collection)
	}
	return true, nil
}

// ClearCollections clears all documents from all the specified collections,
// returning an error immediately if clearing any one of them fails.
func ClearCollections(ctx context.Context, database *mongo.Database, collections ...string) error {
	for _, collection := range collections {
		if _, err := database.Collection(collection).DeleteMany(ctx, bson.D{}); err != nil {
			return errors.Wrapf(err, "clearing collection '%s'", collection)
		}
	}
	return nil
}

// DropCollections drops the specified collections, returning an error
// immediately if dropping any one of them fails.
func DropCollections(ctx context.Context, database *mongo.Database, collections ...string) error {
	for _, coll := range collections {
		if err := database.Collection(coll).Drop(ctx); err != nil {
			return errors.Wrapf(err, "dropping collection '%s'", coll)
		}
	}
	return nil
}

// CollectionNames lists the collections of database in name order.
func CollectionNames(ctx context.Context, database *mongo.Database) ([]string, error) {
	names, err := database.ListCollectionNames(ctx, bson.D{}, options.ListCollections().SetNameOnly(true))
	if err != nil {
		return nil, errors.Wrapf(err, "listing collections of '%s'", database.Name())
	}
	return names, nil
}

// Stats are the storage statistics of one collection.
type Stats struct {
	Name           string `bson:"ns"`
	Count          int64  `bson:"count"`
	Size           int64  `bson:"size"`
	StorageSize    int64  `bson:"storageSize"`
	TotalIndexSize int64  `bson:"totalIndexSize"`
	IndexCount     int64  `bson:"nindexes"`
	Capped         bool   `bson:"capped"`
}

// CollectionStats returns the storage statistics of collection.
func CollectionStats(ctx context.Context, database *mongo.Database, collection string) (*Stats, error) {
	out := &Stats{}
	err := database.RunCommand(ctx, bson.D{{Key: "collStats", Value: collection}}).Decode(out)
	if err != nil {
		return nil, errors.Wrapf(err, "getting stats of '%s'", collection)
	}
	grip.Debug(message.Fields{
		"message":    "collection stats",
		"collection": collection,
		"count":      out.Count,
		"size":       out.Size,
	})
	return out, nil
}

// CollectionOptions returns the options the collection was created with,
// or nil if it does not exist.
func CollectionOptions(ctx context.Context, database *mongo.Database, collection string) (bson.M, error) {
	cursor, err := database.ListCollections(ctx, bson.D{{Key: "name", Value: collection}})
	if err != nil {
		return nil, errors.Wrapf(err, "looking up collection '%s'", collection)
	}
	var specs []struct {
		Options bson.M `bson:"options"`
	}
	if err = cursor.All(ctx, &specs); err != nil {
		return nil, errors.Wrapf(err, "reading collection '%s'", collection)
	}
	if len(specs) == 0 {
		return nil, nil
	}
	if specs[0].Options == nil {
		return bson.M{}, nil
	}
	return specs[0].Options, nil
}
