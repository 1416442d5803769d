package morphia

import (
	"context"

	"github.com/MorphiaOrg/morphia/db"
	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the declared indexes of every mapped entity.
func (ds *Datastore) EnsureIndexes(ctx context.Context) error {
	return ds.ensureIndexes(ctx, ds.mapper.EntityModels())
}

// EnsureCaps creates the capped collections of every mapped entity
// declaring a cap.
func (ds *Datastore) EnsureCaps(ctx context.Context) error {
	return ds.ensureCaps(ctx, ds.mapper.EntityModels())
}

// EnableDocumentValidation installs the collection validators of every
// mapped entity implementing mapping.Validator.
func (ds *Datastore) EnableDocumentValidation(ctx context.Context) error {
	return ds.enableDocumentValidation(ctx, ds.mapper.EntityModels())
}

// IndexModels converts mapping indexes to driver index models.
func IndexModels(indexes []mapping.Index) []mongo.IndexModel {
	out := make([]mongo.IndexModel, 0, len(indexes))
	for _, idx := range indexes {
		opts := options.Index()
		if idx.Name != "" {
			opts.SetName(idx.Name)
		}
		if idx.Unique {
			opts.SetUnique(true)
		}
		if idx.Sparse {
			opts.SetSparse(true)
		}
		if idx.ExpireAfterSeconds != nil {
			opts.SetExpireAfterSeconds(*idx.ExpireAfterSeconds)
		}
		if len(idx.PartialFilter) > 0 {
			opts.SetPartialFilterExpression(idx.PartialFilter)
		}
		if weights := idx.Weights(); len(weights) > 0 {
			opts.SetWeights(weights)
		}
		if idx.DefaultLanguage != "" {
			opts.SetDefaultLanguage(idx.DefaultLanguage)
		}
		out = append(out, mongo.IndexModel{Keys: idx.Keys(), Options: opts})
	}
	return out
}

func (ds *Datastore) ensureIndexes(ctx context.Context, models []*mapping.EntityModel) error {
	catcher := grip.NewBasicCatcher()
	for _, model := range models {
		indexes, err := ds.mapper.IndexesFor(model)
		if err != nil {
			catcher.Wrapf(err, "indexes of '%s'", model.Name)
			continue
		}
		if len(indexes) == 0 {
			continue
		}
		names, err := ds.Collection(model).Indexes().CreateMany(ctx, IndexModels(indexes))
		if err != nil {
			catcher.Wrapf(err, "creating indexes on '%s' for '%s'", model.Collection, model.Name)
			continue
		}
		grip.Debug(message.Fields{
			"message":    "ensured indexes",
			"collection": model.Collection,
			"entity":     model.Name,
			"indexes":    names,
		})
	}
	return catcher.Resolve()
}

func (ds *Datastore) ensureCaps(ctx context.Context, models []*mapping.EntityModel) error {
	catcher := grip.NewBasicCatcher()
	for _, model := range models {
		if model.CappedSize <= 0 {
			continue
		}
		created, err := db.CreateCappedCollection(ctx, ds.database, model.Collection, model.CappedSize, model.CappedCount)
		if err != nil {
			catcher.Add(err)
			continue
		}
		if created {
			grip.Debug(message.Fields{
				"message":    "created capped collection",
				"collection": model.Collection,
				"size":       model.CappedSize,
				"count":      model.CappedCount,
			})
			continue
		}

		opts, err := db.CollectionOptions(ctx, ds.database, model.Collection)
		if err != nil {
			catcher.Add(err)
			continue
		}
		capped, _ := opts["capped"].(bool)
		grip.WarningWhen(!capped, message.Fields{
			"message":    "collection exists and is not capped",
			"collection": model.Collection,
			"entity":     model.Name,
		})
	}
	return catcher.Resolve()
}

func (ds *Datastore) enableDocumentValidation(ctx context.Context, models []*mapping.EntityModel) error {
	catcher := grip.NewBasicCatcher()
	for _, model := range models {
		v, ok := model.New().Interface().(mapping.Validator)
		if !ok {
			continue
		}
		validator := v.Validation()
		if len(validator) == 0 {
			continue
		}
		catcher.Wrapf(ds.applyValidator(ctx, model, validator), "validator of '%s'", model.Name)
	}
	return catcher.Resolve()
}

func (ds *Datastore) applyValidator(ctx context.Context, model *mapping.EntityModel, validator bson.M) error {
	cmd := bson.D{
		{Key: "collMod", Value: model.Collection},
		{Key: "validator", Value: validator},
	}
	if model.ValidationLevel != "" {
		cmd = append(cmd, bson.E{Key: "validationLevel", Value: model.ValidationLevel})
	}
	if model.ValidationAction != "" {
		cmd = append(cmd, bson.E{Key: "validationAction", Value: model.ValidationAction})
	}

	err := ds.database.RunCommand(ctx, cmd).Err()
	if db.IsNamespaceNotFound(err) {
		opts := options.CreateCollection().SetValidator(validator)
		if model.ValidationLevel != "" {
			opts.SetValidationLevel(model.ValidationLevel)
		}
		if model.ValidationAction != "" {
			opts.SetValidationAction(model.ValidationAction)
		}
		err = ds.database.CreateCollection(ctx, model.Collection, opts)
	}
	if err != nil {
		return errors.Wrapf(err, "applying validator to '%s'", model.Collection)
	}
	grip.Debug(message.Fields{
		"message":    "applied document validator",
		"collection": model.Collection,
		"level":      model.ValidationLevel,
		"action":     model.ValidationAction,
	})
	return nil
}
