package operations

import (
	"context"
	"fmt"

	"github.com/MorphiaOrg/morphia"
	"github.com/MorphiaOrg/morphia/db"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/urfave/cli"
)

// Drop removes collections.
func Drop() cli.Command {
	const clearFlagName = "clear"

	return cli.Command{
		Name:  "drop",
		Usage: "drop collections, or only remove their documents",
		Flags: addDatabaseFlag(addCollectionFlag(
			cli.BoolFlag{
				Name:  clearFlagName,
				Usage: "remove all documents but keep the collections and their indexes",
			})...),
		Before: mergeBeforeFuncs(requireCollectionFlag),
		Action: func(c *cli.Context) error {
			collections := c.StringSlice(collectionFlagName)
			clearOnly := c.Bool(clearFlagName)
			return withDatastore(c, func(ctx context.Context, ds *morphia.Datastore) error {
				var err error
				if clearOnly {
					err = db.ClearCollections(ctx, ds.Database(), collections...)
				} else {
					err = db.DropCollections(ctx, ds.Database(), collections...)
				}
				if err != nil {
					return err
				}
				grip.Info(message.Fields{
					"message":     "dropped collections",
					"database":    ds.Database().Name(),
					"collections": collections,
					"clear_only":  clearOnly,
				})
				fmt.Printf("%d collections done in '%s'\n", len(collections), ds.Database().Name())
				return nil
			})
		},
	}
}
