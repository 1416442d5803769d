package operations

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/MorphiaOrg/morphia"
	"github.com/cheynewallace/tabby"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.mongodb.org/mongo-driver/bson"
)

type indexSpec struct {
	Name   string `bson:"name"`
	Keys   bson.D `bson:"key"`
	Unique bool   `bson:"unique"`
	Sparse bool   `bson:"sparse"`
	TTL    *int32 `bson:"expireAfterSeconds"`
}

// Indexes inspects collection indexes.
func Indexes() cli.Command {
	return cli.Command{
		Name:  "indexes",
		Usage: "inspect collection indexes",
		Subcommands: []cli.Command{
			{
				Name:   "list",
				Usage:  "list the indexes of collections",
				Flags:  addDatabaseFlag(addCollectionFlag()...),
				Before: mergeBeforeFuncs(requireCollectionFlag),
				Action: func(c *cli.Context) error {
					collections := c.StringSlice(collectionFlagName)
					return withDatastore(c, func(ctx context.Context, ds *morphia.Datastore) error {
						for _, name := range collections {
							specs, err := listIndexes(ctx, ds, name)
							if err != nil {
								return err
							}
							fmt.Printf("%d indexes on '%s':\n", len(specs), name)
							t := tabby.New()
							t.AddHeader("Name", "Keys", "Options")
							for _, row := range indexRows(specs) {
								t.AddLine(row[0], row[1], row[2])
							}
							t.Print()
						}
						return nil
					})
				},
			},
		},
	}
}

func listIndexes(ctx context.Context, ds *morphia.Datastore, collection string) ([]indexSpec, error) {
	cursor, err := ds.Database().Collection(collection).Indexes().List(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "listing indexes of '%s'", collection)
	}
	specs := []indexSpec{}
	if err = cursor.All(ctx, &specs); err != nil {
		return nil, errors.Wrapf(err, "reading indexes of '%s'", collection)
	}
	return specs, nil
}

func indexRows(specs []indexSpec) [][]string {
	rows := make([][]string, 0, len(specs))
	for _, spec := range specs {
		keys := make([]string, 0, len(spec.Keys))
		for _, k := range spec.Keys {
			keys = append(keys, fmt.Sprintf("%s: %v", k.Key, k.Value))
		}
		opts := []string{}
		if spec.Unique {
			opts = append(opts, "unique")
		}
		if spec.Sparse {
			opts = append(opts, "sparse")
		}
		if spec.TTL != nil {
			opts = append(opts, "ttl="+strconv.Itoa(int(*spec.TTL))+"s")
		}
		rows = append(rows, []string{spec.Name, strings.Join(keys, ", "), strings.Join(opts, ", ")})
	}
	return rows
}
