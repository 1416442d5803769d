package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/MorphiaOrg/morphia"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.mongodb.org/mongo-driver/bson"
)

type buildInfo struct {
	Version string `bson:"version"`
	GitHash string `bson:"gitVersion"`
}

// Ping checks that the configured server is reachable.
func Ping() cli.Command {
	return cli.Command{
		Name:  "ping",
		Usage: "check that the configured database is reachable",
		Flags: addDatabaseFlag(),
		Action: func(c *cli.Context) error {
			return withDatastore(c, func(ctx context.Context, ds *morphia.Datastore) error {
				start := time.Now()
				info := buildInfo{}
				if err := ds.Database().RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&info); err != nil {
					return errors.Wrap(err, "getting server build info")
				}
				fmt.Printf("database '%s' is reachable (server %s, answered in %s)\n",
					ds.Database().Name(), info.Version, time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}
