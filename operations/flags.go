package operations

import (
	"strings"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

const (
	confFlagName       = "conf"
	collectionFlagName = "collection"
	databaseFlagName   = "database"
)

// DefaultConfigFileName is where the tool looks for its configuration when
// no path is given.
const DefaultConfigFileName = "morphia.yml"

func addCollectionFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringSliceFlag{
		Name:  joinFlagNames(collectionFlagName, "n"),
		Usage: "collection to operate on; may specify more than once",
	})
}

func addDatabaseFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  joinFlagNames(databaseFlagName, "d"),
		Usage: "database to use instead of the configured one",
	})
}

func joinFlagNames(ids ...string) string { return strings.Join(ids, ", ") }

func requireCollectionFlag(c *cli.Context) error {
	if len(c.StringSlice(collectionFlagName)) == 0 {
		return errors.Errorf("must specify at least one '--%s'", collectionFlagName)
	}
	return nil
}

func mergeBeforeFuncs(ops ...func(c *cli.Context) error) cli.BeforeFunc {
	return func(c *cli.Context) error {
		catcher := grip.NewBasicCatcher()

		for _, op := range ops {
			catcher.Add(op(c))
		}

		return catcher.Resolve()
	}
}
