// Package operations holds the subcommands of the morphia command line
// tool.
package operations

import (
	"context"

	"github.com/MorphiaOrg/morphia"
	"github.com/MorphiaOrg/morphia/telemetry"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// loadConfig reads the configuration named by the global conf flag and
// applies the command's database override.
func loadConfig(c *cli.Context) (*morphia.Config, error) {
	path := c.GlobalString(confFlagName)
	if path == "" {
		return nil, errors.New("configuration path is not specified")
	}
	conf, err := morphia.LoadConfig(path)
	if err != nil {
		return nil, errors.Wrap(err, "problem loading configuration")
	}
	if db := c.String(databaseFlagName); db != "" {
		conf.Database = db
	}
	return conf, nil
}

// withDatastore connects using the command's configuration and runs op,
// closing the connection and flushing telemetry afterwards.
func withDatastore(c *cli.Context, op func(ctx context.Context, ds *morphia.Datastore) error) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closeTelemetry, err := telemetry.Setup(ctx, conf.Tracer)
	if err != nil {
		return errors.Wrap(err, "setting up telemetry")
	}
	defer func() {
		grip.Warning(errors.Wrap(closeTelemetry(context.Background()), "closing telemetry"))
	}()

	ds, err := morphia.Connect(ctx, *conf)
	if err != nil {
		return errors.Wrap(err, "problem connecting to the database")
	}
	defer func() {
		grip.Warning(ds.Close(context.Background()))
	}()

	return op(ctx, ds)
}
