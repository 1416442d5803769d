package operations

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MorphiaOrg/morphia"
	"github.com/cheynewallace/tabby"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const (
	redactedPassword = "xxxxx"
	invalidURI       = "(invalid connection string)"
)

// Config inspects the tool's configuration file.
func Config() cli.Command {
	return cli.Command{
		Name:  "config",
		Usage: "inspect the datastore configuration",
		Subcommands: []cli.Command{
			{
				Name:  "show",
				Usage: "print the effective configuration, defaults included",
				Flags: addDatabaseFlag(),
				Action: func(c *cli.Context) error {
					conf, err := loadConfig(c)
					if err != nil {
						return err
					}
					rows, err := configRows(*conf)
					if err != nil {
						return err
					}
					t := tabby.New()
					t.AddHeader("Setting", "Value")
					for _, row := range rows {
						t.AddLine(row[0], row[1])
					}
					t.Print()
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "check the configuration file for errors",
				Action: func(c *cli.Context) error {
					if _, err := loadConfig(c); err != nil {
						return err
					}
					fmt.Printf("configuration '%s' is valid\n", c.GlobalString(confFlagName))
					return nil
				},
			},
		},
	}
}

// configRows flattens conf into sorted setting/value pairs. Passwords in
// the URI are redacted.
func configRows(conf morphia.Config) ([][]string, error) {
	values := map[string]any{}
	if err := mapstructure.Decode(conf, &values); err != nil {
		return nil, errors.Wrap(err, "flattening configuration")
	}
	values["uri"] = redactURI(conf.URI)

	rows := [][]string{}
	var add func(prefix string, values map[string]any)
	add = func(prefix string, values map[string]any) {
		for key, value := range values {
			if nested, ok := value.(map[string]any); ok {
				add(prefix+key+".", nested)
				continue
			}
			rows = append(rows, []string{prefix + key, fmt.Sprintf("%v", value)})
		}
	}
	add("", values)

	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	return rows, nil
}

// redactURI hides the password of a connection string. Strings the driver
// cannot parse, such as SRV strings that do not resolve, are redacted by
// their shape.
func redactURI(uri string) string {
	cs, err := connstring.Parse(uri)
	if err == nil && !cs.PasswordSet {
		return uri
	}

	scheme := strings.Index(uri, "://")
	if scheme < 0 {
		return invalidURI
	}
	rest := uri[scheme+len("://"):]
	end := strings.IndexAny(rest, "/?")
	if end < 0 {
		end = len(rest)
	}
	at := strings.LastIndex(rest[:end], "@")
	if at < 0 {
		if err != nil && strings.Contains(rest, "@") {
			return invalidURI
		}
		return uri
	}
	user, _, _ := strings.Cut(rest[:at], ":")
	return uri[:scheme+len("://")] + user + ":" + redactedPassword + "@" + rest[at+1:]
}
