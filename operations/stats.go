package operations

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/MorphiaOrg/morphia"
	"github.com/MorphiaOrg/morphia/db"
	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"
)

// Stats prints collection sizes.
func Stats() cli.Command {
	return cli.Command{
		Name:  "stats",
		Usage: "show document counts and sizes of collections",
		Flags: addDatabaseFlag(addCollectionFlag()...),
		Action: func(c *cli.Context) error {
			collections := c.StringSlice(collectionFlagName)
			return withDatastore(c, func(ctx context.Context, ds *morphia.Datastore) error {
				if len(collections) == 0 {
					names, err := db.CollectionNames(ctx, ds.Database())
					if err != nil {
						return err
					}
					collections = names
				}

				stats := make([]*db.Stats, 0, len(collections))
				for _, name := range collections {
					s, err := db.CollectionStats(ctx, ds.Database(), name)
					if err != nil {
						return err
					}
					if s.Name == "" {
						s.Name = name
					}
					stats = append(stats, s)
				}

				fmt.Printf("%d collections in '%s':\n", len(stats), ds.Database().Name())
				t := tabby.New()
				t.AddHeader("Collection", "Documents", "Size", "Storage", "Indexes", "Index Size", "Capped")
				for _, row := range statsRows(stats) {
					t.AddLine(row[0], row[1], row[2], row[3], row[4], row[5], row[6])
				}
				t.Print()
				return nil
			})
		},
	}
}

// statsRows renders stats largest first with human readable sizes.
func statsRows(stats []*db.Stats) [][]string {
	sorted := append([]*db.Stats{}, stats...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Size > sorted[j].Size })

	rows := make([][]string, 0, len(sorted))
	for _, s := range sorted {
		rows = append(rows, []string{
			s.Name,
			humanize.Comma(s.Count),
			humanize.Bytes(uint64(s.Size)),
			humanize.Bytes(uint64(s.StorageSize)),
			strconv.FormatInt(s.IndexCount, 10),
			humanize.Bytes(uint64(s.TotalIndexSize)),
			strconv.FormatBool(s.Capped),
		})
	}
	return rows
}
