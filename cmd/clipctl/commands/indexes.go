package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/clipsearch/internal/domain"
)

var indexesCmd = &cobra.Command{
	Use:   "indexes [index]",
	Short: "List index versions",
	Long: `List the versions of every declared index, or of one index, newest first.

Examples:
  clipctl indexes
  clipctl indexes clip-v1 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		names := app.Registry.Names()
		if len(args) == 1 {
			if _, ok := app.Registry.Get(args[0]); !ok {
				return fmt.Errorf("index %s is not declared: %w", args[0], domain.ErrNotFound)
			}
			names = args
		}

		var all []domain.Index
		for _, name := range names {
			versions, err := app.Catalog.ListVersions(ctx, name)
			if err != nil {
				return err
			}
			all = append(all, versions...)
		}

		if outputJSON {
			return printJSON(all)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tSTATUS\tVECTORS\tDIMS\tCURSOR\tSNAPSHOT\tREASON")
		for _, idx := range all {
			fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%d\t%s\t%s\n",
				idx.Name, idx.Version, idx.Status, idx.VectorCount, idx.Dimensions, idx.Cursor,
				idx.SnapshotAt.Format(time.RFC3339), idx.FailReason)
		}
		return w.Flush()
	},
}
