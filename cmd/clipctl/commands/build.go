package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/clipsearch/internal/service"
)

var buildMode string

var buildCmd = &cobra.Command{
	Use:   "build <index>",
	Short: "Build a new version of an index",
	Long: `Build a new version of an index and make it active.

An incremental build folds the records added since the active version and
drops superseded ones; it falls back to a full build when no version is active.

Examples:
  clipctl build clip-v1
  clipctl build clip-v1 --mode full`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := service.ParseBuildMode(buildMode)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		start := time.Now()
		idx, err := app.Builder().Build(ctx, args[0], mode)
		if err != nil {
			return fmt.Errorf("build of %s failed: %w", args[0], err)
		}

		if outputJSON {
			return printJSON(idx)
		}
		fmt.Printf("%s v%d ready: %d vectors, %d dimensions, cursor %d (%s)\n",
			idx.Name, idx.Version, idx.VectorCount, idx.Dimensions, idx.Cursor,
			time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildMode, "mode", string(service.BuildIncremental), "build mode: full or incremental")
}
