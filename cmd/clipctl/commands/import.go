package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/timmy/clipsearch/internal/service"
	"github.com/timmy/clipsearch/internal/source"
	"github.com/timmy/clipsearch/internal/source/directory"
	"github.com/timmy/clipsearch/internal/source/manifest"
)

var (
	importLimit int
	importForce bool
	importBuild bool
)

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Upload and ingest media files from a directory",
	Long: `Upload and ingest media files from a directory.

A directory containing manifest.jsonl is imported from the manifest, with the
listed files under files/. Any other directory is walked for image and video
files. Items whose source URL was imported before are skipped unless --force.

Examples:
  clipctl import ./footage --limit 500
  clipctl import ./staging/batch-7 --build`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var src source.Source
		if _, err := os.Stat(filepath.Join(args[0], manifest.FileName)); err == nil {
			src = manifest.NewAdapter(args[0])
		} else {
			src = directory.NewAdapter(args[0])
		}

		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		builder := app.Builder()
		var notifier service.BuildNotifier = builder
		if app.Config.Services.IndexerURL != "" {
			notifier = service.NewRemoteNotifier(app.Config.Services.IndexerURL, app.Config.Services.Timeout)
		}
		ingest := app.IngestService(app.Embedder(), notifier)

		stats, err := ingest.ImportFromSource(ctx, src, importLimit, &service.ImportOptions{Force: importForce})
		if err != nil {
			return err
		}
		if importBuild {
			builder.Check(ctx)
		}

		if outputJSON {
			return printJSON(stats)
		}
		fmt.Printf("%s: total %d, skipped %d, failed %d (%s)\n", src.GetSourceID(),
			stats.TotalItems, stats.SkippedItems, stats.FailedItems, stats.EndTime.Sub(stats.StartTime))
		return nil
	},
}

func init() {
	importCmd.Flags().IntVar(&importLimit, "limit", 100, "maximum number of items to import")
	importCmd.Flags().BoolVar(&importForce, "force", false, "import items seen before")
	importCmd.Flags().BoolVar(&importBuild, "build", false, "run due index builds afterwards")
}
