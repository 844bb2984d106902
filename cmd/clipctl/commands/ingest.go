package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/service"
)

var (
	ingestStatus string
	ingestLimit  int
	ingestBuild  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Re-run ingestion of failed or interrupted media",
	Long: `Re-run ingestion of media in error or processing status, oldest first.

Every run replaces the frames of a media item with a new generation, so
retrying never duplicates frames or vectors.

Examples:
  clipctl ingest --status error --limit 50
  clipctl ingest --status processing --build`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := domain.MediaStatus(ingestStatus)
		if status != domain.MediaStatusError && status != domain.MediaStatusProcessing {
			return fmt.Errorf("--status must be error or processing, got %q", ingestStatus)
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

		stats, err := ingest.Reingest(ctx, status, ingestLimit)
		if err != nil {
			return err
		}
		if ingestBuild {
			builder.Check(ctx)
		}

		if outputJSON {
			return printJSON(stats)
		}
		fmt.Printf("total %d, processed %d, failed %d (%s)\n",
			stats.TotalItems, stats.ProcessedItems, stats.FailedItems, stats.EndTime.Sub(stats.StartTime))
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestStatus, "status", string(domain.MediaStatusError), "media status to retry: error or processing")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 100, "maximum number of media to process")
	ingestCmd.Flags().BoolVar(&ingestBuild, "build", false, "run due index builds afterwards")
}
