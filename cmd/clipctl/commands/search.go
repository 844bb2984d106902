package commands

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/service"
)

var (
	searchText      string
	searchImage     string
	searchVideo     string
	searchTopK      int
	searchMediaType string
	searchWeights   map[string]string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a query against the active indexes",
	Long: `Run a query against the active indexes.

Any combination of --text, --image and --video may be given; their ranked lists
are fused into one.

Examples:
  clipctl search --text "a dog catching a frisbee"
  clipctl search --image query.jpg --text beach --weights text=2,image=1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var payloads []service.Payload
		if searchText != "" {
			payloads = append(payloads, service.Payload{Modality: domain.ModalityText, Text: searchText})
		}
		for _, f := range []struct {
			modality domain.Modality
			path     string
		}{
			{domain.ModalityImage, searchImage},
			{domain.ModalityVideo, searchVideo},
		} {
			if f.path == "" {
				continue
			}
			data, err := os.ReadFile(f.path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", f.path, err)
			}
			payloads = append(payloads, service.Payload{
				Modality:    f.modality,
				Data:        data,
				ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(f.path))),
			})
		}
		if len(payloads) == 0 {
			return fmt.Errorf("at least one of --text, --image, --video is required")
		}

		weights := make(map[domain.Modality]float64, len(searchWeights))
		for k, raw := range searchWeights {
			m, err := domain.ParseModality(k)
			if err != nil {
				return err
			}
			w, err := strconv.ParseFloat(raw, 64)
			if err != nil || w < 0 {
				return fmt.Errorf("weight of %s must be a non-negative number, got %q", k, raw)
			}
			weights[m] = w
		}

		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		topK := searchTopK
		if topK == 0 {
			topK = app.Config.Search.DefaultTopK
		}
		resp, err := app.SearchService(app.Embedder()).Search(ctx, &service.SearchRequest{
			Payloads:  payloads,
			TopK:      topK,
			MediaType: searchMediaType,
			Weights:   weights,
		})
		if err != nil {
			return fmt.Errorf("search failed (%s): %w", domain.ErrorKind(err), err)
		}

		if outputJSON {
			return printJSON(resp)
		}
		for m, reason := range resp.Dropped {
			fmt.Fprintf(os.Stderr, "dropped %s: %s\n", m, reason)
		}
		for i, r := range resp.Results {
			fmt.Printf("%2d. %.4f  %s  %s @ %.2fs  %v\n", i+1, r.Similarity, r.MediaType, r.Title, r.Timestamp, r.Modalities)
		}
		fmt.Printf("search_id %s\n", resp.SearchID)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchText, "text", "", "text query")
	searchCmd.Flags().StringVar(&searchImage, "image", "", "image file to search by")
	searchCmd.Flags().StringVar(&searchVideo, "video", "", "video file to search by")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of results; 0 uses search.default_top_k")
	searchCmd.Flags().StringVar(&searchMediaType, "media-type", "", "restrict results to image or video")
	searchCmd.Flags().StringToStringVar(&searchWeights, "weights", nil, "per-modality fusion weights, e.g. text=2,image=1")
}
