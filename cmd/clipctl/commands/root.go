package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/timmy/clipsearch/internal/bootstrap"
	"github.com/timmy/clipsearch/internal/config"
	"github.com/timmy/clipsearch/internal/logger"
)

var (
	configPath string
	outputJSON bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "clipctl",
	Short: "Operate a clipsearch deployment",
	Long: `Operate a clipsearch deployment.

clipctl talks to the same database and object store as the API and indexer
processes, using the same configuration file and environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command; SIGINT and SIGTERM cancel its context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to config file")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print JSON output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(indexesCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
}

// openApp loads configuration and connects every backend.
func openApp(ctx context.Context) (*bootstrap.App, error) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	log := logger.New(&logger.Config{
		Level:       level,
		Format:      "text",
		Output:      os.Stderr,
		ServiceName: "clipctl",
	})
	logger.SetDefaultLogger(log)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return bootstrap.Open(ctx, cfg, log)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
