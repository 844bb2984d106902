// Package main provides clipctl, the operator CLI of clipsearch.
//
// Usage:
//
//	clipctl [flags] <command> [args]
//
// Commands:
//
//	build    - Build a new version of an index
//	indexes  - List index versions
//	import   - Upload and ingest media files from a directory
//	ingest   - Re-run ingestion of failed or interrupted media
//	search   - Run a query against the active indexes
package main

import (
	"fmt"
	"os"

	"github.com/timmy/clipsearch/cmd/clipctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
