// Command qaserve is the entry point for the semantic question-answering
// service. It provides a CLI interface (via Cobra) and an HTTP server
// exposing ingestion, search and retrain control.
package main

import (
	"fmt"
	"os"

	"github.com/vanntrong/qaserve-go/cmd/qaserve/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
