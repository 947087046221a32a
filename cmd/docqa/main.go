// Command docqa is the entry point for the document question-answering
// service. It provides a CLI interface (via Cobra) for batch PDF ingestion
// and an HTTP server exposing the RAG question-answering API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docqa-go/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
