// Package tracing wires optional Langfuse tracing into the eino callback
// chain so every chat, summarization, and history-compaction model call is
// traced end to end.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// Setup initialises Langfuse tracing if LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are set, registering the handler globally so all eino
// model calls report without per-call wiring. Returns a flush function that
// must be called before process exit to ensure all traces are sent, and
// whether tracing was enabled. When Langfuse is not configured the flush
// function is a no-op and tracing is silently disabled.
func Setup() (func(), bool) {
	host := os.Getenv("LANGFUSE_HOST")
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")

	if publicKey == "" || secretKey == "" {
		return func() {}, false
	}
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "docqa",
	})
	callbacks.AppendGlobalHandlers(handler)

	return flusher, true
}
