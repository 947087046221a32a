package embedder

import (
	"context"
	"fmt"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// Validate performs a pre-flight check against the embedding service: it
// embeds a single probe string and verifies the returned vector matches the
// expected dimensions. Call this at startup so a misconfigured model fails
// fast rather than on the first ingest.
func Validate(ctx context.Context, emb rag.Embedder, info Info) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	vecs, err := emb.Embed(ctx, []string{"connectivity probe"})
	if err != nil {
		return fmt.Errorf("embedding service unreachable (%s/%s): %w", info.Provider, info.Model, err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("embedding probe: expected 1 vector, got %d", len(vecs))
	}
	if got := len(vecs[0]); got != info.Dimensions {
		return fmt.Errorf("embedding model %q returned %d dimensions, expected %d; check EMBEDDING_DIMENSIONS",
			info.Model, got, info.Dimensions)
	}
	return nil
}
