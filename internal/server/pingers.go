package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docqa-go/internal/rag"
)

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// EmbedderPinger probes the embedding service by embedding a single short
// string. It satisfies the Pinger interface and is used by GET /ready.
// Wire it with the raw embedder, not the caching one, so every probe
// actually reaches the service.
type EmbedderPinger struct {
	embedder rag.Embedder
	name     string
}

// NewEmbedderPinger constructs an EmbedderPinger for the given embedder and
// provider name.
func NewEmbedderPinger(e rag.Embedder, name string) *EmbedderPinger {
	return &EmbedderPinger{embedder: e, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *EmbedderPinger) Name() string { return p.name }

// Ping embeds a single probe string.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	vecs, err := p.embedder.Embed(ctx, []string{"ping"})
	if err != nil {
		return fmt.Errorf("embed failed: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return fmt.Errorf("embed returned no vector")
	}
	return nil
}
