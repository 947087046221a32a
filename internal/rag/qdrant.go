package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// ErrStore is the sentinel wrapped by all vector store failures so callers
// can classify them without depending on the backend's error types.
var ErrStore = errors.New("vector store error")

// Payload keys used for chunk metadata in Qdrant points.
const (
	payloadContent   = "content"
	payloadSource    = "source"
	payloadChunkID   = "chunk_id"
	payloadPageStart = "page_start"
	payloadPageEnd   = "page_end"
	payloadOrdinal   = "ordinal"
)

// QdrantConfig holds connection parameters for a Qdrant vector store
// instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this
	// collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
// Writes are serialized by a mutex (single-writer discipline per
// collection); reads go straight to the client, which is safe for
// concurrent use.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig

	// writeMu serializes Upsert and Delete so concurrent ingesters cannot
	// interleave partial batches.
	writeMu sync.Mutex
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %v: %w", err, ErrStore)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// Client exposes the underlying gRPC client for readiness probes.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %v: %w", err, ErrStore)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %v: %w", s.cfg.Collection, err, ErrStore)
	}

	return nil
}

// Upsert stores or updates a batch of documents with their embeddings.
// Upserting the same chunk IDs again overwrites the existing points, so
// re-ingesting an unchanged document never creates duplicates.
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d docs but %d embeddings: %w", len(docs), len(embeddings), ErrStore)
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		payload := map[string]interface{}{
			payloadContent:   doc.Content,
			payloadSource:    doc.Source,
			payloadChunkID:   doc.ID,
			payloadPageStart: strconv.Itoa(doc.PageStart),
			payloadPageEnd:   strconv.Itoa(doc.PageEnd),
			payloadOrdinal:   strconv.Itoa(doc.Ordinal),
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointUUID(doc.ID)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %v: %w", err, ErrStore)
	}

	return nil
}

// Search performs a cosine similarity search and returns the top-k results
// ordered by descending score.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error) {
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %v: %w", err, ErrStore)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		doc := Document{
			ID:    r.Id.GetUuid(),
			Score: r.Score,
		}
		if p := r.Payload; p != nil {
			if v, ok := p[payloadContent]; ok {
				doc.Content = v.GetStringValue()
			}
			if v, ok := p[payloadSource]; ok {
				doc.Source = v.GetStringValue()
			}
			if v, ok := p[payloadChunkID]; ok && v.GetStringValue() != "" {
				doc.ID = v.GetStringValue()
			}
			if v, ok := p[payloadPageStart]; ok {
				doc.PageStart, _ = strconv.Atoi(v.GetStringValue())
			}
			if v, ok := p[payloadPageEnd]; ok {
				doc.PageEnd, _ = strconv.Atoi(v.GetStringValue())
			}
			if v, ok := p[payloadOrdinal]; ok {
				doc.Ordinal, _ = strconv.Atoi(v.GetStringValue())
			}
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// Delete removes documents from the collection by their chunk IDs.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(pointUUID(id)))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %v: %w", err, ErrStore)
	}

	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// pointUUID derives a deterministic UUID from a chunk ID, since Qdrant
// point IDs must be UUIDs or integers.
func pointUUID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}
