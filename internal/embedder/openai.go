package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OpenAIEmbedder implements rag.Embedder using the OpenAI (or Azure OpenAI)
// embeddings REST API. It is safe for concurrent use.
type OpenAIEmbedder struct {
	// baseURL is the API base (e.g. "https://api.openai.com/v1" or an
	// Azure endpoint).
	baseURL string
	// apiKey is the Bearer token (OpenAI) or api-key header value (Azure).
	apiKey string
	// model is the embedding model name (e.g. "text-embedding-3-small").
	model string
	// dimensions is the desired embedding vector length (0 = model default).
	dimensions int
	// azure selects Azure-style auth (api-key header) over Bearer token.
	azure bool
	// apiVersion is the Azure OpenAI API version query param (ignored for
	// OpenAI).
	apiVersion string
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-3-small").
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version (e.g. "2025-04-01-preview").
	// Ignored when Azure is false.
	APIVersion string
	// Timeout bounds each embed request. Defaults to 30s if zero.
	Timeout time.Duration
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIEmbedder{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		azure:      cfg.Azure,
		apiVersion: cfg.APIVersion,
		client:     &http.Client{Timeout: timeout},
	}
}

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// openaiEmbedResponse is the JSON body returned from the embeddings endpoint.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := openaiEmbedRequest{
		Input: texts,
		Model: e.model,
	}
	if e.dimensions > 0 {
		body.Dimensions = e.dimensions
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: marshal request: %w", err)
	}

	url := e.baseURL + "/embeddings"
	if e.azure {
		url = e.baseURL + "/deployments/" + e.model + "/embeddings?api-version=" + e.apiVersion
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.azure {
		req.Header.Set("api-key", e.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: request failed: %v: %w", err, ErrService)
	}
	defer resp.Body.Close()

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("openai embedder: decode response: %v: %w", err, ErrService)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, fmt.Errorf("openai embedder: %s: %w", msg, ErrService)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: expected %d embeddings, got %d: %w",
			len(texts), len(result.Data), ErrService)
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embedder: index %d out of range [0, %d): %w",
				d.Index, len(texts), ErrService)
		}
		embeddings[d.Index] = d.Embedding
	}

	return embeddings, nil
}
