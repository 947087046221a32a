package embedder

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// defaultDimensions maps known embedding models to their vector sizes.
// Used when EMBEDDING_DIMENSIONS is not set explicitly.
var defaultDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// DefaultDimensions returns the known vector size for a model, or 0 when the
// model is not recognized.
func DefaultDimensions(model string) int {
	return defaultDimensions[model]
}

// NewFromEnv constructs an embedder from environment variables.
//
// EMBEDDING_PROVIDER selects the backend ("ollama", "openai", "azure");
// when unset it falls back to MODEL_PROVIDER so a single-provider deployment
// needs only one variable. Returns the embedder together with its resolved
// Info so callers can size vector collections without re-reading the env.
func NewFromEnv() (rag.Embedder, Info, error) {
	provider := os.Getenv("EMBEDDING_PROVIDER")
	if provider == "" {
		provider = os.Getenv("MODEL_PROVIDER")
	}
	if provider == "" {
		provider = "ollama"
	}

	model := os.Getenv("EMBEDDING_MODEL")
	dimensions := 0
	if v := os.Getenv("EMBEDDING_DIMENSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, Info{}, fmt.Errorf("invalid EMBEDDING_DIMENSIONS %q", v)
		}
		dimensions = n
	}

	timeout := 60 * time.Second
	if v := os.Getenv("EMBEDDING_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, Info{}, fmt.Errorf("invalid EMBEDDING_TIMEOUT %q", v)
		}
		timeout = d
	}

	switch provider {
	case "ollama":
		if model == "" {
			model = "nomic-embed-text"
		}
		host := os.Getenv("OLLAMA_HOST")
		if host == "" {
			host = "http://localhost:11434"
		}
		if dimensions == 0 {
			dimensions = DefaultDimensions(model)
		}
		if dimensions == 0 {
			return nil, Info{}, fmt.Errorf("unknown dimensions for model %q, set EMBEDDING_DIMENSIONS", model)
		}
		emb := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model, Timeout: timeout})
		return emb, Info{Provider: provider, Model: model, Dimensions: dimensions}, nil

	case "openai":
		if model == "" {
			model = "text-embedding-3-small"
		}
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, Info{}, fmt.Errorf("OPENAI_API_KEY is required for provider %q", provider)
		}
		baseURL := os.Getenv("OPENAI_BASE_URL")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		if dimensions == 0 {
			dimensions = DefaultDimensions(model)
		}
		if dimensions == 0 {
			return nil, Info{}, fmt.Errorf("unknown dimensions for model %q, set EMBEDDING_DIMENSIONS", model)
		}
		emb := NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			Model:      model,
			Dimensions: dimensions,
			Timeout:    timeout,
		})
		return emb, Info{Provider: provider, Model: model, Dimensions: dimensions}, nil

	case "azure":
		if model == "" {
			model = os.Getenv("AZURE_EMBEDDING_DEPLOYMENT")
		}
		if model == "" {
			return nil, Info{}, fmt.Errorf("EMBEDDING_MODEL or AZURE_EMBEDDING_DEPLOYMENT is required for provider %q", provider)
		}
		apiKey := os.Getenv("AZURE_OPENAI_API_KEY")
		endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT")
		if apiKey == "" || endpoint == "" {
			return nil, Info{}, fmt.Errorf("AZURE_OPENAI_API_KEY and AZURE_OPENAI_ENDPOINT are required for provider %q", provider)
		}
		apiVersion := os.Getenv("AZURE_OPENAI_API_VERSION")
		if apiVersion == "" {
			apiVersion = "2025-04-01-preview"
		}
		if dimensions == 0 {
			dimensions = DefaultDimensions(model)
		}
		if dimensions == 0 {
			return nil, Info{}, fmt.Errorf("unknown dimensions for model %q, set EMBEDDING_DIMENSIONS", model)
		}
		emb := NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      model,
			Dimensions: dimensions,
			Azure:      true,
			APIVersion: apiVersion,
			Timeout:    timeout,
		})
		return emb, Info{Provider: provider, Model: model, Dimensions: dimensions}, nil

	default:
		return nil, Info{}, fmt.Errorf("unsupported embedding provider %q", provider)
	}
}
