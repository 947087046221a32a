// Package provider selects and constructs LLM chat-model backends at runtime.
// Supported backends: Ollama, OpenAI, Azure OpenAI, AWS Bedrock, Google Gemini.
package provider

import (
	"fmt"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via Vertex AI or AI Studio.
	BackendGemini Backend = "gemini"
)

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	// Model is the model name or deployment ID to use (e.g. "gpt-4o", "llama3").
	Model string

	// BaseURL overrides the default API endpoint (required for Azure).
	BaseURL string

	// APIKey is the authentication credential for the selected provider.
	// For Bedrock this field is unused; AWS credentials are resolved via the SDK chain.
	APIKey string

	// AzureDeployment is the Azure OpenAI deployment name (Azure only).
	AzureDeployment string

	// AzureAPIVersion is the Azure OpenAI REST API version (Azure only).
	// Populated from AZURE_OPENAI_API_VERSION (e.g. "2024-02-01").
	AzureAPIVersion string

	// AWSRegion is the AWS region for Bedrock (Bedrock only).
	AWSRegion string

	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int

	// Temperature controls response randomness (0.0 is deterministic and the
	// right choice for document question answering).
	Temperature float32
}

// Validate checks that the config names a known backend and carries the
// fields that backend requires. Called by New so misconfiguration surfaces
// at startup rather than on the first request.
func (c *Config) Validate() error {
	if c.Model == "" && c.Backend != BackendAzure {
		return fmt.Errorf("provider: model name is required")
	}
	switch c.Backend {
	case BackendOllama:
		return nil
	case BackendOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("provider: API key is required for openai backend")
		}
	case BackendAzure:
		if c.APIKey == "" {
			return fmt.Errorf("provider: API key is required for azure backend")
		}
		if c.BaseURL == "" {
			return fmt.Errorf("provider: endpoint is required for azure backend")
		}
		if c.AzureDeployment == "" {
			return fmt.Errorf("provider: deployment name is required for azure backend")
		}
	case BackendBedrock:
		if c.AWSRegion == "" {
			return fmt.Errorf("provider: AWS region is required for bedrock backend")
		}
	case BackendGemini:
		if c.APIKey == "" {
			return fmt.Errorf("provider: API key is required for gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q", c.Backend)
	}
	return nil
}
