package provider

import (
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "ollama/valid",
			cfg:  Config{Backend: BackendOllama, Model: "llama3"},
		},
		{
			name:    "ollama/missing model",
			cfg:     Config{Backend: BackendOllama},
			wantErr: "model name",
		},
		{
			name: "openai/valid",
			cfg:  Config{Backend: BackendOpenAI, Model: "gpt-4o", APIKey: "sk-test"},
		},
		{
			name:    "openai/missing api key",
			cfg:     Config{Backend: BackendOpenAI, Model: "gpt-4o"},
			wantErr: "API key",
		},
		{
			name: "azure/valid",
			cfg: Config{
				Backend:         BackendAzure,
				APIKey:          "key",
				BaseURL:         "https://my.openai.azure.com",
				AzureDeployment: "gpt-4o",
				AzureAPIVersion: "2024-02-01",
			},
		},
		{
			name: "azure/missing api key",
			cfg: Config{
				Backend:         BackendAzure,
				BaseURL:         "https://my.openai.azure.com",
				AzureDeployment: "gpt-4o",
			},
			wantErr: "API key",
		},
		{
			name: "azure/missing endpoint",
			cfg: Config{
				Backend:         BackendAzure,
				APIKey:          "key",
				AzureDeployment: "gpt-4o",
			},
			wantErr: "endpoint",
		},
		{
			name: "azure/missing deployment",
			cfg: Config{
				Backend: BackendAzure,
				APIKey:  "key",
				BaseURL: "https://my.openai.azure.com",
			},
			wantErr: "deployment",
		},
		{
			name: "bedrock/valid",
			cfg:  Config{Backend: BackendBedrock, Model: "anthropic.claude-3", AWSRegion: "us-east-1"},
		},
		{
			name:    "bedrock/missing model id",
			cfg:     Config{Backend: BackendBedrock, AWSRegion: "us-east-1"},
			wantErr: "model name",
		},
		{
			name:    "bedrock/missing region",
			cfg:     Config{Backend: BackendBedrock, Model: "anthropic.claude-3"},
			wantErr: "AWS region",
		},
		{
			name: "gemini/valid",
			cfg:  Config{Backend: BackendGemini, Model: "gemini-1.5-pro", APIKey: "AIza-test"},
		},
		{
			name:    "gemini/missing api key",
			cfg:     Config{Backend: BackendGemini, Model: "gemini-1.5-pro"},
			wantErr: "API key",
		},
		{
			name:    "unknown backend",
			cfg:     Config{Backend: "unknown", Model: "x"},
			wantErr: "unknown backend",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "")
	t.Setenv("OLLAMA_MODEL", "")
	t.Setenv("MODEL_MAX_TOKENS", "")
	t.Setenv("MODEL_TEMPERATURE", "")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendOllama {
		t.Errorf("Backend = %q, want ollama", cfg.Backend)
	}
	if cfg.Model != "llama3" {
		t.Errorf("Model = %q, want llama3", cfg.Model)
	}
	if cfg.MaxTokens != 2000 {
		t.Errorf("MaxTokens = %d, want 2000", cfg.MaxTokens)
	}
	if cfg.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", cfg.Temperature)
	}
}

func TestConfigFromEnvAzureUsesDeploymentAsModel(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "azure")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT", "gpt-4.1")

	cfg := ConfigFromEnv()
	if cfg.Model != "gpt-4.1" {
		t.Errorf("Model = %q, want deployment name", cfg.Model)
	}
	if cfg.AzureAPIVersion != "2024-02-01" {
		t.Errorf("AzureAPIVersion = %q", cfg.AzureAPIVersion)
	}
}
