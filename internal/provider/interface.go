// Package provider selects and constructs the chat model that writes answers.
// Supported backends: Ollama, OpenAI, Azure OpenAI, Volcano Engine Ark and
// Google Gemini, all through the eino model abstraction.
package provider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredential is returned when the selected backend has no API
	// key or endpoint configured.
	ErrMissingCredential = errors.New("provider: missing credential")

	// ErrGenerationFailure wraps every failed generation call.
	ErrGenerationFailure = errors.New("provider: generation failed")
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API or a compatible endpoint.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects Volcano Engine Ark.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	// Host is the Ollama base URL.
	Host string
	// Model is the chat model name.
	Model string
}

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	// APIKey is the bearer credential.
	APIKey string
	// Model is the chat model name.
	Model string
	// BaseURL overrides the API endpoint for OpenAI-compatible services.
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	// APIKey is the api-key credential.
	APIKey string
	// Endpoint is the resource endpoint.
	Endpoint string
	// Deployment is the deployment name.
	Deployment string
	// APIVersion is the REST API version.
	APIVersion string
}

// ProviderArk holds Volcano Engine Ark settings.
type ProviderArk struct {
	// APIKey is the bearer credential.
	APIKey string
	// Model is the endpoint or model ID.
	Model string
	// BaseURL overrides the regional endpoint.
	BaseURL string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	// APIKey is the Google API key.
	APIKey string
	// Model is the Gemini model name.
	Model string
}

// SharedTuning holds generation parameters common to every backend.
type SharedTuning struct {
	// MaxTokens caps the length of a completion.
	MaxTokens int
	// Temperature controls randomness (0.0–1.0).
	Temperature float32
	// TopP is the nucleus sampling threshold; 0 leaves the backend default.
	TopP float32
}

// Config holds provider configuration resolved from environment variables
// or supplied by the caller.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend
	// Ollama holds Ollama settings.
	Ollama ProviderOllama
	// OpenAI holds OpenAI settings.
	OpenAI ProviderOpenAI
	// AzureOpenAI holds Azure OpenAI settings.
	AzureOpenAI ProviderAzureOpenAI
	// Ark holds Volcano Engine Ark settings.
	Ark ProviderArk
	// Gemini holds Google Gemini settings.
	Gemini ProviderGemini
	// Tuning holds the shared generation parameters.
	Tuning SharedTuning
}

// Validate checks that the selected backend is fully configured. Missing
// keys or endpoints wrap [ErrMissingCredential].
func (c *Config) Validate() error {
	missing := func(vars ...string) error {
		return fmt.Errorf("%w: %s backend requires %s", ErrMissingCredential, c.Backend, strings.Join(vars, ", "))
	}
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: ollama backend requires OLLAMA_MODEL")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return missing("OPENAI_API_KEY")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: openai backend requires OPENAI_MODEL")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return missing("AZURE_OPENAI_API_KEY")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return missing("AZURE_OPENAI_ENDPOINT")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: azure backend requires AZURE_OPENAI_DEPLOYMENT")
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			return missing("ARK_API_KEY")
		}
		if c.Ark.Model == "" {
			return fmt.Errorf("provider: ark backend requires ARK_MODEL")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return missing("GOOGLE_API_KEY")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: gemini backend requires GEMINI_MODEL")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q; valid values: ollama, openai, azure, ark, gemini", c.Backend)
	}
	if c.Tuning.MaxTokens < 0 {
		return fmt.Errorf("provider: MODEL_MAX_TOKENS must not be negative, got %d", c.Tuning.MaxTokens)
	}
	if c.Tuning.TopP < 0 || c.Tuning.TopP > 1 {
		return fmt.Errorf("provider: MODEL_TOP_P must be in [0, 1], got %g", c.Tuning.TopP)
	}
	return nil
}

// ModelName returns the model identifier used by the selected backend.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
	}
	return ""
}

// isAzureReasoningModel reports whether an Azure deployment serves an
// o-series or codex reasoning model, which rejects sampling parameters.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, prefix := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}
