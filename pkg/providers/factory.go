package providers

import (
	"fmt"
	"strings"

	"github.com/gardenista/beanbot/pkg/config"
)

const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
)

const (
	defaultGeminiAPIBase     = "https://generativelanguage.googleapis.com/v1beta/openai"
	defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"
	defaultOpenAIAPIBase     = "https://api.openai.com/v1"
)

func NormalizeProviderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderGemini
	}
	return name
}

// SupportedProviders lists the provider names CreateProvider accepts.
func SupportedProviders() []string {
	return []string{ProviderGemini, ProviderOpenAI, ProviderOpenRouter}
}

// CreateProvider builds the configured LLM backend. All three
// providers speak the OpenAI chat-completions surface; they differ
// only in base URL, credentials and default model.
func CreateProvider(cfg *config.Config) (LLMProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("providers: config is required")
	}
	name := NormalizeProviderName(cfg.Agent.Provider)
	creds := cfg.ProviderCredentials(name)

	apiBase := creds.APIBase
	var extraHeaders map[string]string
	switch name {
	case ProviderGemini:
		if apiBase == "" {
			apiBase = defaultGeminiAPIBase
		}
	case ProviderOpenRouter:
		if apiBase == "" {
			apiBase = defaultOpenRouterAPIBase
		}
		extraHeaders = map[string]string{
			"HTTP-Referer": "https://github.com/gardenista/beanbot",
			"X-Title":      "beanbot",
		}
	case ProviderOpenAI:
		if apiBase == "" {
			apiBase = defaultOpenAIAPIBase
		}
	default:
		return nil, fmt.Errorf("providers: unsupported provider %q (supported: %s)", name, strings.Join(SupportedProviders(), ", "))
	}

	return newChatCompletionsProvider(name, apiBase, creds.APIKey, cfg.Agent.Model, creds.Proxy, extraHeaders)
}

// ValidateProviderConfig checks that the active provider has the
// credentials it needs before the gateway starts.
func ValidateProviderConfig(cfg *config.Config) error {
	name := NormalizeProviderName(cfg.Agent.Provider)
	switch name {
	case ProviderGemini, ProviderOpenRouter, ProviderOpenAI:
	default:
		return fmt.Errorf("providers: unsupported provider %q", name)
	}
	if strings.TrimSpace(cfg.ProviderCredentials(name).APIKey) == "" {
		return fmt.Errorf("providers: %s API key is not configured", name)
	}
	return nil
}
