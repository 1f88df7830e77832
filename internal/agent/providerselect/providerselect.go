// Package providerselect resolves an internal/config provider ID
// ("anthropic", "openai:work", "bedrock") into a constructed
// agent.LLMProvider. It is consulted once at process startup, ahead of
// the agentic loop, so cmd/nexusd never has to know provider wiring
// details.
package providerselect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/providers"
	"github.com/haasonsaas/nexus/internal/config"
	nexusmodels "github.com/haasonsaas/nexus/internal/models"
)

// Build constructs the LLM provider named by providerID, applying any
// ":profile" override found in cfg.LLM.Providers[base].Profiles. ctx bounds
// the Bedrock model-discovery call made when the bedrock provider has no
// default_model configured.
func Build(ctx context.Context, cfg *config.Config, providerID string) (agent.LLMProvider, string, error) {
	baseID, profileID := splitProviderProfileID(providerID)
	providerKey := strings.ToLower(strings.TrimSpace(baseID))
	providerCfg, ok := cfg.LLM.Providers[providerKey]
	if !ok {
		providerCfg, ok = cfg.LLM.Providers[baseID]
	}
	if !ok {
		return nil, "", fmt.Errorf("provider config missing for %q", providerID)
	}
	effectiveCfg, err := resolveProviderProfile(providerCfg, profileID)
	if err != nil {
		return nil, "", err
	}

	switch providerKey {
	case "anthropic":
		if effectiveCfg.APIKey == "" {
			return nil, "", errors.New("anthropic api key is required")
		}
		provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       effectiveCfg.APIKey,
			DefaultModel: effectiveCfg.DefaultModel,
			BaseURL:      effectiveCfg.BaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, effectiveCfg.DefaultModel, nil
	case "openai":
		if effectiveCfg.APIKey == "" {
			return nil, "", errors.New("openai api key is required")
		}
		provider := providers.NewOpenAIProvider(effectiveCfg.APIKey)
		return provider, effectiveCfg.DefaultModel, nil
	case "google", "gemini":
		if effectiveCfg.APIKey == "" {
			return nil, "", errors.New("google api key is required")
		}
		provider, err := providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       effectiveCfg.APIKey,
			DefaultModel: effectiveCfg.DefaultModel,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, effectiveCfg.DefaultModel, nil
	case "openrouter":
		if effectiveCfg.APIKey == "" {
			return nil, "", errors.New("openrouter api key is required")
		}
		provider, err := providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       effectiveCfg.APIKey,
			DefaultModel: effectiveCfg.DefaultModel,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, effectiveCfg.DefaultModel, nil
	case "azure":
		if effectiveCfg.APIKey == "" {
			return nil, "", errors.New("azure api key is required")
		}
		endpoint := strings.TrimSpace(effectiveCfg.BaseURL)
		if endpoint == "" {
			return nil, "", errors.New("azure endpoint (base_url) is required")
		}
		apiVersion := strings.TrimSpace(effectiveCfg.APIVersion)
		if apiVersion == "" {
			apiVersion = strings.TrimSpace(os.Getenv("AZURE_OPENAI_API_VERSION"))
		}
		provider, err := providers.NewAzureOpenAIProvider(providers.AzureOpenAIConfig{
			Endpoint:     endpoint,
			APIKey:       effectiveCfg.APIKey,
			APIVersion:   apiVersion,
			DefaultModel: effectiveCfg.DefaultModel,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, effectiveCfg.DefaultModel, nil
	case "bedrock":
		region := strings.TrimSpace(cfg.LLM.Bedrock.Region)
		defaultModel := effectiveCfg.DefaultModel
		if defaultModel == "" && cfg.LLM.Bedrock.Enabled {
			discovered, err := discoverBedrockDefaultModel(ctx, cfg.LLM.Bedrock)
			if err != nil {
				return nil, "", fmt.Errorf("discover bedrock models: %w", err)
			}
			defaultModel = discovered
		}
		provider, err := providers.NewBedrockProvider(providers.BedrockConfig{
			Region:       region,
			DefaultModel: defaultModel,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, defaultModel, nil
	case "ollama":
		defaultModel := strings.TrimSpace(effectiveCfg.DefaultModel)
		if defaultModel == "" {
			defaultModel = "llama3"
		}
		provider := providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      effectiveCfg.BaseURL,
			DefaultModel: defaultModel,
		})
		return provider, defaultModel, nil
	case "copilot-proxy":
		var modelList []string
		if strings.TrimSpace(effectiveCfg.DefaultModel) != "" {
			modelList = []string{strings.TrimSpace(effectiveCfg.DefaultModel)}
		}
		provider, err := providers.NewCopilotProxyProvider(providers.CopilotProxyConfig{
			BaseURL: effectiveCfg.BaseURL,
			Models:  modelList,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, effectiveCfg.DefaultModel, nil
	default:
		return nil, "", fmt.Errorf("unsupported provider %q", providerKey)
	}
}

func splitProviderProfileID(value string) (string, string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}
	for _, sep := range []string{":", "@", "/"} {
		if parts := strings.SplitN(value, sep, 2); len(parts) == 2 {
			return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		}
	}
	return value, ""
}

func resolveProviderProfile(cfg config.LLMProviderConfig, profileID string) (config.LLMProviderConfig, error) {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return cfg, nil
	}
	if cfg.Profiles == nil {
		return cfg, fmt.Errorf("provider profile %q not configured", profileID)
	}
	profile, ok := cfg.Profiles[profileID]
	if !ok {
		return cfg, fmt.Errorf("provider profile %q not configured", profileID)
	}
	effective := cfg
	if profile.APIKey != "" {
		effective.APIKey = profile.APIKey
	}
	if profile.DefaultModel != "" {
		effective.DefaultModel = profile.DefaultModel
	}
	if profile.BaseURL != "" {
		effective.BaseURL = profile.BaseURL
	}
	return effective, nil
}

// discoverBedrockDefaultModel queries AWS Bedrock for available foundation
// models and picks the highest-tier one as the provider's default, used when
// llm.bedrock.default_model is left unset in config.
func discoverBedrockDefaultModel(ctx context.Context, cfg config.BedrockConfig) (string, error) {
	refresh := nexusmodels.DefaultBedrockRefreshInterval
	if cfg.RefreshInterval != "" {
		if parsed, err := time.ParseDuration(cfg.RefreshInterval); err == nil {
			refresh = parsed
		}
	}
	discovery := nexusmodels.NewBedrockDiscovery(nexusmodels.BedrockDiscoveryConfig{
		Enabled:              cfg.Enabled,
		Region:               cfg.Region,
		RefreshInterval:      refresh,
		ProviderFilter:       cfg.ProviderFilter,
		DefaultContextWindow: cfg.DefaultContextWindow,
		DefaultMaxTokens:     cfg.DefaultMaxTokens,
	}, slog.Default())

	discovered, err := discovery.Discover(ctx)
	if err != nil {
		return "", err
	}
	if len(discovered) == 0 {
		return "", errors.New("bedrock discovery returned no models")
	}

	best := discovered[0]
	for _, m := range discovered[1:] {
		if bedrockTierRank(m.Tier) > bedrockTierRank(best.Tier) {
			best = m
		}
	}
	return best.ID, nil
}

func bedrockTierRank(t nexusmodels.Tier) int {
	switch t {
	case nexusmodels.TierFlagship:
		return 3
	case nexusmodels.TierStandard:
		return 2
	case nexusmodels.TierFast:
		return 1
	default:
		return 0
	}
}
