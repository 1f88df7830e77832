package providerselect

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/internal/config"
)

func TestBuild_MissingProvider(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{Providers: map[string]config.LLMProviderConfig{}}}
	if _, _, err := Build(context.Background(), cfg, "anthropic"); err == nil {
		t.Fatal("expected error for unconfigured provider")
	}
}

func TestBuild_UnsupportedProvider(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{Providers: map[string]config.LLMProviderConfig{
		"mystery": {APIKey: "x"},
	}}}
	if _, _, err := Build(context.Background(), cfg, "mystery"); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestBuild_AnthropicRequiresAPIKey(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{Providers: map[string]config.LLMProviderConfig{
		"anthropic": {DefaultModel: "claude-3"},
	}}}
	if _, _, err := Build(context.Background(), cfg, "anthropic"); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestBuild_AnthropicSucceeds(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{Providers: map[string]config.LLMProviderConfig{
		"anthropic": {APIKey: "sk-test", DefaultModel: "claude-3-5-sonnet"},
	}}}
	provider, model, err := Build(context.Background(), cfg, "anthropic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider == nil {
		t.Fatal("expected non-nil provider")
	}
	if model != "claude-3-5-sonnet" {
		t.Fatalf("expected default model to carry through, got %q", model)
	}
}

func TestBuild_OllamaDefaultsModel(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{Providers: map[string]config.LLMProviderConfig{
		"ollama": {BaseURL: "http://localhost:11434"},
	}}}
	_, model, err := Build(context.Background(), cfg, "ollama")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "llama3" {
		t.Fatalf("expected fallback default model llama3, got %q", model)
	}
}

func TestSplitProviderProfileID(t *testing.T) {
	cases := []struct {
		in          string
		wantBase    string
		wantProfile string
	}{
		{"anthropic", "anthropic", ""},
		{"openai:work", "openai", "work"},
		{"openai@personal", "openai", "personal"},
		{"azure/prod", "azure", "prod"},
		{"", "", ""},
	}
	for _, tc := range cases {
		base, profile := splitProviderProfileID(tc.in)
		if base != tc.wantBase || profile != tc.wantProfile {
			t.Errorf("splitProviderProfileID(%q) = (%q, %q), want (%q, %q)",
				tc.in, base, profile, tc.wantBase, tc.wantProfile)
		}
	}
}

func TestBuild_ProfileOverridesAPIKeyAndModel(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{Providers: map[string]config.LLMProviderConfig{
		"anthropic": {
			APIKey:       "sk-base",
			DefaultModel: "claude-3-haiku",
			Profiles: map[string]config.LLMProviderProfileConfig{
				"work": {APIKey: "sk-work", DefaultModel: "claude-3-5-sonnet"},
			},
		},
	}}}
	_, model, err := Build(context.Background(), cfg, "anthropic:work")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "claude-3-5-sonnet" {
		t.Fatalf("expected profile default model override, got %q", model)
	}
}

func TestBuild_UnknownProfileErrors(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{Providers: map[string]config.LLMProviderConfig{
		"anthropic": {APIKey: "sk-base"},
	}}}
	if _, _, err := Build(context.Background(), cfg, "anthropic:missing"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestBuild_AzureRequiresEndpoint(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{Providers: map[string]config.LLMProviderConfig{
		"azure": {APIKey: "sk-azure"},
	}}}
	if _, _, err := Build(context.Background(), cfg, "azure"); err == nil {
		t.Fatal("expected error for missing azure endpoint")
	}
}

func TestBuild_BedrockSkipsDiscoveryWhenDisabled(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{
		Providers: map[string]config.LLMProviderConfig{"bedrock": {}},
		Bedrock:   config.BedrockConfig{Enabled: false},
	}}
	provider, model, err := Build(context.Background(), cfg, "bedrock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider == nil {
		t.Fatal("expected non-nil provider")
	}
	if model != "" {
		t.Fatalf("expected no discovered model when discovery disabled, got %q", model)
	}
}

func TestBuild_BedrockKeepsConfiguredDefaultModel(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{
		Providers: map[string]config.LLMProviderConfig{"bedrock": {DefaultModel: "anthropic.claude-3-haiku-20240307-v1:0"}},
		Bedrock:   config.BedrockConfig{Enabled: true, Region: "us-west-2"},
	}}
	_, model, err := Build(context.Background(), cfg, "bedrock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "anthropic.claude-3-haiku-20240307-v1:0" {
		t.Fatalf("expected configured default model to win over discovery, got %q", model)
	}
}
