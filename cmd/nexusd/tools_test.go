package main

import (
	"testing"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/sessions"
)

func TestRegisterTools_CoreAndTaskListAlwaysRegistered(t *testing.T) {
	registry := agent.NewToolRegistry()
	cfg := &config.Config{}
	if err := registerTools(registry, cfg, sessions.NewMemoryStore()); err != nil {
		t.Fatalf("registerTools: %v", err)
	}

	for _, name := range []string{"create_tasks", "view_tasks", "update_tasks", "delete_tasks", "clear_all"} {
		if _, ok := registry.Get(name); !ok {
			t.Errorf("expected tool %q to be registered", name)
		}
	}
}

func TestRegisterTools_WebSearchGatedOnConfig(t *testing.T) {
	registry := agent.NewToolRegistry()
	cfg := &config.Config{}
	if err := registerTools(registry, cfg, sessions.NewMemoryStore()); err != nil {
		t.Fatalf("registerTools: %v", err)
	}
	if _, ok := registry.Get("web_search"); ok {
		t.Fatal("expected web_search to be absent when disabled")
	}

	registry = agent.NewToolRegistry()
	cfg.Tools.WebSearch.Enabled = true
	if err := registerTools(registry, cfg, sessions.NewMemoryStore()); err != nil {
		t.Fatalf("registerTools: %v", err)
	}
	if _, ok := registry.Get("web_search"); !ok {
		t.Fatal("expected web_search to be registered when enabled")
	}
}
