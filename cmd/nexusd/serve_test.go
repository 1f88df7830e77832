package main

import (
	"os"
	"strings"
	"testing"
)

func TestResolveConfigPath_FlagWins(t *testing.T) {
	t.Setenv("NEXUS_CONFIG", "/env/nexus.yaml")
	if got := resolveConfigPath("/flag/nexus.yaml"); got != "/flag/nexus.yaml" {
		t.Fatalf("expected flag path to win, got %q", got)
	}
}

func TestResolveConfigPath_EnvFallback(t *testing.T) {
	t.Setenv("NEXUS_CONFIG", "/env/nexus.yaml")
	if got := resolveConfigPath(""); got != "/env/nexus.yaml" {
		t.Fatalf("expected env path, got %q", got)
	}
}

func TestResolveConfigPath_DefaultFallback(t *testing.T) {
	os.Unsetenv("NEXUS_CONFIG")
	if got := resolveConfigPath(""); got == "" {
		t.Fatal("expected a non-empty default config path")
	}
}

func TestInstanceIdentity_StableFormat(t *testing.T) {
	id := instanceIdentity()
	if !strings.Contains(id, "-") {
		t.Fatalf("expected host-suffix identity, got %q", id)
	}
	second := instanceIdentity()
	if id == second {
		t.Fatal("expected unique identity per call")
	}
}
