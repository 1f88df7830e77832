package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "migrate", "reap"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestBuildMigrateCmdIncludesUp(t *testing.T) {
	cmd := buildMigrateCmd()
	for _, sub := range cmd.Commands() {
		if sub.Name() == "up" {
			return
		}
	}
	t.Fatal("expected migrate subcommand \"up\" to be registered")
}
