package main

import "github.com/haasonsaas/nexus/internal/profile"

func defaultConfigPath() string {
	return profile.DefaultConfigPath()
}
