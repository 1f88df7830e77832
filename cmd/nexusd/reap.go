package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/agent/runcontrol"
	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/config"
)

// buildReapCmd runs a single reap pass against this instance's active-run
// set, for operators who prefer external cron over the serve-embedded
// reaper goroutine.
func buildReapCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Mark abandoned runs as failed and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			redisClient, err := newRedisClient(cfg.Bus.RedisURL)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer redisClient.Close()

			_, runStore, closeStores, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("open stores: %w", err)
			}
			defer closeStores()

			eventBus := bus.New(redisClient, bus.Config{
				LogTTL:               cfg.Bus.LogTTL,
				LogMaxEntries:        cfg.Bus.LogMaxEntries,
				SubscriberBufferSize: cfg.Bus.SubscriberBufferSize,
			})

			runs := runcontrol.New(nil, eventBus, runStore, instanceIdentity(), slog.Default())
			if err := runs.Reap(cmd.Context()); err != nil {
				return fmt.Errorf("reap: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
