package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/promptbuild"
	"github.com/haasonsaas/nexus/internal/agent/providerselect"
	"github.com/haasonsaas/nexus/internal/agent/runcontrol"
	"github.com/haasonsaas/nexus/internal/api"
	"github.com/haasonsaas/nexus/internal/auth"
	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/internal/tasklist"
	"github.com/haasonsaas/nexus/internal/tasks"
	"github.com/haasonsaas/nexus/internal/tools/files"
	"github.com/haasonsaas/nexus/internal/tools/sandbox"
	tasklisttools "github.com/haasonsaas/nexus/internal/tools/tasklist"
	"github.com/haasonsaas/nexus/internal/tools/websearch"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Public API facade and task scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	provider, defaultModel, err := providerselect.Build(ctx, cfg, cfg.LLM.DefaultProvider)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	sessionStore, runStore, userStore, closeStores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer closeStores()

	authService := buildAuthService(cfg, userStore)

	redisClient, err := newRedisClient(cfg.Bus.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	eventBus := bus.New(redisClient, bus.Config{
		LogTTL:               cfg.Bus.LogTTL,
		LogMaxEntries:        cfg.Bus.LogMaxEntries,
		SubscriberBufferSize: cfg.Bus.SubscriberBufferSize,
	})

	registry := agent.NewToolRegistry()
	if err := registerTools(registry, cfg, sessionStore); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	systemPrompt, err := promptbuild.Build(cfg, "", nil)
	if err != nil {
		slog.Warn("system prompt assembly failed, continuing without it", "error", err)
	}

	loop := agent.NewAgenticLoop(provider, registry, sessionStore, &agent.LoopConfig{})
	loop.SetDefaultModel(defaultModel)
	loop.SetDefaultSystem(systemPrompt)

	instanceID := instanceIdentity()
	runs := runcontrol.New(loop, eventBus, runStore, instanceID, slog.Default())

	apiServer, err := api.New(api.Config{Host: cfg.Server.Host, Port: cfg.Server.HTTPPort}, sessionStore, runs, slog.Default(), api.Middleware{
		Auth:      authService,
		AuditCfg:  cfg.Server.Audit,
		RateLimit: cfg.Server.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("build api server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}

	scheduler, stopScheduler := startScheduler(ctx, cfg, runs, sessionStore)
	if scheduler != nil {
		defer stopScheduler()
	}

	stopReaper := startReaper(ctx, runs)
	defer stopReaper()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	slog.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return apiServer.Stop(shutdownCtx)
}

func openStores(cfg *config.Config) (sessions.Store, storage.AgentRunStore, storage.UserStore, func(), error) {
	dsn := strings.TrimSpace(cfg.Database.URL)
	if dsn == "" {
		slog.Warn("database.url not configured, using in-memory stores (not durable)")
		memStores := storage.NewMemoryStores()
		return sessions.NewMemoryStore(), memStores.Runs, memStores.Users, func() {}, nil
	}

	poolCfg := sessions.DefaultCockroachConfig()
	if cfg.Database.MaxConnections > 0 {
		poolCfg.MaxOpenConns = cfg.Database.MaxConnections
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}

	sessionStore, err := sessions.NewCockroachStoreFromDSN(dsn, poolCfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	storagePoolCfg := storage.DefaultCockroachConfig()
	storagePoolCfg.MaxOpenConns = poolCfg.MaxOpenConns
	storagePoolCfg.MaxIdleConns = poolCfg.MaxIdleConns
	storagePoolCfg.ConnMaxLifetime = poolCfg.ConnMaxLifetime
	stores, err := storage.NewCockroachStoresFromDSN(dsn, storagePoolCfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	closer := func() {
		_ = stores.Close()
	}
	return sessionStore, stores.Runs, stores.Users, closer, nil
}

func newRedisClient(rawURL string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// buildAuthService constructs the facade's JWT/API-key auth service
// from config.Auth. It returns a disabled (nil-JWT, no-keys) Service
// when no JWT secret is configured, so the Server's auth middleware
// treats auth as optional rather than failing open on every request.
func buildAuthService(cfg *config.Config, users storage.UserStore) *auth.Service {
	keys := make([]auth.APIKeyConfig, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		keys = append(keys, auth.APIKeyConfig{Key: k.Key, UserID: k.UserID, Email: k.Email, Name: k.Name})
	}
	service := auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		APIKeys:     keys,
	})
	if users != nil {
		service.SetUserStore(users)
	}
	return service
}

func registerTools(registry *agent.ToolRegistry, cfg *config.Config, store sessions.Store) error {
	fileCfg := files.Config{Workspace: cfg.Workspace.Path}
	registry.Register(files.NewReadTool(fileCfg))
	registry.Register(files.NewWriteTool(fileCfg))
	registry.Register(files.NewEditTool(fileCfg))
	registry.Register(files.NewApplyPatchTool(fileCfg))

	engine := tasklist.New(store)
	registry.Register(tasklisttools.NewCreateTasksTool(engine))
	registry.Register(tasklisttools.NewViewTasksTool(engine))
	registry.Register(tasklisttools.NewUpdateTasksTool(engine))
	registry.Register(tasklisttools.NewDeleteTasksTool(engine))
	registry.Register(tasklisttools.NewClearAllTool(engine))

	if cfg.Tools.WebSearch.Enabled {
		registry.Register(websearch.NewWebSearchTool(&websearch.Config{
			SearXNGURL:  cfg.Tools.WebSearch.URL,
			BraveAPIKey: cfg.Tools.WebSearch.BraveAPIKey,
		}))
	}
	if cfg.Tools.WebFetch.Enabled {
		registry.Register(websearch.NewWebFetchTool(&websearch.FetchConfig{MaxChars: cfg.Tools.WebFetch.MaxChars}))
	}

	if cfg.Tools.Sandbox.Enabled {
		executor, err := sandbox.NewExecutor()
		if err != nil {
			return err
		}
		registry.Register(executor)
	}
	return nil
}

func startScheduler(ctx context.Context, cfg *config.Config, runs *runcontrol.Controller, store sessions.Store) (*tasks.Scheduler, func()) {
	dsn := strings.TrimSpace(cfg.Database.URL)
	if dsn == "" {
		slog.Warn("database.url not configured, scheduled tasks disabled")
		return nil, func() {}
	}

	taskStore, err := tasks.NewCockroachStoreFromDSN(dsn, tasks.DefaultCockroachConfig())
	if err != nil {
		slog.Error("failed to open task store, scheduled tasks disabled", "error", err)
		return nil, func() {}
	}

	executor := tasks.NewAgentExecutor(runs, store, tasks.AgentExecutorConfig{})
	scheduler := tasks.NewScheduler(taskStore, executor, tasks.SchedulerConfig{})
	if err := scheduler.Start(ctx); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		return nil, func() {}
	}

	return scheduler, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = scheduler.Stop(stopCtx)
	}
}

func startReaper(ctx context.Context, runs *runcontrol.Controller) func() {
	reapCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(runcontrol.HeartbeatTTL)
		defer ticker.Stop()
		for {
			select {
			case <-reapCtx.Done():
				return
			case <-ticker.C:
				if err := runs.Reap(reapCtx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("reap failed", "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func instanceIdentity() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "nexusd"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("NEXUS_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath()
}
