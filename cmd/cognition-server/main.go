// Package main is the Cognition server's entry point: it wires every core
// component (C1-C7) together and exposes them through the HTTP/SSE surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cognition-sh/cognition/internal/agentdriver"
	"github.com/cognition-sh/cognition/internal/config"
	"github.com/cognition-sh/cognition/internal/eventstream"
	"github.com/cognition-sh/cognition/internal/logging"
	"github.com/cognition-sh/cognition/internal/mcp"
	"github.com/cognition-sh/cognition/internal/message"
	"github.com/cognition-sh/cognition/internal/permission"
	"github.com/cognition-sh/cognition/internal/provider"
	"github.com/cognition-sh/cognition/internal/ratelimit"
	"github.com/cognition-sh/cognition/internal/scope"
	"github.com/cognition-sh/cognition/internal/server"
	"github.com/cognition-sh/cognition/internal/session"
	"github.com/cognition-sh/cognition/internal/storage"
	"github.com/cognition-sh/cognition/internal/tool"
)

const version = "0.1.0"

var (
	flagPort      int
	flagDirectory string
)

func main() {
	root := &cobra.Command{
		Use:   "cognition-server",
		Short: "Cognition mediates between interactive clients and LLM agents",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Cognition HTTP/SSE server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "server port (overrides config; 0 keeps the configured port)")
	serveCmd.Flags().StringVar(&flagDirectory, "directory", "", "working directory (defaults to cwd)")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run storage migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
	migrateCmd.Flags().StringVar(&flagDirectory, "directory", "", "working directory (defaults to cwd)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cognition-server %s\n", version)
		},
	}

	root.AddCommand(serveCmd, migrateCmd, versionCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func workingDirectory() (string, error) {
	if flagDirectory != "" {
		return flagDirectory, nil
	}
	return os.Getwd()
}

func runMigrate() error {
	workDir, err := workingDirectory()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	backend, err := storage.New(ctx, storage.Options{
		Kind: cfg.Storage.Backend,
		Path: config.StoragePath(workDir),
		DSN:  cfg.Storage.DSN,
	})
	if err != nil {
		return fmt.Errorf("construct storage backend: %w", err)
	}
	defer backend.Close(ctx)

	if err := backend.Initialize(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Println("migrations complete")
	return nil
}

func runServe() error {
	logging.Init(logging.DefaultConfig())

	workDir, err := workingDirectory()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return fmt.Errorf("create data directories: %w", err)
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}

	ctx := context.Background()

	backend, err := storage.New(ctx, storage.Options{
		Kind: cfg.Storage.Backend,
		Path: config.StoragePath(workDir),
		DSN:  cfg.Storage.DSN,
	})
	if err != nil {
		return fmt.Errorf("construct storage backend: %w", err)
	}
	if err := backend.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}

	providerReg, err := provider.InitializeProviders(ctx, &cfg.App)
	if err != nil {
		logging.Logger.Warn().Err(err).Msg("some providers failed to initialize")
	}

	toolReg := tool.NewRegistry()

	mcpClient := mcp.NewClient()
	for name, serverCfg := range cfg.MCPServers {
		serverCfg := serverCfg
		if !serverCfg.Enabled {
			continue
		}
		if err := mcpClient.AddServer(ctx, name, &serverCfg); err != nil {
			logging.Logger.Warn().Err(err).Str("server", name).Msg("failed to connect MCP server")
			continue
		}
	}
	mcp.RegisterMCPTools(mcpClient, toolReg)

	sessions, err := session.New(backend, session.Config{CacheSize: cfg.Sessions.CacheSize})
	if err != nil {
		return fmt.Errorf("construct session manager: %w", err)
	}

	scopeH := scope.New(scope.Config{Keys: cfg.Scope.Keys, Enabled: cfg.Scope.Enabled})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.RateLimit.BurstSize,
		SweepInterval:     cfg.RateLimit.SweepInterval,
		IdleTimeout:       cfg.RateLimit.IdleTimeout,
	})
	limiter.Start(ctx)

	bashPerms := cfg.Permission.BashPermissions()
	perms := permission.NewChecker()
	perms.OnRequired = func(req permission.Request) {
		logging.Logger.Info().Str("session", req.SessionID).Str("call", req.CallID).Strs("pattern", req.Pattern).Msg("bash command needs confirmation")
	}
	perms.OnResolved = func(requestID string, granted bool) {
		logging.Logger.Info().Str("request", requestID).Bool("granted", granted).Msg("bash permission resolved")
	}

	driver := agentdriver.New(providerReg, toolReg, perms, bashPerms, agentdriver.DefaultCostTable())

	messages := message.New(backend, sessions, scopeH, limiter, driver, message.Config{
		MaxSessions:  cfg.Sessions.MaxSessions,
		StrictSerial: cfg.Sessions.StrictSerial,
		Stream: eventstream.Config{
			BufferSize:        cfg.Stream.BufferSize,
			HeartbeatInterval: cfg.Stream.HeartbeatInterval,
			RetryMillis:       cfg.Stream.RetryMillis,
		},
	})

	serverCfg := server.DefaultConfig()
	serverCfg.Port = cfg.Port
	serverCfg.EnableCORS = cfg.EnableCORS
	serverCfg.ReadTimeout = cfg.ReadTimeout
	serverCfg.WriteTimeout = cfg.WriteTimeout

	srv := server.New(serverCfg, backend, sessions, scopeH, limiter, messages, version)

	go func() {
		logging.Logger.Info().Int("port", cfg.Port).Msg("cognition server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Active turns are cancelled first so their interrupted rows are
	// written before the HTTP listener and storage go away.
	messages.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Error().Err(err).Msg("server shutdown error")
	}

	if err := mcpClient.Close(); err != nil {
		logging.Logger.Error().Err(err).Msg("mcp client close error")
	}

	if err := backend.Close(shutdownCtx); err != nil {
		logging.Logger.Error().Err(err).Msg("storage close error")
	}

	logging.Logger.Info().Msg("server stopped")
	return nil
}
