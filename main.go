package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/rama-kairi/go-shell/internal/config"
	"github.com/rama-kairi/go-shell/internal/database"
	"github.com/rama-kairi/go-shell/internal/logger"
	"github.com/rama-kairi/go-shell/internal/monitoring"
	"github.com/rama-kairi/go-shell/internal/streaming"
	"github.com/rama-kairi/go-shell/internal/terminal"
	"github.com/rama-kairi/go-shell/internal/tools"
)

func main() {
	// Parse command line flags
	configFile := flag.String("config", "", "Path to configuration file")
	debugMode := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override debug mode if specified via flag
	if *debugMode {
		cfg.Server.Debug = true
		cfg.Logging.Level = "debug"
	}

	// Set log output to stderr to avoid interfering with JSON-RPC communication
	log.SetOutput(os.Stderr)

	// Initialize logger
	appLogger, err := logger.NewLogger(&cfg.Logging, "github.com/rama-kairi/go-shell")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	appLogger.Info("Starting Shell MCP Server", map[string]interface{}{
		"version":   cfg.Server.Version,
		"debug":     cfg.Server.Debug,
		"workspace": cfg.Shell.WorkspaceDir,
	})

	// Initialize database if enabled
	var db *database.DB
	if cfg.Database.Enable {
		db, err = database.NewDB(cfg.Database.DataDir)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}

		appLogger.Info("Database initialized successfully", map[string]interface{}{
			"path": db.Path(),
		})
	}

	bus := streaming.NewEventBus(cfg.Events.BufferSize, cfg.Events.ClientBuffer, appLogger)

	opts := terminal.ManagerOptions{}
	if db != nil {
		opts.History = db
	}

	manager, err := terminal.NewManager(cfg, appLogger, bus, opts)
	if err != nil {
		log.Fatalf("Failed to create shell manager: %v", err)
	}

	// Create MCP server
	server := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, nil)

	tools.RegisterTools(server, tools.NewShellTools(manager, cfg, appLogger))

	var endpoint *monitoring.HealthEndpoint
	if cfg.Events.HTTPEnable {
		endpoint = monitoring.NewHealthEndpoint(cfg.Events.HTTPPort, bus, appLogger)
		if db != nil {
			endpoint.RegisterHealthCheck("database", db)
		}
		endpoint.RegisterCounter("sessions", func() int { return len(manager.Sessions()) })
		endpoint.RegisterCounter("background_processes", func() int { return len(manager.BackgroundProcesses()) })

		if err := endpoint.Start(); err != nil {
			log.Fatalf("Failed to start HTTP endpoint: %v", err)
		}
	}

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appLogger.Info("Shell MCP Server is now running and waiting for requests...")
	appLogger.Info("Configuration:", map[string]interface{}{
		"default_timeout": cfg.Shell.DefaultTimeout,
		"max_timeout":     cfg.Shell.MaxTimeout,
		"max_sessions":    cfg.Shell.MaxSessions,
		"history":         cfg.Database.Enable,
		"event_stream":    cfg.Events.HTTPEnable,
	})

	runErr := server.Run(ctx, &mcp.StdioTransport{})
	if runErr != nil && ctx.Err() == nil {
		appLogger.Error("Server error", runErr)
	}

	appLogger.Info("Shutting down Shell MCP Server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		manager.Shutdown()
		return nil
	})
	if endpoint != nil {
		g.Go(func() error {
			return endpoint.Stop(shutdownCtx)
		})
	}
	if err := g.Wait(); err != nil {
		appLogger.Error("Shutdown error", err)
	}

	bus.Close()
	if db != nil {
		if err := db.Close(); err != nil {
			appLogger.Error("Failed to close database", err)
		}
	}

	appLogger.Info("Shell MCP Server shutdown completed")
	appLogger.Close()

	if runErr != nil && ctx.Err() == nil {
		os.Exit(1)
	}
}
