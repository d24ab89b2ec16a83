// TARSy orchestrator server - provides HTTP/WebSocket API and manages LLM interactions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tarsy-io/tarsy/pkg/agent"
	"github.com/tarsy-io/tarsy/pkg/agent/controller"
	"github.com/tarsy-io/tarsy/pkg/agent/prompt"
	"github.com/tarsy-io/tarsy/pkg/api"
	"github.com/tarsy-io/tarsy/pkg/chain"
	"github.com/tarsy-io/tarsy/pkg/cleanup"
	"github.com/tarsy-io/tarsy/pkg/config"
	"github.com/tarsy-io/tarsy/pkg/database"
	"github.com/tarsy-io/tarsy/pkg/events"
	"github.com/tarsy-io/tarsy/pkg/llm"
	"github.com/tarsy-io/tarsy/pkg/masking"
	"github.com/tarsy-io/tarsy/pkg/mcp"
	"github.com/tarsy-io/tarsy/pkg/models"
	"github.com/tarsy-io/tarsy/pkg/queue"
	"github.com/tarsy-io/tarsy/pkg/runbook"
	"github.com/tarsy-io/tarsy/pkg/services"
	"github.com/tarsy-io/tarsy/pkg/store"
	"github.com/tarsy-io/tarsy/pkg/warnings"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	podID := getEnv("POD_ID", "tarsy-local")

	log.Printf("Starting TARSy")
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	log.Println("✓ Connected to PostgreSQL database")

	st := store.New(dbClient.Pool)

	var maskingService *masking.MaskingService
	if cfg.Defaults != nil && cfg.Defaults.AlertMasking != nil {
		maskingService = masking.NewMaskingService(cfg.MCPServerRegistry, masking.AlertMaskingConfig{
			Enabled:      cfg.Defaults.AlertMasking.Enabled,
			PatternGroup: cfg.Defaults.AlertMasking.PatternGroup,
		})
	} else {
		maskingService = masking.NewMaskingService(cfg.MCPServerRegistry, masking.AlertMaskingConfig{})
	}

	alertService := services.NewAlertService(st, cfg.ChainRegistry, cfg.Defaults, maskingService)
	sessionService := services.NewSessionService(st)
	log.Println("✓ Services initialized")

	mcpFactory := mcp.NewClientFactory(cfg.MCPServerRegistry, maskingService)
	warningsService := warnings.NewService()
	healthMonitor := mcp.NewHealthMonitor(mcpFactory, cfg.MCPServerRegistry, warningsService)
	healthMonitor.Start(ctx)

	var githubToken string
	if cfg.GitHub != nil && cfg.GitHub.TokenEnv != "" {
		githubToken = os.Getenv(cfg.GitHub.TokenEnv)
	}
	var defaultRunbook string
	if cfg.Defaults != nil {
		defaultRunbook = cfg.Defaults.Runbook
	}
	runbookService := runbook.NewService(cfg.Runbooks, githubToken, defaultRunbook)

	promptBuilder := prompt.NewPromptBuilder(cfg.MCPServerRegistry)
	controllerFactory := controller.NewFactory()
	agentFactory := agent.NewAgentFactory(controllerFactory)
	llmClient := llm.NewClient()
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Error("Failed to close LLM client", "error", err)
		}
	}()

	eventPublisher := events.NewEventPublisher(dbClient.Pool)
	catchupAdapter := events.NewStoreCatchupAdapter(st)
	connManager := events.NewConnectionManager(catchupAdapter, 5*time.Second)
	notifyListener := events.NewNotifyListener(dbConfig.DSN(), connManager)
	if err := notifyListener.Start(ctx); err != nil {
		log.Fatalf("Failed to start event listener: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		notifyListener.Stop(stopCtx)
	}()

	chainExecutor := chain.New(cfg, st, agentFactory, llmClient, eventPublisher, mcpFactory, promptBuilder, runbookService, maskingService)
	executorAdapter := &chainExecutorAdapter{executor: chainExecutor}

	workerPool := queue.NewWorkerPool(podID, st, cfg.Queue, executorAdapter, eventPublisher)
	if err := workerPool.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}
	defer workerPool.Stop()

	retentionCfg := cfg.Retention
	if retentionCfg == nil {
		retentionCfg = config.DefaultRetentionConfig()
	}
	cleanupService := cleanup.NewService(retentionCfg, st)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	server := api.NewServer(cfg, dbClient, st, alertService, sessionService, workerPool, connManager)
	server.SetHealthMonitor(healthMonitor)
	server.SetWarningsService(warningsService)
	server.SetEventPublisher(eventPublisher)
	server.SetRunbookService(runbookService)
	if dashboardDir := getEnv("DASHBOARD_DIR", ""); dashboardDir != "" {
		server.SetDashboardDir(dashboardDir)
	}
	if err := server.ValidateWiring(); err != nil {
		log.Fatalf("Server wiring validation failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on :%s", httpPort)
		if err := server.Start(":" + httpPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutdown signal received, draining requests")
	case err := <-errCh:
		if err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	}
}

// chainExecutorAdapter bridges chain.Executor's Result type onto
// queue.SessionExecutor's ExecutionResult type; the two are structurally
// identical but distinct so pkg/chain never imports pkg/queue.
type chainExecutorAdapter struct {
	executor *chain.Executor
}

func (a *chainExecutorAdapter) Execute(ctx context.Context, session *models.AlertSession) (*queue.ExecutionResult, error) {
	result, err := a.executor.Execute(ctx, session)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("chain executor returned nil result without error")
	}
	return &queue.ExecutionResult{
		Status:           result.Status,
		FinalAnalysis:    result.FinalAnalysis,
		ExecutiveSummary: result.ExecutiveSummary,
		Error:            result.Error,
	}, nil
}
