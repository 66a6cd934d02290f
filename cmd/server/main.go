package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/expenseflow/approval-engine/internal/api"
	"github.com/expenseflow/approval-engine/internal/config"
	"github.com/expenseflow/approval-engine/internal/currency"
	"github.com/expenseflow/approval-engine/internal/directory"
	"github.com/expenseflow/approval-engine/internal/engine"
	"github.com/expenseflow/approval-engine/internal/notify"
	"github.com/expenseflow/approval-engine/internal/report"
	"github.com/expenseflow/approval-engine/internal/repository"
	"github.com/expenseflow/approval-engine/internal/worker"
	"github.com/expenseflow/approval-engine/pkg/database"
	"github.com/expenseflow/approval-engine/pkg/utils"
)

func main() {
	// Optional .env for local development; real deployments set env vars.
	_ = gotenv.Load()

	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting approval workflow engine",
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	expenseRepo := repository.NewExpenseRepository(db.DB, logger)
	workflowRepo := repository.NewWorkflowRepository(db.DB, logger)
	ruleRepo := repository.NewRuleRepository(db.DB, logger)
	taskRepo := repository.NewTaskRepository(db.DB, logger)
	historyRepo := repository.NewHistoryRepository(db.DB, logger)
	notificationRepo := repository.NewNotificationRepository(db.DB, logger)
	userRepo := repository.NewUserRepository(db.DB, logger)

	// Collaborators
	dir := directory.NewService(userRepo, logger)
	converter := currency.NewRateTable(cfg.Currency.Rates, dir, logger)

	var channels []notify.Channel
	if cfg.Lark.Enabled {
		channels = append(channels, notify.NewLarkChannel(cfg.Lark.AppID, cfg.Lark.AppSecret, logger))
	}
	dispatcher := notify.NewDispatcher(notificationRepo, dir, channels, logger)

	eng := engine.New(
		engine.Stores{
			DB:        db,
			Expenses:  expenseRepo,
			Workflows: workflowRepo,
			Rules:     ruleRepo,
			Tasks:     taskRepo,
			History:   historyRepo,
		},
		dir,
		converter,
		dispatcher,
		engine.SystemClock(),
		logger,
		engine.Config{
			EscalationTimeout: cfg.Engine.EscalationTimeout,
			ReminderWindow:    cfg.Engine.ReminderWindow,
			CacheTTL:          cfg.Engine.CacheTTL,
		},
	)

	// Background workers
	manager := worker.NewManager(logger)
	manager.Register(dispatcher)
	manager.Register(worker.NewSweeper(eng, cfg.Engine.SweepInterval, logger))
	manager.Register(worker.NewRetention(
		db, expenseRepo, historyRepo, notificationRepo,
		cfg.Engine.RetentionAge, cfg.Engine.RetentionInterval, logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	// HTTP server
	exporter := report.NewExporter(historyRepo, logger)
	handlers := api.NewHandlers(eng, expenseRepo, taskRepo, exporter, logger)
	server := api.NewServer(api.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handlers, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	cancel()
	manager.StopAll()

	logger.Info("Shutdown complete")
}

func configPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "configs/config.yaml"
}
