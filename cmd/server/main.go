package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/garyjia/docledger/internal/application/dispatcher"
	"github.com/garyjia/docledger/internal/application/port"
	"github.com/garyjia/docledger/internal/application/service"
	"github.com/garyjia/docledger/internal/config"
	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/garyjia/docledger/internal/domain/event"
	"github.com/garyjia/docledger/internal/infrastructure/external/openai"
	"github.com/garyjia/docledger/internal/infrastructure/persistence/repository"
	"github.com/garyjia/docledger/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/docledger/internal/infrastructure/storage"
	"github.com/garyjia/docledger/internal/infrastructure/worker"
	httpapi "github.com/garyjia/docledger/internal/interfaces/http"
	"github.com/garyjia/docledger/internal/invoice"
	"github.com/garyjia/docledger/internal/ledger"
	"github.com/garyjia/docledger/internal/metrics"
	"github.com/garyjia/docledger/internal/validation"
	"github.com/garyjia/docledger/internal/vat"
	"github.com/garyjia/docledger/internal/voucher"
	"github.com/garyjia/docledger/pkg/database"
	"github.com/garyjia/docledger/pkg/utils"
)

func main() {
	configPath := flag.String("config", os.Getenv("DOCLEDGER_CONFIG"), "path to the configuration file; empty for defaults")
	flag.Parse()

	// .env is optional
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
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

	logger.Info("Starting document ledger",
		zap.String("version", httpapi.Version),
		zap.String("address", cfg.Server.Addr()),
		zap.String("database", cfg.Database.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	store, txManager, dbCheck, closeStore, err := openStore(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer closeStore()

	documents := repository.NewDocumentRepository(store)
	journal := repository.NewJournalRepository(store)

	// Reference tables
	patterns, rates, chart, err := loadTables(cfg)
	if err != nil {
		logger.Fatal("Failed to load reference tables", zap.Error(err))
	}
	if cfg.Reload.Enabled {
		if err := watchTables(ctx, cfg, patterns, rates, chart, logger); err != nil {
			logger.Fatal("Failed to watch reference tables", zap.Error(err))
		}
	}

	// Document text source
	if err := os.MkdirAll(cfg.Storage.DocumentDir, 0755); err != nil {
		logger.Fatal("Failed to create document directory", zap.Error(err))
	}
	files := storage.NewLocalFileStorage(cfg.Storage.DocumentDir, logger)

	var transcriber port.Transcriber
	if cfg.OpenAI.Enabled {
		transcriber = openai.NewTranscriber(openai.Config{
			APIKey:    cfg.OpenAI.APIKey,
			BaseURL:   cfg.OpenAI.BaseURL,
			Model:     cfg.OpenAI.Model,
			MaxTokens: cfg.OpenAI.MaxTokens,
			Timeout:   cfg.OpenAI.Timeout,
		}, nil, logger)
	}
	reader := invoice.NewPDFReader(files, transcriber, cfg.Extraction.MaxPages, logger)

	// Pipeline
	extractor := invoice.NewExtractor(patterns, invoice.WithContextWindow(cfg.Extraction.ContextWindow))
	resolver := invoice.NewResolver(patterns, rates,
		invoice.WithDirection(entity.Direction(cfg.Extraction.Direction)),
		invoice.WithDefaultCurrency(cfg.Extraction.DefaultCurrency))
	validator := validation.NewValidator(
		validation.WithTolerance(cfg.Validation.ToleranceDecimal()),
		validation.WithStrict(cfg.Validation.Strict))
	builder := voucher.NewJournalBuilder(voucher.NewAccountMapper(cfg.Ledger.ExpenseAccount))
	stats := metrics.NewDocumentStats()
	events := dispatcher.NewDispatcher(dispatcher.WithLogger(logger))

	documentService := service.NewDocumentService(service.DocumentServiceDeps{
		Extractor: extractor,
		Resolver:  resolver,
		Validator: validator,
		Builder:   builder,
		Source:    reader,
		Documents: documents,
		Journal:   journal,
		TxManager: txManager,
		Recorder:  stats,
		Events:    events,
		Retry: service.RetryPolicy{
			Timeout:        cfg.Worker.FetchTimeout,
			MaxAttempts:    cfg.Worker.MaxAttempts,
			InitialBackoff: cfg.Worker.InitialBackoff,
			MaxBackoff:     cfg.Worker.MaxBackoff,
		},
	}, logger)
	audit := service.AuditHandler(logger)
	events.SubscribeNamed(event.TypeDocumentAccepted, "audit", audit)
	events.SubscribeNamed(event.TypeDocumentRejected, "audit", audit)
	events.SubscribeNamed(event.TypeDocumentBooked, "audit", audit)
	if cfg.Ledger.AutoBook {
		events.SubscribeNamed(event.TypeDocumentAccepted, "auto-book", service.AutoBookHandler(documentService))
	}

	ledgerService := service.NewLedgerService(journal, chart,
		voucher.NewExporter(cfg.Export.CompanyName, logger),
		cfg.Ledger.BalanceWorkers, logger)

	// Background ingestion
	workerConfig := worker.DefaultDocumentWorkerConfig()
	workerConfig.Concurrency = cfg.Worker.Count
	workerConfig.QueueSize = cfg.Worker.QueueSize
	documentWorker := worker.NewDocumentWorker(workerConfig, documentService, logger)

	workers := worker.NewWorkerManager(logger)
	workers.Register(documentWorker)
	if err := workers.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	checks := map[string]httpapi.HealthCheck{"storage": files.Check}
	if dbCheck != nil {
		checks["database"] = dbCheck
	}
	checks["workers"] = workers.Check

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Mode:            cfg.Server.Mode,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, httpapi.Dependencies{
		Documents: documentService,
		Ledger:    ledgerService,
		Extractor: extractor,
		Resolver:  resolver,
		Validator: validator,
		Rates:     rates,
		Storage:   files,
		Queue:     documentWorker,
		Stats:     stats,
		Checks:    checks,
	}, logger)

	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")
	if err := workers.StopAll(); err != nil {
		logger.Error("Failed to stop workers", zap.Error(err))
	}
	if err := events.Close(); err != nil {
		logger.Error("Failed to close event dispatcher", zap.Error(err))
	}
	logger.Info("Server exited successfully")
}

// openStore opens the configured item store. The memory driver has no transactions
// and no health check.
func openStore(cfg config.DatabaseConfig, logger *zap.Logger) (port.ItemStore, port.TransactionManager, httpapi.HealthCheck, func(), error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory store; nothing survives a restart")
		return repository.NewMemoryItemStore(), nil, nil, func() {}, nil
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrations(database.Migrations()); err != nil {
		db.Close()
		return nil, nil, nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	sqlDB := sqlite.NewDB(db.DB, logger)
	closeFn := func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", zap.Error(err))
		}
	}
	return repository.NewItemRepository(sqlDB, logger), sqlDB, db.Check, closeFn, nil
}

// loadTables loads the pattern, rate and chart tables, preferring the configured files
func loadTables(cfg *config.Config) (*invoice.PatternHolder, *vat.Holder, *ledger.ChartHolder, error) {
	patterns := invoice.NewPatternHolder(invoice.DefaultPatterns())
	if cfg.Extraction.PatternsFile != "" {
		if err := patterns.Reload(cfg.Extraction.PatternsFile); err != nil {
			return nil, nil, nil, err
		}
	}

	rates := vat.NewHolder(vat.DefaultTable())
	if cfg.VAT.RatesFile != "" {
		if err := rates.Reload(cfg.VAT.RatesFile); err != nil {
			return nil, nil, nil, err
		}
	}

	chart := ledger.NewChartHolder(ledger.DefaultChart())
	if cfg.Ledger.ChartFile != "" {
		if err := chart.Reload(cfg.Ledger.ChartFile); err != nil {
			return nil, nil, nil, err
		}
	}
	return patterns, rates, chart, nil
}

func watchTables(ctx context.Context, cfg *config.Config, patterns *invoice.PatternHolder, rates *vat.Holder, chart *ledger.ChartHolder, logger *zap.Logger) error {
	debounce := cfg.Reload.Debounce
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	watcher, err := config.NewTableWatcher(debounce, logger)
	if err != nil {
		return err
	}
	if err := errors.Join(
		watcher.Register(cfg.Extraction.PatternsFile, patterns.Reload),
		watcher.Register(cfg.VAT.RatesFile, rates.Reload),
		watcher.Register(cfg.Ledger.ChartFile, chart.Reload),
	); err != nil {
		return err
	}
	go watcher.Run(ctx)
	return nil
}
