package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/config"
	"github.com/certiva/docpipe/internal/export"
	"github.com/certiva/docpipe/internal/extraction"
	"github.com/certiva/docpipe/internal/interfaces/http"
	"github.com/certiva/docpipe/internal/notify"
	"github.com/certiva/docpipe/internal/pipeline"
	"github.com/certiva/docpipe/internal/policy"
	"github.com/certiva/docpipe/internal/repository"
	"github.com/certiva/docpipe/internal/router"
	"github.com/certiva/docpipe/internal/rules"
	"github.com/certiva/docpipe/internal/watcher"
	"github.com/certiva/docpipe/pkg/database"
	"github.com/certiva/docpipe/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	// Local credentials from .env, ignored when absent
	_ = gotenv.Load()

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

	logger.Info("Starting document pipeline",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Database
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

	if err := database.NewMigrator(db, logger).Run(); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	docRepo := repository.NewDocumentRepository(db, logger)
	dedupeRepo := repository.NewDedupeRepository(db, logger)
	reviewRepo := repository.NewReviewRepository(db, logger)
	ruleRepo := repository.NewRuleRepository(db, logger)
	lockRepo := repository.NewLockRepository(db, logger)
	batchRepo := repository.NewBatchRepository(db, logger)

	// Extraction provider with resilience controls
	provider := buildProvider(cfg.Extraction, logger)

	// Rules engine
	engine := rules.NewEngine(rules.Config{
		AmountTolerance:          mustDecimal(cfg.Rules.AmountTolerance, "rules.amount_tolerance", logger),
		DuplicateAmountTolerance: mustDecimal(cfg.Rules.DuplicateAmountTolerance, "rules.duplicate_amount_tolerance", logger),
		DuplicateWindowDays:      cfg.Rules.DuplicateWindowDays,
		FutureDateDays:           cfg.Rules.FutureDateDays,
		FuzzyNameRatio:           cfg.Rules.FuzzyNameRatio,
	}, logger)

	policies := policy.NewStore(cfg.Policy.Dir, cfg.Policy.DefaultTenant, cfg.Policy.MinEntryConf, logger)

	pipe := pipeline.New(pipeline.Deps{
		Documents: docRepo,
		Dedupe:    dedupeRepo,
		Reviews:   reviewRepo,
		Rules:     ruleRepo,
		Provider:  provider,
		Policies:  policies,
		Exporter:  export.NewA3Exporter(cfg.Export.CSVDir, logger),
		Notifier:  buildNotifier(cfg.Notify, logger),
		Engine:    engine,
		Router:    router.New(logger),
	}, logger)

	// Batch ingestion from the inbox folders
	batchWatcher := watcher.NewBatchWatcher(cfg.Watcher,
		pipe,
		docRepo,
		lockRepo,
		batchRepo,
		export.NewSummaryWriter(cfg.Export.SummaryDir, logger),
		provider,
		logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := batchWatcher.Start(ctx); err != nil {
		logger.Fatal("Failed to start batch watcher", zap.Error(err))
	}
	defer batchWatcher.Stop()

	handlers := http.NewHandlers(pipe, reviewRepo, docRepo, batchRepo,
		provider, db, batchWatcher, cfg.Policy.DefaultTenant, logger)
	server := http.NewServer(cfg.Server, handlers, logger)

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server exited")
}

// buildProvider wires the extraction backends behind the resilience
// wrapper. The heuristic text backend doubles as the offline provider
// when no API key is configured.
func buildProvider(cfg config.ExtractionConfig, logger *zap.Logger) *extraction.ResilientProvider {
	var primary extraction.Backend
	if cfg.Provider == "openai" && cfg.OpenAIAPIKey != "" {
		primary = extraction.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)
	} else {
		logger.Warn("No OpenAI credentials, using heuristic text backend as primary")
		primary = extraction.NewTextBackend(logger)
	}

	var fallback extraction.Backend
	if cfg.FallbackEnabled {
		fallback = extraction.NewTextBackend(logger)
	}

	cache := extraction.NewResultCache(cfg.CacheDir, cfg.CacheEnabled, logger)

	return extraction.NewResilientProvider(primary, fallback, cache, extraction.ResilientConfig{
		MaxRPS:        cfg.MaxRPS,
		MaxInflight:   int64(cfg.MaxInflight),
		AdmissionWait: cfg.AdmissionWait,
		MaxAttempts:   cfg.MaxAttempts,
		BackoffFactor: cfg.BackoffFactor,
		MaxSleep:      cfg.MaxSleep,
		ReadTimeout:   cfg.ReadTimeout,
		Breaker: extraction.BreakerConfig{
			FailureThreshold: cfg.BreakerFailures,
			Cooldown:         cfg.BreakerCooldown,
			MaxCooldown:      cfg.BreakerMaxCooldown,
		},
	}, logger)
}

// buildNotifier returns the review notification chain. Lark is added
// only when credentials are present; the log notifier always runs so a
// review is never silent.
func buildNotifier(cfg config.NotifyConfig, logger *zap.Logger) notify.ReviewNotifier {
	notifiers := []notify.ReviewNotifier{notify.NewLogNotifier(logger)}

	if cfg.LarkAppID != "" && cfg.LarkAppSecret != "" && cfg.LarkReceiveID != "" {
		notifiers = append(notifiers, notify.NewLarkNotifier(notify.LarkConfig{
			AppID:     cfg.LarkAppID,
			AppSecret: cfg.LarkAppSecret,
			ReceiveID: cfg.LarkReceiveID,
		}, logger))
		logger.Info("Lark review notifications enabled")
	}

	return notify.NewMultiNotifier(logger, notifiers...)
}

// mustDecimal parses a configured decimal tolerance, falling back to
// zero (engine default) on a bad value
func mustDecimal(s, key string, logger *zap.Logger) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		logger.Warn("Invalid decimal in configuration, using default",
			zap.String("key", key), zap.String("value", s))
		return decimal.Decimal{}
	}
	return d
}
