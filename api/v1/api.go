package v1

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"carbon-scribe/ghg-reporting/internal/config"
	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/emissions/calculator"
	"carbon-scribe/ghg-reporting/internal/emissions/factors"
	"carbon-scribe/ghg-reporting/internal/frameworks"
	"carbon-scribe/ghg-reporting/internal/migrations"
	"carbon-scribe/ghg-reporting/internal/notifications/websocket"
	"carbon-scribe/ghg-reporting/internal/propagation"
	"carbon-scribe/ghg-reporting/internal/reports"
	"carbon-scribe/ghg-reporting/internal/reports/dashboard"
	"carbon-scribe/ghg-reporting/internal/reports/export"
	"carbon-scribe/ghg-reporting/internal/reports/scheduler"
	"carbon-scribe/ghg-reporting/pkg/storage"
)

// API holds every service of the reporting backend, wired from one config
type API struct {
	Config     *config.Config
	Repository emissions.Repository
	Registry   *factors.Registry
	Engine     *propagation.Engine
	Bus        *propagation.Bus
	Reports    *reports.Service
	Aggregator *dashboard.Aggregator
	WebSocket  *websocket.Manager
	Retries    *propagation.RetryWorker
	Schedules  *scheduler.ScheduleManager

	retryQueue propagation.RetryQueue
	db         *sqlx.DB
	logger     *zap.Logger
}

// Setup builds the API. Without a database host every store is in memory.
func Setup(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*API, error) {
	api := &API{Config: cfg, logger: logger}

	var reportRepo reports.Repository
	if cfg.Database.UseDatabase() {
		if err := api.connect(cfg.Database); err != nil {
			return nil, err
		}
		gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: api.db.DB}), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			api.Close()
			return nil, fmt.Errorf("failed to open retry queue: %w", err)
		}
		api.Repository = emissions.NewPostgresRepository(api.db)
		api.retryQueue = propagation.NewGormRetryQueue(gormDB)
		reportRepo = reports.NewPostgresRepository(api.db)
	} else {
		logger.Warn("No database configured, using in-memory stores")
		api.Repository = emissions.NewMemoryRepository()
		api.retryQueue = propagation.NewMemoryRetryQueue()
		reportRepo = reports.NewMemoryRepository()
	}

	var err error
	if api.Registry, err = api.loadFactors(ctx); err != nil {
		api.Close()
		return nil, err
	}

	catalog, err := frameworks.NewCatalog()
	if err != nil {
		api.Close()
		return nil, fmt.Errorf("failed to load framework catalog: %w", err)
	}
	if dir := cfg.Frameworks.ConfigDir; dir != "" {
		if err := catalog.LoadDir(dir); err != nil {
			api.Close()
			return nil, fmt.Errorf("failed to load frameworks from %s: %w", dir, err)
		}
	}

	api.WebSocket = websocket.NewManager(logger, cfg.Server.AllowedOrigins...)
	api.Aggregator = dashboard.NewAggregator(api.Repository, api.WebSocket, logger, dashboard.AggregatorConfig{
		CacheTTL:     cfg.Dashboard.CacheTTL.Std(),
		TopSources:   cfg.Dashboard.TopSources,
		YearOverYear: cfg.Dashboard.YearOverYear,
	})

	generator := reports.NewGenerator(frameworks.NewMapper(catalog, logger), logger, export.DefaultRenderers()...)
	api.Reports = reports.NewService(reportRepo, generator, api.Aggregator, logger)
	if cfg.Storage.Bucket != "" {
		s3Client, err := storage.NewAWSS3Client(ctx, storage.S3Config{
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UsePathStyle:    cfg.Storage.UsePathStyle,
		})
		if err != nil {
			api.Close()
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		api.Reports.WithArchive(s3Client, cfg.Storage.Bucket, cfg.Storage.Prefix)
	}

	api.Bus = propagation.NewBus(api.retryQueue, logger)
	api.Engine = propagation.NewEngine(api.Repository, api.Registry, calculator.New(), api.Bus, logger).
		WithViews(api.Aggregator).
		WithReports(api.Reports).
		WithPusher(api.WebSocket)

	if arn := cfg.Notifications.SNSTopicARN; arn != "" {
		client, err := propagation.NewSNSClient(ctx, cfg.Notifications.Region, cfg.Notifications.Endpoint)
		if err != nil {
			api.Close()
			return nil, err
		}
		propagation.NewSNSForwarder(client, arn, logger).Register(api.Bus)
	}

	api.Retries = propagation.NewRetryWorker(api.retryQueue, api.Bus, logger, propagation.RetryConfig{
		Schedule:    cfg.Propagation.RetrySchedule,
		BatchSize:   cfg.Propagation.RetryBatch,
		MaxAttempts: cfg.Propagation.MaxAttempts,
		BaseBackoff: cfg.Propagation.BaseBackoff.Std(),
		MaxBackoff:  cfg.Propagation.MaxBackoff.Std(),
	})

	api.Schedules = scheduler.NewScheduleManager(
		scheduler.NewExecutor(api.Engine, logger, scheduler.ExecutorConfig{Timeout: cfg.Schedules.Timeout.Std()}),
		logger,
	)
	if err := api.loadSchedules(); err != nil {
		api.Close()
		return nil, err
	}

	return api, nil
}

func (a *API) connect(cfg config.DatabaseConfig) error {
	a.logger.Info("Connecting to database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName))

	db, err := sqlx.Connect("postgres", cfg.GetDatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime.Std())
	a.db = db

	if cfg.AutoMigrate {
		if err := migrations.Run(db.DB); err != nil {
			return err
		}
	}
	return nil
}

// loadFactors seeds the registry. A database with no factors is seeded from
// the configured catalog, which is the builtin one unless a path is set.
func (a *API) loadFactors(ctx context.Context) (*factors.Registry, error) {
	registry := factors.NewRegistry(a.logger)

	if a.db != nil {
		n, err := registry.Load(ctx, a.Repository)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return registry, nil
		}
	}

	var (
		n   int
		err error
	)
	if path := a.Config.Factors.CatalogPath; path != "" {
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open factor catalog: %w", openErr)
		}
		defer f.Close()
		n, err = registry.LoadCatalog(f)
	} else {
		n, err = registry.LoadBuiltin()
	}
	if err != nil {
		return nil, err
	}

	for _, factor := range registry.List(false) {
		if err := a.Repository.CreateFactor(ctx, factor); err != nil {
			return nil, fmt.Errorf("failed to seed factor %s: %w", factor.ID, err)
		}
	}
	a.logger.Info("Emission factor catalog seeded", zap.Int("factors", n))
	return registry, nil
}

func (a *API) loadSchedules() error {
	path := a.Config.Schedules.Path
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open report schedules: %w", err)
	}
	defer f.Close()

	schedules, err := scheduler.LoadSchedules(f)
	if err != nil {
		return err
	}
	for _, s := range schedules {
		if err := a.Schedules.AddSchedule(s); err != nil {
			return fmt.Errorf("failed to add schedule %s: %w", s.Name, err)
		}
	}
	return nil
}

// RegisterRoutes registers every handler on the router group
func (a *API) RegisterRoutes(router *gin.RouterGroup) {
	propagation.NewHandler(a.Engine, a.logger).RegisterRoutes(router)
	reports.NewHandler(a.Reports, a.logger).RegisterRoutes(router)
	dashboard.NewHandler(a.Aggregator, a.WebSocket, a.logger).RegisterRoutes(router)
}

// StartWorkers starts the retry drain and the report schedules
func (a *API) StartWorkers() error {
	if err := a.Retries.Start(); err != nil {
		return err
	}
	return a.Schedules.Start()
}

// StopWorkers stops the workers, waiting for running jobs
func (a *API) StopWorkers() {
	a.Schedules.Stop()
	a.Retries.Stop()
}

// Health reports whether the backing store answers
func (a *API) Health(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.db.PingContext(ctx)
}

// Close releases connections. Workers must be stopped first.
func (a *API) Close() {
	if a.Aggregator != nil {
		a.Aggregator.Stop()
	}
	if a.WebSocket != nil {
		a.WebSocket.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
