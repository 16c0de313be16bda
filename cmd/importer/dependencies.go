package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/FACorreiaa/catalog-importer/internal/domain/auth"
	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/catalog-importer/internal/domain/import/service"
	"github.com/FACorreiaa/catalog-importer/pkg/config"
	"github.com/FACorreiaa/catalog-importer/pkg/cron"
	"github.com/FACorreiaa/catalog-importer/pkg/db"
	"github.com/FACorreiaa/catalog-importer/pkg/metrics"
	"github.com/FACorreiaa/catalog-importer/pkg/storage"
)

const (
	accessTokenTTL  = 1 * time.Hour
	refreshTokenTTL = 30 * 24 * time.Hour
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	RecordStore *repository.PostgresRecordStore
	ActivityLog *repository.PostgresActivityLog
	MatchCache  catalog.MatchCache
	sqliteCache *repository.SQLiteMatchCache

	// Services
	TokenManager    *auth.TokenManager
	Sessions        *auth.TokenSession
	Registry        *mapping.Registry
	ImportService   *importservice.ImportService
	Archive         *storage.LocalArchive
	Metrics         *metrics.ImportMetrics
	MetricsRegistry *prometheus.Registry
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	// Initialize repositories
	if err := deps.initRepositories(ctx); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	// Initialize services
	if err := deps.initServices(); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	logger.Debug("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase(ctx context.Context) error {
	database, err := openDatabase(d.Config, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	// Run migrations
	if err := d.DB.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Debug("database connected and migrations completed successfully")
	return nil
}

func openDatabase(cfg *config.Config, logger *slog.Logger) (*db.DB, error) {
	return db.New(db.Config{
		DSN:             cfg.Database.DSN(),
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, logger)
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories(ctx context.Context) error {
	d.RecordStore = repository.NewPostgresRecordStore(d.DB.Pool)
	d.ActivityLog = repository.NewPostgresActivityLog(d.DB.Pool)

	// A local match cache keeps remembered matches on the operator's machine.
	if path := d.Config.Import.MatchCachePath; path != "" {
		cache, err := repository.OpenSQLiteMatchCache(ctx, path)
		if err != nil {
			return err
		}
		d.sqliteCache = cache
		d.MatchCache = cache
	} else {
		d.MatchCache = repository.NewPostgresMatchCache(d.DB.Pool)
	}

	archive, err := storage.NewLocalArchive(d.Config.Storage.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	d.Archive = archive

	d.Logger.Debug("repositories initialized")
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	if d.Config.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	d.TokenManager = newTokenManager(d.Config)
	d.Sessions = auth.NewTokenSession(d.TokenManager, d.Config.Auth.AccessToken, d.Config.Auth.RefreshToken, d.Logger)

	registry, err := loadRegistry(d.Config)
	if err != nil {
		return err
	}
	d.Registry = registry

	if d.Config.Observability.MetricsEnabled {
		d.MetricsRegistry = prometheus.NewRegistry()
		d.Metrics, err = metrics.NewImportMetrics(d.MetricsRegistry)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	d.ImportService = importservice.NewImportService(
		mapping.NewMapper(registry),
		d.RecordStore,
		d.RecordStore,
		d.Sessions,
		d.Logger,
	).
		WithMatchCache(d.MatchCache).
		WithActivityLog(d.ActivityLog).
		WithArchive(d.Archive).
		WithMetrics(d.Metrics).
		WithAutoMatchThreshold(d.Config.Import.AutoMatchThreshold).
		WithSimilarityThreshold(d.Config.Import.SimilarityThreshold)

	d.Logger.Debug("services initialized")
	return nil
}

func newTokenManager(cfg *config.Config) *auth.TokenManager {
	return auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTSecret, accessTokenTTL, refreshTokenTTL)
}

// loadRegistry returns the built-in formats plus any from IMPORT_FORMATS_FILE.
func loadRegistry(cfg *config.Config) (*mapping.Registry, error) {
	registry, err := mapping.NewRegistry()
	if err != nil {
		return nil, err
	}
	if path := cfg.Import.FormatsFile; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read formats file: %w", err)
		}
		if err := registry.Load(data); err != nil {
			return nil, fmt.Errorf("formats file %s: %w", path, err)
		}
	}
	return registry, nil
}

// RetentionScheduler purges archived artifacts, activity entries and stale
// local match-cache entries on the configured schedule.
func (d *Dependencies) RetentionScheduler() *cron.Scheduler {
	ret := d.Config.Retention
	targets := []cron.Target{
		{Name: "artifacts", MaxAge: ret.SnapshotMaxAge, Purger: d.Archive},
		{Name: "activity", MaxAge: ret.ActivityMaxAge, Purger: cron.PurgerFunc(func(ctx context.Context, cutoff time.Time) (int, error) {
			n, err := d.ActivityLog.PurgeActivity(ctx, cutoff)
			return int(n), err
		})},
	}
	if d.sqliteCache != nil {
		targets = append(targets, cron.Target{Name: "match-cache", MaxAge: ret.ActivityMaxAge, Purger: cron.PurgerFunc(func(ctx context.Context, cutoff time.Time) (int, error) {
			n, err := d.sqliteCache.PurgeOlderThan(ctx, cutoff)
			return int(n), err
		})})
	}
	return cron.NewScheduler(ret.Schedule, d.Logger, targets...)
}

// FlushMetrics writes the collected metrics to the configured textfile.
func (d *Dependencies) FlushMetrics() {
	path := d.Config.Observability.MetricsTextfile
	if d.MetricsRegistry == nil || path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, d.MetricsRegistry); err != nil {
		d.Logger.Warn("failed to write metrics textfile", "path", path, "error", err)
	}
}

// Close releases every resource.
func (d *Dependencies) Close() {
	d.FlushMetrics()
	if d.sqliteCache != nil {
		if err := d.sqliteCache.Close(); err != nil {
			d.Logger.Warn("failed to close match cache", "error", err)
		}
	}
	d.DB.Close()
}
