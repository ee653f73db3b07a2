package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/collab/admin/internal/application/admin"
	domainExtension "github.com/collab/admin/internal/domain/extension"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/collab/admin/internal/infrastructure/auth"
	"github.com/collab/admin/internal/infrastructure/cache"
	"github.com/collab/admin/internal/infrastructure/config"
	"github.com/collab/admin/internal/infrastructure/extension"
	"github.com/collab/admin/internal/infrastructure/logger"
	"github.com/collab/admin/internal/infrastructure/migration"
	"github.com/collab/admin/internal/infrastructure/persistence"
	"github.com/collab/admin/internal/infrastructure/persistence/tenant"
	"github.com/collab/admin/internal/infrastructure/storage"
	"github.com/collab/admin/internal/infrastructure/telemetry"
	"github.com/collab/admin/internal/interfaces/http/handler"
	"github.com/collab/admin/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// schemaCheckInterval bounds how stale the cached schema verdict may be
const schemaCheckInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(logger.FromAppConfig(cfg))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profiler, err := telemetry.StartProfiler(profilerConfig(cfg), log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			log.Warn("Profiler stop failed", zap.Error(err))
		}
	}()

	otelProviders, err := telemetry.Setup(ctx, telemetryConfig(cfg, profiler.Running()), log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		_ = otelProviders.Shutdown(context.Background())
	}()
	log = otelProviders.Bridge(log, logger.ParseLevel(cfg.Log.Level))
	meters := otelProviders.Meter

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("Starting directory admin",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.String("port", cfg.App.Port),
	)

	db, err := openDatabase(ctx, cfg, meters, log)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	var redisClient *redis.Client
	if needsRedis(cfg) {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() {
			_ = redisClient.Close()
		}()
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}

	var cacheClient redis.UniversalClient
	if redisClient != nil {
		cacheClient = redisClient
	}
	caches, err := cache.NewEntityCaches(cfg.Cache, cacheClient, log)
	if err != nil {
		log.Fatal("Failed to configure entity cache", zap.Error(err))
	}
	defer func() {
		_ = caches.Close()
	}()
	go func() {
		if err := caches.Run(ctx); err != nil {
			log.Error("Cache invalidation listener stopped", zap.Error(err))
		}
	}()

	service, tenants, schema, err := buildService(ctx, cfg, db, redisClient, caches, meters, log)
	if err != nil {
		log.Fatal("Failed to build admin service", zap.Error(err))
	}

	engine, err := router.NewEngine(router.EngineConfig{
		Logger:         log,
		MeterProvider:  meters,
		TracingEnabled: cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		HSTS:           cfg.App.Env == "production",
		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
	if err != nil {
		log.Fatal("Failed to configure HTTP engine", zap.Error(err))
	}

	system := handler.NewSystemHandler(version).AddCheck("database", db.Ping)
	if schema != nil {
		system.AddCheck("schema", schema.Check)
	}
	if redisClient != nil {
		system.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	router.SystemRoutes(engine, system)
	router.NewRouter(engine).Register(router.AdminRoutes(tenants, service)).Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	log.Info("Server exited gracefully")
}

// telemetryConfig points every OTLP pipeline at the configured collector
func telemetryConfig(cfg *config.Config, profiling bool) telemetry.Config {
	return telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		Insecure:          cfg.Telemetry.Insecure,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Environment:       cfg.App.Env,
		SpanProfiles:      profiling && cfg.Telemetry.Profiler.SpanProfiles,
	}
}

func profilerConfig(cfg *config.Config) telemetry.ProfilerConfig {
	p := cfg.Telemetry.Profiler
	return telemetry.ProfilerConfig{
		Enabled:              p.Enabled,
		ServerAddress:        p.ServerAddress,
		ApplicationName:      p.ApplicationName,
		BasicAuthUser:        p.BasicAuthUser,
		BasicAuthPassword:    p.BasicAuthPassword,
		Types:                p.ProfileTypes,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
	}
}

// openDatabase connects, installs the tracing, metrics and tenant callbacks,
// and creates the schema on sqlite
func openDatabase(ctx context.Context, cfg *config.Config, meters *telemetry.MeterProvider, log *zap.Logger) (*persistence.Database, error) {
	gormLog := logger.NewGormLogger(log.Named("gorm"), logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
		logger.WithFullSQL(cfg.Telemetry.DBLogFullSQL),
	)
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(gormLog))
	if err != nil {
		return nil, err
	}
	log.Info("Database connected", zap.String("driver", db.Driver()))

	system := "postgresql"
	if db.Driver() == "sqlite" {
		system = "sqlite"
	}
	if err := telemetry.InstrumentDatabase(db.DB, telemetry.DBConfig{
		Tracing:       cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		Metrics:       true,
		System:        system,
		LogFullSQL:    cfg.Telemetry.DBLogFullSQL,
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
	}, meters, log); err != nil {
		return nil, err
	}

	if err := db.DB.Use(tenant.Filter{}); err != nil {
		return nil, err
	}

	if db.Driver() == "sqlite" {
		if err := db.AutoMigrate(ctx); err != nil {
			return nil, err
		}
		log.Info("SQLite schema migrated")
	}
	return db, nil
}

// buildService wires the gate, validator, extension chain and caches into
// the admin service. The schema guard is nil on sqlite.
func buildService(
	ctx context.Context,
	cfg *config.Config,
	db *persistence.Database,
	redisClient *redis.Client,
	caches *cache.EntityCaches,
	meters *telemetry.MeterProvider,
	log *zap.Logger,
) (*admin.Service, tenancy.TenantRepository, *migration.SchemaGuard, error) {
	store := persistence.NewGormDirectoryStore(db.DB)
	tenants := persistence.NewGormTenantRepository(db.DB)
	hasher := auth.NewPasswordHasher(cfg.Admin.BcryptCost)

	credCache, err := newCredentialCache(cfg, redisClient, log)
	if err != nil {
		return nil, nil, nil, err
	}

	gate := admin.NewGate(
		tenancy.MasterIdentity{Login: cfg.Admin.MasterLogin, SecretHash: cfg.Admin.MasterPasswordHash},
		admin.GateConfig{
			MasterAuthEnabled:       cfg.Admin.MasterAuthEnabled,
			TenantAuthEnabled:       cfg.Admin.TenantAuthEnabled,
			MasterMayManageTenants:  cfg.Admin.MasterMayManageTenants,
			LowercaseMasterLogin:    cfg.Admin.LowercaseMasterLogin,
			DelegateAdminResolution: cfg.Admin.DelegateAdminResolution,
		},
		tenants, store, hasher, credCache, log.Named("auth"),
	)

	validator, err := admin.NewValidator(store, admin.ValidatorConfig{
		NamePattern:     cfg.Admin.NamePattern,
		DisallowedChars: cfg.Admin.DisallowedChars,
		MailPattern:     cfg.Admin.MailPattern,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	objects, err := newObjectStore(ctx, cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	registry := domainExtension.NewRegistry()
	if err := extension.RegisterBuiltins(registry, cfg.Admin.Extensions, extension.Deps{
		DB:             db.DB,
		Objects:        objects,
		MailboxQuotaMB: cfg.Admin.MailboxQuotaMB,
		Logger:         log.Named("extension"),
	}); err != nil {
		return nil, nil, nil, err
	}

	var schema *migration.SchemaGuard
	var checker admin.SchemaChecker
	if db.Driver() != "sqlite" {
		schema, err = newSchemaGuard(db, cfg, log)
		if err != nil {
			return nil, nil, nil, err
		}
		checker = schema
	}

	metrics, err := telemetry.NewAdminMetrics(meters.Meter("admin"))
	if err != nil {
		return nil, nil, nil, err
	}

	service := admin.NewService(admin.ServiceDeps{
		Gate:      gate,
		Validator: validator,
		Store:     store,
		Tenants:   tenants,
		Registry:  registry,
		Hasher:    hasher,
		Cache:     caches.Cache,
		Schema:    checker,
		Metrics:   metrics,
		Logger:    log.Named("service"),
	})
	return service, tenants, schema, nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Cache.Backend == cache.BackendRedis || cfg.Cache.Backend == cache.BackendTiered
}

// newCredentialCache shares authentications through Redis when the entity
// cache does, and keeps them in process otherwise
func newCredentialCache(cfg *config.Config, client *redis.Client, log *zap.Logger) (auth.CredentialCache, error) {
	if client == nil {
		return auth.NewInMemoryCredentialCache(cfg.Admin.AuthCacheTTL), nil
	}
	key := []byte(cfg.Admin.AuthCacheKey)
	if len(key) == 0 {
		log.Warn("admin.auth_cache_key is not set; cached authentications are not shared between nodes")
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}
	return auth.NewRedisCredentialCache(client, key, cfg.Admin.AuthCacheTTL), nil
}

func newObjectStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.ObjectStore, error) {
	if !cfg.Storage.Enabled {
		return storage.NewNoopObjectStore(), nil
	}
	s3, err := storage.NewS3ObjectStore(ctx, &cfg.Storage, storage.WithLogger(log.Named("storage")))
	if err != nil {
		return nil, err
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s3, nil
}

func newSchemaGuard(db *persistence.Database, cfg *config.Config, log *zap.Logger) (*migration.SchemaGuard, error) {
	required, err := migration.LatestVersion(cfg.Database.MigrationsPath)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, err
	}
	m, err := migration.New(sqlDB, cfg.Database.MigrationsPath, log.Named("migrate"))
	if err != nil {
		return nil, err
	}
	return migration.NewSchemaGuard(m, required, schemaCheckInterval, log), nil
}
