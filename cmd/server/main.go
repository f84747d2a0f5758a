// Package main is the entry point for the ad platform execution control
// plane: it wires the ten components per the active deployment profile,
// mounts the HTTP API, and runs the recommendation and rollback-monitoring
// background workers until told to shut down.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
	"golang.org/x/time/rate"

	"github.com/solari-labs/adctl/internal/adsapi"
	"github.com/solari-labs/adctl/internal/api"
	"github.com/solari-labs/adctl/internal/api/handlers/control"
	"github.com/solari-labs/adctl/internal/approval"
	"github.com/solari-labs/adctl/internal/cache"
	"github.com/solari-labs/adctl/internal/config"
	"github.com/solari-labs/adctl/internal/database"
	"github.com/solari-labs/adctl/internal/execution"
	"github.com/solari-labs/adctl/internal/ledger"
	"github.com/solari-labs/adctl/internal/lock"
	"github.com/solari-labs/adctl/internal/recommend"
	"github.com/solari-labs/adctl/internal/rollback"
	"github.com/solari-labs/adctl/internal/rules"
	"github.com/solari-labs/adctl/internal/warehouse"
	"github.com/solari-labs/adctl/pkg/logger"
)

const (
	serviceName    = "adctl"
	serviceVersion = "1.0.0"
)

func main() {
	var showVersion = flag.Bool("version", false, "Show version information")
	var showHelp = flag.Bool("help", false, "Show help information")
	var configPath = flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}
	if *showHelp {
		fmt.Printf("adctl - ad platform recommendation/execution control plane\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		fmt.Printf("  -config     Path to YAML config file\n")
		fmt.Printf("  -version    Show version information\n")
		fmt.Printf("  -help       Show this help message\n")
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)

	log.Info("starting adctl", "service", serviceName, "version", serviceVersion, "profile", cfg.Profile)

	ctx := context.Background()
	deps, err := wire(ctx, cfg, log)
	if err != nil {
		slog.Error("failed to wire components", "error", err)
		os.Exit(1)
	}
	defer deps.close()

	handler := control.New(deps.approvals, deps.engine, deps.warehouseReader, log)
	router := api.NewRouter(api.RouterConfig{Handler: handler, RateLimits: cfg.RateLimits, Logger: log})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	go runRecommendationWorker(workerCtx, deps, cfg, log)
	go deps.rollbackMonitor.Run(workerCtx, time.Duration(cfg.Rollback.TickSeconds)*time.Second)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	log.Info("shutting down")
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("server exited")
}

// components holds the top-level wired pieces (the cache, rule registry,
// guardrails, adapter and ledger are reached through them) plus the raw
// connections main.go
// needs to close on shutdown.
type components struct {
	approvals       approval.Store
	warehouseReader warehouse.Reader
	recommendEngine *recommend.Engine
	engine          *execution.Engine
	rollbackMonitor *rollback.Monitor

	pgPool  *pgxpool.Pool
	liteDB  *sql.DB
	redisRW *redis.Client
}

func (c *components) close() {
	if c.pgPool != nil {
		c.pgPool.Close()
	}
	if c.liteDB != nil {
		_ = c.liteDB.Close()
	}
	if c.redisRW != nil {
		_ = c.redisRW.Close()
	}
}

// wire constructs every component for the active profile: lite runs
// entirely on an embedded SQLite file and in-process cache/lock, standard
// runs on Postgres plus Redis for the L2 cache and distributed lock.
func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	registry, err := rules.NewRegistry(logger)
	if err != nil {
		return nil, fmt.Errorf("building rule registry: %w", err)
	}

	var (
		deps components
		err2 error
	)

	switch cfg.Profile {
	case config.ProfileLite:
		err2 = wireLite(ctx, cfg, logger, &deps)
	case config.ProfileStandard:
		err2 = wireStandard(ctx, cfg, logger, &deps)
	default:
		return nil, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	if err2 != nil {
		return nil, err2
	}

	cacheMgr, err := newCacheManager(cfg, deps.redisRW, logger)
	if err != nil {
		return nil, fmt.Errorf("building cache manager: %w", err)
	}

	locker := newLocker(cfg, deps.redisRW, logger)

	httpClient := &http.Client{Timeout: cfg.AdsAPI.Timeout}
	limiter := rate.NewLimiter(rate.Limit(cfg.AdsAPI.RateLimitPerSec), cfg.AdsAPI.RateLimitBurst)
	adapter := adsapi.New(cfg.AdsAPI.BaseURL, httpClient, limiter, logger)

	recommendEngine := recommend.New(deps.warehouseReader, registry, deps.approvals, cacheMgr, logger)
	execEngine := execution.New(deps.approvals, registry, deps.warehouseReader, newLedgerStore(cfg, &deps, logger), adapter, cacheMgr, cfg.Execution, cfg.Guardrails, logger)
	rollbackMonitor := rollback.New(newLedgerStore(cfg, &deps, logger), deps.warehouseReader, registry, execEngine, locker, cfg.Rollback, logger)

	deps.recommendEngine = recommendEngine
	deps.engine = execEngine
	deps.rollbackMonitor = rollbackMonitor
	return &deps, nil
}

func wireLite(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *components) error {
	db, err := sql.Open("sqlite", cfg.Storage.FilesystemPath)
	if err != nil {
		return fmt.Errorf("opening sqlite database: %w", err)
	}
	if err := database.Migrate(db, "sqlite3", "migrations/sqlite", logger); err != nil {
		return err
	}
	deps.liteDB = db
	deps.approvals = approval.NewSQLiteStore(db, logger)
	deps.warehouseReader = warehouse.NewSQLiteReader(db, logger)
	return nil
}

func wireStandard(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *components) error {
	pool, err := pgxpool.New(ctx, cfg.GetDatabaseURL())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging postgres: %w", err)
	}
	deps.pgPool = pool

	migrateDB, err := sql.Open("pgx", cfg.GetDatabaseURL())
	if err != nil {
		return fmt.Errorf("opening postgres for migrations: %w", err)
	}
	defer migrateDB.Close()
	if err := database.Migrate(migrateDB, "postgres", "migrations/postgres", logger); err != nil {
		return err
	}

	deps.approvals = approval.NewPostgresStore(pool, logger)
	deps.warehouseReader = warehouse.NewPostgresReader(pool, logger)

	deps.redisRW = redis.NewClient(&redis.Options{
		Addr:            cfg.Redis.Addr,
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		PoolSize:        cfg.Redis.PoolSize,
		MinIdleConns:    cfg.Redis.MinIdleConns,
		DialTimeout:     cfg.Redis.DialTimeout,
		ReadTimeout:     cfg.Redis.ReadTimeout,
		WriteTimeout:    cfg.Redis.WriteTimeout,
		MaxRetries:      cfg.Redis.MaxRetries,
		MinRetryBackoff: cfg.Redis.MinRetryBackoff,
		MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
	})
	if err := deps.redisRW.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// newLedgerStore mirrors the Reader/Store split: the Change Ledger is its
// own backend selection rather than reusing the Warehouse Reader, since the
// lite profile's ledger and warehouse share one SQLite file but standard's
// do not (change_log is operational, analytics.change_log is the read
// mirror the Warehouse Reader consults).
func newLedgerStore(cfg *config.Config, deps *components, logger *slog.Logger) ledger.Store {
	if cfg.Profile == config.ProfileLite {
		return ledger.NewSQLiteStore(deps.liteDB, logger)
	}
	return ledger.NewPostgresStore(deps.pgPool, logger)
}

func newCacheManager(cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (*cache.Manager, error) {
	cacheCfg := &cache.Config{
		L1Enabled:     true,
		L1MaxEntries:  int(cfg.Cache.MaxEntries),
		L1TTL:         time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		L2Enabled:     cfg.Cache.L2Enabled && cfg.Profile == config.ProfileStandard,
		L2TTL:         time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		L2Compression: cfg.Cache.L2Compression,
	}

	var l2 *cache.L2
	if cacheCfg.L2Enabled {
		built, err := cache.NewL2(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cacheCfg.L2TTL, cfg.Cache.L2Compression)
		if err != nil {
			return nil, fmt.Errorf("building L2 cache: %w", err)
		}
		l2 = built
	}

	return cache.NewManager(cacheCfg, l2, logger)
}

func newLocker(cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) lock.Locker {
	if cfg.Profile == config.ProfileLite {
		return lock.NewLocalLock()
	}
	return lock.NewRedisLock(redisClient, &lock.Config{
		TTL:            cfg.Lock.TTL,
		MaxRetries:     cfg.Lock.MaxRetries,
		RetryInterval:  cfg.Lock.RetryInterval,
		AcquireTimeout: cfg.Lock.AcquireTimeout,
		ReleaseTimeout: cfg.Lock.ReleaseTimeout,
		ValuePrefix:    cfg.Lock.ValuePrefix,
	}, logger)
}

// runRecommendationWorker regenerates recommendations for the process's
// customer once a day, on the lite profile's single-account assumption —
// standard deployments run one process per customer_id behind the same
// image, scaled horizontally rather than fanning out inside one process.
func runRecommendationWorker(ctx context.Context, deps *components, cfg *config.Config, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	generate := func() {
		snapshotDate := time.Now().UTC().Format("2006-01-02")
		if _, err := deps.recommendEngine.Generate(ctx, cfg.CustomerID, snapshotDate, nil); err != nil {
			logger.Error("recommendation generation failed", "customer_id", cfg.CustomerID, "error", err)
		}
	}

	generate()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			generate()
		}
	}
}
