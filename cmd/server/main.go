package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	redisotel "github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/rl1809/voucher-seckill/internal/adapter/handler"
	"github.com/rl1809/voucher-seckill/internal/adapter/storage"
	"github.com/rl1809/voucher-seckill/internal/cache"
	"github.com/rl1809/voucher-seckill/internal/clock"
	"github.com/rl1809/voucher-seckill/internal/config"
	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/core/service"
)

const serviceName = "voucher-seckill"

var log *logrus.Logger

func init() {
	log = logrus.New()
	log.Formatter = &logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyMsg:   "message",
		},
		TimestampFormat: time.RFC3339Nano,
	}
	log.Out = os.Stdout
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	if cfg.EnableTelemetry {
		shutdown := initTelemetry(ctx, cfg.CollectorAddr)
		defer shutdown()
	}

	db, err := initMySQL(ctx, cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %+v", err)
	}
	log.Info("connected to mysql")

	gdb, err := initGorm(db, cfg.EnableTelemetry)
	if err != nil {
		log.Fatalf("failed to open gorm: %+v", err)
	}

	rdb, err := initRedis(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect redis: %+v", err)
	}
	log.Info("connected to redis")

	clk := clock.NewSystem()

	// Initialize adapters
	mysqlAdapter := storage.NewMySQLAdapter(db)
	if err := mysqlAdapter.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate order schema: %v", err)
	}
	shopRepo := storage.NewShopRepository(gdb)
	if err := shopRepo.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate shop schema: %v", err)
	}

	redisAdapter := storage.NewRedisAdapter(rdb, cfg.StreamName)
	locker := storage.NewRedisLocker(rdb)
	ids := storage.NewRedisIDGenerator(rdb, clk)
	sessions := storage.NewSessionStore(rdb)
	limiter := storage.NewRedisRateLimiter(rdb, clk)
	stream := storage.NewRedisStream(rdb, storage.StreamConfig{
		Stream:   cfg.StreamName,
		Group:    cfg.StreamGroup,
		Consumer: cfg.ConsumerName,
		Block:    cfg.StreamBlock,
	}, log)

	// Initialize caches
	meter := otel.GetMeterProvider().Meter(serviceName)
	pool := cache.NewRebuildPool(cfg.RebuildWorkers, cfg.RebuildQueue, log)
	pool.Start()
	stats := &cache.Stats{}
	cache.RegisterMetrics(meter, stats, pool, log)

	cacheDeps := cache.Deps{
		Client: rdb,
		Locker: locker,
		Pool:   pool,
		Clock:  clk,
		Log:    log,
		Stats:  stats,
	}
	cacheOpts := cache.Options{
		TTL:         cfg.CacheTTL,
		Jitter:      time.Minute,
		NullTTL:     cfg.CacheNullTTL,
		LockTTL:     cfg.CacheLockTTL,
		RetryWait:   cfg.CacheRetryWait,
		RetryLimit:  cfg.CacheRetryLimit,
		LoadTimeout: cfg.LoadTimeout,
		LogicalTTL:  cfg.ShopLogicalTTL,
	}
	voucherCache := cache.New[domain.SeckillVoucher]("voucher", cacheDeps, cacheOpts)
	shopCache := cache.New[domain.Shop]("shop", cacheDeps, cacheOpts)
	shopTypeCache := cache.New[[]domain.ShopType]("shop-type", cacheDeps, cacheOpts)

	// Initialize services
	voucherService := service.NewVoucherService(mysqlAdapter, redisAdapter, ids, voucherCache, log)
	shopService := service.NewShopService(shopRepo, shopCache, shopTypeCache, cfg.ShopLogicalTTL, log)
	seckillService := service.NewSeckillService(redisAdapter, ids, voucherService, clk, log)
	seckillService.RegisterMetrics(meter)

	creator := service.NewOrderCreator(mysqlAdapter, locker, clk, cfg.OrderLockTTL, log)
	consumer := service.NewOrderConsumer(stream, creator, service.ConsumerConfig{
		RecoveryBackoff: cfg.RecoveryBackoff,
		MaxDeliveries:   cfg.MaxDeliveries,
	}, log)
	consumer.RegisterMetrics(meter)
	if err := consumer.Start(ctx); err != nil {
		log.Fatalf("failed to start order consumer: %v", err)
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	handler.RegisterSeckillServer(grpcServer, handler.NewGRPCHandler(seckillService))
	hsrv := health.NewServer()
	hsrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hsrv)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	go func() {
		log.Infof("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("gRPC server error: %v", err)
		}
	}()

	// Initialize HTTP server
	if log.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), handler.Authenticate(sessions, cfg.SessionTTL, log))
	httpHandler := handler.NewHTTPHandler(seckillService, shopService, voucherService, log)
	httpHandler.Register(r, handler.RequireUser(), handler.RateLimit(limiter, cfg.BuyRateLimit, cfg.BuyRateWindow, log))

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}
	go func() {
		log.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")
	hsrv.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP server shutdown: %v", err)
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Errorf("order consumer shutdown: %v", err)
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		log.Errorf("rebuild pool shutdown: %v", err)
	}
	log.Info("workers stopped")

	cancel()
	rdb.Close()
	db.Close()
	log.Info("connections closed")
}

func initMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping mysql")
	}
	return db, nil
}

// initGorm shares the database/sql pool with the order adapter.
func initGorm(db *sql.DB, instrument bool) (*gorm.DB, error) {
	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: db}), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open gorm")
	}
	if instrument {
		if err := gdb.Use(otelgorm.NewPlugin()); err != nil {
			return nil, errors.Wrap(err, "install otelgorm plugin")
		}
	}
	return gdb, nil
}

func initRedis(ctx context.Context, cfg config.AppConfig) (redis.UniversalClient, error) {
	var rdb redis.UniversalClient
	if len(cfg.RedisSentinelAddrs) > 0 {
		log.Infof("Initializing Redis in Sentinel Mode. Sentinels: %v", cfg.RedisSentinelAddrs)
		rdb = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.RedisMasterName,
			SentinelAddrs: cfg.RedisSentinelAddrs,
			DB:            cfg.RedisDB,
			PoolSize:      cfg.RedisPoolSize,
		})
	} else {
		log.Infof("Initializing Redis in Single Node Mode. Addr: %s", cfg.RedisAddr)
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		})
	}

	if cfg.EnableTelemetry {
		if err := redisotel.InstrumentTracing(rdb); err != nil {
			return nil, errors.Wrap(err, "instrument redis tracing")
		}
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			return nil, errors.Wrap(err, "instrument redis metrics")
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}
