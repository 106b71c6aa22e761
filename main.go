package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/vision-relay/internal/config"
	"github.com/example/vision-relay/internal/handlers"
	"github.com/example/vision-relay/internal/logging"
	"github.com/example/vision-relay/internal/middleware"
	"github.com/example/vision-relay/internal/predictor"
	"github.com/example/vision-relay/internal/ratelimit"
	"github.com/example/vision-relay/internal/repository"
	"github.com/example/vision-relay/internal/usecase"
	"github.com/example/vision-relay/internal/vertexclient"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Server.Mode == gin.DebugMode,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var store usecase.PredictionStore
	if cfg.Database.DSN != "" {
		repo := repository.NewPredictionRepository(initDatabase(ctx, cfg.Database.DSN, logger), logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		store = repo
	} else {
		logger.Info("DATABASE_DSN not set, prediction audit log disabled")
	}

	var predictMiddleware []gin.HandlerFunc
	if cfg.RateLimitEnabled() {
		redisClient := initRedis(ctx, cfg.Redis, logger)
		defer redisClient.Close()
		limiter := ratelimit.NewLimiter(ratelimit.NewRedisCounter(redisClient), cfg.Redis.RateLimit, cfg.Redis.RateWindow)
		predictMiddleware = append(predictMiddleware, middleware.RateLimit(limiter, logger))
	}

	target := vertexclient.Target{
		ProjectID:      cfg.Vertex.ProjectID,
		Location:       cfg.Vertex.Location,
		EndpointID:     cfg.Vertex.EndpointID,
		RequestTimeout: cfg.Vertex.RequestTimeout,
	}
	client, err := vertexclient.Dial(ctx, target, logger)
	if err != nil {
		logger.Fatal("failed to create prediction client", zap.Error(err))
	}
	defer client.Close()

	params := predictor.Parameters{
		ConfidenceThreshold: cfg.Vertex.ConfidenceThreshold,
		MaxPredictions:      cfg.Vertex.MaxPredictions,
	}
	uc := usecase.NewPredictionUseCase(client, store, params, logger)

	gin.SetMode(cfg.Server.Mode)
	r := buildRouter(uc, logger, handlers.Options{
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		PredictMiddleware: predictMiddleware,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("prediction relay listening",
		zap.String("addr", server.Addr),
		zap.String("endpoint", client.Endpoint()),
	)
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func buildRouter(uc *usecase.PredictionUseCase, logger *zap.Logger, opts handlers.Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger), middleware.CORS())
	handlers.RegisterRoutes(r, uc, logger, opts)
	return r
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// The limiter fails open, so an unreachable Redis only loses rate limiting.
		zapLogger.Warn("redis connection failed, rate limiting degraded", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
