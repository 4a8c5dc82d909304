package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/azhengyongqin/lecture-hub/docs" // Swagger docs
	"github.com/azhengyongqin/lecture-hub/internal/artifact"
	"github.com/azhengyongqin/lecture-hub/internal/cache"
	"github.com/azhengyongqin/lecture-hub/internal/config"
	"github.com/azhengyongqin/lecture-hub/internal/healthcheck"
	"github.com/azhengyongqin/lecture-hub/internal/logger"
	"github.com/azhengyongqin/lecture-hub/internal/media"
	asynqx "github.com/azhengyongqin/lecture-hub/internal/queue"
	"github.com/azhengyongqin/lecture-hub/internal/repository"
	httpserver "github.com/azhengyongqin/lecture-hub/internal/server"
	"github.com/azhengyongqin/lecture-hub/internal/service"
	"github.com/azhengyongqin/lecture-hub/internal/storage/postgres"
)

// @title Lecture-Hub API
// @version 1.0.0
// @description 讲座视频处理任务系统 - 提交视频链接，后台生成音轨、转写和讲座笔记
// @license.name MIT
// @BasePath /api/v1
// @schemes http https
// @host localhost:28080

func main() {
	// 初始化结构化日志（开发模式）
	if err := logger.Init(false); err != nil {
		logger.L.Fatal().Err(err).Msg("初始化日志失败")
		os.Exit(1)
	}
	defer logger.Sync()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		logger.L.Fatal().Err(err).Msg("加载配置失败")
	}

	// 验证配置
	if err := cfg.Validate(); err != nil {
		logger.L.Fatal().Err(err).Msg("配置验证失败")
	}

	logger.L.Info().
		Str("http", cfg.HTTP.Addr).
		Str("queue", cfg.Queue.Name).
		Msg("服务启动")

	// 归一化只发生在 config 层，这里拿到的一定是 redis:// URI
	redisAddr := cfg.Redis.URI()

	ctx := context.Background()

	// GORM 只负责表结构同步，读写走 pgx 池
	db, err := postgres.NewDBWithConfig(ctx, cfg.Postgres.DSN, postgres.DBConfig{
		MaxOpenConns:    int(cfg.DBPool.MaxConns),
		MaxIdleConns:    int(cfg.DBPool.MinConns),
		ConnMaxLifetime: cfg.DBPool.MaxConnLifetime,
		ConnMaxIdleTime: cfg.DBPool.MaxConnIdleTime,
	})
	if err != nil {
		logger.L.Fatal().Err(err).Msg("连接数据库失败")
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.L.Fatal().Err(err).Msg("同步表结构失败")
	}

	pool, err := postgres.NewPgxPool(ctx, cfg.Postgres.DSN, postgres.PoolConfig{
		MaxConns:          cfg.DBPool.MaxConns,
		MinConns:          cfg.DBPool.MinConns,
		MaxConnLifetime:   cfg.DBPool.MaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPool.MaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPool.HealthCheckPeriod,
	})
	if err != nil {
		logger.L.Fatal().Err(err).Msg("创建连接池失败")
	}
	defer pool.Close()

	taskRepo := repository.NewTaskRepo(pool)

	// 对象存储：产物下载链接签发 + 删除
	store, err := artifact.NewStore(artifact.Config{
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
	})
	if err != nil {
		logger.L.Fatal().Err(err).Msg("创建对象存储客户端失败")
	}

	// Asynq client：用于 HTTP 入队
	asynqClient := asynqx.NewClient(redisAddr)
	defer asynqClient.Close()

	// 终态快照缓存（可选：Redis 不可用只降级，不阻塞启动）
	var statusCache service.StatusCache
	if rc, err := cache.NewRedisCache(redisAddr); err != nil {
		logger.L.Warn().Err(err).Msg("状态缓存不可用，降级为直查数据库")
	} else {
		statusCache = rc
		defer rc.Close()
	}

	svc := service.NewLectureService(taskRepo, asynqClient, store, statusCache, service.Options{
		Queue:       cfg.Queue.Name,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		TaskTimeout: cfg.Pipeline.FetchTimeout + cfg.Pipeline.TranscribeTimeout +
			cfg.Pipeline.SummarizeTimeout + cfg.Pipeline.PublishTimeout,
	})
	svc.UsePreflight(media.NewFetcher(10 * time.Second))

	// 创建健康检查器
	healthChecker := healthcheck.NewHealthChecker(pool, asynqClient.Client, redisAddr, store)

	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpserver.NewRouter(httpserver.Deps{
			Service:       svc,
			HealthChecker: healthChecker,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.L.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP 服务监听")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L.Fatal().Err(err).Msg("HTTP 服务错误")
		}
	}()

	<-runCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	logger.L.Info().Msg("服务已优雅关闭")
}
