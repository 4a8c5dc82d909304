package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/azhengyongqin/lecture-hub/internal/artifact"
	"github.com/azhengyongqin/lecture-hub/internal/config"
	"github.com/azhengyongqin/lecture-hub/internal/logger"
	"github.com/azhengyongqin/lecture-hub/internal/media"
	"github.com/azhengyongqin/lecture-hub/internal/metrics"
	"github.com/azhengyongqin/lecture-hub/internal/pipeline"
	"github.com/azhengyongqin/lecture-hub/internal/repository"
	"github.com/azhengyongqin/lecture-hub/internal/speech"
	"github.com/azhengyongqin/lecture-hub/internal/storage/postgres"
	"github.com/azhengyongqin/lecture-hub/internal/summarize"
	"github.com/azhengyongqin/lecture-hub/internal/worker"
)

func main() {
	if err := loadEnvFile(); err != nil {
		// .env 缺失不是错误，环境变量仍然生效
		os.Stderr.WriteString("警告: 无法加载 .env 文件: " + err.Error() + "\n")
	}

	if err := logger.Init(false); err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.L.Fatal().Err(err).Msg("加载配置失败")
	}
	if err := cfg.Validate(); err != nil {
		logger.L.Fatal().Err(err).Msg("配置验证失败")
	}

	// 归一化只发生在 config 层，这里拿到的一定是 redis:// URI
	redisAddr := cfg.Redis.URI()

	logger.L.Info().
		Str("queue", cfg.Queue.Name).
		Int("max_attempts", cfg.Pipeline.MaxAttempts).
		Msg("worker 启动")

	ctx := context.Background()

	// server 和 worker 启动时都跑一次 AutoMigrate，先起的进程建表
	db, err := postgres.NewDBWithConfig(ctx, cfg.Postgres.DSN, postgres.DBConfig{
		MaxOpenConns:    int(cfg.DBPool.MaxConns),
		MaxIdleConns:    int(cfg.DBPool.MinConns),
		ConnMaxLifetime: cfg.DBPool.MaxConnLifetime,
		ConnMaxIdleTime: cfg.DBPool.MaxConnIdleTime,
	})
	if err != nil {
		logger.L.Fatal().Err(err).Msg("连接数据库失败")
	}
	if err := db.AutoMigrate(); err != nil {
		logger.L.Fatal().Err(err).Msg("同步表结构失败")
	}
	// schema 同步完成后 GORM 连接就没用了
	_ = db.Close()

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

	pipe := pipeline.New(pipeline.Deps{
		Repo:        taskRepo,
		Store:       store,
		Fetcher:     media.NewFetcher(cfg.Pipeline.FetchTimeout),
		Transcriber: speech.NewClient(cfg.SpeechKit.APIKey, cfg.SpeechKit.Language, cfg.SpeechKit.PollInterval),
		Summarizer:  summarize.NewClient(cfg.GPT.APIKey, cfg.GPT.FolderID, cfg.GPT.Model),
		Timeouts: pipeline.Timeouts{
			Fetch:      cfg.Pipeline.FetchTimeout,
			Transcribe: cfg.Pipeline.TranscribeTimeout,
			Summarize:  cfg.Pipeline.SummarizeTimeout,
			Publish:    cfg.Pipeline.PublishTimeout,
		},
	})

	h := worker.NewHandler(taskRepo, pipe, cfg.Pipeline.MaxAttempts)

	srv, err := worker.NewServer(redisAddr, cfg.Queue.Name, h)
	if err != nil {
		logger.L.Fatal().Err(err).Msg("创建 worker 失败")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 连接池指标上报
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				st := pool.Stat()
				metrics.UpdateDBPoolStats(st.AcquiredConns(), st.IdleConns())
			}
		}
	}()

	// 孤儿产物清理：已删除任务的对象按 mtime 兜底回收
	if cfg.Pipeline.CleanupMaxAge > 0 {
		go runCleanup(runCtx, store, cfg.Pipeline.CleanupMaxAge)
	}

	go func() {
		if err := srv.Run(); err != nil {
			logger.L.Fatal().Err(err).Msg("worker 运行错误")
		}
	}()

	<-runCtx.Done()
	srv.Shutdown()
	logger.L.Info().Msg("worker 已优雅关闭")
}

// runCleanup 周期清理过期产物
func runCleanup(ctx context.Context, store *artifact.Store, maxAge time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, prefix := range []string{"audio/", "transcripts/", "notes/"} {
				n, err := store.CleanupOlderThan(ctx, prefix, maxAge)
				if err != nil {
					logger.L.Warn().Err(err).Str("prefix", prefix).Msg("产物清理失败")
					continue
				}
				total += n
			}
			if total > 0 {
				logger.L.Info().Int("deleted", total).Msg("过期产物已清理")
			}
		}
	}
}

// loadEnvFile 尝试从项目根目录加载 .env 文件
func loadEnvFile() error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	possiblePaths := []string{
		filepath.Join(wd, ".env"),
		filepath.Join(wd, "..", ".env"),
		filepath.Join(wd, "..", "..", ".env"),
	}

	for _, path := range possiblePaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(absPath); statErr == nil {
			return godotenv.Load(absPath)
		}
	}

	return nil
}
