package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	HTTP      HTTPConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	DBPool    DBPoolConfig
	Queue     QueueConfig
	Storage   StorageConfig
	SpeechKit SpeechKitConfig
	GPT       GPTConfig
	Pipeline  PipelineConfig
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr string
}

// RedisConfig Redis 配置（asynq 队列 + 状态缓存共用）
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// URI 统一归一化为 redis:// 形式。
// REDIS_ADDR 既可以配 host:port 也可以配完整 URI，
// 所有消费方（asynq、go-redis、健康检查）只认这里的输出。
func (c RedisConfig) URI() string {
	if strings.HasPrefix(c.Addr, "redis://") || strings.HasPrefix(c.Addr, "rediss://") {
		return c.Addr
	}
	auth := ""
	if c.Password != "" {
		auth = ":" + c.Password + "@"
	}
	return fmt.Sprintf("redis://%s%s/%d", auth, c.Addr, c.DB)
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	DSN string
}

// DBPoolConfig 数据库连接池配置
type DBPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Name string
}

// StorageConfig 对象存储配置（S3 兼容端点）
type StorageConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// SpeechKitConfig 语音识别服务配置
type SpeechKitConfig struct {
	APIKey       string
	Language     string
	PollInterval time.Duration
}

// GPTConfig 摘要服务配置
type GPTConfig struct {
	APIKey   string
	FolderID string
	Model    string
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	MaxAttempts       int
	FetchTimeout      time.Duration
	TranscribeTimeout time.Duration
	SummarizeTimeout  time.Duration
	PublishTimeout    time.Duration
	CleanupMaxAge     time.Duration // 0 表示关闭清理
}

// Load 加载配置
func Load() (*Config, error) {
	v := viper.New()

	// 设置配置文件名和路径
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")

	// 允许从环境变量读取（优先级最高）
	v.AutomaticEnv()

	// 读取配置文件（如果存在）
	_ = v.ReadInConfig() // 忽略错误，因为可能只使用环境变量

	cfg := &Config{}

	// HTTP 配置
	cfg.HTTP.Addr = v.GetString("HTTP_ADDR")
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":28080"
	}

	// Redis 配置
	cfg.Redis.Addr = v.GetString("REDIS_ADDR")
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")

	// PostgreSQL 配置
	cfg.Postgres.DSN = v.GetString("POSTGRES_DSN")
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}

	// 数据库连接池配置
	cfg.DBPool.MaxConns = int32(v.GetInt("DB_MAX_CONNS"))
	if cfg.DBPool.MaxConns == 0 {
		cfg.DBPool.MaxConns = 20
	}

	cfg.DBPool.MinConns = int32(v.GetInt("DB_MIN_CONNS"))
	if cfg.DBPool.MinConns == 0 {
		cfg.DBPool.MinConns = 5
	}

	cfg.DBPool.MaxConnLifetime = v.GetDuration("DB_MAX_CONN_LIFETIME")
	if cfg.DBPool.MaxConnLifetime == 0 {
		cfg.DBPool.MaxConnLifetime = 30 * time.Minute
	}

	cfg.DBPool.MaxConnIdleTime = v.GetDuration("DB_MAX_CONN_IDLE_TIME")
	if cfg.DBPool.MaxConnIdleTime == 0 {
		cfg.DBPool.MaxConnIdleTime = 5 * time.Minute
	}

	cfg.DBPool.HealthCheckPeriod = v.GetDuration("DB_HEALTH_CHECK_PERIOD")
	if cfg.DBPool.HealthCheckPeriod == 0 {
		cfg.DBPool.HealthCheckPeriod = 1 * time.Minute
	}

	// 队列配置
	cfg.Queue.Name = v.GetString("QUEUE_NAME")
	if cfg.Queue.Name == "" {
		cfg.Queue.Name = "lectures"
	}

	// 对象存储配置
	cfg.Storage.Endpoint = v.GetString("STORAGE_ENDPOINT")
	if cfg.Storage.Endpoint == "" {
		cfg.Storage.Endpoint = "https://storage.yandexcloud.net"
	}
	cfg.Storage.Region = v.GetString("STORAGE_REGION")
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "ru-central1"
	}
	cfg.Storage.Bucket = v.GetString("STORAGE_BUCKET")
	cfg.Storage.AccessKey = v.GetString("STORAGE_ACCESS_KEY")
	cfg.Storage.SecretKey = v.GetString("STORAGE_SECRET_KEY")

	// 语音识别配置
	cfg.SpeechKit.APIKey = v.GetString("SPEECHKIT_API_KEY")
	cfg.SpeechKit.Language = v.GetString("SPEECHKIT_LANGUAGE")
	if cfg.SpeechKit.Language == "" {
		cfg.SpeechKit.Language = "ru-RU"
	}
	cfg.SpeechKit.PollInterval = v.GetDuration("SPEECHKIT_POLL_INTERVAL")
	if cfg.SpeechKit.PollInterval == 0 {
		cfg.SpeechKit.PollInterval = 5 * time.Second
	}

	// 摘要服务配置
	cfg.GPT.APIKey = v.GetString("GPT_API_KEY")
	cfg.GPT.FolderID = v.GetString("GPT_FOLDER_ID")
	cfg.GPT.Model = v.GetString("GPT_MODEL")
	if cfg.GPT.Model == "" {
		cfg.GPT.Model = "yandexgpt-lite"
	}

	// 流水线配置
	cfg.Pipeline.MaxAttempts = v.GetInt("PIPELINE_MAX_ATTEMPTS")
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = 3
	}

	cfg.Pipeline.FetchTimeout = v.GetDuration("FETCH_TIMEOUT")
	if cfg.Pipeline.FetchTimeout == 0 {
		cfg.Pipeline.FetchTimeout = 10 * time.Minute
	}

	cfg.Pipeline.TranscribeTimeout = v.GetDuration("TRANSCRIBE_TIMEOUT")
	if cfg.Pipeline.TranscribeTimeout == 0 {
		cfg.Pipeline.TranscribeTimeout = 30 * time.Minute
	}

	cfg.Pipeline.SummarizeTimeout = v.GetDuration("SUMMARIZE_TIMEOUT")
	if cfg.Pipeline.SummarizeTimeout == 0 {
		cfg.Pipeline.SummarizeTimeout = 5 * time.Minute
	}

	cfg.Pipeline.PublishTimeout = v.GetDuration("PUBLISH_TIMEOUT")
	if cfg.Pipeline.PublishTimeout == 0 {
		cfg.Pipeline.PublishTimeout = 2 * time.Minute
	}

	cfg.Pipeline.CleanupMaxAge = v.GetDuration("CLEANUP_MAX_AGE")

	return cfg, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("PostgreSQL DSN is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("Redis address is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("PIPELINE_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}
