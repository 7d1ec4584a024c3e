package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Redis      RedisConfig
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Assessment AssessmentConfig `mapstructure:"assessment"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	CORS       CORSConfig       `mapstructure:"cors"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"`
	MigrateOnly  bool `mapstructure:"-"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ScoringConfig 外部评分服务。评分耗时可达数分钟，提交超时须放宽
type ScoringConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	APIKey               string        `mapstructure:"api_key"`
	SubmitTimeout        time.Duration `mapstructure:"submit_timeout_minutes"`
	StatusTimeoutSeconds int           `mapstructure:"status_timeout_seconds"`
}

type AssessmentConfig struct {
	CatalogPath      string `mapstructure:"catalog_path"`
	AutosaveSeconds  int    `mapstructure:"autosave_seconds"`
	SnapshotTTLHours int    `mapstructure:"snapshot_ttl_hours"`
}

type StorageConfig struct {
	ArchiveEnabled bool   `mapstructure:"archive_enabled"`
	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessID  string `mapstructure:"minio_access_key"`
	MinioSecret    string `mapstructure:"minio_secret_key"`
	MinioBucket    string `mapstructure:"minio_bucket"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("SELF_INSIGHT")
	viper.AutomaticEnv()

	// Database
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	viper.BindEnv("server.mode", "SERVER_MODE")

	// Scoring
	viper.BindEnv("scoring.base_url", "SCORING_BASE_URL")
	viper.BindEnv("scoring.api_key", "SCORING_API_KEY")

	// Storage
	viper.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Scoring.SubmitTimeout = cfg.Scoring.SubmitTimeout * time.Minute
	if cfg.Scoring.SubmitTimeout <= 0 {
		cfg.Scoring.SubmitTimeout = 5 * time.Minute
	}
	if cfg.Scoring.StatusTimeoutSeconds <= 0 {
		cfg.Scoring.StatusTimeoutSeconds = 15
	}
	if cfg.Assessment.AutosaveSeconds <= 0 {
		cfg.Assessment.AutosaveSeconds = 5
	}
	if cfg.Assessment.SnapshotTTLHours <= 0 {
		cfg.Assessment.SnapshotTTLHours = 24 * 14
	}

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	return &cfg, nil
}
