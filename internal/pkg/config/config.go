package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig
	Engine     EngineConfig
	Credential CredentialConfig
	Database   DatabaseConfig
	Redis      RedisConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Debug       bool
}

type EngineConfig struct {
	// WorkerCount bounds how many nodes run concurrently per execution.
	WorkerCount int
	// DefaultExecutionTimeout bounds a whole execution; zero means none.
	DefaultExecutionTimeout time.Duration
	// CompletionBuffer sizes the scheduler's node-completion channel.
	CompletionBuffer int
	// RateLimitRPS caps node invocations per second engine-wide; zero
	// disables throttling.
	RateLimitRPS float64
	// RateLimitBurst is the token bucket size when throttling is on.
	RateLimitBurst int
	// RateLimitMaxWait bounds how long a throttled node waits for a token
	// before failing.
	RateLimitMaxWait time.Duration
}

type CredentialConfig struct {
	// EncryptionKey is the AES-256 key as 64 hex characters.
	EncryptionKey string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// Enabled turns on the Redis event bridge.
	Enabled bool
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config

	cfg.App.Name = viper.GetString("app.name")
	cfg.App.Environment = viper.GetString("app.environment")
	cfg.App.Debug = viper.GetBool("app.debug")

	cfg.Engine.WorkerCount = viper.GetInt("EXECUTION_WORKER_COUNT")
	if cfg.Engine.WorkerCount <= 0 {
		cfg.Engine.WorkerCount = viper.GetInt("engine.worker_count")
	}
	if ms := viper.GetInt("DEFAULT_EXECUTION_TIMEOUT_MS"); ms > 0 {
		cfg.Engine.DefaultExecutionTimeout = time.Duration(ms) * time.Millisecond
	} else {
		cfg.Engine.DefaultExecutionTimeout = viper.GetDuration("engine.default_execution_timeout")
	}
	cfg.Engine.CompletionBuffer = viper.GetInt("engine.completion_buffer")
	cfg.Engine.RateLimitRPS = viper.GetFloat64("engine.rate_limit_rps")
	cfg.Engine.RateLimitBurst = viper.GetInt("engine.rate_limit_burst")
	cfg.Engine.RateLimitMaxWait = viper.GetDuration("engine.rate_limit_max_wait")

	cfg.Credential.EncryptionKey = viper.GetString("CREDENTIAL_ENCRYPTION_KEY")
	if cfg.Credential.EncryptionKey == "" {
		cfg.Credential.EncryptionKey = viper.GetString("credential.encryption_key")
	}

	cfg.Database.Host = viper.GetString("database.host")
	cfg.Database.Port = viper.GetInt("database.port")
	cfg.Database.User = viper.GetString("database.user")
	cfg.Database.Password = viper.GetString("database.password")
	cfg.Database.Name = viper.GetString("database.name")
	cfg.Database.SSLMode = viper.GetString("database.sslmode")
	cfg.Database.MaxOpenConns = viper.GetInt("database.max_open_conns")
	cfg.Database.MaxIdleConns = viper.GetInt("database.max_idle_conns")
	cfg.Database.ConnMaxLifetime = viper.GetDuration("database.conn_max_lifetime")

	cfg.Redis.Host = viper.GetString("redis.host")
	cfg.Redis.Port = viper.GetInt("redis.port")
	cfg.Redis.Password = viper.GetString("redis.password")
	cfg.Redis.DB = viper.GetInt("redis.db")
	cfg.Redis.Enabled = viper.GetBool("redis.enabled")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the invariants the engine refuses to start without.
func (c *Config) Validate() error {
	if len(c.Credential.EncryptionKey) != 64 {
		return fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must be 64 hex characters, got %d", len(c.Credential.EncryptionKey))
	}
	if c.Engine.WorkerCount <= 0 {
		return fmt.Errorf("engine worker count must be positive, got %d", c.Engine.WorkerCount)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("app.name", "flowmesh")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	viper.SetDefault("engine.worker_count", 8)
	viper.SetDefault("engine.completion_buffer", 64)
	viper.SetDefault("engine.rate_limit_rps", 0)
	viper.SetDefault("engine.rate_limit_burst", 1)
	viper.SetDefault("engine.rate_limit_max_wait", 30*time.Second)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.name", "flowmesh")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", false)
}
