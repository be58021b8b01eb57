package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Engine    EngineConfig
	Catalog   CatalogConfig
	Connector map[string]ConnectorConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Debug       bool
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
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
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EngineConfig carries the orchestration knobs. Every value has a default
// so a bare process comes up with sane behavior.
type EngineConfig struct {
	MaxParallelActions       int
	MaxConcurrentWorkflows   int
	DefaultWorkflowTimeout   time.Duration
	DefaultActionTimeout     time.Duration
	DefaultMaxRetries        int
	DefaultInitialRetryDelay time.Duration
	DefaultBackoffFactor     float64
	RetryJitter              bool
	RenderTimeout            time.Duration
	ConditionTimeout         time.Duration
	RemoteDispatchTimeout    time.Duration
	DispatchRateLimit        float64
	DispatchRateBurst        int
	AllowDraftExecution      bool
	TemplateStrictMode       bool
	TemplateEnableLoops      bool
	TemplateEnableFunctions  bool
}

type CatalogConfig struct {
	RefreshInterval time.Duration
}

// ConnectorConfig maps a connector ID to its base URL. The dispatcher
// resolves "connectorId.action" types against this table.
type ConnectorConfig struct {
	BaseURL string
	Timeout time.Duration
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("engine")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
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

	cfg.Server.Host = viper.GetString("server.host")
	cfg.Server.Port = viper.GetInt("server.port")
	cfg.Server.ReadTimeout = viper.GetDuration("server.read_timeout")
	cfg.Server.WriteTimeout = viper.GetDuration("server.write_timeout")
	cfg.Server.IdleTimeout = viper.GetDuration("server.idle_timeout")

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

	cfg.Engine.MaxParallelActions = viper.GetInt("engine.max_parallel_actions")
	cfg.Engine.MaxConcurrentWorkflows = viper.GetInt("engine.max_concurrent_workflows")
	cfg.Engine.DefaultWorkflowTimeout = viper.GetDuration("engine.default_workflow_timeout")
	cfg.Engine.DefaultActionTimeout = viper.GetDuration("engine.default_action_timeout")
	cfg.Engine.DefaultMaxRetries = viper.GetInt("engine.default_max_retries")
	cfg.Engine.DefaultInitialRetryDelay = viper.GetDuration("engine.default_initial_retry_delay")
	cfg.Engine.DefaultBackoffFactor = viper.GetFloat64("engine.default_backoff_factor")
	cfg.Engine.RetryJitter = viper.GetBool("engine.retry_jitter")
	cfg.Engine.RenderTimeout = viper.GetDuration("engine.render_timeout")
	cfg.Engine.ConditionTimeout = viper.GetDuration("engine.condition_timeout")
	cfg.Engine.RemoteDispatchTimeout = viper.GetDuration("engine.remote_dispatch_timeout")
	cfg.Engine.DispatchRateLimit = viper.GetFloat64("engine.dispatch_rate_limit")
	cfg.Engine.DispatchRateBurst = viper.GetInt("engine.dispatch_rate_burst")
	cfg.Engine.AllowDraftExecution = viper.GetBool("engine.allow_draft_execution")
	cfg.Engine.TemplateStrictMode = viper.GetBool("engine.template_strict_mode")
	cfg.Engine.TemplateEnableLoops = viper.GetBool("engine.template_enable_loops")
	cfg.Engine.TemplateEnableFunctions = viper.GetBool("engine.template_enable_functions")

	cfg.Catalog.RefreshInterval = viper.GetDuration("catalog.refresh_interval")

	cfg.Connector = make(map[string]ConnectorConfig)
	for id := range viper.GetStringMap("connectors") {
		cfg.Connector[id] = ConnectorConfig{
			BaseURL: viper.GetString("connectors." + id + ".base_url"),
			Timeout: viper.GetDuration("connectors." + id + ".timeout"),
		}
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "conductor")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", true)

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.idle_timeout", "60s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.name", "conductor")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("engine.max_parallel_actions", 16)
	viper.SetDefault("engine.max_concurrent_workflows", 64)
	viper.SetDefault("engine.default_workflow_timeout", "30m")
	viper.SetDefault("engine.default_action_timeout", "30s")
	viper.SetDefault("engine.default_max_retries", 3)
	viper.SetDefault("engine.default_initial_retry_delay", "500ms")
	viper.SetDefault("engine.default_backoff_factor", 2.0)
	viper.SetDefault("engine.retry_jitter", true)
	viper.SetDefault("engine.render_timeout", "2s")
	viper.SetDefault("engine.condition_timeout", "2s")
	viper.SetDefault("engine.remote_dispatch_timeout", "30s")
	// 0 disables dispatch throttling.
	viper.SetDefault("engine.dispatch_rate_limit", 0.0)
	viper.SetDefault("engine.dispatch_rate_burst", 16)
	viper.SetDefault("engine.allow_draft_execution", false)
	viper.SetDefault("engine.template_strict_mode", true)
	viper.SetDefault("engine.template_enable_loops", false)
	viper.SetDefault("engine.template_enable_functions", false)

	viper.SetDefault("catalog.refresh_interval", "5m")
}
