package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	OTel          OTelConfig          `mapstructure:"otel"`
	Saga          SagaConfig          `mapstructure:"saga"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka connection settings
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	ClientID    string   `mapstructure:"client_id"`
	EventsTopic string   `mapstructure:"events_topic"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// SagaConfig holds the saga engine tunables
type SagaConfig struct {
	// Retry eligibility window settings
	RetryMaxAttempts   int           `mapstructure:"retry_max_attempts"`
	RetryWindow        time.Duration `mapstructure:"retry_window"`
	RetryCooldown      time.Duration `mapstructure:"retry_cooldown"`
	NonRetryableTokens []string      `mapstructure:"non_retryable_tokens"`

	// Validity TTLs for completed step results across retries
	InventoryValidityTTL time.Duration `mapstructure:"inventory_validity_ttl"`
	PaymentValidityTTL   time.Duration `mapstructure:"payment_validity_ttl"`
	ShippingValidityTTL  time.Duration `mapstructure:"shipping_validity_ttl"`

	// Step execution timeouts
	StepCallTimeout  time.Duration `mapstructure:"step_call_timeout"`
	StepTotalTimeout time.Duration `mapstructure:"step_total_timeout"`

	// Progress bus per-subscriber buffer size
	ProgressBusBufferSize int `mapstructure:"progress_bus_buffer_size"`

	// Residue sweeper settings
	SweepInterval          time.Duration `mapstructure:"sweep_interval"`
	CompensationResidueAge time.Duration `mapstructure:"compensation_residue_age"`
	StalledExecutionAge    time.Duration `mapstructure:"stalled_execution_age"`
}

// CollaboratorsConfig holds URLs of the remote business services
type CollaboratorsConfig struct {
	InventoryServiceURL string `mapstructure:"inventory_service_url"`
	PaymentServiceURL   string `mapstructure:"payment_service_url"`
	ShippingServiceURL  string `mapstructure:"shipping_service_url"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional; env vars may still be set
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadWithPath loads configuration from a specific env file path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "saga-orchestrator")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	// submitOrder responds only after the saga reaches a terminal state, and
	// status streams stay open until then; the write timeout must cover both
	v.SetDefault("SERVER_WRITE_TIMEOUT", "5m")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "order_saga")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 10)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 50)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 5)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "saga-orchestrator")
	v.SetDefault("KAFKA_EVENTS_TOPIC", "order-saga-events")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", true)
	v.SetDefault("OTEL_SERVICE_NAME", "saga-orchestrator")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Saga engine defaults
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_WINDOW_HOURS", 24)
	v.SetDefault("RETRY_COOLDOWN_MINUTES", 5)
	v.SetDefault("NON_RETRYABLE_TOKENS", "FRAUD,SUSPENDED,CANCELLED")
	v.SetDefault("VALIDITY_INVENTORY_TTL", "1h")
	v.SetDefault("VALIDITY_PAYMENT_TTL", "24h")
	v.SetDefault("VALIDITY_SHIPPING_TTL", "4h")
	v.SetDefault("STEP_CALL_TIMEOUT", "30s")
	v.SetDefault("STEP_TOTAL_TIMEOUT", "2m")
	v.SetDefault("PROGRESS_BUS_BUFFER_SIZE", 64)
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("COMPENSATION_RESIDUE_AGE", "10m")
	v.SetDefault("STALLED_EXECUTION_AGE", "10m")

	// Collaborator service defaults
	v.SetDefault("INVENTORY_SERVICE_URL", "http://localhost:8081")
	v.SetDefault("PAYMENT_SERVICE_URL", "http://localhost:8082")
	v.SetDefault("SHIPPING_SERVICE_URL", "http://localhost:8083")
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Enabled = v.GetBool("KAFKA_ENABLED")
	cfg.Kafka.Brokers = splitAndTrim(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.EventsTopic = v.GetString("KAFKA_EVENTS_TOPIC")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Saga engine
	cfg.Saga.RetryMaxAttempts = v.GetInt("RETRY_MAX_ATTEMPTS")
	cfg.Saga.RetryWindow = time.Duration(v.GetInt("RETRY_WINDOW_HOURS")) * time.Hour
	cfg.Saga.RetryCooldown = time.Duration(v.GetInt("RETRY_COOLDOWN_MINUTES")) * time.Minute
	cfg.Saga.NonRetryableTokens = splitAndTrim(v.GetString("NON_RETRYABLE_TOKENS"))
	cfg.Saga.InventoryValidityTTL = v.GetDuration("VALIDITY_INVENTORY_TTL")
	cfg.Saga.PaymentValidityTTL = v.GetDuration("VALIDITY_PAYMENT_TTL")
	cfg.Saga.ShippingValidityTTL = v.GetDuration("VALIDITY_SHIPPING_TTL")
	cfg.Saga.StepCallTimeout = v.GetDuration("STEP_CALL_TIMEOUT")
	cfg.Saga.StepTotalTimeout = v.GetDuration("STEP_TOTAL_TIMEOUT")
	cfg.Saga.ProgressBusBufferSize = v.GetInt("PROGRESS_BUS_BUFFER_SIZE")
	cfg.Saga.SweepInterval = v.GetDuration("SWEEP_INTERVAL")
	cfg.Saga.CompensationResidueAge = v.GetDuration("COMPENSATION_RESIDUE_AGE")
	cfg.Saga.StalledExecutionAge = v.GetDuration("STALLED_EXECUTION_AGE")

	// Collaborators
	cfg.Collaborators.InventoryServiceURL = v.GetString("INVENTORY_SERVICE_URL")
	cfg.Collaborators.PaymentServiceURL = v.GetString("PAYMENT_SERVICE_URL")
	cfg.Collaborators.ShippingServiceURL = v.GetString("SHIPPING_SERVICE_URL")

	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DATABASE_HOST is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("DATABASE_DBNAME is required")
	}

	if c.Saga.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", c.Saga.RetryMaxAttempts)
	}
	if c.Saga.ProgressBusBufferSize < 1 {
		return fmt.Errorf("progress bus buffer size must be positive, got %d", c.Saga.ProgressBusBufferSize)
	}
	if c.Saga.StepCallTimeout <= 0 || c.Saga.StepTotalTimeout <= 0 {
		return fmt.Errorf("step timeouts must be positive")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when kafka is enabled")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
