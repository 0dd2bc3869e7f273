package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Storage struct {
		Driver      string        `yaml:"driver"`
		LockTimeout time.Duration `yaml:"lock_timeout"`
		SQLitePath  string        `yaml:"sqlite_path"`
	} `yaml:"storage"`

	DBConfig struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`

	HTTP struct {
		Addr            string        `yaml:"addr"`
		RequestTimeout  time.Duration `yaml:"request_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  string        `yaml:"allowed_origins"`
	} `yaml:"http"`

	Sweep struct {
		Interval   time.Duration `yaml:"interval"`
		RunTimeout time.Duration `yaml:"run_timeout"`
		RunOnStart bool          `yaml:"run_on_start"`
	} `yaml:"sweep"`

	Kafka struct {
		Enabled       bool   `yaml:"enabled"`
		BrokerURL     string `yaml:"brokers"`
		CommandsTopic string `yaml:"commands_topic"`
		ReportsTopic  string `yaml:"reports_topic"`
		ConsumerGroup string `yaml:"consumer_group"`
	} `yaml:"kafka"`

	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		LockKey  string        `yaml:"lock_key"`
		LockTTL  time.Duration `yaml:"lock_ttl"`
	} `yaml:"redis"`

	Breaker struct {
		Enabled             bool          `yaml:"enabled"`
		MaxRequests         int           `yaml:"max_requests"`
		Interval            time.Duration `yaml:"interval"`
		Timeout             time.Duration `yaml:"timeout"`
		ConsecutiveFailures int           `yaml:"consecutive_failures"`
	} `yaml:"breaker"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

func defaults() *Config {
	cfg := &Config{}

	cfg.Storage.Driver = DriverPostgres
	cfg.Storage.LockTimeout = 5 * time.Second
	cfg.Storage.SQLitePath = "ledger.db"

	cfg.DBConfig.Host = "localhost"
	cfg.DBConfig.Port = 5432
	cfg.DBConfig.User = "user"
	cfg.DBConfig.Password = "password"
	cfg.DBConfig.Name = "ledger_db"
	cfg.DBConfig.SSLMode = "disable"

	cfg.HTTP.Addr = ":8082"
	cfg.HTTP.RequestTimeout = 30 * time.Second
	cfg.HTTP.ShutdownTimeout = 15 * time.Second

	cfg.Sweep.Interval = 10 * time.Minute
	cfg.Sweep.RunTimeout = 5 * time.Minute

	cfg.Kafka.BrokerURL = "localhost:9092"
	cfg.Kafka.CommandsTopic = "ledger_commands"
	cfg.Kafka.ReportsTopic = "ledger_reconciliation_reports"
	cfg.Kafka.ConsumerGroup = "ledger-service-group"

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LockKey = "ledger:reconciliation"
	cfg.Redis.LockTTL = 10 * time.Minute

	cfg.Breaker.Enabled = true
	cfg.Breaker.MaxRequests = 5
	cfg.Breaker.Interval = 3 * time.Minute
	cfg.Breaker.Timeout = 30 * time.Second
	cfg.Breaker.ConsecutiveFailures = 10

	cfg.Log.Level = "info"

	return cfg
}

// LoadConfig builds the configuration from defaults, then the YAML file at
// path when path is not empty, then LEDGER_* environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Storage.Driver = strings.ToLower(getEnvOrDefault("LEDGER_STORAGE_DRIVER", cfg.Storage.Driver))
	cfg.Storage.LockTimeout = getEnvAsDuration("LEDGER_LOCK_TIMEOUT", cfg.Storage.LockTimeout)
	cfg.Storage.SQLitePath = getEnvOrDefault("LEDGER_SQLITE_PATH", cfg.Storage.SQLitePath)

	cfg.DBConfig.Host = getEnvOrDefault("LEDGER_DB_HOST", cfg.DBConfig.Host)
	cfg.DBConfig.Port = getEnvAsInt("LEDGER_DB_PORT", cfg.DBConfig.Port)
	cfg.DBConfig.User = getEnvOrDefault("LEDGER_DB_USER", cfg.DBConfig.User)
	cfg.DBConfig.Password = getEnvOrDefault("LEDGER_DB_PASSWORD", cfg.DBConfig.Password)
	cfg.DBConfig.Name = getEnvOrDefault("LEDGER_DB_NAME", cfg.DBConfig.Name)
	cfg.DBConfig.SSLMode = getEnvOrDefault("LEDGER_DB_SSLMODE", cfg.DBConfig.SSLMode)

	cfg.HTTP.Addr = getEnvOrDefault("LEDGER_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.RequestTimeout = getEnvAsDuration("LEDGER_HTTP_REQUEST_TIMEOUT", cfg.HTTP.RequestTimeout)
	cfg.HTTP.ShutdownTimeout = getEnvAsDuration("LEDGER_HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout)
	cfg.HTTP.AllowedOrigins = getEnvOrDefault("LEDGER_HTTP_ALLOWED_ORIGINS", cfg.HTTP.AllowedOrigins)

	cfg.Sweep.Interval = getEnvAsDuration("LEDGER_SWEEP_INTERVAL", cfg.Sweep.Interval)
	cfg.Sweep.RunTimeout = getEnvAsDuration("LEDGER_SWEEP_RUN_TIMEOUT", cfg.Sweep.RunTimeout)
	cfg.Sweep.RunOnStart = getEnvAsBool("LEDGER_SWEEP_RUN_ON_START", cfg.Sweep.RunOnStart)

	cfg.Kafka.Enabled = getEnvAsBool("LEDGER_KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.BrokerURL = getEnvOrDefault("LEDGER_KAFKA_BROKER_URL", cfg.Kafka.BrokerURL)
	cfg.Kafka.CommandsTopic = getEnvOrDefault("LEDGER_KAFKA_COMMANDS_TOPIC", cfg.Kafka.CommandsTopic)
	cfg.Kafka.ReportsTopic = getEnvOrDefault("LEDGER_KAFKA_REPORTS_TOPIC", cfg.Kafka.ReportsTopic)
	cfg.Kafka.ConsumerGroup = getEnvOrDefault("LEDGER_KAFKA_CONSUMER_GROUP", cfg.Kafka.ConsumerGroup)

	cfg.Redis.Enabled = getEnvAsBool("LEDGER_REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = getEnvOrDefault("LEDGER_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnvOrDefault("LEDGER_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("LEDGER_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.LockKey = getEnvOrDefault("LEDGER_REDIS_LOCK_KEY", cfg.Redis.LockKey)
	cfg.Redis.LockTTL = getEnvAsDuration("LEDGER_REDIS_LOCK_TTL", cfg.Redis.LockTTL)

	cfg.Breaker.Enabled = getEnvAsBool("LEDGER_BREAKER_ENABLED", cfg.Breaker.Enabled)
	cfg.Breaker.MaxRequests = getEnvAsInt("LEDGER_BREAKER_MAX_REQUESTS", cfg.Breaker.MaxRequests)
	cfg.Breaker.Interval = getEnvAsDuration("LEDGER_BREAKER_INTERVAL", cfg.Breaker.Interval)
	cfg.Breaker.Timeout = getEnvAsDuration("LEDGER_BREAKER_TIMEOUT", cfg.Breaker.Timeout)
	cfg.Breaker.ConsecutiveFailures = getEnvAsInt("LEDGER_BREAKER_CONSECUTIVE_FAILURES", cfg.Breaker.ConsecutiveFailures)

	cfg.Log.Level = getEnvOrDefault("LEDGER_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Development = getEnvAsBool("LEDGER_LOG_DEVELOPMENT", cfg.Log.Development)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Storage.Driver == DriverSQLite && c.Storage.SQLitePath == "" {
		errs = append(errs, errors.New("sqlite path is required for the sqlite driver"))
	}

	positive := map[string]time.Duration{
		"lock timeout":          c.Storage.LockTimeout,
		"sweep interval":        c.Sweep.Interval,
		"http request timeout":  c.HTTP.RequestTimeout,
		"http shutdown timeout": c.HTTP.ShutdownTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Sweep.RunTimeout < 0 {
		errs = append(errs, fmt.Errorf("sweep run timeout must not be negative, got %s", c.Sweep.RunTimeout))
	}

	if c.Kafka.Enabled && len(c.GetKafkaBrokers()) == 0 {
		errs = append(errs, errors.New("kafka is enabled but no brokers are configured"))
	}
	if c.Redis.Enabled && c.Redis.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("redis lock ttl must be positive, got %s", c.Redis.LockTTL))
	}
	if c.Breaker.Enabled && (c.Breaker.MaxRequests <= 0 || c.Breaker.ConsecutiveFailures <= 0) {
		errs = append(errs, errors.New("breaker max requests and consecutive failures must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) GetKafkaBrokers() []string {
	return splitList(c.Kafka.BrokerURL)
}

func (c *Config) GetAllowedOrigins() []string {
	return splitList(c.HTTP.AllowedOrigins)
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnvOrDefault(key, strconv.FormatBool(defaultValue))
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
