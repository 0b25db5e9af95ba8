package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/compression-service/shared/postgresql"
	"github.com/cuongbtq/compression-service/shared/sqlite"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Defaults applied by Load when a field is left empty
const (
	DefaultResultTTLMinutes = 30
	DefaultQueueKey         = "compression_queue"
	DefaultMaxRetries       = 3
	DefaultStaleAfter       = 10 * time.Second
	DefaultReconcileGrace   = 30 * time.Second
	DefaultSchedule         = "@every 15s"
	DefaultPollInterval     = time.Second
)

// Environment variables that override secrets from the config file
const (
	EnvDatabasePassword = "DATABASE_PASSWORD"
	EnvRedisPassword    = "REDIS_PASSWORD"
	EnvRabbitMQPassword = "RABBITMQ_PASSWORD"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Storage  StorageConfig  `yaml:"storage"`
	Worker   WorkerConfig   `yaml:"worker"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	// UploadRate is the sustained number of uploads per second accepted per client; 0 disables limiting
	UploadRate  float64 `yaml:"upload_rate"`
	UploadBurst int     `yaml:"upload_burst"`
	// MaxMultipartMemory is how many bytes of an upload are buffered in memory before spilling to a temp file; 0 keeps gin's default
	MaxMultipartMemory int64 `yaml:"max_multipart_memory"`
}

// DatabaseConfig holds job ledger connection configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite3"
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds the dispatch queue store configuration
type RedisConfig struct {
	URL          string        `yaml:"url"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	// Enabled turns on job notifications; workers fall back to polling without them
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// JobsConfig holds job lifecycle settings shared by every process
type JobsConfig struct {
	// ResultTTLMinutes is how long a finished result stays downloadable after its last heartbeat
	ResultTTLMinutes int           `yaml:"result_ttl_minutes"`
	QueueKey         string        `yaml:"queue_key"`
	MaxRetries       int           `yaml:"max_retries"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	ReconcileGrace   time.Duration `yaml:"reconcile_grace"`
}

// ResultTTL returns ResultTTLMinutes as a duration
func (j JobsConfig) ResultTTL() time.Duration {
	return time.Duration(j.ResultTTLMinutes) * time.Minute
}

// StorageConfig holds the shared file storage locations
type StorageConfig struct {
	PendingDir     string `yaml:"pending_dir"`
	DoneDir        string `yaml:"done_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// WatchdogConfig holds watchdog service configuration
type WatchdogConfig struct {
	Schedule  string `yaml:"schedule"`
	BatchSize int    `yaml:"batch_size"`
}

// Load reads and parses the configuration file, then applies defaults and
// environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnv(os.Getenv)

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = postgresql.DriverName
	}
	if c.Jobs.ResultTTLMinutes == 0 {
		c.Jobs.ResultTTLMinutes = DefaultResultTTLMinutes
	}
	if c.Jobs.QueueKey == "" {
		c.Jobs.QueueKey = DefaultQueueKey
	}
	if c.Jobs.MaxRetries == 0 {
		c.Jobs.MaxRetries = DefaultMaxRetries
	}
	if c.Jobs.StaleAfter == 0 {
		c.Jobs.StaleAfter = DefaultStaleAfter
	}
	if c.Jobs.ReconcileGrace == 0 {
		c.Jobs.ReconcileGrace = DefaultReconcileGrace
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = DefaultPollInterval
	}
	if c.Watchdog.Schedule == "" {
		c.Watchdog.Schedule = DefaultSchedule
	}
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvDatabasePassword); v != "" {
		c.Database.Password = v
	}
	if v := getenv(EnvRedisPassword); v != "" {
		c.Redis.Password = v
	}
	if v := getenv(EnvRabbitMQPassword); v != "" {
		c.RabbitMQ.Password = v
	}
}

// ValidateAPIConfig checks the settings the api service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.UploadRate < 0 {
		return fmt.Errorf("server upload_rate must not be negative")
	}

	if c.Server.MaxMultipartMemory < 0 {
		return fmt.Errorf("server max_multipart_memory must not be negative")
	}

	if err := c.validateStores(); err != nil {
		return err
	}

	if c.Jobs.ResultTTLMinutes <= 0 {
		return fmt.Errorf("jobs result_ttl_minutes must be greater than 0")
	}

	return c.validateStorage()
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateStores(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	// A worker that heartbeats slower than the staleness threshold loses every job to the watchdog
	if c.Worker.HeartbeatInterval >= c.Jobs.StaleAfter {
		return fmt.Errorf("worker heartbeat_interval (%s) must be shorter than jobs stale_after (%s)",
			c.Worker.HeartbeatInterval, c.Jobs.StaleAfter)
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}

// ValidateWatchdogConfig checks the settings the watchdog service needs
func (c *Config) ValidateWatchdogConfig() error {
	if err := c.validateStores(); err != nil {
		return err
	}

	if c.Jobs.MaxRetries < 0 {
		return fmt.Errorf("jobs max_retries must not be negative")
	}

	if c.Jobs.StaleAfter <= 0 {
		return fmt.Errorf("jobs stale_after must be greater than 0")
	}

	if c.Jobs.ReconcileGrace < 0 {
		return fmt.Errorf("jobs reconcile_grace must not be negative")
	}

	if c.Watchdog.Schedule == "" {
		return fmt.Errorf("watchdog schedule is required")
	}

	return nil
}

func (c *Config) validateStores() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis url is required")
	}

	if c.Jobs.QueueKey == "" {
		return fmt.Errorf("jobs queue_key is required")
	}

	if c.RabbitMQ.Enabled {
		return c.validateRabbitMQ()
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case postgresql.DriverName:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}

	case sqlite.DriverName:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite3")
		}

	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.PendingDir == "" {
		return fmt.Errorf("storage pending_dir is required")
	}

	if c.Storage.DoneDir == "" {
		return fmt.Errorf("storage done_dir is required")
	}

	if c.Storage.MaxUploadBytes < 0 {
		return fmt.Errorf("storage max_upload_bytes must not be negative")
	}

	return nil
}
