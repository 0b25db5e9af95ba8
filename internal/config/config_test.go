package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
				assert.Equal(t, int64(8<<20), cfg.Server.MaxMultipartMemory)
				assert.Equal(t, "postgres", cfg.Database.Driver)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "compression_db", cfg.Database.Database)
				assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
				assert.Equal(t, "compression_events", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "compression_wakeups", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "compression-api-service", cfg.App.Name)
				assert.Equal(t, 45, cfg.Jobs.ResultTTLMinutes)
				assert.Equal(t, 45*time.Minute, cfg.Jobs.ResultTTL())
				assert.Equal(t, 5, cfg.Jobs.MaxRetries)
				assert.Equal(t, "@every 30s", cfg.Watchdog.Schedule)
				assert.Equal(t, 3*time.Second, cfg.Worker.HeartbeatInterval)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/sqlite_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, DefaultResultTTLMinutes, cfg.Jobs.ResultTTLMinutes)
	assert.Equal(t, 30*time.Minute, cfg.Jobs.ResultTTL())
	assert.Equal(t, DefaultQueueKey, cfg.Jobs.QueueKey)
	assert.Equal(t, DefaultMaxRetries, cfg.Jobs.MaxRetries)
	assert.Equal(t, DefaultStaleAfter, cfg.Jobs.StaleAfter)
	assert.Equal(t, DefaultReconcileGrace, cfg.Jobs.ReconcileGrace)
	assert.Equal(t, DefaultSchedule, cfg.Watchdog.Schedule)
	assert.Equal(t, DefaultPollInterval, cfg.Worker.PollInterval)
	assert.False(t, cfg.RabbitMQ.Enabled)

	require.NoError(t, cfg.ValidateAPIConfig())
	require.NoError(t, cfg.ValidateWorkerConfig())
	require.NoError(t, cfg.ValidateWatchdogConfig())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDatabasePassword, "db-secret")
	t.Setenv(EnvRedisPassword, "redis-secret")
	t.Setenv(EnvRabbitMQPassword, "amqp-secret")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "db-secret", cfg.Database.Password)
	assert.Equal(t, "redis-secret", cfg.Redis.Password)
	assert.Equal(t, "amqp-secret", cfg.RabbitMQ.Password)
}

func validAPIConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			Database: "compression_db",
		},
		Redis: RedisConfig{URL: "redis://localhost:6379/0"},
		RabbitMQ: RabbitMQConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    5672,
			Exchange: ExchangeConfig{
				Name: "compression_events",
			},
			Queue: QueueConfig{
				Name: "compression_wakeups",
			},
		},
		Storage: StorageConfig{
			PendingDir: "/tmp/pending",
			DoneDir:    "/tmp/done",
		},
	}
	cfg.applyDefaults()
	return cfg
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "negative multipart memory",
			mutate:    func(c *Config) { c.Server.MaxMultipartMemory = -1 },
			wantErr:   true,
			errString: "max_multipart_memory must not be negative",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Database.Driver = "mysql" },
			wantErr:   true,
			errString: "unsupported database driver",
		},
		{
			name: "sqlite needs a path",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: "sqlite3"}
			},
			wantErr:   true,
			errString: "database path is required",
		},
		{
			name:      "empty redis url",
			mutate:    func(c *Config) { c.Redis.URL = "" },
			wantErr:   true,
			errString: "redis url is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name: "rabbitmq settings are ignored when disabled",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{Enabled: false}
			},
			wantErr: false,
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "negative ttl",
			mutate:    func(c *Config) { c.Jobs.ResultTTLMinutes = -1 },
			wantErr:   true,
			errString: "result_ttl_minutes",
		},
		{
			name:      "missing pending dir",
			mutate:    func(c *Config) { c.Storage.PendingDir = "" },
			wantErr:   true,
			errString: "storage pending_dir is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)
			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	valid := func() *Config {
		cfg := validAPIConfig()
		cfg.Worker = WorkerConfig{
			Concurrency:       4,
			JobTimeout:        time.Minute,
			HeartbeatInterval: 3 * time.Second,
			PollInterval:      time.Second,
			ShutdownTimeout:   30 * time.Second,
		}
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero concurrency", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, errString: "concurrency"},
		{name: "zero job timeout", mutate: func(c *Config) { c.Worker.JobTimeout = 0 }, errString: "job_timeout"},
		{name: "zero heartbeat", mutate: func(c *Config) { c.Worker.HeartbeatInterval = 0 }, errString: "heartbeat_interval"},
		{
			name:      "heartbeat slower than staleness threshold",
			mutate:    func(c *Config) { c.Worker.HeartbeatInterval = 15 * time.Second },
			errString: "must be shorter than jobs stale_after",
		},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.Worker.ShutdownTimeout = 0 }, errString: "shutdown_timeout"},
		{name: "missing done dir", mutate: func(c *Config) { c.Storage.DoneDir = "" }, errString: "done_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.ValidateWorkerConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWatchdogConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "negative retries", mutate: func(c *Config) { c.Jobs.MaxRetries = -1 }, errString: "max_retries"},
		{name: "zero stale after", mutate: func(c *Config) { c.Jobs.StaleAfter = 0 }, errString: "stale_after"},
		{name: "empty schedule", mutate: func(c *Config) { c.Watchdog.Schedule = "" }, errString: "watchdog schedule is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)
			err := cfg.ValidateWatchdogConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
		require.NoError(t, cfg.ValidateWatchdogConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
