// Package bootstrap builds the clients every service binary starts with from
// the loaded configuration. Each constructor returns something the caller
// must Close at shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/compression-service/internal/config"
	"github.com/cuongbtq/compression-service/internal/dispatch"
	"github.com/cuongbtq/compression-service/internal/events"
	"github.com/cuongbtq/compression-service/internal/ledger"
	"github.com/cuongbtq/compression-service/shared/logger"
	"github.com/cuongbtq/compression-service/shared/postgresql"
	"github.com/cuongbtq/compression-service/shared/rabbitmq"
	"github.com/cuongbtq/compression-service/shared/redis"
	"github.com/cuongbtq/compression-service/shared/sqlite"
)

// NewLogger initializes and configures the application logger
func NewLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	})
}

// Ledger is the job store together with the connection it owns
type Ledger struct {
	*ledger.Store
	db     *sqlx.DB
	closer io.Closer
}

// Ping checks the database connection
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database connection
func (l *Ledger) Close() error {
	return l.closer.Close()
}

// OpenLedger connects to the configured database driver and, when
// auto_migrate is set, creates the schema
func OpenLedger(ctx context.Context, cfg *config.DatabaseConfig, appName string, log *slog.Logger) (*Ledger, error) {
	var (
		db     *sqlx.DB
		closer io.Closer
	)

	switch cfg.Driver {
	case postgresql.DriverName:
		client, err := postgresql.NewClient(&postgresql.Config{
			Host:            cfg.Host,
			Port:            cfg.Port,
			User:            cfg.User,
			Password:        cfg.Password,
			Database:        cfg.Database,
			SSLMode:         cfg.SSLMode,
			ApplicationName: appName,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		}, log)
		if err != nil {
			return nil, err
		}
		db, closer = client.GetDB(), client

	case sqlite.DriverName:
		client, err := sqlite.NewClient(&sqlite.Config{
			Path:        cfg.Path,
			BusyTimeout: cfg.BusyTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		db, closer = client.GetDB(), client

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	store := ledger.NewStore(db, log)
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			closer.Close()
			return nil, err
		}
		log.Info("Ledger schema ensured", slog.String("driver", cfg.Driver))
	}

	return &Ledger{Store: store, db: db, closer: closer}, nil
}

// Queue is the dispatch queue together with the Redis pool it owns
type Queue struct {
	*dispatch.Queue
	client *redis.Client
}

// Ping checks the Redis connection
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.GetClient().Ping(ctx).Err()
}

// Close closes the Redis connection pool
func (q *Queue) Close() error {
	return q.client.Close()
}

// OpenQueue connects to Redis and returns the dispatch queue stored under key
func OpenQueue(cfg *config.RedisConfig, key string, log *slog.Logger) (*Queue, error) {
	client, err := redis.NewClient(&redis.Config{
		URL:          cfg.URL,
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}, log)
	if err != nil {
		return nil, err
	}

	list := dispatch.NewRedisList(client.GetClient(), key)
	return &Queue{Queue: dispatch.NewQueue(list, log), client: client}, nil
}

// OpenRabbitMQ initializes the RabbitMQ client. It returns nil without an
// error when notifications are disabled.
func OpenRabbitMQ(cfg *config.RabbitMQConfig, log *slog.Logger) (*rabbitmq.Client, error) {
	if !cfg.Enabled {
		log.Info("RabbitMQ disabled, job notifications are off")
		return nil, nil
	}

	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, log)
}

// NewNotifier wraps client in a job event notifier. A nil client yields a
// notifier that drops every event.
func NewNotifier(client *rabbitmq.Client, log *slog.Logger) *events.Notifier {
	if client == nil {
		return events.NewNotifier(nil, log)
	}
	return events.NewNotifier(client, log)
}
