package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_URI(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantVhost string
	}{
		{
			name:      "default vhost",
			config:    Config{Host: "localhost", Port: 5672, User: "guest", Password: "guest"},
			wantVhost: "/",
		},
		{
			name:      "named vhost with escaped password",
			config:    Config{Host: "mq", Port: 5673, User: "svc", Password: "p@ss/word", VHost: "jobs"},
			wantVhost: "jobs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, err := amqp.ParseURI(tt.config.URI())
			require.NoError(t, err)

			assert.Equal(t, tt.config.Host, uri.Host)
			assert.Equal(t, tt.config.Port, uri.Port)
			assert.Equal(t, tt.config.User, uri.Username)
			assert.Equal(t, tt.config.Password, uri.Password)
			assert.Equal(t, tt.wantVhost, uri.Vhost)
		})
	}
}

func TestClient_Backoff(t *testing.T) {
	c := &Client{config: &Config{PublishRetryDelay: 100 * time.Millisecond, PublishBackoffMult: 3}}

	assert.Equal(t, 100*time.Millisecond, c.backoff(0))
	assert.Equal(t, 300*time.Millisecond, c.backoff(1))
	assert.Equal(t, 900*time.Millisecond, c.backoff(2))

	defaults := &Client{config: &Config{}}
	assert.Equal(t, 100*time.Millisecond, defaults.backoff(0))
	assert.Equal(t, 200*time.Millisecond, defaults.backoff(1))
}

func TestClient_NotConnected(t *testing.T) {
	c := &Client{
		config: &Config{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	assert.False(t, c.IsConnected())

	err := c.Publish(context.Background(), []byte("{}"), "application/json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	err = c.PublishWithRetry(context.Background(), []byte("{}"), "application/json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	_, err = c.Consume("worker-1", 1)
	require.Error(t, err)
}

func TestNewClient_Unreachable(t *testing.T) {
	_, err := NewClient(&Config{
		Host:              "127.0.0.1",
		Port:              1,
		User:              "guest",
		Password:          "guest",
		RetryAttempts:     1,
		ConnectionTimeout: 200 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to RabbitMQ after 1 attempts")
}
