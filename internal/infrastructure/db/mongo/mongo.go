package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultPoolSize = 10
	appName         = "leadline"
)

// Config holds the submission archive connection settings.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Conn is an open archive connection. Submissions are low volume, so the
// pool stays small.
type Conn struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// Open connects and pings within cfg.Timeout.
func Open(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, fmt.Errorf("mongo: uri and database are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName(appName).
		SetMaxPoolSize(defaultPoolSize).
		SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Conn{Client: client, DB: client.Database(cfg.Database)}, nil
}

// Close disconnects, waiting at most five seconds for in-flight writes.
func (c *Conn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Client.Disconnect(ctx)
}
