// Package redis provides the redis (upstash-style) storage backend: one
// hash per job for scalar fields, a separate list for race-free
// internalJobs appends, and secondary per-worker and per-status indexes.
// Retention uses native key expiry.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
)

// Key prefixes for the redis layout
const (
	jobKeyPrefix       = "relay:job:"
	jobInternalSuffix  = ":internal"
	jobsByWorkerPrefix = "relay:jobs:worker:"
	runKeyPrefix       = "relay:run:"
	runsByStatusPrefix = "relay:runs:status:"
	hookTokenPrefix    = "relay:hook:"
)

// Conn wraps the redis client shared by the run registry and job store
type Conn struct {
	client *redis.Client
	logger arbor.ILogger
}

// NewConn connects to redis and verifies the connection
func NewConn(logger arbor.ILogger, config *common.RedisConfig) (*Conn, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	logger.Debug().Str("addr", config.Addr).Msg("Redis connection established")

	return &Conn{client: client, logger: logger}, nil
}

// Client returns the underlying redis client
func (c *Conn) Client() *redis.Client {
	return c.client
}

// Close closes the redis connection
func (c *Conn) Close() error {
	return c.client.Close()
}
