package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ternarybob/relay/internal/common"
)

const (
	runsCollection = "runs"
	jobsCollection = "jobs"
)

// Conn wraps the mongo client and the database handle the stores share
type Conn struct {
	client *mongo.Client
	db     *mongo.Database
	logger arbor.ILogger
}

// NewConn connects to MongoDB and verifies the connection
func NewConn(logger arbor.ILogger, config *common.MongoConfig) (*Conn, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("mongodb uri is required")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.Info().Str("database", config.Database).Msg("Connected to MongoDB")

	return &Conn{
		client: client,
		db:     client.Database(config.Database),
		logger: logger,
	}, nil
}

// Runs returns the runs collection
func (c *Conn) Runs() *mongo.Collection {
	return c.db.Collection(runsCollection)
}

// Jobs returns the jobs collection
func (c *Conn) Jobs() *mongo.Collection {
	return c.db.Collection(jobsCollection)
}

// Close disconnects the client
func (c *Conn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}
