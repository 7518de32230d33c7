// Package database provides the MongoDB document store client.
package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/pinnokio/orchestrator/pkg/config"
)

// Collection names. The document store is path-addressed in the original
// system; each top-level path segment maps to one collection here, with the
// path components carried as indexed fields.
const (
	CollClients       = "bo_clients"
	CollMandates      = "mandates"
	CollERP           = "erp"
	CollTasks         = "workflow_tasks"
	CollNotifications = "notifications"
	CollJobs          = "jobs"
	CollMessages      = "job_chat_messages"
)

// Client wraps the Mongo client and the application database handle.
type Client struct {
	mongo *mongo.Client
	db    *mongo.Database
}

// NewClient connects to MongoDB and verifies the connection.
func NewClient(ctx context.Context, cfg config.MongoConfig) (*Client, error) {
	opts := options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout)
	cli, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := cli.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	c := &Client{mongo: cli, db: cli.Database(cfg.Database)}
	if err := c.ensureIndexes(ctx); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}
	return c, nil
}

// Database returns the application database handle.
func (c *Client) Database() *mongo.Database {
	return c.db
}

// Collection returns a named collection from the application database.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// Ping checks connectivity for health endpoints.
func (c *Client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Close disconnects the underlying client.
func (c *Client) Close(ctx context.Context) error {
	return c.mongo.Disconnect(ctx)
}

// ensureIndexes creates the indexes the services query on. Index creation is
// idempotent, so this runs on every startup.
func (c *Client) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		CollTasks: {
			{Keys: map[string]any{"task_id": 1}, Options: options.Index().SetUnique(true)},
			{Keys: map[string]any{"user_id": 1, "thread_key": 1}},
			{Keys: map[string]any{"job_id": 1, "created_at": -1}},
		},
		CollMessages: {
			{Keys: map[string]any{"company_id": 1, "thread_key": 1, "timestamp": 1}},
		},
		CollMandates: {
			{Keys: map[string]any{"client_uuid": 1, "contact_space_id": 1}},
		},
		CollJobs: {
			{Keys: map[string]any{"enabled": 1, "next_execution": 1}},
		},
		CollNotifications: {
			{Keys: map[string]any{"user_id": 1, "created_at": -1}},
		},
	}
	for coll, models := range indexes {
		if _, err := c.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("collection %s: %w", coll, err)
		}
	}
	return nil
}
