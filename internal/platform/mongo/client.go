// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package mongo provides a managed MongoDB client for the document-store backend.

The account record maps naturally onto a single document (refresh tokens are an
embedded array), so MongoDB is offered as an alternative to PostgreSQL. Only
connection management lives here; collection access is owned by the repositories.
*/
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Opinionated client settings.
const (
	connectTimeout    = 10 * time.Second
	pingTimeout       = 2 * time.Second
	disconnectTimeout = 5 * time.Second
	maxPoolSize       = 25
	minPoolSize       = 2
)

// NewClient connects to MongoDB and verifies the primary is reachable.
//
// # Parameters
//   - ctx: Context for the initial connection attempt.
//   - uri: A mongodb:// or mongodb+srv:// connection string.
//   - logger: Structured logger for connection events.
func NewClient(ctx context.Context, uri string, logger *slog.Logger) (*mongo.Client, error) {
	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(maxPoolSize).
		SetMinPoolSize(minPoolSize).
		SetConnectTimeout(connectTimeout)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo: failed to connect: %w", err)
	}

	if err := Ping(ctx, client); err != nil {
		_ = Disconnect(client)
		return nil, err
	}

	logger.Info("mongo client connected", slog.Int("max_pool_size", maxPoolSize))

	return client, nil
}

// Ping verifies that the MongoDB primary answers.
func Ping(ctx context.Context, client *mongo.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo: ping failed: %w", err)
	}

	return nil
}

// Disconnect closes every pooled connection with a bounded deadline.
func Disconnect(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return client.Disconnect(ctx)
}
