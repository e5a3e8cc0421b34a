// Package store is the typed gateway to the engine's persisted collections:
// resources, matches, errands, users, wallets and runner_profiles. All
// multi-document mutations go through WithTransaction; single-document
// mutations use conditional filters so queue retries stay idempotent.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ErrNotFound is returned when a looked-up document does not exist.
var ErrNotFound = errors.New("store: document not found")

// Store wraps the database handle and exposes typed collection accessors.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *log.Logger

	resources      *mongo.Collection
	matches        *mongo.Collection
	errands        *mongo.Collection
	users          *mongo.Collection
	wallets        *mongo.Collection
	runnerProfiles *mongo.Collection
}

// Connect dials the store and pings it so startup fails fast on a bad URI.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping store: %w", err)
	}

	db := client.Database(dbName)
	return &Store{
		client:         client,
		db:             db,
		logger:         log.New(log.Writer(), "[STORE] ", log.LstdFlags),
		resources:      db.Collection("resources"),
		matches:        db.Collection("matches"),
		errands:        db.Collection("errands"),
		users:          db.Collection("users"),
		wallets:        db.Collection("wallets"),
		runnerProfiles: db.Collection("runner_profiles"),
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// WithTransaction runs fn inside a session transaction. Any error from fn
// aborts the transaction and is returned to the caller.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
