// Package mongo wires the run.Store interface to the MongoDB client.
package mongo

import (
	"context"
	"errors"
	"time"

	clientsmongo "github.com/threadrun/threadrun/features/run/mongo/clients/mongo"
	"github.com/threadrun/threadrun/runtime/run"
)

// Store implements run.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed run store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// LoadRun implements run.Store.
func (s *Store) LoadRun(ctx context.Context, id string) (*run.Run, error) {
	return s.client.LoadRun(ctx, id)
}

// SaveRun implements run.Store.
func (s *Store) SaveRun(ctx context.Context, r *run.Run) error {
	return s.client.SaveRun(ctx, r)
}

// SaveStep implements run.Store.
func (s *Store) SaveStep(ctx context.Context, step *run.Step) error {
	return s.client.SaveStep(ctx, step)
}

// SaveMessage implements run.Store.
func (s *Store) SaveMessage(ctx context.Context, m *run.Message) error {
	return s.client.SaveMessage(ctx, m)
}

// CountRunsCreatedSince implements run.Store.
func (s *Store) CountRunsCreatedSince(ctx context.Context, createdBy string, since time.Time) (int, error) {
	return s.client.CountRunsCreatedSince(ctx, createdBy, since)
}
