// Package mongo implements the low-level MongoDB client used by the run
// store. Runs, steps and messages each live in their own collection keyed by
// their prefixed id; every write is an upsert so the single-writer worker can
// persist a record as many times as it likes.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/threadrun/threadrun/runtime/run"
)

type (
	// Client exposes Mongo-backed operations for the run store.
	Client interface {
		health.Pinger

		LoadRun(ctx context.Context, id string) (*run.Run, error)
		SaveRun(ctx context.Context, r *run.Run) error
		SaveStep(ctx context.Context, s *run.Step) error
		SaveMessage(ctx context.Context, m *run.Message) error
		CountRunsCreatedSince(ctx context.Context, createdBy string, since time.Time) (int, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client   *mongodriver.Client
		Database string
		// Timeout bounds individual operations. Defaults to 5s.
		Timeout time.Duration
	}

	client struct {
		mongo    *mongodriver.Client
		runs     *mongodriver.Collection
		steps    *mongodriver.Collection
		messages *mongodriver.Collection
		timeout  time.Duration
	}
)

const (
	runsCollection     = "runs"
	stepsCollection    = "run_steps"
	messagesCollection = "messages"
	defaultTimeout     = 5 * time.Second
	clientName         = "run-mongo"
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	c := &client{
		mongo:    opts.Client,
		runs:     db.Collection(runsCollection),
		steps:    db.Collection(stepsCollection),
		messages: db.Collection(messagesCollection),
		timeout:  timeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) LoadRun(ctx context.Context, id string) (*run.Run, error) {
	if id == "" {
		return nil, errors.New("run id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc runDocument
	err := c.runs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, run.ErrNotFound
		}
		return nil, err
	}
	return doc.toRun(), nil
}

func (c *client) SaveRun(ctx context.Context, r *run.Run) error {
	if r == nil || r.ID == "" {
		return errors.New("run with id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.runs.ReplaceOne(ctx, bson.M{"_id": r.ID}, newRunDocument(r),
		options.Replace().SetUpsert(true))
	return err
}

func (c *client) SaveStep(ctx context.Context, s *run.Step) error {
	if s == nil || s.ID == "" {
		return errors.New("step with id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.steps.ReplaceOne(ctx, bson.M{"_id": s.ID}, newStepDocument(s),
		options.Replace().SetUpsert(true))
	return err
}

func (c *client) SaveMessage(ctx context.Context, m *run.Message) error {
	if m == nil || m.ID == "" {
		return errors.New("message with id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.messages.ReplaceOne(ctx, bson.M{"_id": m.ID}, newMessageDocument(m),
		options.Replace().SetUpsert(true))
	return err
}

func (c *client) CountRunsCreatedSince(ctx context.Context, createdBy string, since time.Time) (int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.runs.CountDocuments(ctx, bson.M{
		"created_by": createdBy,
		"created_at": bson.M{"$gte": since.UTC()},
	})
	return int(n), err
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *client) ensureIndexes(ctx context.Context) error {
	if _, err := c.runs.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "created_by", Value: 1},
			{Key: "created_at", Value: 1},
		},
	}); err != nil {
		return err
	}
	if _, err := c.steps.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "run_id", Value: 1}},
	}); err != nil {
		return err
	}
	_, err := c.messages.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "thread_id", Value: 1}},
	})
	return err
}
