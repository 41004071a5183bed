// Command worker runs a run execution node. It joins the Pulse worker pool,
// picks up run jobs, executes them against the configured engine and
// publishes the resulting event streams.
//
// Configuration is flag-based with environment fallbacks:
//
//	-pool / POOL_NAME          worker pool name (default: "runs")
//	-redis / REDIS_URL         Redis address (default: "localhost:6379")
//	REDIS_PASSWORD             Redis password (optional)
//	-mongo / MONGO_URL         MongoDB connection string (default: "mongodb://localhost:27017")
//	-db / MONGO_DATABASE       MongoDB database name (default: "threadrun")
//	-poll / POLL_INTERVAL      cancellation poll interval (default: "5s")
//	-debug                     enable debug logs
//
// The engine wired here is the scripted in-memory engine; deployments embed
// their own engine.Engine implementation and reuse the rest of the wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"goa.design/clue/log"

	runmongo "github.com/threadrun/threadrun/features/run/mongo"
	clientsmongo "github.com/threadrun/threadrun/features/run/mongo/clients/mongo"
	queuepulse "github.com/threadrun/threadrun/features/queue/pulse"
	signalredis "github.com/threadrun/threadrun/features/signal/redis"
	streampulse "github.com/threadrun/threadrun/features/stream/pulse"
	clientspulse "github.com/threadrun/threadrun/features/stream/pulse/clients/pulse"
	"github.com/threadrun/threadrun/runtime/cancelation"
	enginemem "github.com/threadrun/threadrun/runtime/engine/inmem"
	"github.com/threadrun/threadrun/runtime/telemetry"
	"github.com/threadrun/threadrun/runtime/worker"
)

func main() {
	var (
		poolF  = flag.String("pool", envOr("POOL_NAME", "runs"), "worker pool name")
		redisF = flag.String("redis", envOr("REDIS_URL", "localhost:6379"), "Redis address")
		mongoF = flag.String("mongo", envOr("MONGO_URL", "mongodb://localhost:27017"), "MongoDB connection string")
		dbF    = flag.String("db", envOr("MONGO_DATABASE", "threadrun"), "MongoDB database name")
		pollF  = flag.Duration("poll", envDurationOr("POLL_INTERVAL", 5*time.Second), "cancellation poll interval")
		dbgF   = flag.Bool("debug", false, "enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	if err := run(ctx, config{
		pool:  *poolF,
		redis: *redisF,
		mongo: *mongoF,
		db:    *dbF,
		poll:  *pollF,
	}); err != nil {
		log.Fatal(ctx, err)
	}
}

type config struct {
	pool  string
	redis string
	mongo string
	db    string
	poll  time.Duration
}

func run(ctx context.Context, cfg config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.redis,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	mdb, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.mongo))
	if err != nil {
		return fmt.Errorf("connect to mongo: %w", err)
	}
	defer func() {
		if err := mdb.Disconnect(context.Background()); err != nil {
			log.Error(ctx, err)
		}
	}()

	storeClient, err := clientsmongo.New(clientsmongo.Options{Client: mdb, Database: cfg.db})
	if err != nil {
		return fmt.Errorf("create mongo client: %w", err)
	}
	store, err := runmongo.NewStore(storeClient)
	if err != nil {
		return err
	}

	pulseClient, err := clientspulse.New(clientspulse.Options{Redis: rdb})
	if err != nil {
		return err
	}
	sink, err := streampulse.NewSink(streampulse.SinkOptions{Client: pulseClient})
	if err != nil {
		return err
	}
	defer sink.Close(context.Background())

	signals, err := signalredis.New(signalredis.Options{Client: rdb})
	if err != nil {
		return err
	}

	metrics, err := telemetry.New(otel.Meter("threadrun/worker"))
	if err != nil {
		return err
	}

	w, err := worker.New(worker.Options{
		Store:      store,
		Engine:     enginemem.New(),
		Sink:       sink,
		Signals:    signals,
		Controller: cancelation.New(store, cancelation.WithPollInterval(cfg.poll)),
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}

	queue, err := queuepulse.New(ctx, queuepulse.Options{Redis: rdb, PoolName: cfg.pool})
	if err != nil {
		return err
	}
	if err := queue.Work(ctx, w); err != nil {
		return err
	}
	log.Print(ctx, log.KV{K: "msg", V: "worker started"},
		log.KV{K: "pool", V: cfg.pool},
		log.KV{K: "redis", V: cfg.redis})

	<-ctx.Done()
	log.Print(ctx, log.KV{K: "msg", V: "shutting down"})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := queue.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown pool: %w", err)
	}
	log.Print(ctx, log.KV{K: "msg", V: "exited"})
	return nil
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envDurationOr returns the environment variable as duration or a default.
func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
