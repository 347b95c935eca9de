package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/doctriage/doctriage/pkg/blob"
	"github.com/doctriage/doctriage/pkg/config"
	"github.com/doctriage/doctriage/pkg/logging"
	"github.com/doctriage/doctriage/pkg/processor"
	"github.com/doctriage/doctriage/pkg/queue"
	"github.com/doctriage/doctriage/pkg/retry"
	"github.com/doctriage/doctriage/pkg/store"
	"github.com/doctriage/doctriage/pkg/worker"
)

// signalContext returns a context cancelled on SIGTERM/SIGINT
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// Standalone worker agent. Runs the same claim/process/commit loop the
// server's in-process pool runs, against shared queue/store/blob
// backends, so the population can be scaled as separate processes or
// containers.
func main() {
	cfgFile := flag.String("config", "", "config file (default is $HOME/.doctriage/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.NewFileLogger("worker", logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if cfg.Queue.Type == "memory" || cfg.Store.Type == "memory" {
		log.Fatal("Standalone workers need shared backends; configure redis/amqp queue and badger/postgres store")
	}

	ctx, cancel := signalContext()
	defer cancel()

	q, err := newQueue(cfg)
	if err != nil {
		log.Fatal("Failed to connect queue backend", map[string]interface{}{"error": err.Error()})
	}
	defer q.Close()

	st, err := store.NewStore(ctx, store.Config{Type: cfg.Store.Type, DSN: cfg.Store.DSN, Path: cfg.Store.Path})
	if err != nil {
		log.Fatal("Failed to open job store", map[string]interface{}{"error": err.Error()})
	}
	defer st.Close()

	blobs, err := blob.NewLocalStorage(cfg.Blob.Dir)
	if err != nil {
		log.Fatal("Failed to open payload storage", map[string]interface{}{"error": err.Error()})
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		log.Fatal("Failed to connect worker registry", map[string]interface{}{"error": err.Error()})
	}

	w := worker.New(q, st, blobs, processor.NewContentClassifier(), registry, worker.Config{
		PollTimeout:       cfg.Worker.PollTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		StoreRetry:        retry.DefaultConfig(),
	}, log)

	if err := w.Run(ctx); err != nil {
		log.Fatal("Worker exited with error", map[string]interface{}{"error": err.Error()})
	}
	log.Info("Worker stopped")
}

func newQueue(cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue.Type {
	case "redis":
		return queue.NewRedisQueue(cfg.Queue.RedisAddr)
	case "amqp", "rabbitmq":
		return queue.NewAMQPQueue(cfg.Queue.AMQPURL)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Queue.Type)
	}
}

func newRegistry(cfg *config.Config) (worker.Registry, error) {
	if cfg.Queue.Type == "redis" {
		return worker.NewRedisRegistry(cfg.Queue.RedisAddr)
	}
	// Liveness stays process-local without a shared registry backend;
	// the server's autoscaler then only sees its own pool.
	return worker.NewMemoryRegistry(), nil
}
