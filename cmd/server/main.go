package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/doctriage/doctriage/pkg/api"
	"github.com/doctriage/doctriage/pkg/blob"
	"github.com/doctriage/doctriage/pkg/cleanup"
	"github.com/doctriage/doctriage/pkg/config"
	"github.com/doctriage/doctriage/pkg/logging"
	"github.com/doctriage/doctriage/pkg/processor"
	"github.com/doctriage/doctriage/pkg/queue"
	"github.com/doctriage/doctriage/pkg/recovery"
	"github.com/doctriage/doctriage/pkg/retry"
	"github.com/doctriage/doctriage/pkg/scaler"
	"github.com/doctriage/doctriage/pkg/shutdown"
	"github.com/doctriage/doctriage/pkg/store"
	"github.com/doctriage/doctriage/pkg/worker"
)

func main() {
	cfgFile := flag.String("config", "", "config file (default is $HOME/.doctriage/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.NewFileLogger("server", logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	sd := shutdown.New(30 * time.Second)
	ctx := context.Background()

	// Backends
	q, err := newQueue(cfg)
	if err != nil {
		log.Fatal("Failed to connect queue backend", map[string]interface{}{"error": err.Error()})
	}
	sd.Register(shutdown.CloseResource(q, "queue"))

	rawStore, err := store.NewStore(ctx, store.Config{Type: cfg.Store.Type, DSN: cfg.Store.DSN, Path: cfg.Store.Path})
	if err != nil {
		log.Fatal("Failed to open job store", map[string]interface{}{"error": err.Error()})
	}
	sd.Register(shutdown.CloseResource(rawStore, "store"))

	blobs, err := blob.NewLocalStorage(cfg.Blob.Dir)
	if err != nil {
		log.Fatal("Failed to open payload storage", map[string]interface{}{"error": err.Error()})
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		log.Fatal("Failed to connect worker registry", map[string]interface{}{"error": err.Error()})
	}

	// Status pushes: server-side state changes broadcast over /ws.
	hub := api.NewHub(log)
	sd.Register(shutdown.CloseResource(hub, "websocket hub"))
	st := api.NewNotifyingStore(rawStore, hub)

	// Background loops
	sweeper := recovery.NewSweeper(st, q, recovery.Config{
		ClaimTimeout: cfg.Sweep.ClaimTimeout,
		Interval:     cfg.Sweep.Interval,
	}, log)
	sweeper.Start()
	sd.Register(func(context.Context) error { sweeper.Stop(); return nil })

	gc := cleanup.NewManager(cleanup.Config{
		Enabled:         cfg.Cleanup.Enabled,
		Retention:       cfg.Cleanup.Retention,
		Interval:        cfg.Cleanup.Interval,
		DeleteBatchSize: 100,
	}, st, blobs, log)
	gc.Start()
	sd.Register(func(context.Context) error { gc.Stop(); return nil })

	// Autoscaler
	policy := scaler.DefaultPolicy()
	if cfg.Scaling.PolicyFile != "" {
		policy, err = scaler.LoadPolicy(cfg.Scaling.PolicyFile)
		if err != nil {
			log.Fatal("Invalid scaling policy", map[string]interface{}{"error": err.Error()})
		}
	}

	backend, cleanupBackend := newBackend(cfg, q, st, blobs, registry, log)
	controller := scaler.NewController(q, registry, backend, policy, cfg.Scaling.Interval, log)
	controller.Start()
	sd.Register(func(context.Context) error {
		controller.Stop()
		cleanupBackend()
		return nil
	})

	// HTTP surface
	adm := api.NewAdmission(st, q, blobs, api.AdmissionConfig{
		MaxPayloadBytes:  int64(cfg.Admission.MaxPayloadMB) << 20,
		MaxAttempts:      cfg.Admission.MaxAttempts,
		AdmissionCeiling: cfg.Admission.Ceiling,
		EnqueueRetry:     retry.Config{MaxRetries: 2, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2.0},
	}, log)

	router := mux.NewRouter()
	api.NewHandler(adm, st, q, registry, controller, hub, log).RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	sd.Register(shutdown.StopHTTPServer(server, "api"))

	go func() {
		log.Info("HTTP server listening", map[string]interface{}{"addr": cfg.Server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	sd.Wait()
	sd.Shutdown()
	log.Info("Server stopped")
}

func newQueue(cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue.Type {
	case "redis":
		return queue.NewRedisQueue(cfg.Queue.RedisAddr)
	case "amqp", "rabbitmq":
		return queue.NewAMQPQueue(cfg.Queue.AMQPURL)
	case "memory", "":
		return queue.NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Queue.Type)
	}
}

// newRegistry shares worker liveness through Redis when the queue does,
// so standalone worker agents show up in scaling decisions
func newRegistry(cfg *config.Config) (worker.Registry, error) {
	if cfg.Queue.Type == "redis" {
		return worker.NewRedisRegistry(cfg.Queue.RedisAddr)
	}
	return worker.NewMemoryRegistry(), nil
}

// newBackend picks the scaling backend and returns it with its teardown
func newBackend(cfg *config.Config, q queue.Queue, st store.Store, blobs blob.Storage, reg worker.Registry, log *logging.Logger) (scaler.Backend, func()) {
	switch cfg.Scaling.Backend {
	case "compose":
		return scaler.NewComposeBackend(cfg.Scaling.ComposeFile, cfg.Scaling.ComposeService, log), func() {}
	default:
		pool := scaler.NewPoolBackend(func(ctx context.Context) error {
			w := worker.New(q, st, blobs, processor.NewContentClassifier(), reg, worker.Config{
				PollTimeout:       cfg.Worker.PollTimeout,
				HeartbeatInterval: cfg.Worker.HeartbeatInterval,
				StoreRetry:        retry.DefaultConfig(),
			}, log)
			return w.Run(ctx)
		}, log)
		return pool, pool.Stop
	}
}
