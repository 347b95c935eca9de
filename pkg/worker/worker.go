package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/doctriage/doctriage/pkg/blob"
	"github.com/doctriage/doctriage/pkg/logging"
	"github.com/doctriage/doctriage/pkg/metrics"
	"github.com/doctriage/doctriage/pkg/models"
	"github.com/doctriage/doctriage/pkg/processor"
	"github.com/doctriage/doctriage/pkg/queue"
	"github.com/doctriage/doctriage/pkg/retry"
	"github.com/doctriage/doctriage/pkg/store"
)

// Config holds worker loop configuration
type Config struct {
	PollTimeout       time.Duration // dequeue wait; also the shutdown-check interval
	HeartbeatInterval time.Duration
	StoreRetry        retry.Config // backoff for status writes after processing
}

// DefaultConfig returns sensible worker defaults
func DefaultConfig() Config {
	return Config{
		PollTimeout:       2 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StoreRetry:        retry.DefaultConfig(),
	}
}

// Worker runs the sequential claim/process/commit loop. One job at a
// time per worker; processing a single document is not parallelized.
type Worker struct {
	ID string

	queue    queue.Queue
	store    store.Store
	blobs    blob.Storage
	proc     processor.Processor
	registry Registry
	cfg      Config
	log      *logging.Logger

	lastHeartbeat time.Time
}

// New creates a worker with a generated identifier
func New(q queue.Queue, st store.Store, blobs blob.Storage, proc processor.Processor, reg Registry, cfg Config, log *logging.Logger) *Worker {
	id := "worker-" + uuid.New().String()[:8]
	return &Worker{
		ID:       id,
		queue:    q,
		store:    st,
		blobs:    blobs,
		proc:     proc,
		registry: reg,
		cfg:      cfg,
		log:      log.WithField("worker_id", id),
	}
}

// Run executes the claim/process/commit loop until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	if err := w.registry.Register(ctx, models.WorkerInfo{ID: w.ID}); err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.registry.Deregister(dctx, w.ID)
	}()

	w.log.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker stopping")
			return nil
		default:
		}

		w.heartbeat(ctx, "")

		d, err := w.queue.Dequeue(ctx, w.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error("Dequeue failed", map[string]interface{}{"error": err.Error()})
			time.Sleep(w.cfg.PollTimeout)
			continue
		}
		if d == nil {
			continue // poll timeout, idle
		}

		w.process(ctx, *d)
	}
}

// process runs one claimed descriptor through the processor and commits
// a terminal status. Processor failures become job state, never loop
// crashes.
func (w *Worker) process(ctx context.Context, d models.Descriptor) {
	log := w.log.WithField("job_id", d.JobID)

	if err := w.store.MarkProcessing(ctx, d.JobID, w.ID); err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			// Store entry gone (retention GC or admission rollback); the
			// descriptor is stale.
			log.Warn("Dropping descriptor without store entry")
			w.queue.Ack(ctx, d.JobID)
			return
		}
		if errors.Is(err, models.ErrStoreUnavailable) {
			// Release the claim so the job is not lost while the store is down.
			log.Error("Store unreachable on claim, requeueing", map[string]interface{}{"error": err.Error()})
			w.queue.Requeue(ctx, d)
			return
		}
		// Invalid transition: the sweep already reclaimed or failed this job.
		log.Warn("Claim rejected by store", map[string]interface{}{"error": err.Error()})
		w.queue.Ack(ctx, d.JobID)
		return
	}

	w.heartbeat(ctx, d.JobID)

	start := time.Now()
	result, procErr := w.classify(ctx, d)
	elapsed := time.Since(start)

	if procErr == nil {
		w.commit(ctx, d, models.JobStatusCompleted, result, nil, log)
		w.registry.RecordProcessing(ctx, elapsed)
		metrics.JobDuration.Observe(elapsed.Seconds())
		metrics.JobsProcessed.WithLabelValues(string(models.JobStatusCompleted)).Inc()
		// Completed payloads are no longer needed; failed ones are kept
		// for inspection until retention GC.
		if err := w.blobs.Delete(ctx, d.PayloadRef); err != nil {
			log.Warn("Failed to delete payload", map[string]interface{}{"error": err.Error()})
		}
		return
	}

	log.Warn("Processor failed", map[string]interface{}{"error": procErr.Error()})
	w.handleFailure(ctx, d, procErr, log)
}

// classify invokes the payload processor, converting panics into
// classification errors
func (w *Worker) classify(ctx context.Context, d models.Descriptor) (result *models.ClassificationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &models.ClassificationError{Ref: d.PayloadRef, Message: fmt.Sprintf("processor panic: %v", r)}
		}
	}()

	r, err := w.blobs.Open(ctx, d.PayloadRef)
	if err != nil {
		return nil, &models.ClassificationError{Ref: d.PayloadRef, Message: fmt.Sprintf("payload unavailable: %v", err)}
	}
	defer r.Close()

	return w.proc.Classify(ctx, d.PayloadRef, r)
}

// handleFailure retries through the queue while attempts remain,
// otherwise records the terminal failure
func (w *Worker) handleFailure(ctx context.Context, d models.Descriptor, procErr error, log *logging.Logger) {
	job, err := w.store.Get(ctx, d.JobID)
	if err != nil {
		log.Error("Cannot read job after processor failure", map[string]interface{}{"error": err.Error()})
		return // claim stays held; the stuck-job sweep reconciles
	}

	if job.Attempts < job.MaxAttempts {
		if err := w.store.Requeue(ctx, d.JobID); err != nil {
			log.Error("Failed to requeue job in store", map[string]interface{}{"error": err.Error()})
			return
		}
		d.Attempts = job.Attempts
		if err := w.queue.Requeue(ctx, d); err != nil {
			log.Error("Failed to requeue descriptor", map[string]interface{}{"error": err.Error()})
			return
		}
		metrics.JobsRequeued.WithLabelValues("processor_failure").Inc()
		log.Info("Job requeued after processor failure", map[string]interface{}{
			"attempts": job.Attempts, "max_attempts": job.MaxAttempts,
		})
		return
	}

	jobErr := models.NewJobError(models.ErrKindMaxAttemptsExceeded,
		"gave up after %d attempts, last error: %v", job.Attempts, procErr)
	w.commit(ctx, d, models.JobStatusFailed, nil, jobErr, log)
	metrics.JobsProcessed.WithLabelValues(string(models.JobStatusFailed)).Inc()
}

// commit writes the terminal status with bounded backoff, then acks.
// If the write never lands the claim is kept so the sweep can reclaim.
func (w *Worker) commit(ctx context.Context, d models.Descriptor, status models.JobStatus, result *models.ClassificationResult, jobErr *models.JobError, log *logging.Logger) {
	err := retry.Do(ctx, w.cfg.StoreRetry, func() error {
		return w.store.UpdateStatus(ctx, d.JobID, status, result, jobErr)
	})
	if err != nil {
		log.Error("UNRECOVERABLE: terminal status write failed after retries", map[string]interface{}{
			"status": string(status), "error": err.Error(),
		})
		return
	}

	if err := w.queue.Ack(ctx, d.JobID); err != nil {
		log.Warn("Ack failed", map[string]interface{}{"error": err.Error()})
	}
	log.Info("Job finished", map[string]interface{}{"status": string(status)})
}

// heartbeat refreshes the registry entry, rate-limited to the configured
// interval except when the current job changes
func (w *Worker) heartbeat(ctx context.Context, currentJobID string) {
	if currentJobID == "" && time.Since(w.lastHeartbeat) < w.cfg.HeartbeatInterval {
		return
	}
	w.lastHeartbeat = time.Now()

	info := models.WorkerInfo{ID: w.ID, CurrentJobID: currentJobID}
	info.CPUPercent, info.MemPercent = hostStats()

	if err := w.registry.Heartbeat(ctx, info); err != nil {
		w.log.Warn("Heartbeat failed", map[string]interface{}{"error": err.Error()})
	}
}

// hostStats samples host CPU and memory utilization for the registry
func hostStats() (cpuPct, memPct float64) {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	}
	return cpuPct, memPct
}
