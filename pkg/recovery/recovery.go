package recovery

import (
	"context"
	"time"

	"github.com/doctriage/doctriage/pkg/logging"
	"github.com/doctriage/doctriage/pkg/metrics"
	"github.com/doctriage/doctriage/pkg/models"
	"github.com/doctriage/doctriage/pkg/queue"
	"github.com/doctriage/doctriage/pkg/store"
)

// Config holds stuck-job sweep configuration
type Config struct {
	ClaimTimeout time.Duration // processing longer than this is presumed abandoned
	Interval     time.Duration // how often the sweep runs
}

// DefaultConfig returns sweep defaults. The claim timeout must exceed
// the longest legitimate processing time or the sweep will fight live
// workers for their jobs.
func DefaultConfig() Config {
	return Config{
		ClaimTimeout: 5 * time.Minute,
		Interval:     30 * time.Second,
	}
}

// Sweeper periodically reclaims jobs whose worker died mid-processing.
// Jobs stuck past the claim timeout go back to the queue tail while
// attempts remain, and fail terminally once they are exhausted. The
// sweep is the only path from processing back to queued.
type Sweeper struct {
	store  store.Store
	queue  queue.Queue
	cfg    Config
	log    *logging.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper creates a stuck-job sweeper
func NewSweeper(st store.Store, q queue.Queue, cfg Config, log *logging.Logger) *Sweeper {
	return &Sweeper{
		store:  st,
		queue:  q,
		cfg:    cfg,
		log:    log.WithField("component", "sweeper"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the sweep loop in the background
func (s *Sweeper) Start() {
	s.log.Info("Stuck-job sweeper started", map[string]interface{}{
		"claim_timeout": s.cfg.ClaimTimeout.String(),
		"interval":      s.cfg.Interval.String(),
	})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
				s.Sweep(ctx)
				cancel()
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.log.Info("Stuck-job sweeper stopped")
}

// Sweep runs one pass: every processing job claimed before the timeout
// cutoff is requeued or failed. Returns the number of jobs it touched.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-s.cfg.ClaimTimeout)
	stuck, err := s.store.ProcessingOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error("Failed to list stuck jobs", map[string]interface{}{"error": err.Error()})
		return 0
	}

	touched := 0
	for _, job := range stuck {
		if s.reclaim(ctx, job) {
			touched++
		}
	}
	if touched > 0 {
		s.log.Info("Sweep reclaimed stuck jobs", map[string]interface{}{"count": touched})
	}
	return touched
}

// reclaim moves one stuck job back to the queue, or fails it when its
// attempts are exhausted
func (s *Sweeper) reclaim(ctx context.Context, job *models.Job) bool {
	log := s.log.WithField("job_id", job.ID)

	if job.Attempts >= job.MaxAttempts {
		jobErr := models.NewJobError(models.ErrKindMaxAttemptsExceeded,
			"abandoned after %d attempts, claim held past %s", job.Attempts, s.cfg.ClaimTimeout)
		if err := s.store.UpdateStatus(ctx, job.ID, models.JobStatusFailed, nil, jobErr); err != nil {
			log.Error("Failed to fail exhausted stuck job", map[string]interface{}{"error": err.Error()})
			return false
		}
		// Release the backend claim so the dead descriptor does not linger.
		s.queue.Ack(ctx, job.ID)
		metrics.SweeperFailed.Inc()
		metrics.JobsProcessed.WithLabelValues(string(models.JobStatusFailed)).Inc()
		log.Warn("Stuck job failed, attempts exhausted", map[string]interface{}{
			"attempts": job.Attempts, "worker_id": job.WorkerID,
		})
		return true
	}

	// Store first: once the status is queued the next claim will succeed
	// even if this sweep pass dies between the two writes and a later one
	// re-enqueues the descriptor.
	if err := s.store.Requeue(ctx, job.ID); err != nil {
		log.Error("Failed to requeue stuck job in store", map[string]interface{}{"error": err.Error()})
		return false
	}
	if err := s.queue.Requeue(ctx, job.Descriptor()); err != nil {
		log.Error("Failed to requeue stuck descriptor", map[string]interface{}{"error": err.Error()})
		return false
	}
	metrics.SweeperRequeued.Inc()
	metrics.JobsRequeued.WithLabelValues("stuck_sweep").Inc()
	log.Info("Stuck job requeued", map[string]interface{}{
		"attempts": job.Attempts, "worker_id": job.WorkerID,
	})
	return true
}
