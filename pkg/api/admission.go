package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/doctriage/doctriage/pkg/blob"
	"github.com/doctriage/doctriage/pkg/logging"
	"github.com/doctriage/doctriage/pkg/metrics"
	"github.com/doctriage/doctriage/pkg/models"
	"github.com/doctriage/doctriage/pkg/queue"
	"github.com/doctriage/doctriage/pkg/retry"
	"github.com/doctriage/doctriage/pkg/store"
)

// AdmissionConfig holds submission-path settings
type AdmissionConfig struct {
	MaxPayloadBytes int64
	MaxAttempts     int

	// AdmissionCeiling rejects submissions with models.ErrOverloaded once
	// queue depth reaches it. Zero disables bounded admission.
	AdmissionCeiling int

	EnqueueRetry retry.Config
}

// DefaultAdmissionConfig returns admission defaults. Bounded admission
// is off; the queue absorbs bursts and the autoscaler reacts.
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		MaxPayloadBytes: 32 << 20,
		MaxAttempts:     3,
		EnqueueRetry:    retry.Config{MaxRetries: 2, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2.0},
	}
}

// admittedExtensions lists the types the classifier can extract text
// from. Admitting anything else would burn every retry before failing.
var admittedExtensions = map[string]bool{
	"": true, ".pdf": true, ".txt": true, ".md": true, ".csv": true,
	".json": true, ".html": true, ".xml": true,
}

// Admission owns the submit path: persist the payload, create the store
// entry, enqueue the descriptor. Write order matters; a client holding a
// job id must always be able to resolve its status.
type Admission struct {
	store store.Store
	queue queue.Queue
	blobs blob.Storage
	cfg   AdmissionConfig
	log   *logging.Logger
}

// NewAdmission creates the admission service
func NewAdmission(st store.Store, q queue.Queue, blobs blob.Storage, cfg AdmissionConfig, log *logging.Logger) *Admission {
	return &Admission{
		store: st,
		queue: q,
		blobs: blobs,
		cfg:   cfg,
		log:   log.WithField("component", "admission"),
	}
}

// Submit admits one document and returns the queued job. Validation
// failures wrap models.ErrValidation; backend failures wrap the queue or
// store sentinel.
func (a *Admission) Submit(ctx context.Context, filename string, r io.Reader) (*models.Job, error) {
	if err := a.validate(ctx, filename); err != nil {
		metrics.JobsRejected.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	// Size ceiling enforced while reading: one byte past the limit fails
	// the upload instead of silently truncating it.
	limited := io.LimitReader(r, a.cfg.MaxPayloadBytes+1)
	ref, size, err := a.storePayload(ctx, filename, limited)
	if err != nil {
		metrics.JobsRejected.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	job := &models.Job{
		ID:          uuid.New().String(),
		Filename:    filename,
		PayloadRef:  ref,
		Status:      models.JobStatusQueued,
		MaxAttempts: a.cfg.MaxAttempts,
		EnqueuedAt:  time.Now(),
	}

	if err := a.store.Put(ctx, job); err != nil {
		a.blobs.Delete(ctx, ref)
		metrics.JobsRejected.WithLabelValues("store_unavailable").Inc()
		return nil, fmt.Errorf("failed to record job: %w", err)
	}

	err = retry.Do(ctx, a.cfg.EnqueueRetry, func() error {
		return a.queue.Enqueue(ctx, job.Descriptor())
	})
	if err != nil {
		// The job entry exists, so a status lookup must explain the loss
		// instead of showing a forever-queued job.
		jobErr := models.NewJobError(models.ErrKindQueue, "admission enqueue failed: %v", err)
		if uerr := a.store.UpdateStatus(ctx, job.ID, models.JobStatusFailed, nil, jobErr); uerr != nil {
			a.log.Error("Failed to mark unenqueued job as failed", map[string]interface{}{
				"job_id": job.ID, "error": uerr.Error(),
			})
		}
		metrics.JobsRejected.WithLabelValues("queue_unavailable").Inc()
		return nil, fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}

	metrics.JobsSubmitted.Inc()
	a.log.Info("Job admitted", map[string]interface{}{
		"job_id": job.ID, "filename": filename, "bytes": size,
	})
	return job, nil
}

// validate applies the cheap pre-upload checks
func (a *Admission) validate(ctx context.Context, filename string) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("%w: missing filename", models.ErrValidation)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !admittedExtensions[ext] {
		return fmt.Errorf("%w: unsupported file type %q", models.ErrValidation, ext)
	}

	if a.cfg.AdmissionCeiling > 0 {
		depth, err := a.queue.Depth(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
		}
		if depth >= a.cfg.AdmissionCeiling {
			return models.ErrOverloaded
		}
	}
	return nil
}

// storePayload writes the upload to blob storage, enforcing the empty
// and oversize checks
func (a *Admission) storePayload(ctx context.Context, filename string, r io.Reader) (string, int64, error) {
	cr := &countingReader{r: r}
	ref, err := a.blobs.Store(ctx, filename, cr)
	if err != nil {
		return "", 0, fmt.Errorf("failed to store payload: %w", err)
	}
	if cr.n == 0 {
		a.blobs.Delete(ctx, ref)
		return "", 0, fmt.Errorf("%w: empty payload", models.ErrValidation)
	}
	if cr.n > a.cfg.MaxPayloadBytes {
		a.blobs.Delete(ctx, ref)
		return "", 0, fmt.Errorf("%w: payload exceeds %d bytes", models.ErrValidation, a.cfg.MaxPayloadBytes)
	}
	return ref, cr.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// rejectionReason maps an admission error to its metrics label
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, models.ErrOverloaded):
		return "overloaded"
	case errors.Is(err, models.ErrQueueUnavailable):
		return "queue_unavailable"
	default:
		return "validation"
	}
}
