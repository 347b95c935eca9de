package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/doctriage/doctriage/pkg/blob"
	"github.com/doctriage/doctriage/pkg/logging"
	"github.com/doctriage/doctriage/pkg/models"
	"github.com/doctriage/doctriage/pkg/store"
)

// Config defines retention policy and cleanup interval
type Config struct {
	Enabled         bool
	Retention       time.Duration // how long terminal jobs are kept queryable
	Interval        time.Duration
	DeleteBatchSize int
}

// DefaultConfig returns sensible cleanup defaults
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Retention:       24 * time.Hour,
		Interval:        time.Hour,
		DeleteBatchSize: 100,
	}
}

// Stats tracks cleanup operations
type Stats struct {
	LastRunTime     time.Time
	LastRunDuration time.Duration
	TotalDeleted    int64
}

// Manager removes terminal jobs past their retention window, together
// with the payloads of failed jobs (completed payloads are deleted by
// workers right after classification).
type Manager struct {
	config Config
	store  store.Store
	blobs  blob.Storage
	log    *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// NewManager creates a retention cleanup manager
func NewManager(config Config, st store.Store, blobs blob.Storage, log *logging.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: config,
		store:  st,
		blobs:  blobs,
		log:    log.WithField("component", "cleanup"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the periodic cleanup loop
func (m *Manager) Start() {
	if !m.config.Enabled {
		m.log.Info("Cleanup manager disabled")
		return
	}

	m.log.Info("Cleanup manager started", map[string]interface{}{
		"retention": m.config.Retention.String(),
		"interval":  m.config.Interval.String(),
	})

	m.wg.Add(1)
	go m.loop()
}

// Stop gracefully stops the cleanup loop
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
	m.log.Info("Cleanup manager stopped")
}

func (m *Manager) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.CleanupNow(m.ctx)
		}
	}
}

// CleanupNow runs one retention pass and returns the number of jobs
// deleted
func (m *Manager) CleanupNow(ctx context.Context) int {
	start := time.Now()
	cutoff := start.Add(-m.config.Retention)

	jobs, err := m.store.TerminalOlderThan(ctx, cutoff)
	if err != nil {
		m.log.Error("Failed to list expired jobs", map[string]interface{}{"error": err.Error()})
		return 0
	}

	deleted := 0
	for _, job := range jobs {
		if err := m.deleteJob(ctx, job); err != nil {
			m.log.Warn("Failed to delete expired job", map[string]interface{}{
				"job_id": job.ID, "error": err.Error(),
			})
			continue
		}
		deleted++
		// Rate limit deletions to avoid hammering the store.
		if deleted%m.config.DeleteBatchSize == 0 {
			time.Sleep(100 * time.Millisecond)
		}
	}

	duration := time.Since(start)
	m.mu.Lock()
	m.stats.LastRunTime = time.Now()
	m.stats.LastRunDuration = duration
	m.stats.TotalDeleted += int64(deleted)
	m.mu.Unlock()

	if deleted > 0 {
		m.log.Info("Retention pass complete", map[string]interface{}{
			"deleted": deleted, "duration": duration.String(),
		})
	}
	return deleted
}

// deleteJob removes the job entry and, for failed jobs, its retained
// payload
func (m *Manager) deleteJob(ctx context.Context, job *models.Job) error {
	if job.Status == models.JobStatusFailed && job.PayloadRef != "" {
		if err := m.blobs.Delete(ctx, job.PayloadRef); err != nil && err != blob.ErrNotFound {
			m.log.Warn("Failed to delete retained payload", map[string]interface{}{
				"job_id": job.ID, "ref": job.PayloadRef, "error": err.Error(),
			})
		}
	}
	return m.store.Delete(ctx, job.ID)
}

// GetStats returns current cleanup statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
