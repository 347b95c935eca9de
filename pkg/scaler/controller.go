package scaler

import (
	"context"
	"sync"
	"time"

	"github.com/doctriage/doctriage/pkg/logging"
	"github.com/doctriage/doctriage/pkg/metrics"
	"github.com/doctriage/doctriage/pkg/models"
	"github.com/doctriage/doctriage/pkg/queue"
	"github.com/doctriage/doctriage/pkg/worker"
)

// Controller ticks on a fixed interval: sample load, run the pure
// decision, apply it to the backend. Backend failures are logged and
// retried on the next tick; the controller carries no state between
// ticks beyond the time of the last applied change.
type Controller struct {
	queue    queue.Queue
	registry worker.Registry
	backend  Backend
	interval time.Duration
	window   time.Duration // throughput sample window fed to AvgProcessing
	log      *logging.Logger

	mu         sync.RWMutex
	policy     Policy
	target     int
	lastChange time.Time
	lastSnap   models.Snapshot

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewController creates an autoscaler controller
func NewController(q queue.Queue, reg worker.Registry, backend Backend, policy Policy, interval time.Duration, log *logging.Logger) *Controller {
	return &Controller{
		queue:    q,
		registry: reg,
		backend:  backend,
		interval: interval,
		window:   5 * time.Minute,
		log:      log.WithField("component", "scaler"),
		policy:   policy,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the tick loop and brings the backend to the policy
// minimum
func (c *Controller) Start() {
	c.log.Info("Autoscaler started", map[string]interface{}{
		"min": c.policy.MinWorkers, "max": c.policy.MaxWorkers,
		"interval": c.interval.String(),
	})

	go func() {
		defer close(c.doneCh)

		ctx, cancel := context.WithTimeout(context.Background(), c.interval)
		c.apply(ctx, c.policy.MinWorkers, "startup")
		cancel()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				tctx, tcancel := context.WithTimeout(context.Background(), c.interval)
				c.Tick(tctx)
				tcancel()
			}
		}
	}()
}

// Stop terminates the tick loop
func (c *Controller) Stop() {
	close(c.stopCh)
	<-c.doneCh
	c.log.Info("Autoscaler stopped")
}

// Tick runs one sample/decide/apply cycle
func (c *Controller) Tick(ctx context.Context) {
	snap, err := c.sample(ctx)
	if err != nil {
		c.log.Error("Failed to sample load", map[string]interface{}{"error": err.Error()})
		return
	}

	c.mu.Lock()
	c.lastSnap = snap
	policy := c.policy
	current := c.target
	lastChange := c.lastChange
	c.mu.Unlock()

	metrics.QueueDepth.Set(float64(snap.QueueDepth))
	metrics.ActiveWorkers.Set(float64(snap.ActiveWorkers))

	desired, act := Decide(snap, current, lastChange, policy)
	if !act {
		return
	}

	direction := "up"
	if desired < current {
		direction = "down"
	}
	c.log.Info("Scaling decision", map[string]interface{}{
		"from": current, "to": desired, "queue_depth": snap.QueueDepth,
		"avg_processing": snap.AvgProcessing.String(),
	})
	metrics.ScalerDecisions.WithLabelValues(direction).Inc()

	c.apply(ctx, desired, direction)
}

// apply drives the backend to n replicas and records the change on
// success
func (c *Controller) apply(ctx context.Context, n int, reason string) {
	if err := c.backend.SetReplicas(ctx, n); err != nil {
		c.log.Error("Scaling backend rejected change", map[string]interface{}{
			"target": n, "reason": reason, "error": err.Error(),
		})
		return
	}

	c.mu.Lock()
	c.target = n
	c.lastChange = time.Now()
	c.mu.Unlock()
	metrics.TargetWorkers.Set(float64(n))
}

// sample builds one load snapshot from the queue and the registry
func (c *Controller) sample(ctx context.Context) (models.Snapshot, error) {
	depth, err := c.queue.Depth(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}
	active, err := c.registry.Active(ctx, 3*c.interval)
	if err != nil {
		return models.Snapshot{}, err
	}
	avg, err := c.registry.AvgProcessing(ctx, c.window)
	if err != nil {
		return models.Snapshot{}, err
	}
	return models.Snapshot{
		QueueDepth:    depth,
		ActiveWorkers: len(active),
		AvgProcessing: avg,
		Timestamp:     time.Now(),
	}, nil
}

// Status returns the controller's current policy, target and last
// snapshot for the scaling API
func (c *Controller) Status() (Policy, int, models.Snapshot) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy, c.target, c.lastSnap
}

// SetTarget applies a manual replica override, clamped to the policy
// bounds. The override resets the cool-down so automatic decisions do
// not immediately fight it.
func (c *Controller) SetTarget(ctx context.Context, n int) (int, error) {
	c.mu.RLock()
	clamped := c.policy.Clamp(n)
	c.mu.RUnlock()

	if err := c.backend.SetReplicas(ctx, clamped); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.target = clamped
	c.lastChange = time.Now()
	c.mu.Unlock()
	metrics.TargetWorkers.Set(float64(clamped))

	c.log.Info("Manual scaling override applied", map[string]interface{}{"replicas": clamped})
	return clamped, nil
}

// SetPolicy swaps the live policy after validation
func (c *Controller) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.policy = p
	c.mu.Unlock()
	return nil
}
