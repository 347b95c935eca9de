package scaler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/doctriage/doctriage/pkg/logging"
	"github.com/doctriage/doctriage/pkg/models"
)

// Backend adjusts the worker population. Implementations must be
// idempotent: SetReplicas to the current count is a no-op.
type Backend interface {
	SetReplicas(ctx context.Context, n int) error
	Replicas(ctx context.Context) (int, error)
}

// RunFunc is a worker entrypoint the pool backend spawns per replica.
// It must return promptly when ctx is cancelled.
type RunFunc func(ctx context.Context) error

// PoolBackend runs workers as goroutines inside the server process.
// Scale-down cancels the newest replicas; a cancelled worker finishes
// its in-flight job before exiting because cancellation only interrupts
// the idle dequeue wait.
type PoolBackend struct {
	run RunFunc
	log *logging.Logger

	mu      sync.Mutex
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// NewPoolBackend creates an in-process pool backend
func NewPoolBackend(run RunFunc, log *logging.Logger) *PoolBackend {
	return &PoolBackend{run: run, log: log.WithField("component", "pool")}
}

// SetReplicas grows or shrinks the pool to n goroutine workers
func (p *PoolBackend) SetReplicas(ctx context.Context, n int) error {
	if n < 0 {
		return &models.ScalingBackendError{Op: "set-replicas", Err: fmt.Errorf("negative replica count %d", n)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.cancels) < n {
		wctx, cancel := context.WithCancel(context.Background())
		p.cancels = append(p.cancels, cancel)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.run(wctx); err != nil {
				p.log.Error("Pool worker exited with error", map[string]interface{}{"error": err.Error()})
			}
		}()
	}
	for len(p.cancels) > n {
		last := len(p.cancels) - 1
		p.cancels[last]()
		p.cancels = p.cancels[:last]
	}
	return nil
}

// Replicas returns the current pool size
func (p *PoolBackend) Replicas(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels), nil
}

// Stop cancels all workers and waits for in-flight jobs to finish
func (p *PoolBackend) Stop() {
	p.mu.Lock()
	for _, cancel := range p.cancels {
		cancel()
	}
	p.cancels = nil
	p.mu.Unlock()
	p.wg.Wait()
}

// ComposeBackend scales a docker compose worker service. It shells out
// to the compose CLI, so the server needs the compose file and a docker
// socket.
type ComposeBackend struct {
	composeFile string
	service     string
	log         *logging.Logger

	mu      sync.Mutex
	lastSet int
}

// NewComposeBackend creates a docker compose backend for the named
// service
func NewComposeBackend(composeFile, service string, log *logging.Logger) *ComposeBackend {
	return &ComposeBackend{
		composeFile: composeFile,
		service:     service,
		log:         log.WithField("component", "compose"),
		lastSet:     -1,
	}
}

// SetReplicas runs `docker compose up -d --scale <service>=n --no-recreate`
func (c *ComposeBackend) SetReplicas(ctx context.Context, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n == c.lastSet {
		return nil
	}

	args := []string{"compose"}
	if c.composeFile != "" {
		args = append(args, "-f", c.composeFile)
	}
	args = append(args, "up", "-d", "--no-recreate", "--scale", fmt.Sprintf("%s=%d", c.service, n))

	cmd := exec.CommandContext(ctx, "docker", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &models.ScalingBackendError{
			Op:  "set-replicas",
			Err: fmt.Errorf("docker compose scale failed: %v: %s", err, strings.TrimSpace(stderr.String())),
		}
	}

	c.lastSet = n
	c.log.Info("Compose service scaled", map[string]interface{}{"service": c.service, "replicas": n})
	return nil
}

// Replicas counts running containers of the service via
// `docker compose ps -q <service>`
func (c *ComposeBackend) Replicas(ctx context.Context) (int, error) {
	args := []string{"compose"}
	if c.composeFile != "" {
		args = append(args, "-f", c.composeFile)
	}
	args = append(args, "ps", "-q", c.service)

	out, err := exec.CommandContext(ctx, "docker", args...).Output()
	if err != nil {
		return 0, &models.ScalingBackendError{Op: "replicas", Err: err}
	}

	n := 0
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n, nil
}
