package scaler

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds the hysteresis parameters of the autoscaler. All
// decisions are clamped to [MinWorkers, MaxWorkers].
type Policy struct {
	MinWorkers int `yaml:"min_workers" json:"min_workers"`
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`

	// TargetDrainTime is how quickly the current backlog should drain at
	// the desired worker count. Desired = ceil(depth * avgProcessing /
	// TargetDrainTime).
	TargetDrainTime time.Duration `yaml:"target_drain_time" json:"target_drain_time"`

	// DeadBand suppresses changes smaller than this many workers in
	// either direction.
	DeadBand int `yaml:"dead_band" json:"dead_band"`

	// CoolDown is the minimum interval between two scaling actions.
	CoolDown time.Duration `yaml:"cool_down" json:"cool_down"`

	// Watermark fallback used while no throughput samples exist yet:
	// depth above HighWatermark steps up by one, below LowWatermark steps
	// down by one.
	HighWatermark int `yaml:"high_watermark" json:"high_watermark"`
	LowWatermark  int `yaml:"low_watermark" json:"low_watermark"`
}

// DefaultPolicy returns the policy used when no file overrides it
func DefaultPolicy() Policy {
	return Policy{
		MinWorkers:      1,
		MaxWorkers:      10,
		TargetDrainTime: 2 * time.Minute,
		DeadBand:        1,
		CoolDown:        time.Minute,
		HighWatermark:   20,
		LowWatermark:    2,
	}
}

// LoadPolicy reads a policy from a YAML file, filling unset fields from
// the defaults
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read scaling policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse scaling policy: %w", err)
	}
	return p, p.Validate()
}

// Validate rejects inconsistent policies
func (p Policy) Validate() error {
	if p.MinWorkers < 0 {
		return fmt.Errorf("min_workers must be >= 0, got %d", p.MinWorkers)
	}
	if p.MaxWorkers < p.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be >= min_workers (%d)", p.MaxWorkers, p.MinWorkers)
	}
	if p.TargetDrainTime <= 0 {
		return fmt.Errorf("target_drain_time must be positive, got %v", p.TargetDrainTime)
	}
	if p.DeadBand < 0 {
		return fmt.Errorf("dead_band must be >= 0, got %d", p.DeadBand)
	}
	if p.LowWatermark > p.HighWatermark {
		return fmt.Errorf("low_watermark (%d) must be <= high_watermark (%d)", p.LowWatermark, p.HighWatermark)
	}
	return nil
}

// Clamp bounds a worker count to the policy's [min, max]
func (p Policy) Clamp(n int) int {
	if n < p.MinWorkers {
		return p.MinWorkers
	}
	if n > p.MaxWorkers {
		return p.MaxWorkers
	}
	return n
}
