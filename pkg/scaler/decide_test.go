package scaler

import (
	"testing"
	"time"

	"github.com/doctriage/doctriage/pkg/models"
)

func testPolicy() Policy {
	return Policy{
		MinWorkers:      1,
		MaxWorkers:      10,
		TargetDrainTime: time.Minute,
		DeadBand:        1,
		CoolDown:        time.Minute,
		HighWatermark:   20,
		LowWatermark:    2,
	}
}

func snap(depth int, avg time.Duration, at time.Time) models.Snapshot {
	return models.Snapshot{QueueDepth: depth, AvgProcessing: avg, Timestamp: at}
}

func TestDecideScalesUpUnderBacklog(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	longAgo := now.Add(-time.Hour)

	// 120 jobs at 2s each = 240s of work; draining in 60s needs 4 workers.
	target, act := Decide(snap(120, 2*time.Second, now), 1, longAgo, p)
	if !act {
		t.Fatal("Expected a scaling action")
	}
	if target != 4 {
		t.Errorf("Expected target 4, got %d", target)
	}
}

func TestDecideOneActionPerCoolDown(t *testing.T) {
	p := testPolicy()
	base := time.Now()
	lastChange := base

	// Sustained high depth: ticks inside the cool-down do nothing.
	for _, offset := range []time.Duration{10 * time.Second, 30 * time.Second, 59 * time.Second} {
		if _, act := Decide(snap(500, 2*time.Second, base.Add(offset)), 4, lastChange, p); act {
			t.Errorf("Tick at +%s should be suppressed by cool-down", offset)
		}
	}

	// First tick past the cool-down acts.
	target, act := Decide(snap(500, 2*time.Second, base.Add(61*time.Second)), 4, lastChange, p)
	if !act {
		t.Fatal("Tick past cool-down should act")
	}
	if target != p.MaxWorkers {
		t.Errorf("500 jobs should clamp to max %d, got %d", p.MaxWorkers, target)
	}
}

func TestDecideDeadBandSuppressesSmallChanges(t *testing.T) {
	p := testPolicy()
	p.DeadBand = 2
	now := time.Now()
	longAgo := now.Add(-time.Hour)

	// Desired 4 vs current 3: inside the dead-band.
	if _, act := Decide(snap(120, 2*time.Second, now), 3, longAgo, p); act {
		t.Error("Change of 1 should be inside the dead-band")
	}
	// Desired 4 vs current 2: outside.
	target, act := Decide(snap(120, 2*time.Second, now), 2, longAgo, p)
	if !act || target != 4 {
		t.Errorf("Change of 2 should act, got (%d, %v)", target, act)
	}
}

func TestDecideClampsToBounds(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	longAgo := now.Add(-time.Hour)

	target, act := Decide(snap(100000, 10*time.Second, now), 5, longAgo, p)
	if !act || target != p.MaxWorkers {
		t.Errorf("Expected clamp to %d, got (%d, %v)", p.MaxWorkers, target, act)
	}

	target, act = Decide(snap(0, 2*time.Second, now), 5, longAgo, p)
	if !act || target != p.MinWorkers {
		t.Errorf("Empty queue should settle at min %d, got (%d, %v)", p.MinWorkers, target, act)
	}
}

func TestDecideWatermarkFallback(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	longAgo := now.Add(-time.Hour)

	// No throughput samples yet: step by one on the watermarks.
	target, act := Decide(snap(50, 0, now), 3, longAgo, p)
	if !act || target != 4 {
		t.Errorf("Above high watermark should step up to 4, got (%d, %v)", target, act)
	}

	target, act = Decide(snap(0, 0, now), 3, longAgo, p)
	if !act || target != 2 {
		t.Errorf("Below low watermark should step down to 2, got (%d, %v)", target, act)
	}

	if _, act := Decide(snap(10, 0, now), 3, longAgo, p); act {
		t.Error("Depth between watermarks should not act")
	}
}

func TestDecideIdleStaysPut(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	longAgo := now.Add(-time.Hour)

	if _, act := Decide(snap(0, 2*time.Second, now), p.MinWorkers, longAgo, p); act {
		t.Error("Idle pipeline at min workers should not act")
	}
}

func TestPolicyValidate(t *testing.T) {
	p := testPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("Valid policy rejected: %v", err)
	}

	bad := testPolicy()
	bad.MaxWorkers = 0
	if err := bad.Validate(); err == nil {
		t.Error("max < min should be rejected")
	}

	bad = testPolicy()
	bad.TargetDrainTime = 0
	if err := bad.Validate(); err == nil {
		t.Error("Zero drain time should be rejected")
	}

	bad = testPolicy()
	bad.LowWatermark = 30
	if err := bad.Validate(); err == nil {
		t.Error("low > high watermark should be rejected")
	}
}
