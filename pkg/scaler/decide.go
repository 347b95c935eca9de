package scaler

import (
	"time"

	"github.com/doctriage/doctriage/pkg/models"
)

// Decide computes the next worker count from one load snapshot. Pure:
// no clocks, no IO. Returns (target, true) when the backend should be
// resized, (current, false) when nothing should change this tick.
//
// Hysteresis comes from two gates applied after clamping: changes
// smaller than the dead-band are dropped, and any change inside the
// cool-down window since lastChange is deferred.
func Decide(snap models.Snapshot, current int, lastChange time.Time, p Policy) (int, bool) {
	desired := desiredWorkers(snap, current, p)
	desired = p.Clamp(desired)

	delta := desired - current
	if delta < 0 {
		delta = -delta
	}
	if delta < p.DeadBand || delta == 0 {
		return current, false
	}
	if snap.Timestamp.Sub(lastChange) < p.CoolDown {
		return current, false
	}
	return desired, true
}

// desiredWorkers estimates the count needed to drain the backlog within
// the target drain time, falling back to watermark stepping before any
// throughput samples exist
func desiredWorkers(snap models.Snapshot, current int, p Policy) int {
	if snap.AvgProcessing <= 0 {
		switch {
		case snap.QueueDepth > p.HighWatermark:
			return current + 1
		case snap.QueueDepth < p.LowWatermark:
			return current - 1
		default:
			return current
		}
	}

	// ceil(depth * avgProcessing / targetDrain)
	work := snap.AvgProcessing.Nanoseconds() * int64(snap.QueueDepth)
	drain := p.TargetDrainTime.Nanoseconds()
	return int((work + drain - 1) / drain)
}
