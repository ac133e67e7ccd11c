// policy.go
package internal

import (
	"math"
	"time"
)

// PolicyResult distinguishes the three outcomes of the deadband/rate
// policy. Hold (no valid target) is reported separately from NoChange
// (target within deadband) for observability.
type PolicyResult int

const (
	PolicyHold PolicyResult = iota
	PolicyNoChange
	PolicyApply
)

func (r PolicyResult) String() string {
	switch r {
	case PolicyHold:
		return "hold"
	case PolicyNoChange:
		return "no-change"
	case PolicyApply:
		return "apply"
	default:
		return "unknown"
	}
}

// ApplyPolicy decides whether a subsystem command should be issued and
// what value it should carry. One algorithm serves every subsystem;
// per-subsystem behavior comes from the policy table entry.
//
//  1. No valid target this tick: hold.
//  2. |desired-current| < deadband: no change (suppresses chatter).
//  3. Clamp the step to max_step_c per tick, then to
//     max_rate_c_per_min x elapsed time since the last accepted
//     command. The rate clamp is independent of tick cadence, so a gap
//     in ticks cannot produce a burst.
//  4. The new value always moves strictly toward desired and never
//     overshoots it.
//
// A subsystem with no prior commanded value applies the target
// directly (conservative restart: there is nothing to rate-limit
// against). min_interval_s additionally suppresses changes issued too
// soon after the previous one unless force is set.
func ApplyPolicy(prior Commanded, desired float64, hold bool, force bool, p PolicyParams, now time.Time) (float64, PolicyResult) {
	if hold || math.IsNaN(desired) {
		return 0, PolicyHold
	}
	if !prior.OK {
		return desired, PolicyApply
	}

	delta := desired - prior.Value
	if math.Abs(delta) < p.DeadbandC {
		return 0, PolicyNoChange
	}

	elapsed := now.Sub(prior.At)
	if !force && p.MinIntervalS > 0 && elapsed < time.Duration(p.MinIntervalS*float64(time.Second)) {
		return 0, PolicyNoChange
	}

	step := math.Min(math.Abs(delta), p.MaxStepC)
	if elapsed > 0 {
		rateCap := p.MaxRateCMin * elapsed.Minutes()
		step = math.Min(step, rateCap)
	}
	if step <= 0 {
		return 0, PolicyNoChange
	}

	next := prior.Value + math.Copysign(step, delta)
	return next, PolicyApply
}
