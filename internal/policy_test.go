// policy_test.go
package internal

import (
	"math"
	"testing"
	"time"
)

func testPolicyParams() PolicyParams {
	return PolicyParams{DeadbandC: 0.5, MaxStepC: 2.0, MaxRateCMin: 1.0}
}

func TestPolicyWithinDeadbandIsNoChange(t *testing.T) {
	now := time.Now()
	prior := Commanded{Value: 20.0, At: now.Add(-time.Minute), OK: true}
	for _, desired := range []float64{20.0, 20.49, 19.51} {
		if _, res := ApplyPolicy(prior, desired, false, false, testPolicyParams(), now); res != PolicyNoChange {
			t.Fatalf("desired %.2f within deadband: got %s", desired, res)
		}
	}
}

func TestPolicyHoldIsDistinctFromNoChange(t *testing.T) {
	now := time.Now()
	prior := Commanded{Value: 20.0, At: now.Add(-time.Minute), OK: true}
	if _, res := ApplyPolicy(prior, 0, true, false, testPolicyParams(), now); res != PolicyHold {
		t.Fatalf("hold decision: got %s", res)
	}
	if _, res := ApplyPolicy(prior, math.NaN(), false, false, testPolicyParams(), now); res != PolicyHold {
		t.Fatalf("NaN target: got %s", res)
	}
}

func TestPolicyNoPriorAppliesTargetDirectly(t *testing.T) {
	now := time.Now()
	v, res := ApplyPolicy(Commanded{}, 17.5, false, false, testPolicyParams(), now)
	if res != PolicyApply || v != 17.5 {
		t.Fatalf("no prior: got %s %.2f, want apply 17.50", res, v)
	}
}

func TestPolicyClampsToMaxStep(t *testing.T) {
	now := time.Now()
	prior := Commanded{Value: 10.0, At: now.Add(-time.Hour), OK: true}
	v, res := ApplyPolicy(prior, 20.0, false, false, testPolicyParams(), now)
	if res != PolicyApply {
		t.Fatalf("expected apply, got %s", res)
	}
	if v != 12.0 {
		t.Fatalf("max-step clamp: got %.2f want 12.00", v)
	}
}

func TestPolicyClampsToRateTimesElapsed(t *testing.T) {
	now := time.Now()
	// 30 seconds elapsed at 1 C/min allows only 0.5 C despite a 2 C step cap.
	prior := Commanded{Value: 10.0, At: now.Add(-30 * time.Second), OK: true}
	v, res := ApplyPolicy(prior, 20.0, false, false, testPolicyParams(), now)
	if res != PolicyApply {
		t.Fatalf("expected apply, got %s", res)
	}
	if math.Abs(v-10.5) > 1e-9 {
		t.Fatalf("rate clamp: got %.4f want 10.5", v)
	}
}

func TestPolicyNeverOvershootsOrReverses(t *testing.T) {
	now := time.Now()
	cases := []struct {
		current, desired float64
	}{
		{10, 11}, {10, 30}, {10, 10.6}, {20, 10}, {20, 19.4}, {-5, 5}, {5, -5},
	}
	for _, c := range cases {
		prior := Commanded{Value: c.current, At: now.Add(-time.Hour), OK: true}
		v, res := ApplyPolicy(prior, c.desired, false, false, testPolicyParams(), now)
		if res != PolicyApply {
			continue
		}
		lo, hi := math.Min(c.current, c.desired), math.Max(c.current, c.desired)
		if v < lo || v > hi {
			t.Fatalf("overshoot: current %.1f desired %.1f got %.2f", c.current, c.desired, v)
		}
		if (c.desired > c.current && v <= c.current) || (c.desired < c.current && v >= c.current) {
			t.Fatalf("reversed direction: current %.1f desired %.1f got %.2f", c.current, c.desired, v)
		}
	}
}

func TestPolicyMinIntervalSuppressesChange(t *testing.T) {
	now := time.Now()
	p := testPolicyParams()
	p.MinIntervalS = 300
	prior := Commanded{Value: 0.0, At: now.Add(-time.Minute), OK: true}

	if _, res := ApplyPolicy(prior, 1.0, false, false, p, now); res != PolicyNoChange {
		t.Fatalf("within hold time: got %s", res)
	}
	// Force bypasses the hold (dome open/close transition).
	if _, res := ApplyPolicy(prior, 1.0, false, true, p, now); res != PolicyApply {
		t.Fatalf("forced change: got %s", res)
	}
	// After the hold time the change goes through.
	old := Commanded{Value: 0.0, At: now.Add(-10 * time.Minute), OK: true}
	if _, res := ApplyPolicy(old, 1.0, false, false, p, now); res != PolicyApply {
		t.Fatalf("after hold time: got %s", res)
	}
}
