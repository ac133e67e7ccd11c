// emitter_test.go
package internal

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeSender records commands and fails on demand per subsystem.
type fakeSender struct {
	sent   []Command
	faults []FaultEvent
	fail   map[string]bool
	calls  map[string]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{fail: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeSender) Send(_ context.Context, cmd Command) error {
	f.calls[cmd.Subsystem]++
	if f.fail[cmd.Subsystem] {
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSender) PublishFault(_ context.Context, ev FaultEvent) error {
	f.faults = append(f.faults, ev)
	return nil
}

func TestEmitterOrdersByPriority(t *testing.T) {
	sender := newFakeSender()
	e := NewEmitter(testAppConfig(), quietLogger(), sender)

	// Deliberately out of priority order.
	decisions := []Decision{
		{Subsystem: SubsystemAHU, Target: 14},
		{Subsystem: SubsystemVEC04, Target: 1},
		{Subsystem: SubsystemM1M3TS, Target: 12},
	}
	e.Emit(context.Background(), decisions, time.Now())

	want := []string{SubsystemVEC04, SubsystemM1M3TS, SubsystemAHU}
	if len(sender.sent) != len(want) {
		t.Fatalf("sent %d commands, want %d", len(sender.sent), len(want))
	}
	for i, id := range want {
		if sender.sent[i].Subsystem != id {
			t.Fatalf("position %d: got %s want %s", i, sender.sent[i].Subsystem, id)
		}
	}
}

func TestEmitterOwnsCommandedState(t *testing.T) {
	sender := newFakeSender()
	e := NewEmitter(testAppConfig(), quietLogger(), sender)
	now := time.Now()

	e.Emit(context.Background(), []Decision{{Subsystem: SubsystemAHU, Target: 14}}, now)
	got := e.Commanded(SubsystemAHU)
	if !got.OK || got.Value != 14 {
		t.Fatalf("commanded state after accept: %+v", got)
	}

	// Within deadband: no command, state untouched.
	e.Emit(context.Background(), []Decision{{Subsystem: SubsystemAHU, Target: 14.2}}, now.Add(time.Hour))
	if len(sender.sent) != 1 {
		t.Fatalf("deadband change still sent: %d commands", len(sender.sent))
	}
	if got := e.Commanded(SubsystemAHU); got.Value != 14 {
		t.Fatalf("commanded state moved without an accepted command: %+v", got)
	}
}

func TestEmitterFailedSendLeavesStateForRetry(t *testing.T) {
	sender := newFakeSender()
	cfg := testAppConfig()
	e := NewEmitter(cfg, quietLogger(), sender)
	now := time.Now()

	sender.fail[SubsystemAHU] = true
	res := e.Emit(context.Background(), []Decision{{Subsystem: SubsystemAHU, Target: 14}}, now)
	if got := e.Commanded(SubsystemAHU); got.OK {
		t.Fatalf("commanded state set despite rejected send: %+v", got)
	}
	if sender.calls[SubsystemAHU] != cfg.Control.RetryAttempts {
		t.Fatalf("attempts: got %d want %d", sender.calls[SubsystemAHU], cfg.Control.RetryAttempts)
	}
	if len(res.Faulted) != 1 || res.Faulted[0] != SubsystemAHU {
		t.Fatalf("faulted list: %v", res.Faulted)
	}
	if len(sender.faults) != 1 || sender.faults[0].Subsystem != SubsystemAHU {
		t.Fatalf("fault events: %+v", sender.faults)
	}

	// Transport recovers: the next tick recomputes the same delta and the
	// command goes through.
	sender.fail[SubsystemAHU] = false
	e.Emit(context.Background(), []Decision{{Subsystem: SubsystemAHU, Target: 14}}, now.Add(time.Minute))
	if got := e.Commanded(SubsystemAHU); !got.OK || got.Value != 14 {
		t.Fatalf("commanded state after recovery: %+v", got)
	}
	if e.Faulted(SubsystemAHU) {
		t.Fatal("fault flag not cleared on recovery")
	}
}

func TestEmitterFaultIsolation(t *testing.T) {
	sender := newFakeSender()
	e := NewEmitter(testAppConfig(), quietLogger(), sender)
	now := time.Now()

	sender.fail[SubsystemVEC04] = true // highest priority fails first
	res := e.Emit(context.Background(), []Decision{
		{Subsystem: SubsystemVEC04, Target: 1},
		{Subsystem: SubsystemM1M3TS, Target: 12},
		{Subsystem: SubsystemAHU, Target: 14},
	}, now)

	if len(res.Sent) != 2 {
		t.Fatalf("healthy subsystems blocked by a faulted one: sent %d", len(res.Sent))
	}
	for _, cmd := range res.Sent {
		if cmd.Subsystem == SubsystemVEC04 {
			t.Fatal("failed subsystem appears in sent list")
		}
	}
	if !e.Faulted(SubsystemVEC04) {
		t.Fatal("fault flag missing")
	}
}

func TestEmitterFaultEventPublishedOnce(t *testing.T) {
	sender := newFakeSender()
	e := NewEmitter(testAppConfig(), quietLogger(), sender)
	now := time.Now()

	sender.fail[SubsystemAHU] = true
	for i := 0; i < 3; i++ {
		e.Emit(context.Background(), []Decision{{Subsystem: SubsystemAHU, Target: 14}}, now.Add(time.Duration(i)*time.Minute))
	}
	if len(sender.faults) != 1 {
		t.Fatalf("fault event republished while already faulted: %d events", len(sender.faults))
	}
}

func TestEmitterCountsHoldsAndNoChanges(t *testing.T) {
	sender := newFakeSender()
	e := NewEmitter(testAppConfig(), quietLogger(), sender)
	now := time.Now()

	e.Emit(context.Background(), []Decision{{Subsystem: SubsystemAHU, Target: 14}}, now)
	res := e.Emit(context.Background(), []Decision{
		{Subsystem: SubsystemAHU, Target: 14.1},               // within deadband
		{Subsystem: SubsystemM1M3TS, Hold: true, Reason: "x"}, // explicit hold
	}, now.Add(time.Hour))

	if res.Holds != 1 || res.NoChanges != 1 {
		t.Fatalf("holds=%d noChanges=%d, want 1/1", res.Holds, res.NoChanges)
	}
	if len(res.Sent) != 0 {
		t.Fatalf("unexpected commands: %+v", res.Sent)
	}
}
