// engine.go
package internal

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Broadcaster receives the per-tick decision summary (ws feed).
type Broadcaster interface {
	Broadcast(v any)
}

// TickSummary is the per-tick record pushed to /ws and kept for /status.
type TickSummary struct {
	Timestamp time.Time  `json:"timestamp"`
	Phase     string     `json:"phase"`
	M1M3State string     `json:"m1m3State"`
	Gate      GateFlags  `json:"gate"`
	Result    TickResult `json:"result"`
}

// Engine runs the control loop: one tick to completion per interval,
// snapshot -> phase + gates -> decisions -> emit.
type Engine struct {
	cfg   *AppConfig
	lg    *slog.Logger
	cache *TelemetryCache
	sched *Schedule
	gate  *Gate
	m1m3  *M1M3Controller
	emit  *Emitter
	sp    *PhaseSetpoints
	bc    Broadcaster

	mu        sync.Mutex
	stats     Stats
	m1m3State string
	prevPhase Phase
	hasPhase  bool
}

func NewEngine(cfg *AppConfig, lg *slog.Logger, cache *TelemetryCache, sched *Schedule, sp *PhaseSetpoints, emit *Emitter, bc Broadcaster) *Engine {
	return &Engine{
		cfg:       cfg,
		lg:        lg,
		cache:     cache,
		sched:     sched,
		gate:      NewGate(cfg, lg),
		m1m3:      NewM1M3Controller(cfg, lg),
		emit:      emit,
		sp:        sp,
		bc:        bc,
		m1m3State: StateHolding.String(),
	}
}

// Run executes ticks at the configured interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	interval := e.cfg.TickInterval()
	e.lg.Info("engine start", "interval", interval.String(), "subsystems", AllSubsystems)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			e.lg.Info("engine stop")
			return
		case now := <-t.C:
			e.Tick(ctx, now)
		}
	}
}

// Tick runs one complete control cycle.
func (e *Engine) Tick(ctx context.Context, now time.Time) TickSummary {
	snap := e.cache.Snapshot(now, e.cfg.Staleness())
	phase := e.sched.PhaseAt(now)
	e.trackPhase(phase, now)
	flags := e.gate.Evaluate(snap)

	decisions := make([]Decision, 0, len(AllSubsystems))
	decisions = append(decisions, e.vec04Decision(flags, phase))
	decisions = append(decisions, e.ahuDecision(snap, flags, phase))

	m1m3Out := e.m1m3.Step(snap, flags, e.emit.Commanded(SubsystemM1M3TS), e.cfg.TickInterval())
	for _, d := range []Decision{m1m3Out.Setpoint, m1m3Out.FanDemand, m1m3Out.Glycol, m1m3Out.TopEnd} {
		d.Phase = phase
		decisions = append(decisions, d)
	}

	res := e.emit.Emit(ctx, decisions, now)

	// The controller state is written only on this goroutine; publish a
	// copy under the stats mutex for the HTTP surface.
	stateName := e.m1m3.State().String()
	e.mu.Lock()
	e.stats.Ticks++
	e.stats.CommandsOut += int64(len(res.Sent))
	e.stats.Holds += int64(res.Holds)
	e.stats.NoChanges += int64(res.NoChanges)
	e.stats.Faults += int64(len(res.Faulted))
	e.stats.Phase = phase.String()
	e.stats.Commanded = e.emit.CommandedAll()
	e.m1m3State = stateName
	e.mu.Unlock()

	sum := TickSummary{
		Timestamp: now,
		Phase:     phase.String(),
		M1M3State: stateName,
		Gate:      flags,
		Result:    res,
	}
	if e.bc != nil {
		e.bc.Broadcast(sum)
	}
	return sum
}

// trackPhase records phase transitions. Entering TWILIGHT captures the
// outside temperature used to seed the next noon setpoint.
func (e *Engine) trackPhase(phase Phase, now time.Time) {
	if e.hasPhase && phase == e.prevPhase {
		return
	}
	if e.hasPhase {
		e.lg.Info("phase transition", "from", e.prevPhase.String(), "to", phase.String())
		if phase == PhaseTwilight {
			if e.cache.RecordTwilightTemp(now, e.cfg.Staleness()) {
				e.lg.Info("twilight temperature recorded")
			} else {
				e.lg.Warn("twilight temperature unavailable at transition")
			}
		}
	}
	e.prevPhase = phase
	e.hasPhase = true
}

// vec04Decision drives the extraction fan from the ventilation gate.
// The minimum hold interval comes from the policy table; a dome
// open/close transition bypasses it.
func (e *Engine) vec04Decision(flags GateFlags, phase Phase) Decision {
	if e.cfg.FeatureDisabled("vec04") {
		return Decision{Subsystem: SubsystemVEC04, Hold: true, Reason: "vec04 feature disabled", Phase: phase}
	}
	value := 0.0
	reason := "ventilation disabled: " + flags.Reason
	if flags.VentilationEnabled {
		value = 1.0
		reason = "dome open, wind below ceiling"
	}
	return Decision{
		Subsystem: SubsystemVEC04,
		Target:    value,
		Force:     flags.DomeTransition,
		Reason:    reason,
		Phase:     phase,
	}
}

// ahuDecision selects the AHU working setpoint for the current phase.
// At NOON the recorded twilight temperature overrides the static
// profile so the enclosure is conditioned toward last night's ambient.
func (e *Engine) ahuDecision(snap Snapshot, flags GateFlags, phase Phase) Decision {
	if e.cfg.FeatureDisabled("ahu") {
		return Decision{Subsystem: SubsystemAHU, Hold: true, Reason: "ahu feature disabled", Phase: phase}
	}
	if !flags.VentilationEnabled {
		return Decision{Subsystem: SubsystemAHU, Hold: true, Reason: "gate veto: " + flags.Reason, Phase: phase}
	}

	target, ok := e.sp.Get(ProfileKey(phase))
	if !ok {
		return Decision{Subsystem: SubsystemAHU, Hold: true, Reason: "no profile for phase", Phase: phase}
	}
	reason := "phase profile " + ProfileKey(phase)
	if phase == PhaseNoon && snap.TwilightTemp.OK && !e.cfg.FeatureDisabled("room_setpoint") {
		target = clamp(snap.TwilightTemp.Value, e.cfg.AHU.SetpointMinC, e.cfg.AHU.SetpointMaxC)
		reason = "noon setpoint from twilight temperature"
	}
	return Decision{Subsystem: SubsystemAHU, Target: target, Reason: reason, Phase: phase}
}

// Stats returns a copy of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	return s
}

// M1M3StateName exposes the controller state for /status. It returns
// the copy published at the end of the last tick rather than touching
// the controller, which belongs to the engine goroutine.
func (e *Engine) M1M3StateName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m1m3State
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
