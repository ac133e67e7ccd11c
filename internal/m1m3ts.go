// m1m3ts.go
package internal

import (
	"log/slog"
	"math"
	"time"
)

// M1M3State is the mirror thermal controller state.
type M1M3State int

const (
	// StateHolding freezes the setpoint at the last commanded value
	// (dome closed or ventilation disabled).
	StateHolding M1M3State = iota
	// StateTrackingAmbient follows the reference air temperature,
	// rate-limited.
	StateTrackingAmbient
	// StateWarming steps the setpoint upward at the heating rate until
	// the target is reached.
	StateWarming
	// StateCooling steps the setpoint downward at the cooling rate
	// until the target is reached.
	StateCooling
)

func (s M1M3State) String() string {
	switch s {
	case StateHolding:
		return "HOLDING"
	case StateTrackingAmbient:
		return "TRACKING_AMBIENT"
	case StateWarming:
		return "WARMING"
	case StateCooling:
		return "COOLING"
	default:
		return "UNKNOWN"
	}
}

// M1M3Output is the controller's per-tick result: the mirror setpoint
// decision plus fan and heater demand.
type M1M3Output struct {
	State     M1M3State
	Setpoint  Decision // subsystem m1m3ts
	FanDemand Decision // subsystem fcu_fan, RPM
	Glycol    Decision // subsystem glycol, absolute setpoint
	TopEnd    Decision // subsystem top_end, absolute setpoint
}

// M1M3Controller computes the mirror thermal setpoint from the tracked
// reference temperature with asymmetric deadbands and rate limits.
// Warming is limited more tightly than cooling: heaters move the glass
// directly while cooling is largely passive, so an over-eager upward
// setpoint risks thermal gradients in the mirror.
type M1M3Controller struct {
	cfg *AppConfig
	lg  *slog.Logger

	state M1M3State
}

func NewM1M3Controller(cfg *AppConfig, lg *slog.Logger) *M1M3Controller {
	return &M1M3Controller{cfg: cfg, lg: lg, state: StateHolding}
}

// State returns the current controller state.
func (m *M1M3Controller) State() M1M3State { return m.state }

// Step runs one controller tick. prior is the last commanded mirror
// setpoint (owned by the emitter); tick is the configured control
// period used to convert the per-hour rate limits into per-tick steps.
func (m *M1M3Controller) Step(snap Snapshot, flags GateFlags, prior Commanded, tick time.Duration) M1M3Output {
	out := M1M3Output{}
	mc := m.cfg.M1M3TS

	disabled := m.cfg.FeatureDisabled("m1m3ts")
	ref := snap.InsideTemp

	switch {
	case disabled:
		m.state = StateHolding
		out.Setpoint = Decision{Subsystem: SubsystemM1M3TS, Hold: true, Reason: "m1m3ts feature disabled"}
	case !flags.VentilationEnabled:
		m.state = StateHolding
		out.Setpoint = Decision{Subsystem: SubsystemM1M3TS, Hold: true, Reason: "holding: " + flags.Reason}
	case !ref.OK:
		// Reference sensor stale: hold rather than track a guess.
		m.state = StateHolding
		out.Setpoint = Decision{Subsystem: SubsystemM1M3TS, Hold: true, Reason: "reference temperature unavailable"}
	default:
		out.Setpoint = m.track(ref.Value, prior, tick)
		if !out.Setpoint.Hold {
			// The mirror command carries the heater loop setpoint derived
			// from the same target.
			out.Setpoint.Aux = map[string]float64{
				"heatersSetpoint": out.Setpoint.Target + mc.HeaterSetpointDelta,
			}
		}
	}

	out.State = m.state
	setpoint, haveSetpoint := m.commandedOrPending(prior, out.Setpoint)

	// Fan and heater demand follow the gap between the glass and the
	// commanded setpoint regardless of tracking state; with no setpoint
	// or no glass temperature there is nothing to regulate against.
	if disabled || !haveSetpoint || !snap.MirrorTemp.OK {
		out.FanDemand = Decision{Subsystem: SubsystemFCUFan, Hold: true, Reason: "no mirror reference"}
	} else {
		rpm, pwm := m.demand(snap.MirrorTemp.Value, setpoint)
		out.FanDemand = Decision{
			Subsystem: SubsystemFCUFan,
			Target:    rpm,
			Aux:       map[string]float64{"heaterPWM": pwm},
			Reason:    "glass gap demand",
		}
	}

	if !haveSetpoint {
		out.Glycol = Decision{Subsystem: SubsystemGlycol, Hold: true, Reason: "no mirror setpoint"}
		out.TopEnd = Decision{Subsystem: SubsystemTopEnd, Hold: true, Reason: "no mirror setpoint"}
		return out
	}
	if flags.GlycolEnabled {
		out.Glycol = Decision{Subsystem: SubsystemGlycol, Target: setpoint + mc.GlycolSetpointDelta, Reason: "mirror setpoint + glycol delta"}
	} else {
		out.Glycol = Decision{Subsystem: SubsystemGlycol, Hold: true, Reason: "glycol disabled"}
	}
	if m.cfg.FeatureDisabled("top_end") {
		out.TopEnd = Decision{Subsystem: SubsystemTopEnd, Hold: true, Reason: "top_end feature disabled"}
	} else {
		out.TopEnd = Decision{Subsystem: SubsystemTopEnd, Target: setpoint + mc.TopEndSetpointDelta, Reason: "mirror setpoint + top end delta"}
	}
	return out
}

// track computes the rate-limited setpoint decision while following the
// reference temperature.
func (m *M1M3Controller) track(desired float64, prior Commanded, tick time.Duration) Decision {
	mc := m.cfg.M1M3TS

	if !prior.OK {
		// No previous setpoint: apply regardless, nothing to step from.
		m.state = StateTrackingAmbient
		return Decision{Subsystem: SubsystemM1M3TS, Target: desired, Reason: "initial setpoint"}
	}

	delta := desired - prior.Value
	hours := tick.Hours()
	heatStep := mc.MaxHeatingRateCHr * hours
	coolStep := mc.MaxCoolingRateCHr * hours

	switch {
	case delta > 0:
		if delta <= mc.DeadbandHeatingC {
			m.state = StateTrackingAmbient
			return Decision{Subsystem: SubsystemM1M3TS, Hold: true, Reason: "within heating deadband"}
		}
		if delta > heatStep {
			m.state = StateWarming
			return Decision{
				Subsystem: SubsystemM1M3TS,
				Target:    prior.Value + heatStep,
				Reason:    "warming at max heating rate",
			}
		}
		m.state = StateTrackingAmbient
		return Decision{Subsystem: SubsystemM1M3TS, Target: desired, Reason: "tracking ambient"}
	case delta < 0:
		if -delta <= mc.DeadbandCoolingC {
			m.state = StateTrackingAmbient
			return Decision{Subsystem: SubsystemM1M3TS, Hold: true, Reason: "within cooling deadband"}
		}
		if -delta > coolStep {
			m.state = StateCooling
			return Decision{
				Subsystem: SubsystemM1M3TS,
				Target:    prior.Value - coolStep,
				Reason:    "cooling at max cooling rate",
			}
		}
		m.state = StateTrackingAmbient
		return Decision{Subsystem: SubsystemM1M3TS, Target: desired, Reason: "tracking ambient"}
	default:
		m.state = StateTrackingAmbient
		return Decision{Subsystem: SubsystemM1M3TS, Hold: true, Reason: "at target"}
	}
}

// commandedOrPending resolves the setpoint the demand calculations
// should regulate against: the value about to be commanded this tick,
// else the last accepted one.
func (m *M1M3Controller) commandedOrPending(prior Commanded, d Decision) (float64, bool) {
	if !d.Hold {
		return d.Target, true
	}
	if prior.OK {
		return prior.Value, true
	}
	return 0, false
}

// demand maps the glass-vs-setpoint gap to fan RPM and heater PWM. Fan
// speed ramps linearly from the minimum RPM at zero gap to the maximum
// at fan_full_speed_delta_c, then saturates; the result is clamped to
// max_fan_demand_pct of the maximum. Heater PWM ramps the same way but
// only on the warming side (glass colder than setpoint).
func (m *M1M3Controller) demand(glassTemp, setpoint float64) (rpm, heaterPWM float64) {
	mc := m.cfg.M1M3TS
	gap := math.Abs(glassTemp - setpoint)

	frac := math.Min(gap/mc.FanFullSpeedDeltaC, 1.0)
	rpm = mc.FanMinRPM + frac*(mc.FanMaxRPM-mc.FanMinRPM)
	rpm = math.Min(rpm, mc.FanMaxRPM*mc.MaxFanDemandPct/100.0)

	if glassTemp < setpoint {
		heaterPWM = math.Min(frac*100.0, mc.MaxHeaterPWMPct)
	}
	return rpm, heaterPWM
}
