// gate.go
package internal

import "log/slog"

// Gate derives the ventilation and glycol enable flags from dome,
// louver and wind state. It can veto schedule-driven targets: a veto is
// a deliberate safety suppression, logged at Info, not an error.
//
// Fail-safe rule: any absent field required for a decision forces the
// corresponding flag to disabled.
type Gate struct {
	cfg *AppConfig
	lg  *slog.Logger

	// last known dome aperture state, for hold-time bypass
	prevOpen    bool
	prevOpenSet bool
}

func NewGate(cfg *AppConfig, lg *slog.Logger) *Gate {
	return &Gate{cfg: cfg, lg: lg}
}

// Evaluate computes GateFlags for one snapshot.
func (g *Gate) Evaluate(snap Snapshot) GateFlags {
	flags := GateFlags{}

	apertureKnown := snap.DomeOpen.OK || snap.LouversOpen.OK
	apertureOpen := (snap.DomeOpen.OK && snap.DomeOpen.Value) ||
		(snap.LouversOpen.OK && snap.LouversOpen.Value)

	switch {
	case !apertureKnown:
		flags.Reason = "dome state unknown"
	case !apertureOpen:
		flags.Reason = "dome closed"
	case !snap.WindSpeed.OK:
		flags.Reason = "wind speed unknown"
	case snap.WindSpeed.Value >= g.cfg.Wind.ThresholdMS:
		flags.Reason = "wind above ceiling"
	default:
		flags.VentilationEnabled = true
	}

	flags.GlycolEnabled = flags.VentilationEnabled && !g.cfg.FeatureDisabled("glycol")

	if snap.DomeOpen.OK {
		if g.prevOpenSet && g.prevOpen != snap.DomeOpen.Value {
			flags.DomeTransition = true
		}
		g.prevOpen = snap.DomeOpen.Value
		g.prevOpenSet = true
	}

	if !flags.VentilationEnabled {
		g.lg.Info("gate veto", "reason", flags.Reason,
			"dome_ok", snap.DomeOpen.OK, "wind_ok", snap.WindSpeed.OK,
			"wind", snap.WindSpeed.Value)
	}
	return flags
}
