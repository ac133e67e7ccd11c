// models.go
package internal

import "time"

// Subsystem identifiers. Each controllable subsystem has an entry in the
// policy table (config "subsystems") and its own command topic.
const (
	SubsystemAHU    = "ahu"
	SubsystemVEC04  = "vec04"
	SubsystemM1M3TS = "m1m3ts"
	SubsystemFCUFan = "fcu_fan"
	SubsystemGlycol = "glycol"
	SubsystemTopEnd = "top_end"
)

// AllSubsystems lists every subsystem the engine can command.
var AllSubsystems = []string{
	SubsystemAHU,
	SubsystemVEC04,
	SubsystemM1M3TS,
	SubsystemFCUFan,
	SubsystemGlycol,
	SubsystemTopEnd,
}

// Phase is the scheduled operating regime, derived purely from
// time-of-day and the configured boundary times.
type Phase int

const (
	PhaseNight Phase = iota
	PhaseDay
	PhaseNoon
	PhaseTwilight
)

func (p Phase) String() string {
	switch p {
	case PhaseNight:
		return "NIGHT"
	case PhaseDay:
		return "DAY"
	case PhaseNoon:
		return "NOON"
	case PhaseTwilight:
		return "TWILIGHT"
	default:
		return "UNKNOWN"
	}
}

// Sample is a telemetry value with its source timestamp. OK is false when
// the value is absent: never reported, or older than the staleness
// threshold at snapshot time. Absent is explicit so a missing sensor is
// never mistaken for a zero reading.
type Sample struct {
	Value float64
	At    time.Time
	OK    bool
}

// BoolSample is a boolean telemetry value with the same absent semantics
// as Sample.
type BoolSample struct {
	Value bool
	At    time.Time
	OK    bool
}

// Snapshot is the consistent per-tick view of all telemetry. It is built
// once at tick start and never mutated afterwards.
type Snapshot struct {
	Timestamp time.Time

	DomeOpen    BoolSample
	LouversOpen BoolSample
	AHURunning  BoolSample

	// WindSpeed is the averaged wind speed over the configured window,
	// absent until the minimum collection window has elapsed.
	WindSpeed   Sample
	OutsideTemp Sample
	InsideTemp  Sample
	MirrorTemp  Sample

	// TwilightTemp is the outside temperature recorded at the most
	// recent transition into TWILIGHT. Used to seed the noon setpoint.
	TwilightTemp Sample
}

// GateFlags carries the per-tick enable/disable decisions derived from
// dome, louver and wind state. Owned by the dome/wind gate.
type GateFlags struct {
	VentilationEnabled bool
	GlycolEnabled      bool
	// DomeTransition is true on the tick where the dome changed between
	// open and closed. It bypasses the VEC-04 hold time.
	DomeTransition bool
	Reason         string
}

// Decision is one subsystem's desired target for the current tick, as
// produced by the schedule/gate/controller stages. Hold means no valid
// target exists this tick (feature disabled, gate veto, or missing
// telemetry) and is distinct from "within deadband".
type Decision struct {
	Subsystem string
	Target    float64
	Hold      bool
	Force     bool // bypass the minimum command interval
	Aux       map[string]float64
	Reason    string
	Phase     Phase
}

// Command is the wire format published to a subsystem command topic.
type Command struct {
	Subsystem string             `json:"subsystem"`
	Value     float64            `json:"value"`
	Aux       map[string]float64 `json:"aux,omitempty"`
	Reason    string             `json:"reason"`
	Phase     string             `json:"phase"`
	IssuedAt  int64              `json:"issuedAt"`
}

// FaultEvent is published when a subsystem exhausts its command retries.
type FaultEvent struct {
	Subsystem string `json:"subsystem"`
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
	Timestamp int64  `json:"timestamp"`
}

// Commanded is the last value actually accepted by a subsystem. OK is
// false until the first successful command after startup.
type Commanded struct {
	Value float64
	At    time.Time
	OK    bool
}

// Stats counts engine activity for the /status endpoint.
type Stats struct {
	Ticks       int64              `json:"ticks"`
	CommandsOut int64              `json:"commandsOut"`
	Holds       int64              `json:"holds"`
	NoChanges   int64              `json:"noChanges"`
	Faults      int64              `json:"faults"`
	Phase       string             `json:"phase"`
	Commanded   map[string]float64 `json:"commanded"`
}
