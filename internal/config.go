// config.go
package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigInvalid marks a malformed or out-of-range configuration value.
// Configuration errors are fatal at startup and never raised at runtime.
var ErrConfigInvalid = errors.New("invalid configuration")

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	TelemetryTopicPref string   `yaml:"telemetry_topic_prefix"`
	CommandTopicPref   string   `yaml:"command_topic_prefix"`
	EventTopic         string   `yaml:"event_topic"`
	TopicReplication   int      `yaml:"topic_replication"`
}

type ControlConfig struct {
	TickIntervalS   float64 `yaml:"tick_interval_s"`
	StalenessS      float64 `yaml:"staleness_s"`
	CommandTimeoutS float64 `yaml:"command_timeout_s"`
	RetryAttempts   int     `yaml:"retry_attempts"`
	RetryBackoffMs  int     `yaml:"retry_backoff_ms"`
}

type WindConfig struct {
	ThresholdMS    float64 `yaml:"threshold_ms"`
	AverageWindowS float64 `yaml:"average_window_s"`
	MinimumWindowS float64 `yaml:"minimum_window_s"`
}

// ScheduleConfig holds the four phase boundary times in observatory
// local time, "HH:MM". Each boundary starts its phase (closed-open
// intervals): night_end -> DAY, noon_start -> NOON, twilight_start ->
// TWILIGHT, night_start -> NIGHT.
type ScheduleConfig struct {
	Timezone      string `yaml:"timezone"`
	NightEnd      string `yaml:"night_end"`
	NoonStart     string `yaml:"noon_start"`
	TwilightStart string `yaml:"twilight_start"`
	NightStart    string `yaml:"night_start"`
}

type AHUConfig struct {
	// Per-phase working setpoint profile (keys: night, day, noon,
	// twilight). The noon profile is overridden by the recorded
	// twilight temperature when one is available.
	Profiles     map[string]float64 `yaml:"profiles"`
	SetpointMinC float64            `yaml:"setpoint_min_c"`
	SetpointMaxC float64            `yaml:"setpoint_max_c"`
}

type M1M3TSConfig struct {
	GlycolSetpointDelta float64 `yaml:"glycol_setpoint_delta"`
	HeaterSetpointDelta float64 `yaml:"heater_setpoint_delta"`
	TopEndSetpointDelta float64 `yaml:"top_end_setpoint_delta"`
	DeadbandHeatingC    float64 `yaml:"deadband_heating_c"`
	DeadbandCoolingC    float64 `yaml:"deadband_cooling_c"`
	MaxHeatingRateCHr   float64 `yaml:"max_heating_rate_c_per_hr"`
	MaxCoolingRateCHr   float64 `yaml:"max_cooling_rate_c_per_hr"`
	FanMinRPM           float64 `yaml:"fan_min_rpm"`
	FanMaxRPM           float64 `yaml:"fan_max_rpm"`
	FanFullSpeedDeltaC  float64 `yaml:"fan_full_speed_delta_c"`
	MaxFanDemandPct     float64 `yaml:"max_fan_demand_pct"`
	MaxHeaterPWMPct     float64 `yaml:"max_heater_pwm_pct"`
}

// PolicyParams is one entry of the per-subsystem policy table used by
// the deadband/rate-limit policy and the command emitter.
type PolicyParams struct {
	DeadbandC    float64 `yaml:"deadband_c"`
	MaxStepC     float64 `yaml:"max_step_c"`
	MaxRateCMin  float64 `yaml:"max_rate_c_per_min"`
	MinIntervalS float64 `yaml:"min_interval_s"`
	Priority     int     `yaml:"priority"`
}

type AppConfig struct {
	HTTPBind string `yaml:"http_bind"`

	Kafka    KafkaConfig    `yaml:"kafka"`
	Control  ControlConfig  `yaml:"control"`
	Wind     WindConfig     `yaml:"wind"`
	Schedule ScheduleConfig `yaml:"schedule"`
	AHU      AHUConfig      `yaml:"ahu"`
	M1M3TS   M1M3TSConfig   `yaml:"m1m3ts"`

	// Per-subsystem deadband/rate-limit policy table. The VEC-04 hold
	// time is its min_interval_s entry, bypassed on a dome open/close
	// transition.
	Subsystems map[string]PolicyParams `yaml:"subsystems"`

	// Feature names: vec04, ahu, room_setpoint, m1m3ts, glycol, top_end.
	FeaturesToDisable []string `yaml:"features_to_disable"`
}

// LoadConfig reads the YAML config file (path from CONFIG_PATH, default
// ./configs/eas.yaml), applies environment overrides and validates.
func LoadConfig() (*AppConfig, error) {
	path := getenv("CONFIG_PATH", "./configs/eas.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfigInvalid, path, err)
	}
	c := &AppConfig{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfigInvalid, path, err)
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *AppConfig) applyEnv() {
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = split(v, ",")
	}
	c.HTTPBind = getenv("HTTP_BIND", def(c.HTTPBind, ":8080"))
	c.Kafka.TelemetryTopicPref = def(c.Kafka.TelemetryTopicPref, "eas.telemetry.")
	c.Kafka.CommandTopicPref = def(c.Kafka.CommandTopicPref, "eas.command.")
	c.Kafka.EventTopic = def(c.Kafka.EventTopic, "eas.events")
	if c.Kafka.TopicReplication == 0 {
		c.Kafka.TopicReplication = geti("TOPIC_REPLICATION", 1)
	}
}

// Validate checks range constraints. Any violation is wrapped with
// ErrConfigInvalid and aborts startup.
func (c *AppConfig) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, fmt.Sprintf(format, args...))
	}
	if len(c.Kafka.Brokers) == 0 {
		return fail("kafka.brokers (or KAFKA_BROKERS) required")
	}
	if c.Control.TickIntervalS <= 0 {
		return fail("control.tick_interval_s must be > 0, got %v", c.Control.TickIntervalS)
	}
	if c.Control.StalenessS <= 0 {
		return fail("control.staleness_s must be > 0")
	}
	if c.Control.CommandTimeoutS <= 0 {
		return fail("control.command_timeout_s must be > 0")
	}
	if c.Control.RetryAttempts < 1 {
		return fail("control.retry_attempts must be >= 1")
	}
	if c.Wind.ThresholdMS <= 0 {
		return fail("wind.threshold_ms must be > 0")
	}
	if c.Wind.AverageWindowS <= 0 || c.Wind.MinimumWindowS <= 0 {
		return fail("wind windows must be > 0")
	}
	if c.Wind.MinimumWindowS > c.Wind.AverageWindowS {
		return fail("wind.minimum_window_s exceeds wind.average_window_s")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fail("schedule.timezone %q: %v", c.Schedule.Timezone, err)
	}
	for _, b := range []struct{ name, v string }{
		{"night_end", c.Schedule.NightEnd},
		{"noon_start", c.Schedule.NoonStart},
		{"twilight_start", c.Schedule.TwilightStart},
		{"night_start", c.Schedule.NightStart},
	} {
		if _, err := parseClock(b.v); err != nil {
			return fail("schedule.%s %q: %v", b.name, b.v, err)
		}
	}
	for _, ph := range []string{"night", "day", "noon", "twilight"} {
		sp, ok := c.AHU.Profiles[ph]
		if !ok {
			return fail("ahu.profiles missing phase %q", ph)
		}
		if sp < c.AHU.SetpointMinC || sp > c.AHU.SetpointMaxC {
			return fail("ahu.profiles.%s %.2f outside %.2f..%.2f", ph, sp, c.AHU.SetpointMinC, c.AHU.SetpointMaxC)
		}
	}
	m := c.M1M3TS
	if m.DeadbandHeatingC < 0 || m.DeadbandCoolingC < 0 {
		return fail("m1m3ts deadbands must be >= 0")
	}
	if m.MaxHeatingRateCHr <= 0 || m.MaxCoolingRateCHr <= 0 {
		return fail("m1m3ts rate limits must be > 0")
	}
	if m.FanMinRPM < 0 || m.FanMaxRPM <= m.FanMinRPM {
		return fail("m1m3ts fan RPM range invalid: %.0f..%.0f", m.FanMinRPM, m.FanMaxRPM)
	}
	if m.FanFullSpeedDeltaC <= 0 {
		return fail("m1m3ts.fan_full_speed_delta_c must be > 0")
	}
	if m.MaxFanDemandPct <= 0 || m.MaxFanDemandPct > 100 {
		return fail("m1m3ts.max_fan_demand_pct must be in 0..100")
	}
	if m.MaxHeaterPWMPct < 0 || m.MaxHeaterPWMPct > 100 {
		return fail("m1m3ts.max_heater_pwm_pct must be in 0..100")
	}
	for _, id := range AllSubsystems {
		p, ok := c.Subsystems[id]
		if !ok {
			return fail("subsystems missing entry for %q", id)
		}
		if p.DeadbandC < 0 || p.MaxStepC <= 0 || p.MaxRateCMin <= 0 {
			return fail("subsystems.%s: deadband >= 0, max_step and max_rate > 0 required", id)
		}
		if p.MinIntervalS < 0 {
			return fail("subsystems.%s: min_interval_s must be >= 0", id)
		}
	}
	for id := range c.Subsystems {
		if !knownSubsystem(id) {
			return fail("subsystems contains unknown id %q", id)
		}
	}
	return nil
}

// FeatureDisabled reports whether a feature name appears in the
// features_to_disable list. Unknown names are ignored, matching the
// permissive behavior of the config schema.
func (c *AppConfig) FeatureDisabled(name string) bool {
	for _, f := range c.FeaturesToDisable {
		if f == name {
			return true
		}
	}
	return false
}

func (c *AppConfig) TickInterval() time.Duration {
	return time.Duration(c.Control.TickIntervalS * float64(time.Second))
}

func (c *AppConfig) Staleness() time.Duration {
	return time.Duration(c.Control.StalenessS * float64(time.Second))
}

func knownSubsystem(id string) bool {
	for _, s := range AllSubsystems {
		if s == id {
			return true
		}
	}
	return false
}

// parseClock parses "HH:MM" into minutes past local midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("want HH:MM")
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour %q", hh)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute %q", mm)
	}
	return h*60 + m, nil
}

func def(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func geti(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return d
}

func split(s, sep string) []string {
	if s == "" {
		return nil
	}
	p := strings.Split(s, sep)
	out := make([]string, 0, len(p))
	for _, x := range p {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}
