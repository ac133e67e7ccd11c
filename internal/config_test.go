// config_test.go
package internal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
http_bind: ":9090"
kafka:
  brokers: ["broker-a:9092", "broker-b:9092"]
control:
  tick_interval_s: 60
  staleness_s: 300
  command_timeout_s: 5
  retry_attempts: 3
  retry_backoff_ms: 500
wind:
  threshold_ms: 5.0
  average_window_s: 1800
  minimum_window_s: 600
schedule:
  timezone: America/Santiago
  night_end: "08:00"
  noon_start: "12:00"
  twilight_start: "18:00"
  night_start: "20:00"
ahu:
  profiles: {night: 12, day: 14, noon: 12, twilight: 12}
  setpoint_min_c: 0
  setpoint_max_c: 25
m1m3ts:
  glycol_setpoint_delta: -2
  heater_setpoint_delta: -1
  top_end_setpoint_delta: 0.5
  deadband_heating_c: 0.25
  deadband_cooling_c: 0.1
  max_heating_rate_c_per_hr: 1.0
  max_cooling_rate_c_per_hr: 6.0
  fan_min_rpm: 500
  fan_max_rpm: 2000
  fan_full_speed_delta_c: 1.0
  max_fan_demand_pct: 100
  max_heater_pwm_pct: 50
subsystems:
  vec04:   {deadband_c: 0.5, max_step_c: 1, max_rate_c_per_min: 60, min_interval_s: 300, priority: 10}
  m1m3ts:  {deadband_c: 0.05, max_step_c: 1, max_rate_c_per_min: 1, priority: 20}
  ahu:     {deadband_c: 0.5, max_step_c: 2, max_rate_c_per_min: 0.5, priority: 30}
  glycol:  {deadband_c: 0.1, max_step_c: 1, max_rate_c_per_min: 1, priority: 40}
  fcu_fan: {deadband_c: 25, max_step_c: 500, max_rate_c_per_min: 1000, priority: 50}
  top_end: {deadband_c: 0.25, max_step_c: 1, max_rate_c_per_min: 1, priority: 60}
features_to_disable: ["top_end"]
`

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eas.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
}

func TestLoadConfig(t *testing.T) {
	writeConfig(t, sampleYAML)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPBind != ":9090" {
		t.Fatalf("http bind %q", cfg.HTTPBind)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.TelemetryTopicPref != "eas.telemetry." {
		t.Fatalf("topic prefix default missing: %q", cfg.Kafka.TelemetryTopicPref)
	}
	if !cfg.FeatureDisabled("top_end") || cfg.FeatureDisabled("glycol") {
		t.Fatal("features_to_disable not honored")
	}
	if cfg.Subsystems[SubsystemVEC04].MinIntervalS != 300 {
		t.Fatalf("vec04 policy: %+v", cfg.Subsystems[SubsystemVEC04])
	}
}

func TestLoadConfigEnvOverridesBrokers(t *testing.T) {
	writeConfig(t, sampleYAML)
	t.Setenv("KAFKA_BROKERS", "override:9092, other:9092")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "override:9092" {
		t.Fatalf("brokers: %v", cfg.Kafka.Brokers)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := LoadConfig(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("want ErrConfigInvalid, got %v", err)
	}
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	writeConfig(t, "{not yaml::")
	if _, err := LoadConfig(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("want ErrConfigInvalid, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"no brokers", func(c *AppConfig) { c.Kafka.Brokers = nil }},
		{"zero tick", func(c *AppConfig) { c.Control.TickIntervalS = 0 }},
		{"zero staleness", func(c *AppConfig) { c.Control.StalenessS = 0 }},
		{"zero retries", func(c *AppConfig) { c.Control.RetryAttempts = 0 }},
		{"zero wind ceiling", func(c *AppConfig) { c.Wind.ThresholdMS = 0 }},
		{"min window above average", func(c *AppConfig) { c.Wind.MinimumWindowS = 9000 }},
		{"bad timezone", func(c *AppConfig) { c.Schedule.Timezone = "Mars/OlympusMons" }},
		{"bad clock", func(c *AppConfig) { c.Schedule.NoonStart = "12h00" }},
		{"missing profile", func(c *AppConfig) { delete(c.AHU.Profiles, "noon") }},
		{"profile out of range", func(c *AppConfig) { c.AHU.Profiles["day"] = 99 }},
		{"zero heating rate", func(c *AppConfig) { c.M1M3TS.MaxHeatingRateCHr = 0 }},
		{"inverted fan range", func(c *AppConfig) { c.M1M3TS.FanMaxRPM = 100 }},
		{"fan demand above 100", func(c *AppConfig) { c.M1M3TS.MaxFanDemandPct = 150 }},
		{"missing policy entry", func(c *AppConfig) { delete(c.Subsystems, SubsystemGlycol) }},
		{"unknown subsystem", func(c *AppConfig) { c.Subsystems["chiller"] = PolicyParams{MaxStepC: 1, MaxRateCMin: 1} }},
		{"negative min interval", func(c *AppConfig) {
			p := c.Subsystems[SubsystemAHU]
			p.MinIntervalS = -1
			c.Subsystems[SubsystemAHU] = p
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := testAppConfig()
			c.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrConfigInvalid) {
				t.Fatalf("want ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestValidateAcceptsTestConfig(t *testing.T) {
	if err := testAppConfig().Validate(); err != nil {
		t.Fatalf("baseline config invalid: %v", err)
	}
}

func TestParseClock(t *testing.T) {
	if m, err := parseClock("08:30"); err != nil || m != 510 {
		t.Fatalf("08:30 -> %d, %v", m, err)
	}
	for _, bad := range []string{"24:00", "08:60", "8", "", "ab:cd"} {
		if _, err := parseClock(bad); err == nil {
			t.Fatalf("parseClock(%q) should fail", bad)
		}
	}
}
