// helpers_test.go
package internal

import (
	"io"
	"log/slog"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testAppConfig returns a complete valid configuration for unit tests.
func testAppConfig() *AppConfig {
	return &AppConfig{
		HTTPBind: ":0",
		Kafka: KafkaConfig{
			Brokers:            []string{"localhost:9092"},
			TelemetryTopicPref: "eas.telemetry.",
			CommandTopicPref:   "eas.command.",
			EventTopic:         "eas.events",
			TopicReplication:   1,
		},
		Control: ControlConfig{
			TickIntervalS:   60,
			StalenessS:      300,
			CommandTimeoutS: 5,
			RetryAttempts:   3,
			RetryBackoffMs:  1,
		},
		Wind: WindConfig{
			ThresholdMS:    5.0,
			AverageWindowS: 1800,
			MinimumWindowS: 600,
		},
		Schedule: testScheduleConfig(),
		AHU: AHUConfig{
			Profiles:     map[string]float64{"night": 12, "day": 14, "noon": 12, "twilight": 12},
			SetpointMinC: 0,
			SetpointMaxC: 25,
		},
		M1M3TS: M1M3TSConfig{
			GlycolSetpointDelta: -2,
			HeaterSetpointDelta: -1,
			TopEndSetpointDelta: 0.5,
			DeadbandHeatingC:    0.25,
			DeadbandCoolingC:    0.1,
			MaxHeatingRateCHr:   1.0,
			MaxCoolingRateCHr:   30.0,
			FanMinRPM:           500,
			FanMaxRPM:           2000,
			FanFullSpeedDeltaC:  1.0,
			MaxFanDemandPct:     100,
			MaxHeaterPWMPct:     50,
		},
		Subsystems: map[string]PolicyParams{
			SubsystemVEC04:  {DeadbandC: 0.5, MaxStepC: 1, MaxRateCMin: 60, MinIntervalS: 300, Priority: 10},
			SubsystemM1M3TS: {DeadbandC: 0.05, MaxStepC: 1, MaxRateCMin: 1, Priority: 20},
			SubsystemAHU:    {DeadbandC: 0.5, MaxStepC: 2, MaxRateCMin: 0.5, Priority: 30},
			SubsystemGlycol: {DeadbandC: 0.1, MaxStepC: 1, MaxRateCMin: 1, Priority: 40},
			SubsystemFCUFan: {DeadbandC: 25, MaxStepC: 500, MaxRateCMin: 1000, Priority: 50},
			SubsystemTopEnd: {DeadbandC: 0.25, MaxStepC: 1, MaxRateCMin: 1, Priority: 60},
		},
	}
}
