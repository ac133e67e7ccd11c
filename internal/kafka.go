// kafka.go
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/lsst-ts/ts-eas/internal/breaker"
)

// Telemetry topic suffixes, one topic per sensor group.
const (
	TopicDome        = "dome"
	TopicWind        = "wind"
	TopicOutsideTemp = "temperature.outside"
	TopicInsideTemp  = "temperature.inside"
	TopicMirrorTemp  = "temperature.mirror"
	TopicAHU         = "ahu"
)

var telemetryTopics = []string{
	TopicDome, TopicWind, TopicOutsideTemp, TopicInsideTemp, TopicMirrorTemp, TopicAHU,
}

// DomeTelemetry reports the aperture shutter positions (percent open,
// one entry per door) and the louver state.
type DomeTelemetry struct {
	ShutterPositionPct []float64 `json:"shutterPositionPct"`
	LouversOpen        bool      `json:"louversOpen"`
	Timestamp          float64   `json:"timestamp"`
}

type WindTelemetry struct {
	SpeedMS   float64 `json:"speedMS"`
	Timestamp float64 `json:"timestamp"`
}

type TemperatureTelemetry struct {
	TemperatureItems []float64 `json:"temperatureItems"`
	Timestamp        float64   `json:"timestamp"`
}

type AHUTelemetry struct {
	Running   bool    `json:"running"`
	Timestamp float64 `json:"timestamp"`
}

// KafkaIO wires the telemetry readers and the per-subsystem command
// writers. Reads and writes go through circuit breakers so a broken
// broker fast-fails instead of stalling the control loop.
type KafkaIO struct {
	cfg *AppConfig
	lg  *slog.Logger

	readers       map[string]*kafka.Reader
	readerBreaker *breaker.Breaker

	cmdWriters    map[string]*kafka.Writer
	eventWriter   *kafka.Writer
	writerBreaker *breaker.Breaker
}

func NewKafkaIO(cfg *AppConfig, lg *slog.Logger) (*KafkaIO, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	io := &KafkaIO{
		cfg:        cfg,
		lg:         lg,
		readers:    map[string]*kafka.Reader{},
		cmdWriters: map[string]*kafka.Writer{},
	}
	probe := func(ctx context.Context) error {
		conn, err := kafka.DialContext(ctx, "tcp", cfg.Kafka.Brokers[0])
		if err != nil {
			return err
		}
		return conn.Close()
	}
	io.readerBreaker = breaker.New("eas-kafka-reader", breaker.Config{MaxFailures: 5, ResetTimeout: 30 * time.Second}, lg, probe)
	io.writerBreaker = breaker.New("eas-kafka-writer", breaker.Config{MaxFailures: 5, ResetTimeout: 30 * time.Second}, lg, probe)

	// Topic bootstrap is best-effort but must not hang startup on an
	// unresponsive broker.
	tctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := io.ensureTopics(tctx); err != nil {
		lg.Warn("topic ensure failed", "error", err)
	}
	cancel()

	for _, suffix := range telemetryTopics {
		topic := cfg.Kafka.TelemetryTopicPref + suffix
		io.readers[suffix] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    topic,
			MinBytes: 1, MaxBytes: 10e6, MaxWait: 200 * time.Millisecond,
		})
		lg.Info("kafka reader wired", "topic", topic)
	}
	for _, id := range AllSubsystems {
		topic := cfg.Kafka.CommandTopicPref + id
		io.cmdWriters[id] = &kafka.Writer{
			Addr: kafka.TCP(cfg.Kafka.Brokers...), Topic: topic,
			Balancer: &kafka.Hash{}, RequiredAcks: kafka.RequireAll,
		}
		lg.Info("kafka command writer wired", "subsystem", id, "topic", topic)
	}
	io.eventWriter = &kafka.Writer{
		Addr: kafka.TCP(cfg.Kafka.Brokers...), Topic: cfg.Kafka.EventTopic,
		RequiredAcks: kafka.RequireAll,
	}
	return io, nil
}

func (ioh *KafkaIO) ensureTopics(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", ioh.cfg.Kafka.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			ioh.lg.Warn("broker conn close", "error", err)
		}
	}()
	ctrl, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	c, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ctrl.Host, ctrl.Port))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			ioh.lg.Warn("controller conn close", "error", err)
		}
	}()

	var cfgs []kafka.TopicConfig
	for _, suffix := range telemetryTopics {
		cfgs = append(cfgs, kafka.TopicConfig{
			Topic: ioh.cfg.Kafka.TelemetryTopicPref + suffix, NumPartitions: 1,
			ReplicationFactor: ioh.cfg.Kafka.TopicReplication,
		})
	}
	for _, id := range AllSubsystems {
		cfgs = append(cfgs, kafka.TopicConfig{
			Topic: ioh.cfg.Kafka.CommandTopicPref + id, NumPartitions: 1,
			ReplicationFactor: ioh.cfg.Kafka.TopicReplication,
		})
	}
	cfgs = append(cfgs, kafka.TopicConfig{
		Topic: ioh.cfg.Kafka.EventTopic, NumPartitions: 1,
		ReplicationFactor: ioh.cfg.Kafka.TopicReplication,
	})
	if err := c.CreateTopics(cfgs...); err != nil {
		ioh.lg.Warn("CreateTopics", "error", err)
	}
	return nil
}

func (ioh *KafkaIO) Close() {
	for suffix, r := range ioh.readers {
		_ = r.Close()
		ioh.lg.Info("reader closed", "topic", suffix)
	}
	for id, w := range ioh.cmdWriters {
		_ = w.Close()
		ioh.lg.Info("command writer closed", "subsystem", id)
	}
	_ = ioh.eventWriter.Close()
}

// RunConsumers starts one goroutine per telemetry topic, feeding the
// latest-value cache until the context is cancelled. Ingestion is fully
// decoupled from tick execution.
func (ioh *KafkaIO) RunConsumers(ctx context.Context, cache *TelemetryCache) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, suffix := range telemetryTopics {
		suffix := suffix
		g.Go(func() error {
			ioh.consumeLoop(ctx, suffix, cache)
			return nil
		})
	}
	return g.Wait()
}

func (ioh *KafkaIO) consumeLoop(ctx context.Context, suffix string, cache *TelemetryCache) {
	r := ioh.readers[suffix]
	for {
		var msg kafka.Message
		err := ioh.readerBreaker.Execute(ctx, func(ctx context.Context) error {
			var ferr error
			msg, ferr = r.FetchMessage(ctx)
			return ferr
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			ioh.lg.Warn("telemetry fetch", "topic", suffix, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if err := ioh.ingest(suffix, msg.Value, cache); err != nil {
			ioh.lg.Error("bad telemetry", "topic", suffix, "error", err)
		}
	}
}

// ingest parses one telemetry message and updates the cache.
func (ioh *KafkaIO) ingest(suffix string, value []byte, cache *TelemetryCache) error {
	switch suffix {
	case TopicDome:
		var t DomeTelemetry
		if err := json.Unmarshal(value, &t); err != nil {
			return err
		}
		if len(t.ShutterPositionPct) == 0 {
			return errors.New("dome telemetry has no shutter positions")
		}
		open := false
		for _, pct := range t.ShutterPositionPct {
			if pct >= 50 {
				open = true
			}
		}
		cache.SetDome(open, t.LouversOpen, unixTime(t.Timestamp))
	case TopicWind:
		var t WindTelemetry
		if err := json.Unmarshal(value, &t); err != nil {
			return err
		}
		if math.IsNaN(t.SpeedMS) {
			return errors.New("wind speed is NaN")
		}
		cache.AddWind(t.SpeedMS, unixTime(t.Timestamp))
	case TopicOutsideTemp, TopicInsideTemp, TopicMirrorTemp:
		var t TemperatureTelemetry
		if err := json.Unmarshal(value, &t); err != nil {
			return err
		}
		v, ok := reduceTemperatures(suffix, t.TemperatureItems)
		if !ok {
			return errors.New("no valid temperature items")
		}
		at := unixTime(t.Timestamp)
		switch suffix {
		case TopicOutsideTemp:
			cache.SetOutsideTemp(v, at)
		case TopicInsideTemp:
			cache.SetInsideTemp(v, at)
		case TopicMirrorTemp:
			cache.SetMirrorTemp(v, at)
		}
	case TopicAHU:
		var t AHUTelemetry
		if err := json.Unmarshal(value, &t); err != nil {
			return err
		}
		cache.SetAHURunning(t.Running, unixTime(t.Timestamp))
	default:
		return fmt.Errorf("unknown telemetry topic suffix %q", suffix)
	}
	return nil
}

// reduceTemperatures collapses a telemetry item array into one value.
// The mirror thermocouple array uses the median so a single bad probe
// cannot skew the glass temperature; air sensors report a single item
// and use the first valid one.
func reduceTemperatures(suffix string, items []float64) (float64, bool) {
	valid := items[:0:0]
	for _, v := range items {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return 0, false
	}
	if suffix != TopicMirrorTemp {
		return valid[0], true
	}
	sort.Float64s(valid)
	n := len(valid)
	if n%2 == 1 {
		return valid[n/2], true
	}
	return (valid[n/2-1] + valid[n/2]) / 2, true
}

// Send publishes one actuator command. Implements CommandSender.
func (ioh *KafkaIO) Send(ctx context.Context, cmd Command) error {
	w, ok := ioh.cmdWriters[cmd.Subsystem]
	if !ok {
		return fmt.Errorf("no command writer for %s", cmd.Subsystem)
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return ioh.writerBreaker.Execute(ctx, func(ctx context.Context) error {
		return w.WriteMessages(ctx, kafka.Message{Key: []byte(cmd.Subsystem), Value: b, Time: time.Now()})
	})
}

// PublishFault publishes a subsystem fault to the event topic.
func (ioh *KafkaIO) PublishFault(ctx context.Context, ev FaultEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ioh.writerBreaker.Execute(ctx, func(ctx context.Context) error {
		return ioh.eventWriter.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Subsystem), Value: b, Time: time.Now()})
	})
}

func unixTime(ts float64) time.Time {
	if ts <= 0 {
		return time.Now()
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
