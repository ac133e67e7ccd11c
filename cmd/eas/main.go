// cmd/eas/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lsst-ts/ts-eas/internal"
)

func main() {
	lg, lf := internal.InitLogger()
	defer func(lf *os.File) {
		if err := lf.Close(); err != nil {
			lg.Error("log file close", "error", err)
		}
	}(lf)
	lg.Info("EAS starting (enclosure thermal control)")

	cfg, err := internal.LoadConfig()
	if err != nil {
		lg.Error("config", "error", err)
		os.Exit(1)
	}
	lg.Info("config loaded", "brokers", cfg.Kafka.Brokers, "tick_s", cfg.Control.TickIntervalS,
		"disabled_features", cfg.FeaturesToDisable)

	sched, err := internal.NewSchedule(cfg.Schedule)
	if err != nil {
		lg.Error("schedule", "error", err)
		os.Exit(1)
	}

	sp, err := internal.NewPhaseSetpoints(cfg.AHU)
	if err != nil {
		lg.Error("setpoints", "error", err)
		os.Exit(1)
	}
	lg.Info("setpoints initialized", "values", sp.All())

	kio, err := internal.NewKafkaIO(cfg, lg)
	if err != nil {
		lg.Error("kafka", "error", err)
		os.Exit(1)
	}
	defer kio.Close()

	cache := internal.NewTelemetryCache(cfg.Wind)
	hub := internal.NewWSHub(lg)
	emitter := internal.NewEmitter(cfg, lg, kio)
	eng := internal.NewEngine(cfg, lg, cache, sched, sp, emitter, hub)
	srv := internal.NewHTTPServer(cfg, lg, eng, sp, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := kio.RunConsumers(ctx, cache); err != nil {
			lg.Error("telemetry consumers", "error", err)
		}
	}()
	go eng.Run(ctx)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	lg.Info("shutdown requested")

	cancel()
	sh, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	_ = srv.Stop(sh)
	hub.Close()
	lg.Info("EAS stopped")
}
