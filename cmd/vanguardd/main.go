// Command vanguardd runs the vehicle core: the Vehicle Supervisor, a Path
// Controller Base, and whichever optional subsystems (Historian,
// Live-State Cache, Telemetry Relay, black-box Recorder) are configured.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jrsynow/dune/internal/bus"
	"github.com/jrsynow/dune/internal/cache"
	"github.com/jrsynow/dune/internal/config"
	"github.com/jrsynow/dune/internal/historian"
	"github.com/jrsynow/dune/internal/messages"
	"github.com/jrsynow/dune/internal/pathctl"
	"github.com/jrsynow/dune/internal/recorder"
	"github.com/jrsynow/dune/internal/relay"
	"github.com/jrsynow/dune/internal/stats"
	"github.com/jrsynow/dune/internal/supervisor"
	"github.com/jrsynow/dune/internal/task"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("vanguardd: failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bus.New()

	svCfg := supervisor.DefaultConfig()
	svCfg.CalibrationTime = cfg.CalibrationTime
	svCfg.TickPeriod = cfg.TickPeriod
	svCfg.SafeEnts = cfg.SafeEnts
	vs := supervisor.New("vehicle-supervisor", cfg.EntityID, cfg.SourceSystem, b, svCfg)

	pcbCfg := pathctl.DefaultConfig()
	pcbCfg.ControlPeriod = cfg.ControlPeriod
	pcbCfg.StateReportPeriod = cfg.StateReportPeriod
	pcbCfg.ATM = pathctl.ATMConfig{Period: cfg.ATMPeriod, MinSpeed: cfg.ATMMinSpeed, MinYaw: cfg.ATMMinYaw}
	pcbCfg.CTM = pathctl.CTMConfig{DistanceLimit: cfg.CTMDistanceLimit, TimeLimit: cfg.CTMTimeLimit, NavUncFactor: cfg.CTMNavUncFactor}
	pcb := pathctl.NewBase("path-controller", cfg.EntityID, cfg.SourceSystem, b, pathctl.NewStraightLineController(), pcbCfg)

	tasks := []task.Runnable{vs, pcb}
	watched := []stats.MonitoredTask{vs.Task, pcb}

	if cfg.PostgresDSN != "" {
		db, err := historian.Connect(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("vanguardd: failed to connect historian to postgres: %v", err)
		}
		h := historian.New("historian", cfg.EntityID, b, db, historian.DefaultConfig())
		tasks = append(tasks, h)
		watched = append(watched, h)
	}

	if cfg.RedisAddr != "" {
		redisClient, err := cache.Dial(cfg.RedisAddr)
		if err != nil {
			log.Fatalf("vanguardd: failed to connect cache to redis: %v", err)
		}
		c := cache.New("cache", cfg.EntityID, b, redisClient)
		tasks = append(tasks, c)
		watched = append(watched, c)
	}

	if cfg.NATSURL != "" {
		conn, err := relay.Dial(cfg.NATSURL)
		if err != nil {
			log.Fatalf("vanguardd: failed to connect relay to nats: %v", err)
		}
		defer conn.Close()
		r := relay.New("telemetry-relay", cfg.EntityID, b, conn.JetStream())
		tasks = append(tasks, r)
		watched = append(watched, r)
	}

	rec := recorder.New("recorder", cfg.EntityID, b, cfg.RecorderOutputDir, []messages.Kind{
		messages.KindVehicleState, messages.KindPathControlState, messages.KindEntityMonitoringState,
	})
	if err := rec.Start(); err != nil {
		log.Fatalf("vanguardd: failed to start recorder: %v", err)
	}
	defer rec.Stop()
	tasks = append(tasks, rec)

	mon := stats.New("stats", cfg.EntityID, b, watched...)
	tasks = append(tasks, mon)
	go mon.RunReport(ctx, cfg.StatsReportPeriod)

	runtime := task.NewRuntime(tasks...)
	if err := runtime.Run(ctx); err != nil {
		log.Fatalf("vanguardd: task runtime exited with error: %v", err)
	}
}
