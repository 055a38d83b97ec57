// Command simhost runs the simulation kernel as a fixed-frequency
// host process: config, logging, metrics endpoint, a world with the
// built-in diagnostic schema, and the frame loop driven by the
// configured time controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"simkernel/internal/config"
	"simkernel/internal/core/ecs"
	"simkernel/internal/core/events"
	"simkernel/internal/core/host"
	"simkernel/internal/core/schedule"
	"simkernel/internal/core/simtime"
	"simkernel/pkg/logger"
	"simkernel/pkg/metrics"
)

// Heartbeat is the diagnostic event the built-in module publishes once
// per second of sim time.
type Heartbeat struct {
	Frame        uint64
	DeltaSeconds float64
	Entities     int64
}

// heartbeatModule emits a Heartbeat and logs the host's vitals.
type heartbeatModule struct {
	host.BaseModule
	log *logger.Logger
}

func (m *heartbeatModule) Name() string { return "heartbeat" }

func (m *heartbeatModule) Policy() host.ExecutionPolicy {
	p := host.DefaultPolicy()
	p.Trigger = host.EveryInterval(1000)
	return p
}

func (m *heartbeatModule) Tick(ctx *host.TickContext) error {
	hb := Heartbeat{
		Frame:        ctx.Frame,
		DeltaSeconds: ctx.DT,
		Entities:     int64(ctx.View.EntityCount()),
	}
	if err := ecs.RecordEvent(ctx.Commands, hb); err != nil {
		return err
	}
	m.log.Infof("heartbeat: frame=%d entities=%d", ctx.Frame, hb.Entities)
	return nil
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	dumpConfig := flag.Bool("dump-config", false, "print the effective configuration as YAML and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if *dumpConfig {
		data, err := cfg.Dump()
		if err != nil {
			return fmt.Errorf("dump config: %w", err)
		}
		os.Stdout.Write(data)
		return nil
	}

	log := logger.New(cfg.Logging)
	log.Infof("simhost starting: role=%s node=%d rate=%.0fHz", cfg.Host.Role, cfg.Host.NodeID, cfg.Host.FrameRateHz)

	reg := ecs.NewRegistry()
	if _, err := ecs.RegisterEvent[Heartbeat](reg); err != nil {
		return err
	}

	live := ecs.NewRepository(reg, cfg.Repository)
	bus := events.NewBus(reg)
	sched := schedule.NewScheduler()

	promReg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(promReg)
	if cfg.Host.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.Host.MetricsAddr, mux); err != nil {
				log.Errorf("metrics endpoint failed: %v", err)
			}
		}()
	}

	h := host.NewHost(live, bus, sched, log, rec, host.WithTuning(cfg.Tuning()))
	if err := h.RegisterModule(&heartbeatModule{log: log}); err != nil {
		return err
	}
	if err := h.Init(); err != nil {
		return err
	}

	net := simtime.NewNetwork()
	var ep *simtime.Endpoint
	if cfg.Role() != simtime.RoleStandalone {
		ep = net.Join(cfg.Host.NodeID)
	}
	tm := simtime.NewManager(cfg.SimTime(), simtime.NewMonotonicClock(), ep, cfg.Role(), nil, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	frame := time.Duration(float64(time.Second) / cfg.Host.FrameRateHz)
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("simhost shutting down")
			return nil
		case <-ticker.C:
			sample := tm.Update()
			if err := h.Step(sample); err != nil {
				log.Errorf("frame failed: %v", err)
				return err
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "simhost: %v\n", err)
		os.Exit(1)
	}
}
