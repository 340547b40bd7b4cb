package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/steamwatch/steamwatch/internal/config"
	"github.com/steamwatch/steamwatch/internal/events"
	"github.com/steamwatch/steamwatch/internal/gate"
	"github.com/steamwatch/steamwatch/internal/health"
	"github.com/steamwatch/steamwatch/internal/metrics"
	"github.com/steamwatch/steamwatch/internal/monitor"
	swotel "github.com/steamwatch/steamwatch/internal/otel"
	"github.com/steamwatch/steamwatch/internal/session"
	"github.com/steamwatch/steamwatch/internal/steam"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "steamwatch.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	events.SetGlobalEventLogger(events.NewEventLogger(cfg.Steam.SteamID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry providers.
	otelMetrics, err := swotel.NewMetrics(ctx, &swotel.MetricsConfig{
		Enabled:        cfg.Otel.Enabled,
		ServiceName:    "steamwatch",
		ServiceVersion: version,
		ExporterType:   swotel.ExporterType(cfg.Otel.ExporterType),
		OTLPEndpoint:   cfg.Otel.Endpoint,
		OTLPInsecure:   cfg.Otel.Insecure,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize otel metrics: %v\n", err)
		os.Exit(1)
	}
	swotel.SetGlobalMetrics(otelMetrics)
	defer otelMetrics.Shutdown(context.Background())

	tracer, err := swotel.NewTracer(ctx, &swotel.Config{
		Enabled:        cfg.Otel.Enabled,
		ServiceName:    "steamwatch",
		ServiceVersion: version,
		ExporterType:   swotel.ExporterType(cfg.Otel.ExporterType),
		OTLPEndpoint:   cfg.Otel.Endpoint,
		OTLPInsecure:   cfg.Otel.Insecure,
		SampleRate:     1.0,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
		os.Exit(1)
	}
	swotel.SetGlobalTracer(tracer)
	defer tracer.Shutdown(context.Background())

	promMetrics := metrics.New()

	// Steam client and per-tier collectors.
	client := steam.NewClient(steam.ClientConfig{APIKey: cfg.Steam.APIKey})
	tracker := session.NewTracker(session.Config{
		ActivityField:   steam.FieldGameID,
		LabelField:      steam.FieldGameName,
		HistoryCapacity: cfg.Session.HistoryCapacity,
	})

	engine, err := monitor.NewEngine(&monitor.EngineConfig{
		Tiers: []monitor.TierConfig{
			{
				ID:        monitor.TierFast,
				Interval:  cfg.Tiers.FastInterval,
				Collector: steam.NewFastCollector(client, cfg.Steam.SteamID),
				Hook:      sessionHook(tracker, promMetrics),
			},
			{
				ID:        monitor.TierMedium,
				Interval:  cfg.Tiers.MediumInterval,
				Collector: steam.NewMediumCollector(client, cfg.Steam.SteamID),
			},
			{
				ID:        monitor.TierSlow,
				Interval:  cfg.Tiers.SlowInterval,
				Collector: steam.NewSlowCollector(client, cfg.Steam.SteamID),
			},
		},
		StaggerDelta:   cfg.Engine.StaggerDelta,
		GateTimeout:    cfg.Engine.GateTimeout,
		CollectTimeout: cfg.Engine.CollectTimeout,
		Gate:           gate.New(),
		Stats:          &statsFanout{prom: promMetrics, otel: otelMetrics},
		Tracer:         &cycleTracer{tracer: tracer},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure monitor: %v\n", err)
		os.Exit(1)
	}

	engine.Subscribe(func(snap monitor.Snapshot) {
		otelMetrics.RecordMerge(context.Background(), snap.Version)
	})
	engine.Subscribe(printSnapshot)

	// Metrics endpoint.
	var metricsSrv *http.Server
	if cfg.Metrics.MetricsEnabled() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promMetrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
		fmt.Printf("Metrics: http://localhost%s/metrics\n", cfg.Metrics.Addr)
	}

	// Self-resource sampling.
	if cfg.Health.Enabled {
		sampler, err := health.NewSampler(promMetrics, cfg.Health.Interval)
		if err != nil {
			log.Printf("health sampler disabled: %v", err)
		} else {
			sampler.Start()
			defer sampler.Stop()
		}
	}

	if err := engine.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start monitor: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("steamwatch %s monitoring %s (fast %v, medium %v, slow %v)\n",
		version, cfg.Steam.SteamID,
		cfg.Tiers.FastInterval, cfg.Tiers.MediumInterval, cfg.Tiers.SlowInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("Shutting down...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := engine.Stop(stopCtx); err != nil {
		log.Printf("monitor stop: %v", err)
	}
	engine.Dispose()

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsSrv.Shutdown(shutdownCtx)
	}
}

// sessionHook feeds fast-tier observations through the session tracker and
// mirrors the tracker state into the session gauges.
func sessionHook(tracker *session.Tracker, m *metrics.Metrics) monitor.ObservationHook {
	var lastClosed int64
	return func(obs *monitor.Observation) {
		tracker.Observe(obs)

		stats := tracker.Stats()
		m.SetSessionState(stats.Active, stats.Elapsed.Minutes())
		for lastClosed < stats.ClosedCount {
			m.SessionClosed()
			lastClosed++
		}
	}
}

// printSnapshot is the console subscriber: a one-line summary per merge.
func printSnapshot(snap monitor.Snapshot) {
	status := snap.Field(steam.FieldStatus)
	name := snap.Field(steam.FieldPersonaName)
	game := snap.Field(steam.FieldGameName)

	line := fmt.Sprintf("[v%d] %s (%s)", snap.Version, name, status)
	if snap.Field(session.FieldSessionActive) == "true" {
		line += fmt.Sprintf(" playing %s for %s min", game, snap.Field(session.FieldSessionElapsedMin))
	}
	if snap.HasError {
		line += fmt.Sprintf(" [last error: %s]", snap.ErrorMessage)
	}
	fmt.Println(line)
}

// statsFanout forwards engine statistics to both the Prometheus and the
// OpenTelemetry instruments.
type statsFanout struct {
	prom *metrics.Metrics
	otel *swotel.Metrics
}

func (s *statsFanout) RecordCycle(tier monitor.TierID, outcome string, elapsed time.Duration) {
	s.prom.RecordCycle(tier, outcome, elapsed)
	ctx := context.Background()
	s.otel.RecordCycleLatency(ctx, string(tier), outcome, float64(elapsed.Milliseconds()))
	if outcome == monitor.OutcomeFailed || outcome == monitor.OutcomeGateTimeout {
		s.otel.RecordCycleError(ctx, string(tier))
	}
}

func (s *statsFanout) RecordGateWait(tier monitor.TierID, wait time.Duration) {
	s.prom.RecordGateWait(tier, wait)
	s.otel.RecordGateWait(context.Background(), string(tier), float64(wait.Milliseconds()))
}

func (s *statsFanout) RecordSnapshot(snap monitor.Snapshot) {
	s.prom.RecordSnapshot(snap)
}

// cycleTracer adapts the otel tracer to the engine's CycleTracer interface.
type cycleTracer struct {
	tracer *swotel.Tracer
}

func (c *cycleTracer) StartCycle(ctx context.Context, tier monitor.TierID) (context.Context, func(failed bool, msg string)) {
	return c.tracer.StartCycleSpan(ctx, string(tier))
}
