package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"swarmshield/pkg/advisor"
	"swarmshield/pkg/config"
	"swarmshield/pkg/detector"
	"swarmshield/pkg/enforce"
	"swarmshield/pkg/eventbus"
	"swarmshield/pkg/evolver"
	"swarmshield/pkg/netstats"
	"swarmshield/pkg/observability"
	"swarmshield/pkg/structlog"
	"swarmshield/pkg/threatgraph"
	"swarmshield/pkg/traffic"
)

const serviceVersion = "1.2.0"

func main() {
	configPath := flag.String("config", os.Getenv("SWARMSHIELD_CONFIG"), "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[swarmshield] config: %v", err)
	}

	logger := structlog.NewLogger("swarmshield", structlog.ParseLevel(cfg.LogLevel), os.Stdout)
	met := newMetrics()

	shutdownTracer, err := observability.InitTracer("swarmshield", serviceVersion)
	if err != nil {
		log.Fatalf("[swarmshield] tracer: %v", err)
	}

	for _, p := range []string{cfg.OutcomeLogPath, cfg.StrategyPath, cfg.ActionStorePath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatalf("[swarmshield] data dir: %v", err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := eventbus.NewBus()
	bus.OnPanic = func(topic string, r any) {
		logger.Error("subscriber panic", structlog.Fields{"topic": topic, "panic": fmt.Sprint(r)})
	}

	thresholds := detector.NewStore(detector.DefaultThresholds())
	if prev, err := evolver.LoadStrategy(cfg.StrategyPath); err == nil {
		prev.Apply(thresholds)
		logger.Info("restored evolved thresholds", structlog.Fields{"fitness": prev.Fitness})
	}

	stats := netstats.NewEngine(time.Duration(cfg.WindowHorizonSeconds) * time.Second)
	det := detector.New(cfg.DetectorTrials)
	sim := threatgraph.NewSimulator(cfg.PropagationTrials)
	outcomes := evolver.NewOutcomeLog(cfg.OutcomeLogPath)

	surface := buildSurface(cfg, logger)
	engineCfg := enforce.Config{
		AutoUnblock:      time.Duration(cfg.AutoUnblockSeconds) * time.Second,
		PreemptiveExpire: time.Duration(cfg.PreemptiveExpireSeconds) * time.Second,
		SurfaceTimeout:   5 * time.Second,
		RetryBackoff:     500 * time.Millisecond,
	}
	engine := enforce.NewEngine(surface, engineCfg, logger)
	engine.AttachOutcomeLog(outcomes)
	engine.AttachBus(bus)

	store, err := enforce.OpenActionStore(cfg.ActionStorePath)
	if err != nil {
		log.Fatalf("[swarmshield] action store: %v", err)
	}
	defer store.Close()
	if err := engine.AttachStore(store); err != nil {
		log.Fatalf("[swarmshield] restore actions: %v", err)
	}

	p := newPipeline(cfg, pipelineDeps{
		stats:      stats,
		det:        det,
		thresholds: thresholds,
		sim:        sim,
		engine:     engine,
		outcomes:   outcomes,
		bus:        bus,
		source:     buildSource(cfg),
		log:        logger,
		met:        met,
		tracer:     observability.Tracer("swarmshield/pipeline"),
		agentID:    uuid.NewString(),
	})

	adv := advisor.Advisor(advisor.Noop{})
	runEvolution := func(ctx context.Context) error {
		recs, err := outcomes.Load()
		if err != nil {
			logger.Error("load outcomes failed, evolving on synthetic data", structlog.Fields{"error": err.Error()})
			recs = nil
		}
		res, err := evolver.NewEngine(logger).Evolve(ctx, recs)
		if err != nil && errors.Is(err, context.Canceled) {
			return err
		}
		strategy := evolver.StrategyFrom(res)
		enrichStrategy(ctx, adv, &strategy)
		if err := strategy.Save(cfg.StrategyPath); err != nil {
			logger.Error("save strategy failed", structlog.Fields{"error": err.Error()})
		}
		strategy.Apply(thresholds)
		bus.Publish(ctx, eventbus.Event{Type: eventbus.TopicThresholds, Source: "evolver", Payload: strategy})
		return nil
	}

	go engine.RunSweeper(ctx, time.Duration(cfg.SweepIntervalSeconds)*time.Second)
	go p.RunLoop(ctx, time.Duration(cfg.TickIntervalSeconds)*time.Second)

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.EvolveSchedule, func() {
		if err := runEvolution(ctx); err != nil {
			logger.Warn("scheduled evolution aborted", structlog.Fields{"error": err.Error()})
		}
	}); err != nil {
		log.Fatalf("[swarmshield] evolve schedule %q: %v", cfg.EvolveSchedule, err)
	}
	sched.Start()
	defer sched.Stop()

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath,
				func(next config.Config) {
					p.updateConfig(next)
					logger.Info("config reloaded", structlog.Fields{"path": *configPath})
				},
				func(err error) {
					logger.Warn("config reload failed", structlog.Fields{"error": err.Error()})
				})
			if err != nil {
				logger.Warn("config watcher stopped", structlog.Fields{"error": err.Error()})
			}
		}()
	}

	mux := http.NewServeMux()
	api := &apiServer{p: p, evolve: runEvolution, log: logger}
	api.routes(mux)
	mux.Handle("/metrics", met.handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[swarmshield] listening on :%d (live_enforcement=%v)", cfg.HTTPPort, cfg.LiveEnforcement)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[swarmshield] http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[swarmshield] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", structlog.Fields{"error": err.Error()})
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", structlog.Fields{"error": err.Error()})
	}
}

// enrichStrategy asks the advisor for a narrative on the evolution report.
// Annotation only: scoring never reads the advisory, and a missing advisor
// leaves the artifact untouched.
func enrichStrategy(ctx context.Context, adv advisor.Advisor, strategy *evolver.Strategy) {
	report, err := json.Marshal(strategy)
	if err != nil {
		return
	}
	insight, err := adv.Enrich(ctx, report)
	if err != nil {
		return
	}
	strategy.Advisory = insight.Summary
}

// buildSurface picks the enforcement surface: redis-backed when live mode
// is on and an address is configured, otherwise the dry-run simulator.
func buildSurface(cfg config.Config, logger *structlog.Logger) enforce.Surface {
	if cfg.LiveEnforcement && cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		logger.Info("live enforcement via redis blocklist", structlog.Fields{"addr": cfg.RedisAddr})
		return enforce.NewRedisSurface(client, "")
	}
	if cfg.LiveEnforcement {
		logger.Warn("live enforcement requested but no redis_addr set, falling back to dry run", nil)
	}
	return enforce.NewSimulatedSurface()
}

func buildSource(cfg config.Config) traffic.Source {
	switch traffic.Profile(cfg.TrafficProfile) {
	case traffic.ProfileNormal, traffic.ProfileDDoS, traffic.ProfilePortScan, traffic.ProfileExfil, traffic.ProfileMixed:
		return traffic.NewSynthetic(traffic.Profile(cfg.TrafficProfile), time.Now().UnixNano())
	case "none":
		return nil
	default:
		return traffic.NewSynthetic(traffic.ProfileMixed, time.Now().UnixNano())
	}
}

func attackType(s string) detector.AttackType {
	switch detector.AttackType(s) {
	case detector.AttackDDoS, detector.AttackPortScan, detector.AttackExfiltration:
		return detector.AttackType(s)
	default:
		return detector.AttackNormal
	}
}
