package main

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"swarmshield/pkg/config"
	"swarmshield/pkg/detector"
	"swarmshield/pkg/enforce"
	"swarmshield/pkg/eventbus"
	"swarmshield/pkg/evolver"
	"swarmshield/pkg/netstats"
	"swarmshield/pkg/risk"
	"swarmshield/pkg/structlog"
	"swarmshield/pkg/threatgraph"
	"swarmshield/pkg/traffic"
	"swarmshield/pkg/trend"
)

// pipeline wires the stages together. The tick loop is the single logical
// clock: ingest, score and trend classification run synchronously inside
// RunTick; enforcement dispatch happens asynchronously so a blocking surface
// call never stalls the next tick.
type pipeline struct {
	cfgMu sync.RWMutex
	cfg   config.Config

	stats      *netstats.Engine
	det        *detector.Detector
	thresholds *detector.Store
	tracker    *trend.Tracker
	sim        *threatgraph.Simulator
	engine     *enforce.Engine
	outcomes   *evolver.OutcomeLog
	bus        *eventbus.Bus
	source     traffic.Source
	log        *structlog.Logger
	met        *metrics
	tracer     trace.Tracer
	agentID    string

	obsMu   sync.Mutex
	lastObs map[string]detector.Observation

	wg sync.WaitGroup
}

func newPipeline(cfg config.Config, deps pipelineDeps) *pipeline {
	p := &pipeline{
		cfg:        cfg,
		stats:      deps.stats,
		det:        deps.det,
		thresholds: deps.thresholds,
		sim:        deps.sim,
		engine:     deps.engine,
		outcomes:   deps.outcomes,
		bus:        deps.bus,
		source:     deps.source,
		log:        deps.log,
		met:        deps.met,
		tracer:     deps.tracer,
		agentID:    deps.agentID,
		lastObs:    make(map[string]detector.Observation),
	}
	p.tracker = trend.NewTracker(
		func() float64 { return p.thresholds.Load().ConfidenceCutoff },
		cfg.EarlyWarningCutoff,
		deps.bus,
	)
	p.bus.Subscribe(eventbus.TopicTick, p.onTick)
	p.bus.Subscribe(eventbus.TopicEarlyWarning, p.onEarlyWarning)
	p.bus.Subscribe(eventbus.TopicThresholds, p.onThresholds)
	return p
}

type pipelineDeps struct {
	stats      *netstats.Engine
	det        *detector.Detector
	thresholds *detector.Store
	sim        *threatgraph.Simulator
	engine     *enforce.Engine
	outcomes   *evolver.OutcomeLog
	bus        *eventbus.Bus
	source     traffic.Source
	log        *structlog.Logger
	met        *metrics
	tracer     trace.Tracer
	agentID    string
}

func (p *pipeline) gates() (preemptive, confirm float64) {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.cfg.PreemptiveGate, p.cfg.ConfirmGate
}

// updateConfig applies a hot-reloaded configuration: gate values take
// effect immediately, non-zero threshold overrides replace the active set.
func (p *pipeline) updateConfig(cfg config.Config) {
	p.cfgMu.Lock()
	p.cfg.PreemptiveGate = cfg.PreemptiveGate
	p.cfg.ConfirmGate = cfg.ConfirmGate
	p.cfg.ScreenMinConfidence = cfg.ScreenMinConfidence
	p.cfg.EarlyWarningCutoff = cfg.EarlyWarningCutoff
	p.cfgMu.Unlock()
	p.tracker.SetEarlyWarnCutoff(cfg.EarlyWarningCutoff)

	if t := cfg.Thresholds; t != (config.Thresholds{}) {
		ts := p.thresholds.Load()
		if t.RatePPS > 0 {
			ts.RatePPS = t.RatePPS
		}
		if t.HandshakeCount > 0 {
			ts.HandshakeCount = t.HandshakeCount
		}
		if t.UniqueDests > 0 {
			ts.UniqueDests = t.UniqueDests
		}
		if t.EntropyBits > 0 {
			ts.EntropyBits = t.EntropyBits
		}
		if t.ByteRate > 0 {
			ts.ByteRate = t.ByteRate
		}
		if t.ConfidenceCutoff > 0 {
			ts.ConfidenceCutoff = t.ConfidenceCutoff
		}
		p.thresholds.Swap(ts.Clamp())
		p.log.Info("thresholds overridden from config", structlog.Fields{"thresholds": ts})
	}
}

// RunLoop drives ticks until ctx is cancelled.
func (p *pipeline) RunLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case <-t.C:
			p.RunTick(ctx, interval)
		}
	}
}

// RunTick advances one tick: drain the source, refresh windows, score every
// tracked source and hand the batch to the trend tracker, which publishes
// the tick and early-warning events that drive the response paths.
func (p *pipeline) RunTick(ctx context.Context, interval time.Duration) {
	ctx, span := p.tracer.Start(ctx, "pipeline.tick")
	defer span.End()
	now := time.Now()

	if p.source != nil {
		p.stats.Ingest(p.source.Drain(now, interval))
	}
	p.stats.Prune()
	p.det.Reseed(now.UnixNano())

	ts := p.thresholds.Load()
	sources := p.stats.Sources()
	observations := make([]detector.Observation, 0, len(sources))
	for _, id := range sources {
		obs := p.det.Observe(p.stats.Snapshot(id), ts, now)
		observations = append(observations, obs)
		p.met.observations.WithLabelValues(string(obs.AttackType)).Inc()
	}
	span.SetAttributes(attribute.Int("sources", len(sources)))

	p.obsMu.Lock()
	prev := p.lastObs
	p.lastObs = make(map[string]detector.Observation, len(observations))
	for _, obs := range observations {
		p.lastObs[obs.SourceID] = obs
	}
	for id := range prev {
		if _, still := p.lastObs[id]; !still {
			p.tracker.Forget(id)
		}
	}
	p.obsMu.Unlock()

	p.tracker.Tick(ctx, observations)
	p.met.ticks.Inc()
	p.met.activeActions.Set(float64(len(p.engine.ActiveActions())))
}

// onTick handles the confirmed path: correlate confirmed sources into a
// graph, simulate spread, assess, and dispatch enforcement.
func (p *pipeline) onTick(ctx context.Context, evt eventbus.Event) {
	tick, ok := evt.Payload.(trend.TickEvent)
	if !ok {
		return
	}

	var confirmed []detector.Observation
	p.obsMu.Lock()
	for id, st := range tick.PerSource {
		if st.State == trend.StateConfirmed {
			if obs, found := p.lastObs[id]; found {
				confirmed = append(confirmed, obs)
			}
		}
	}
	p.obsMu.Unlock()
	if len(confirmed) == 0 {
		return
	}

	g := threatgraph.Build(confirmed)
	trials := p.sim.Simulate(g)
	assessment := risk.Assess(confirmed, g, trials)
	p.bus.Publish(ctx, eventbus.Event{Type: eventbus.TopicAssessment, Source: "risk", Payload: assessment})
	p.log.Info("risk assessed", structlog.Fields{
		"level":   string(assessment.RiskLevel),
		"score":   assessment.RiskScore,
		"sources": len(confirmed),
	})

	batch := make([]enforce.ApplyRequest, 0, len(assessment.Recommendations))
	for _, rec := range assessment.Recommendations {
		// an earlier low-impact action (rate limit) is superseded on
		// confirmation; a standing block/redirect/quarantine is not repeated
		if kind, active := p.engine.ActiveKind(rec.SourceID); active && kind.IsThreatVerdict() {
			continue
		}
		obs, found := p.observation(rec.SourceID)
		if !found {
			continue
		}
		kind := enforce.Decide(rec.Action, rec.Confidence, rec.AttackType)
		batch = append(batch, enforce.ApplyRequest{
			SourceID:   rec.SourceID,
			Kind:       kind,
			AttackType: rec.AttackType,
			Confidence: rec.Confidence,
			Window:     obs.Window,
			AgentID:    p.agentID,
		})
	}
	p.dispatch(batch)
}

// onEarlyWarning handles the predictive path through the safety gate.
func (p *pipeline) onEarlyWarning(ctx context.Context, evt eventbus.Event) {
	warning, ok := evt.Payload.(trend.EarlyWarningEvent)
	if !ok {
		return
	}
	p.met.earlyWarnings.Add(float64(len(warning.Entries)))

	recs := risk.AssessPredictive(warning.Entries)
	p.bus.Publish(ctx, eventbus.Event{Type: eventbus.TopicPreAssessment, Source: "risk", Payload: recs})

	preemptiveGate, confirmGate := p.gates()
	var batch []enforce.ApplyRequest
	for i, rec := range recs {
		st := warning.Entries[i]
		if p.engine.HasActive(st.SourceID) {
			continue
		}
		res := enforce.DecidePreemptive(enforce.PreemptiveRequest{
			SourceID:            st.SourceID,
			AlertState:          st.State,
			CurrentConfidence:   st.CurrentConfidence,
			PredictedConfidence: st.PredictedConfidence,
			RecommendedAction:   rec.Action,
			AttackType:          st.AttackType,
			AgentID:             p.agentID,
		}, preemptiveGate, confirmGate)
		if !res.Accepted {
			p.met.gateRejections.Inc()
			p.log.Info("preemptive request gate-rejected", structlog.Fields{
				"source_id": st.SourceID,
				"reason":    res.Reason,
			})
			continue
		}
		obs, found := p.observation(st.SourceID)
		if !found {
			continue
		}
		batch = append(batch, enforce.ApplyRequest{
			SourceID:   st.SourceID,
			Kind:       res.Kind,
			AttackType: st.AttackType,
			Confidence: st.CurrentConfidence,
			Window:     obs.Window,
			AgentID:    p.agentID,
		})
	}
	p.dispatch(batch)
}

func (p *pipeline) onThresholds(ctx context.Context, evt eventbus.Event) {
	strategy, ok := evt.Payload.(evolver.Strategy)
	if !ok {
		return
	}
	p.met.evolutions.Inc()
	p.met.bestFitness.Set(strategy.Fitness)
	p.log.Info("evolved thresholds active", structlog.Fields{
		"fitness":           strategy.Fitness,
		"confidence_cutoff": strategy.ConfidenceCutoff,
		"outcomes_used":     strategy.OutcomesUsed,
	})
}

// dispatch applies a batch off the tick path. Surface calls are bounded by
// the engine's timeout, but they still must not delay the next tick.
func (p *pipeline) dispatch(batch []enforce.ApplyRequest) {
	if len(batch) == 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for _, req := range batch {
			a, err := p.engine.Apply(context.Background(), req)
			status := "applied"
			if err != nil {
				status = "failed"
			}
			p.met.actions.WithLabelValues(string(a.Kind), status).Inc()
		}
	}()
}

func (p *pipeline) observation(sourceID string) (detector.Observation, bool) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	obs, ok := p.lastObs[sourceID]
	return obs, ok
}

// snapshotFor exposes the current window to the HTTP boundary (screen path).
func (p *pipeline) snapshotFor(sourceID string) netstats.Snapshot {
	return p.stats.Snapshot(sourceID)
}

func (p *pipeline) screenFloor() float64 {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.cfg.ScreenMinConfidence
}
