package enforce

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"swarmshield/pkg/detector"
	"swarmshield/pkg/eventbus"
	"swarmshield/pkg/evolver"
	"swarmshield/pkg/netstats"
	"swarmshield/pkg/structlog"
)

// ErrEnforcementFailed wraps a surface call that failed after its retry.
var ErrEnforcementFailed = errors.New("enforcement surface call failed")

// Action is one enforcement decision and its lifecycle state.
type Action struct {
	ID         string              `json:"id"`
	SourceID   string              `json:"source_id"`
	Kind       ActionKind          `json:"kind"`
	AttackType detector.AttackType `json:"attack_type"`
	Confidence float64             `json:"confidence"`
	AgentID    string              `json:"agent_id,omitempty"`
	AppliedAt  time.Time           `json:"applied_at"`
	ExpiresAt  *time.Time          `json:"expires_at,omitempty"`
	Succeeded  bool                `json:"succeeded"`
	RevertedAt *time.Time          `json:"reverted_at,omitempty"`
}

// ApplyRequest carries everything Apply needs to act and to record the
// outcome.
type ApplyRequest struct {
	SourceID   string
	Kind       ActionKind
	AttackType detector.AttackType
	Confidence float64
	Window     netstats.Snapshot
	AgentID    string
}

// ActionEvent is published on eventbus.TopicAction.
type ActionEvent struct {
	Action Action `json:"action"`
	Status string `json:"status"` // applied, apply_failed, reverted
}

// Config bounds the engine's timing behavior.
type Config struct {
	AutoUnblock      time.Duration // expiry for block/redirect/quarantine
	PreemptiveExpire time.Duration // expiry for rate_limit
	SurfaceTimeout   time.Duration // per surface call
	RetryBackoff     time.Duration
}

// DefaultConfig returns the standard expiry windows.
func DefaultConfig() Config {
	return Config{
		AutoUnblock:      300 * time.Second,
		PreemptiveExpire: 60 * time.Second,
		SurfaceTimeout:   5 * time.Second,
		RetryBackoff:     500 * time.Millisecond,
	}
}

// Engine owns the active-action table. The table lock covers only map
// access; surface I/O runs outside it behind a per-source in-flight marker,
// so apply and sweep-revert for one source never interleave while table
// reads stay non-blocking.
type Engine struct {
	opMu     sync.Mutex
	opFree   *sync.Cond
	active   map[string]Action
	inflight map[string]bool
	surface  Surface
	cfg      Config
	log      *structlog.Logger

	store    *ActionStore
	outcomes *evolver.OutcomeLog
	bus      eventbus.Publisher
	now      func() time.Time
}

// NewEngine creates an Engine over the given surface.
func NewEngine(surface Surface, cfg Config, log *structlog.Logger) *Engine {
	if cfg.AutoUnblock <= 0 {
		cfg = DefaultConfig()
	}
	e := &Engine{
		active:   make(map[string]Action),
		inflight: make(map[string]bool),
		surface:  surface,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
	e.opFree = sync.NewCond(&e.opMu)
	return e
}

// acquireSource marks a source's surface call in flight, waiting out any
// call already running for the same source.
func (e *Engine) acquireSource(sourceID string) {
	e.opMu.Lock()
	for e.inflight[sourceID] {
		e.opFree.Wait()
	}
	e.inflight[sourceID] = true
	e.opMu.Unlock()
}

// releaseSourceLocked clears the in-flight marker. Caller holds opMu.
func (e *Engine) releaseSourceLocked(sourceID string) {
	delete(e.inflight, sourceID)
	e.opFree.Broadcast()
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// AttachStore wires the persistent action store and restores any actions it
// holds, so sweeping resumes across restarts.
func (e *Engine) AttachStore(store *ActionStore) error {
	actions, err := store.LoadAll()
	if err != nil {
		return err
	}
	e.opMu.Lock()
	e.store = store
	for _, a := range actions {
		if a.RevertedAt == nil {
			e.active[a.SourceID] = a
		}
	}
	e.opMu.Unlock()
	return nil
}

// AttachOutcomeLog wires the outcome recorder.
func (e *Engine) AttachOutcomeLog(l *evolver.OutcomeLog) { e.outcomes = l }

// AttachBus wires the event publisher.
func (e *Engine) AttachBus(bus eventbus.Publisher) { e.bus = bus }

func (e *Engine) expiryFor(kind ActionKind, appliedAt time.Time) *time.Time {
	switch kind {
	case KindBlock, KindRedirectToDecoy, KindQuarantine:
		t := appliedAt.Add(e.cfg.AutoUnblock)
		return &t
	case KindRateLimit:
		t := appliedAt.Add(e.cfg.PreemptiveExpire)
		return &t
	default:
		return nil
	}
}

// Apply executes the action against the surface and records the outcome.
// Monitor kinds skip the surface entirely. A surface failure (after one
// retry) yields succeeded=false but the action stays active with its
// original expiry so the sweeper still attempts reversal.
func (e *Engine) Apply(ctx context.Context, req ApplyRequest) (Action, error) {
	now := e.now()
	a := Action{
		ID:         uuid.NewString(),
		SourceID:   req.SourceID,
		Kind:       req.Kind,
		AttackType: req.AttackType,
		Confidence: req.Confidence,
		AgentID:    req.AgentID,
		AppliedAt:  now,
		ExpiresAt:  e.expiryFor(req.Kind, now),
		Succeeded:  true,
	}

	var applyErr error
	if req.Kind.mutatesExternalState() {
		e.acquireSource(a.SourceID)
		applyErr = e.callSurface(ctx, a, e.surface.Apply)
		if applyErr != nil {
			a.Succeeded = false
		}
		e.opMu.Lock()
		// a new action for the same source supersedes the previous one
		e.active[a.SourceID] = a
		if e.store != nil {
			if err := e.store.Save(a); err != nil {
				e.log.Error("persist action failed", structlog.Fields{"source_id": a.SourceID, "error": err.Error()})
			}
		}
		e.releaseSourceLocked(a.SourceID)
		e.opMu.Unlock()
	}

	e.recordOutcome(req, a)
	e.publish(ctx, a, statusFor(applyErr))

	if applyErr != nil {
		e.log.Error("apply failed", structlog.Fields{
			"source_id": a.SourceID,
			"kind":      string(a.Kind),
			"error":     applyErr.Error(),
		})
		return a, errors.Join(ErrEnforcementFailed, applyErr)
	}
	e.log.Info("action applied", structlog.Fields{
		"source_id":  a.SourceID,
		"kind":       string(a.Kind),
		"confidence": a.Confidence,
	})
	return a, nil
}

func statusFor(err error) string {
	if err != nil {
		return "apply_failed"
	}
	return "applied"
}

func (e *Engine) recordOutcome(req ApplyRequest, a Action) {
	if e.outcomes == nil {
		return
	}
	rec := evolver.OutcomeRecord{
		SourceID:    a.SourceID,
		Window:      req.Window,
		AttackType:  a.AttackType,
		Confidence:  a.Confidence,
		ActionTaken: string(a.Kind),
		WasThreat:   a.Kind.IsThreatVerdict(),
		At:          a.AppliedAt,
	}
	if err := e.outcomes.Append(rec); err != nil {
		e.log.Error("record outcome failed", structlog.Fields{"source_id": a.SourceID, "error": err.Error()})
	}
}

func (e *Engine) publish(ctx context.Context, a Action, status string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, eventbus.Event{
		Type:    eventbus.TopicAction,
		Source:  "enforce",
		Payload: ActionEvent{Action: a, Status: status},
	})
}

// callSurface runs fn with a bounded timeout, retrying once.
func (e *Engine) callSurface(ctx context.Context, a Action, fn func(context.Context, Action) error) error {
	attempt := func() error {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.SurfaceTimeout)
		defer cancel()
		return fn(cctx, a)
	}
	err := attempt()
	if err == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return err
	case <-time.After(e.cfg.RetryBackoff):
	}
	return attempt()
}

// Sweep reverts every active action past its expiry. Safe to re-run:
// already-reverted actions are gone from the table, so a second pass over
// the same expired set is a no-op.
func (e *Engine) Sweep(ctx context.Context) int {
	now := e.now()

	e.opMu.Lock()
	var expired []Action
	for _, a := range e.active {
		if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
			expired = append(expired, a)
		}
	}
	e.opMu.Unlock()

	reverted := 0
	for _, a := range expired {
		e.opMu.Lock()
		cur, ok := e.active[a.SourceID]
		if !ok || cur.ID != a.ID || e.inflight[a.SourceID] {
			// superseded, already swept, or an apply is in flight
			e.opMu.Unlock()
			continue
		}
		e.inflight[a.SourceID] = true
		e.opMu.Unlock()

		// the in-flight marker keeps the table entry stable across the call
		err := e.callSurface(ctx, a, e.surface.Revert)

		e.opMu.Lock()
		e.releaseSourceLocked(a.SourceID)
		if err != nil {
			e.opMu.Unlock()
			e.log.Warn("revert failed, retrying next sweep", structlog.Fields{
				"source_id": a.SourceID,
				"kind":      string(a.Kind),
				"error":     err.Error(),
			})
			continue
		}
		t := e.now()
		a.RevertedAt = &t
		delete(e.active, a.SourceID)
		if e.store != nil {
			if derr := e.store.Delete(a.SourceID); derr != nil {
				e.log.Error("delete persisted action failed", structlog.Fields{"source_id": a.SourceID, "error": derr.Error()})
			}
		}
		e.opMu.Unlock()

		reverted++
		e.publish(ctx, a, "reverted")
		e.log.Info("action reverted", structlog.Fields{"source_id": a.SourceID, "kind": string(a.Kind)})
	}
	return reverted
}

// RunSweeper loops Sweep on the given interval until ctx is cancelled.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Sweep(ctx)
		}
	}
}

// HasActive reports whether a source currently has an active action.
func (e *Engine) HasActive(sourceID string) bool {
	_, ok := e.ActiveKind(sourceID)
	return ok
}

// ActiveKind returns the kind of a source's active action, if any.
func (e *Engine) ActiveKind(sourceID string) (ActionKind, bool) {
	e.opMu.Lock()
	a, ok := e.active[sourceID]
	e.opMu.Unlock()
	return a.Kind, ok
}

// ActiveActions returns the active table sorted by source id.
func (e *Engine) ActiveActions() []Action {
	e.opMu.Lock()
	out := make([]Action, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, a)
	}
	e.opMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}
