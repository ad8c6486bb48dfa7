// Package trend tracks per-source confidence over time and raises early
// warnings from the predicted next-tick confidence, before the current
// confidence confirms a threat.
package trend

import (
	"context"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"swarmshield/pkg/detector"
	"swarmshield/pkg/eventbus"
)

// AlertState classifies a source for one tick.
type AlertState string

const (
	StateNormal       AlertState = "normal"
	StateElevated     AlertState = "elevated"
	StateEarlyWarning AlertState = "early_warning"
	StateConfirmed    AlertState = "confirmed"
)

// Direction of the fitted confidence trend.
type Direction string

const (
	TrendRising  Direction = "rising"
	TrendFalling Direction = "falling"
	TrendStable  Direction = "stable"
)

// historyCap bounds each source's belief history; oldest point evicted.
const historyCap = 10

// slopeEpsilon separates stable from rising/falling.
const slopeEpsilon = 0.01

type beliefPoint struct {
	at   time.Time
	conf float64
}

// SourceState is the per-source tick outcome.
type SourceState struct {
	SourceID            string              `json:"source_id"`
	AttackType          detector.AttackType `json:"attack_type"`
	State               AlertState          `json:"state"`
	CurrentConfidence   float64             `json:"current_confidence"`
	PredictedConfidence float64             `json:"predicted_confidence"`
	Trend               Direction           `json:"trend"`
}

// TickEvent is published on eventbus.TopicTick every tick.
type TickEvent struct {
	At              time.Time              `json:"at"`
	PerSource       map[string]SourceState `json:"per_source"`
	EarlyWarningIDs []string               `json:"early_warning_ids"`
}

// EarlyWarningEvent is published on eventbus.TopicEarlyWarning only when at
// least one source is in the early-warning state, always after the tick
// event for the same tick.
type EarlyWarningEvent struct {
	At      time.Time     `json:"at"`
	Entries []SourceState `json:"entries"`
}

// Tracker owns the belief histories. Tick is called from the single tick
// driver; the mutex covers concurrent inspection via History.
type Tracker struct {
	mu              sync.Mutex
	history         map[string][]beliefPoint
	confirmCutoff   func() float64
	earlyWarnCutoff float64
	bus             eventbus.Publisher
}

// NewTracker builds a Tracker. confirmCutoff is read per tick so an evolved
// confidence cutoff takes effect without restart; earlyWarnCutoff is a fixed
// configured constant (default 0.40).
func NewTracker(confirmCutoff func() float64, earlyWarnCutoff float64, bus eventbus.Publisher) *Tracker {
	if earlyWarnCutoff <= 0 {
		earlyWarnCutoff = 0.40
	}
	return &Tracker{
		history:         make(map[string][]beliefPoint),
		confirmCutoff:   confirmCutoff,
		earlyWarnCutoff: earlyWarnCutoff,
		bus:             bus,
	}
}

// Tick appends each observation's confidence to its history, fits a linear
// trend, classifies the source, and publishes the tick event (and, when
// warranted, the early-warning event).
func (t *Tracker) Tick(ctx context.Context, observations []detector.Observation) TickEvent {
	now := time.Now()
	cutoff := t.confirmCutoff()

	evt := TickEvent{At: now, PerSource: make(map[string]SourceState, len(observations))}
	var warnings []SourceState

	t.mu.Lock()
	for _, obs := range observations {
		h := append(t.history[obs.SourceID], beliefPoint{at: obs.At, conf: obs.Confidence})
		if len(h) > historyCap {
			h = h[len(h)-historyCap:]
		}
		t.history[obs.SourceID] = h

		predicted, dir := extrapolate(h)
		st := SourceState{
			SourceID:            obs.SourceID,
			AttackType:          obs.AttackType,
			CurrentConfidence:   obs.Confidence,
			PredictedConfidence: predicted,
			Trend:               dir,
			State:               classify(obs.Confidence, predicted, cutoff, t.earlyWarnCutoff),
		}
		evt.PerSource[obs.SourceID] = st
		if st.State == StateEarlyWarning {
			warnings = append(warnings, st)
			evt.EarlyWarningIDs = append(evt.EarlyWarningIDs, obs.SourceID)
		}
	}
	t.mu.Unlock()

	if t.bus != nil {
		// tick always precedes early_warning within one tick
		t.bus.Publish(ctx, eventbus.Event{Type: eventbus.TopicTick, Source: "trend", Payload: evt})
		if len(warnings) > 0 {
			t.bus.Publish(ctx, eventbus.Event{
				Type:    eventbus.TopicEarlyWarning,
				Source:  "trend",
				Payload: EarlyWarningEvent{At: now, Entries: warnings},
			})
		}
	}
	return evt
}

// SetEarlyWarnCutoff retunes the elevated/early-warning boundary, taking
// effect on the next tick. Non-positive values are ignored.
func (t *Tracker) SetEarlyWarnCutoff(v float64) {
	if v <= 0 {
		return
	}
	t.mu.Lock()
	t.earlyWarnCutoff = v
	t.mu.Unlock()
}

// Forget drops a source's history. Called when its window ages out.
func (t *Tracker) Forget(sourceID string) {
	t.mu.Lock()
	delete(t.history, sourceID)
	t.mu.Unlock()
}

// History returns the stored confidence sequence for a source.
func (t *Tracker) History(sourceID string) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.history[sourceID]
	out := make([]float64, len(h))
	for i, p := range h {
		out[i] = p.conf
	}
	return out
}

// extrapolate fits confidence against tick index and predicts one tick
// ahead, clamped to [0,1]. With a single point, predicted = current.
func extrapolate(h []beliefPoint) (float64, Direction) {
	n := len(h)
	if n == 0 {
		return 0, TrendStable
	}
	if n == 1 {
		return h[0].conf, TrendStable
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range h {
		xs[i] = float64(i)
		ys[i] = p.conf
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	predicted := alpha + beta*float64(n)
	if predicted < 0 {
		predicted = 0
	}
	if predicted > 1 {
		predicted = 1
	}

	switch {
	case beta > slopeEpsilon:
		return predicted, TrendRising
	case beta < -slopeEpsilon:
		return predicted, TrendFalling
	default:
		return predicted, TrendStable
	}
}

func classify(current, predicted, confirmCutoff, earlyWarnCutoff float64) AlertState {
	switch {
	case current >= confirmCutoff:
		return StateConfirmed
	case predicted >= confirmCutoff:
		return StateEarlyWarning
	case predicted >= earlyWarnCutoff:
		return StateElevated
	default:
		return StateNormal
	}
}
