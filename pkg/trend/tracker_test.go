package trend

import (
	"context"
	"testing"
	"time"

	"swarmshield/pkg/detector"
	"swarmshield/pkg/eventbus"
)

func fixedCutoff(v float64) func() float64 { return func() float64 { return v } }

func obs(id string, conf float64) detector.Observation {
	return detector.Observation{
		SourceID:   id,
		AttackType: detector.AttackDDoS,
		Confidence: conf,
		At:         time.Now(),
	}
}

func TestClassification(t *testing.T) {
	cases := []struct {
		name      string
		current   float64
		predicted float64
		want      AlertState
	}{
		{"confirmed", 0.65, 0.70, StateConfirmed},
		{"early warning", 0.50, 0.62, StateEarlyWarning},
		{"elevated", 0.30, 0.45, StateElevated},
		{"normal", 0.10, 0.15, StateNormal},
		{"confirmed wins over prediction", 0.60, 0.20, StateConfirmed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.current, tc.predicted, 0.60, 0.40); got != tc.want {
				t.Errorf("classify(%v, %v) = %s, want %s", tc.current, tc.predicted, got, tc.want)
			}
		})
	}
}

func TestSinglePointPredictsCurrent(t *testing.T) {
	tr := NewTracker(fixedCutoff(0.60), 0.40, nil)
	evt := tr.Tick(context.Background(), []detector.Observation{obs("a", 0.33)})
	st := evt.PerSource["a"]
	if st.PredictedConfidence != 0.33 {
		t.Errorf("predicted = %v, want 0.33 with one point", st.PredictedConfidence)
	}
	if st.Trend != TrendStable {
		t.Errorf("trend = %s, want stable", st.Trend)
	}
}

func TestRisingTrendRaisesEarlyWarning(t *testing.T) {
	tr := NewTracker(fixedCutoff(0.60), 0.40, nil)
	ctx := context.Background()

	// steady climb toward the cutoff; prediction crosses it before current
	var last TickEvent
	for _, c := range []float64{0.30, 0.38, 0.46, 0.54} {
		last = tr.Tick(ctx, []detector.Observation{obs("climber", c)})
	}
	st := last.PerSource["climber"]
	if st.Trend != TrendRising {
		t.Errorf("trend = %s, want rising", st.Trend)
	}
	if st.State != StateEarlyWarning {
		t.Errorf("state = %s (predicted %v), want early_warning", st.State, st.PredictedConfidence)
	}
	if len(last.EarlyWarningIDs) != 1 || last.EarlyWarningIDs[0] != "climber" {
		t.Errorf("early warning ids = %v", last.EarlyWarningIDs)
	}
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	tr := NewTracker(fixedCutoff(0.60), 0.40, nil)
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		tr.Tick(ctx, []detector.Observation{obs("a", float64(i)/20)})
	}
	h := tr.History("a")
	if len(h) != historyCap {
		t.Fatalf("history length = %d, want %d", len(h), historyCap)
	}
	if h[0] != 5.0/20 {
		t.Errorf("oldest retained point = %v, want %v", h[0], 5.0/20)
	}
}

func TestEarlyWarnCutoffRetune(t *testing.T) {
	tr := NewTracker(fixedCutoff(0.60), 0.40, nil)
	ctx := context.Background()

	evt := tr.Tick(ctx, []detector.Observation{obs("a", 0.30)})
	if st := evt.PerSource["a"]; st.State != StateNormal {
		t.Fatalf("state before retune = %s, want normal", st.State)
	}

	tr.SetEarlyWarnCutoff(0.25)
	evt = tr.Tick(ctx, []detector.Observation{obs("b", 0.30)})
	if st := evt.PerSource["b"]; st.State != StateElevated {
		t.Errorf("state after retune = %s, want elevated", st.State)
	}

	// non-positive values keep the current boundary
	tr.SetEarlyWarnCutoff(0)
	evt = tr.Tick(ctx, []detector.Observation{obs("c", 0.30)})
	if st := evt.PerSource["c"]; st.State != StateElevated {
		t.Errorf("state after zero retune = %s, want elevated", st.State)
	}
}

func TestTickPublishedBeforeEarlyWarning(t *testing.T) {
	bus := eventbus.NewBus()
	var order []string
	bus.Subscribe(eventbus.TopicTick, func(ctx context.Context, evt eventbus.Event) {
		order = append(order, evt.Type)
	})
	bus.Subscribe(eventbus.TopicEarlyWarning, func(ctx context.Context, evt eventbus.Event) {
		order = append(order, evt.Type)
	})

	tr := NewTracker(fixedCutoff(0.60), 0.40, bus)
	ctx := context.Background()
	for _, c := range []float64{0.30, 0.40, 0.50, 0.58} {
		tr.Tick(ctx, []detector.Observation{obs("a", c)})
	}

	sawWarning := false
	for i, topic := range order {
		if topic == eventbus.TopicEarlyWarning {
			sawWarning = true
			if i == 0 || order[i-1] != eventbus.TopicTick {
				t.Errorf("early_warning at %d not preceded by tick: %v", i, order)
			}
		}
	}
	if !sawWarning {
		t.Fatal("no early warning published for a rising source")
	}
}

func TestConfirmedSkipsWarningEvent(t *testing.T) {
	bus := eventbus.NewBus()
	warned := false
	bus.Subscribe(eventbus.TopicEarlyWarning, func(ctx context.Context, evt eventbus.Event) { warned = true })

	tr := NewTracker(fixedCutoff(0.60), 0.40, bus)
	evt := tr.Tick(context.Background(), []detector.Observation{obs("hot", 0.90)})
	if st := evt.PerSource["hot"]; st.State != StateConfirmed {
		t.Fatalf("state = %s, want confirmed", st.State)
	}
	if warned {
		t.Error("confirmed source must not emit early_warning")
	}
}
