package risk

import (
	"math"
	"testing"

	"swarmshield/pkg/detector"
	"swarmshield/pkg/enforce"
	"swarmshield/pkg/threatgraph"
	"swarmshield/pkg/trend"
)

func obs(id string, at detector.AttackType, conf float64) detector.Observation {
	return detector.Observation{SourceID: id, AttackType: at, Confidence: conf}
}

func TestRiskScoreWeighting(t *testing.T) {
	observations := []detector.Observation{
		obs("a", detector.AttackDDoS, 0.8),
		obs("b", detector.AttackDDoS, 0.8),
	}
	g := threatgraph.Build(observations)
	// two nodes; trials reaching one of two nodes = spread 0.5
	trials := []threatgraph.Trial{
		{EntryNode: "a", NodesReached: 1},
		{EntryNode: "a", NodesReached: 1},
	}

	a := Assess(observations, g, trials)
	if math.Abs(a.RiskScore-0.68) > 1e-9 {
		t.Errorf("risk score = %v, want 0.68", a.RiskScore)
	}
	if a.RiskLevel != LevelMedium {
		t.Errorf("risk level = %s, want medium (0.68 < 0.70)", a.RiskLevel)
	}
}

func TestLevelBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{0.70, LevelHigh},
		{0.69, LevelMedium},
		{0.40, LevelMedium},
		{0.39, LevelLow},
		{0.01, LevelLow},
		{0, LevelNone},
	}
	for _, tc := range cases {
		if got := levelFor(tc.score); got != tc.want {
			t.Errorf("levelFor(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestEmptyGraphAssessment(t *testing.T) {
	a := Assess(nil, threatgraph.Build(nil), nil)
	if a.RiskScore != 0 || a.RiskLevel != LevelNone {
		t.Errorf("empty assessment = %+v, want zero/none", a)
	}
}

func TestRecommendationsRankedAndMapped(t *testing.T) {
	observations := []detector.Observation{
		obs("low", detector.AttackPortScan, 0.55),
		obs("high", detector.AttackDDoS, 0.90),
		obs("mid", detector.AttackExfiltration, 0.70),
	}
	a := Assess(observations, threatgraph.Build(observations), nil)

	if len(a.Recommendations) != 3 {
		t.Fatalf("recommendations = %d, want 3", len(a.Recommendations))
	}
	order := []string{"high", "mid", "low"}
	actions := []enforce.ActionKind{enforce.KindBlock, enforce.KindQuarantine, enforce.KindRedirectToDecoy}
	for i, rec := range a.Recommendations {
		if rec.SourceID != order[i] {
			t.Errorf("rank %d = %s, want %s", i, rec.SourceID, order[i])
		}
		if rec.Action != actions[i] {
			t.Errorf("rank %d action = %s, want %s", i, rec.Action, actions[i])
		}
	}
}

func TestAssessPredictive(t *testing.T) {
	entries := []trend.SourceState{
		{SourceID: "rising", PredictedConfidence: 0.62, CurrentConfidence: 0.5, Trend: trend.TrendRising},
		{SourceID: "flat", PredictedConfidence: 0.62, CurrentConfidence: 0.5, Trend: trend.TrendStable},
		{SourceID: "weak", PredictedConfidence: 0.42, CurrentConfidence: 0.3, Trend: trend.TrendRising},
	}
	recs := AssessPredictive(entries)
	if recs[0].Action != enforce.KindRateLimit {
		t.Errorf("rising source action = %s, want rate_limit", recs[0].Action)
	}
	if recs[1].Action != enforce.KindElevatedMonitor {
		t.Errorf("stable source action = %s, want elevated_monitor", recs[1].Action)
	}
	if recs[2].Action != enforce.KindElevatedMonitor {
		t.Errorf("weak prediction action = %s, want elevated_monitor", recs[2].Action)
	}
	for _, r := range recs {
		if r.Action.IsThreatVerdict() {
			t.Errorf("predictive path suggested high-impact action %s", r.Action)
		}
	}
}
