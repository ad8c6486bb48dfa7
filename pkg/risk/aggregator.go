// Package risk combines detection confidence with simulated spread into a
// single score, level, and ranked action recommendations.
package risk

import (
	"fmt"
	"sort"

	"swarmshield/pkg/detector"
	"swarmshield/pkg/enforce"
	"swarmshield/pkg/threatgraph"
	"swarmshield/pkg/trend"
)

// Level buckets a risk score.
type Level string

const (
	LevelNone   Level = "none"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

const (
	highCutoff   = 0.70
	mediumCutoff = 0.40

	confidenceWeight = 0.6
	spreadWeight     = 0.4

	// predicted confidence at or above this earns a rate limit instead of
	// elevated monitoring on the predictive path
	rateLimitFloor = 0.50
)

// Recommendation is one ranked action suggestion.
type Recommendation struct {
	SourceID   string              `json:"source_id"`
	AttackType detector.AttackType `json:"attack_type"`
	Confidence float64             `json:"confidence"`
	Action     enforce.ActionKind  `json:"action"`
}

// Assessment is the full risk picture for one batch of observations.
type Assessment struct {
	RiskLevel       Level            `json:"risk_level"`
	RiskScore       float64          `json:"risk_score"`
	MaxConfidence   float64          `json:"max_confidence"`
	AvgSpread       float64          `json:"avg_spread"`
	MaxSpread       float64          `json:"max_spread"`
	TrialCount      int              `json:"trial_count"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Assess scores the batch: spread statistics over the propagation trials,
// riskScore = min(1, 0.6·maxConfidence + 0.4·avgSpread), and observations
// ranked by confidence with their suggested actions.
func Assess(observations []detector.Observation, g *threatgraph.Graph, trials []threatgraph.Trial) Assessment {
	a := Assessment{TrialCount: len(trials)}
	if g != nil {
		a.MaxConfidence = g.MaxConfidence()
	}

	if g != nil && len(g.Nodes) > 0 && len(trials) > 0 {
		total := float64(len(g.Nodes))
		sum := 0.0
		for _, tr := range trials {
			spread := float64(tr.NodesReached) / total
			sum += spread
			if spread > a.MaxSpread {
				a.MaxSpread = spread
			}
		}
		a.AvgSpread = sum / float64(len(trials))
	}

	a.RiskScore = confidenceWeight*a.MaxConfidence + spreadWeight*a.AvgSpread
	if a.RiskScore > 1 {
		a.RiskScore = 1
	}
	a.RiskLevel = levelFor(a.RiskScore)
	a.Recommendations = rank(observations)
	return a
}

func levelFor(score float64) Level {
	switch {
	case score >= highCutoff:
		return LevelHigh
	case score >= mediumCutoff:
		return LevelMedium
	case score > 0:
		return LevelLow
	default:
		return LevelNone
	}
}

func rank(observations []detector.Observation) []Recommendation {
	recs := make([]Recommendation, 0, len(observations))
	for _, obs := range observations {
		recs = append(recs, Recommendation{
			SourceID:   obs.SourceID,
			AttackType: obs.AttackType,
			Confidence: obs.Confidence,
			Action:     actionFor(obs.AttackType),
		})
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Confidence > recs[j].Confidence })
	return recs
}

func actionFor(at detector.AttackType) enforce.ActionKind {
	switch at {
	case detector.AttackDDoS:
		return enforce.KindBlock
	case detector.AttackPortScan:
		return enforce.KindRedirectToDecoy
	case detector.AttackExfiltration:
		return enforce.KindQuarantine
	default:
		return enforce.KindMonitor
	}
}

// PredictiveRecommendation is the reduced assessment for an early-warning
// source. Only low-impact kinds are ever suggested here.
type PredictiveRecommendation struct {
	SourceID  string             `json:"source_id"`
	Action    enforce.ActionKind `json:"action"`
	Reasoning string             `json:"reasoning"`
}

// AssessPredictive maps early-warning states to rate-limit or
// elevated-monitor suggestions. Never recommends block, redirect or
// quarantine.
func AssessPredictive(entries []trend.SourceState) []PredictiveRecommendation {
	out := make([]PredictiveRecommendation, 0, len(entries))
	for _, st := range entries {
		rec := PredictiveRecommendation{SourceID: st.SourceID}
		if st.PredictedConfidence >= rateLimitFloor && st.Trend == trend.TrendRising {
			rec.Action = enforce.KindRateLimit
			rec.Reasoning = fmt.Sprintf("confidence %.2f predicted to reach %.2f on a rising trend", st.CurrentConfidence, st.PredictedConfidence)
		} else {
			rec.Action = enforce.KindElevatedMonitor
			rec.Reasoning = fmt.Sprintf("predicted confidence %.2f does not justify rate limiting yet", st.PredictedConfidence)
		}
		out = append(out, rec)
	}
	return out
}
