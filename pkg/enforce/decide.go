// Package enforce turns risk recommendations into time-bounded enforcement
// actions. Predictive (pre-confirmation) requests pass a four-condition
// safety gate; applied actions expire and are reverted by a background
// sweeper.
package enforce

import (
	"swarmshield/pkg/detector"
	"swarmshield/pkg/trend"
)

// ActionKind is the enforcement verb. The string values are the wire and
// log format.
type ActionKind string

const (
	KindBlock           ActionKind = "block"
	KindRedirectToDecoy ActionKind = "redirect_to_honeypot"
	KindQuarantine      ActionKind = "quarantine"
	KindRateLimit       ActionKind = "rate_limit"
	KindElevatedMonitor ActionKind = "elevated_monitor"
	KindMonitor         ActionKind = "monitor"
)

// ParseKind validates a wire string. Returns false for unknown kinds.
func ParseKind(s string) (ActionKind, bool) {
	switch k := ActionKind(s); k {
	case KindBlock, KindRedirectToDecoy, KindQuarantine, KindRateLimit, KindElevatedMonitor, KindMonitor:
		return k, true
	default:
		return "", false
	}
}

// IsThreatVerdict reports whether taking this action labels the source as a
// real threat in the outcome log. RateLimit is a hedge, not a conviction.
func (k ActionKind) IsThreatVerdict() bool {
	switch k {
	case KindBlock, KindRedirectToDecoy, KindQuarantine:
		return true
	default:
		return false
	}
}

// mutatesExternalState reports whether applying this kind touches the
// enforcement surface. Monitor kinds never do, so they never expire.
func (k ActionKind) mutatesExternalState() bool {
	switch k {
	case KindMonitor, KindElevatedMonitor:
		return false
	default:
		return true
	}
}

// lowConfidenceFloor: below this a confirmed verdict with no explicit
// recommendation degrades to monitoring.
const lowConfidenceFloor = 0.40

// Decide picks the action for a confirmed verdict. An explicit recommended
// kind wins; otherwise the attack type selects the fallback.
func Decide(recommended ActionKind, confidence float64, attackType detector.AttackType) ActionKind {
	if _, ok := ParseKind(string(recommended)); ok && recommended != "" {
		return recommended
	}
	if confidence < lowConfidenceFloor {
		return KindMonitor
	}
	switch attackType {
	case detector.AttackDDoS:
		return KindBlock
	case detector.AttackPortScan:
		return KindRedirectToDecoy
	case detector.AttackExfiltration:
		return KindQuarantine
	}
	if confidence >= 0.60 {
		return KindBlock
	}
	return KindMonitor
}

// PreemptiveRequest asks for a predictive action before confirmation.
type PreemptiveRequest struct {
	SourceID            string              `json:"source_id"`
	AlertState          trend.AlertState    `json:"alert_state"`
	CurrentConfidence   float64             `json:"current_confidence"`
	PredictedConfidence float64             `json:"predicted_confidence"`
	RecommendedAction   ActionKind          `json:"recommended_action"`
	AttackType          detector.AttackType `json:"attack_type"`
	AgentID             string              `json:"agent_id"`
}

// GateResult is the safety-gate verdict. A rejection is a successfully
// handled outcome, not an error.
type GateResult struct {
	Accepted bool       `json:"accepted"`
	Kind     ActionKind `json:"kind,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// DecidePreemptive applies the four-condition safety gate. All four must
// hold: low-impact kind, early-warning state, predicted confidence at or
// above the preemptive gate, current confidence still below the confirm
// gate.
func DecidePreemptive(req PreemptiveRequest, preemptiveGate, confirmGate float64) GateResult {
	if req.RecommendedAction != KindRateLimit && req.RecommendedAction != KindElevatedMonitor {
		return GateResult{Reason: "requested kind is not a low-impact preemptive action"}
	}
	if req.AlertState != trend.StateEarlyWarning {
		return GateResult{Reason: "alert state is not early_warning"}
	}
	if req.PredictedConfidence < preemptiveGate {
		return GateResult{Reason: "predicted confidence below preemptive gate"}
	}
	if req.CurrentConfidence >= confirmGate {
		return GateResult{Reason: "current confidence already at confirm gate; use the confirmed path"}
	}
	return GateResult{Accepted: true, Kind: req.RecommendedAction}
}
