// Package screen consumes the output of an external multi-class traffic
// classifier as a second-opinion signal and maps its labels onto
// enforcement kinds. The classifier itself is an opaque collaborator that
// posts its verdicts to the HTTP boundary.
package screen

import (
	"swarmshield/pkg/detector"
	"swarmshield/pkg/enforce"
)

// DefaultMinConfidence: verdicts below this floor are ignored.
const DefaultMinConfidence = 0.60

// Verdict is one classifier output.
type Verdict struct {
	SourceID   string  `json:"source_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Mapping is the screen's decision for a verdict.
type Mapping struct {
	Kind       enforce.ActionKind
	AttackType detector.AttackType
	Ignored    bool
	Reason     string
}

// labelActions maps classifier labels onto enforcement kinds.
var labelActions = map[string]struct {
	kind enforce.ActionKind
	at   detector.AttackType
}{
	"DDoS":         {enforce.KindBlock, detector.AttackDDoS},
	"DoS":          {enforce.KindBlock, detector.AttackDDoS},
	"Bot":          {enforce.KindBlock, detector.AttackDDoS},
	"Patator":      {enforce.KindBlock, detector.AttackNormal},
	"Web Attack":   {enforce.KindBlock, detector.AttackNormal},
	"PortScan":     {enforce.KindRedirectToDecoy, detector.AttackPortScan},
	"Infiltration": {enforce.KindQuarantine, detector.AttackExfiltration},
}

// Map converts a verdict into an enforcement mapping. Unknown labels and
// verdicts below the confidence floor are ignored, not errors.
func Map(v Verdict, minConfidence float64) Mapping {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	if v.Confidence < minConfidence {
		return Mapping{Ignored: true, Reason: "confidence below screen floor"}
	}
	entry, ok := labelActions[v.Label]
	if !ok {
		return Mapping{Ignored: true, Reason: "label carries no enforcement mapping"}
	}
	return Mapping{Kind: entry.kind, AttackType: entry.at}
}
