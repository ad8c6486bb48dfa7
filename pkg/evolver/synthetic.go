package evolver

import (
	"fmt"
	"time"

	"swarmshield/pkg/detector"
	"swarmshield/pkg/netstats"
)

// SyntheticOutcomes is the built-in training fallback: a fixed mixed batch
// of attack and benign windows with known labels, so the GA has something to
// optimize against before any real outcome exists.
func SyntheticOutcomes() []OutcomeRecord {
	type scenario struct {
		attackType detector.AttackType
		rate       float64
		byteRate   float64
		dests      int
		handshakes int
		entropy    float64
		threat     bool
		action     string
	}
	scenarios := []scenario{
		// volumetric floods
		{detector.AttackDDoS, 800, 400000, 3, 500, 0.8, true, "block"},
		{detector.AttackDDoS, 1200, 700000, 2, 900, 0.5, true, "block"},
		{detector.AttackDDoS, 650, 300000, 4, 420, 1.1, true, "block"},
		// scans
		{detector.AttackPortScan, 80, 20000, 35, 15, 4.5, true, "redirect_to_honeypot"},
		{detector.AttackPortScan, 120, 30000, 60, 20, 5.2, true, "redirect_to_honeypot"},
		// exfiltration
		{detector.AttackExfiltration, 90, 800000, 2, 5, 0.9, true, "quarantine"},
		{detector.AttackExfiltration, 150, 1200000, 3, 8, 1.2, true, "quarantine"},
		// benign baselines
		{detector.AttackNormal, 30, 15000, 5, 10, 1.8, false, "monitor"},
		{detector.AttackNormal, 55, 40000, 8, 25, 2.4, false, "monitor"},
		{detector.AttackNormal, 12, 8000, 3, 4, 1.1, false, "monitor"},
		{detector.AttackNormal, 75, 60000, 10, 40, 2.9, false, "monitor"},
		{detector.AttackNormal, 40, 22000, 6, 18, 2.0, false, "monitor"},
	}

	now := time.Now()
	out := make([]OutcomeRecord, 0, len(scenarios))
	for i, sc := range scenarios {
		id := fmt.Sprintf("synthetic-%d", i)
		out = append(out, OutcomeRecord{
			SourceID: id,
			Window: netstats.Snapshot{
				SourceID:            id,
				RatePerSecond:       sc.rate,
				BytesPerSecond:      sc.byteRate,
				UniqueDestCount:     sc.dests,
				HandshakeStartCount: sc.handshakes,
				DestPortEntropyBits: sc.entropy,
				SampleCount:         int(sc.rate * 60),
			},
			AttackType:  sc.attackType,
			Confidence:  0.5,
			ActionTaken: sc.action,
			WasThreat:   sc.threat,
			At:          now,
		})
	}
	return out
}
