// Package detector scores traffic windows for attack signatures with a
// Monte-Carlo trial loop: each trial perturbs the measured features with
// Gaussian noise and checks per-type trigger rules against the active
// thresholds, so a window sitting near a cutoff yields a graded confidence
// instead of a binary verdict.
package detector

import (
	"math/rand"
	"sync"
	"time"

	"swarmshield/pkg/netstats"
)

// AttackType classifies a scored window.
type AttackType string

const (
	AttackDDoS         AttackType = "ddos"
	AttackPortScan     AttackType = "port_scan"
	AttackExfiltration AttackType = "exfiltration"
	AttackNormal       AttackType = "normal"
)

// AttackTypes lists the scored (non-normal) types in rule order.
var AttackTypes = []AttackType{AttackDDoS, AttackPortScan, AttackExfiltration}

// Observation is the per-source verdict for one tick. Immutable once built.
type Observation struct {
	SourceID   string            `json:"source_id"`
	AttackType AttackType        `json:"attack_type"`
	Confidence float64           `json:"confidence"`
	Window     netstats.Snapshot `json:"window"`
	At         time.Time         `json:"at"`
}

// Score is the detector output for one window.
type Score struct {
	PerType       map[AttackType]float64 `json:"per_type"`
	TopType       AttackType             `json:"top_type"`
	TopConfidence float64                `json:"top_confidence"`
}

const (
	// noiseFraction is the per-trial Gaussian sigma as a fraction of each
	// feature's own value.
	noiseFraction = 0.10
	// reportingFloor: below this the top verdict is reported as normal.
	reportingFloor = 0.10
)

// Detector runs the trial loop. Safe for concurrent Score calls; the RNG is
// guarded so seeded runs stay reproducible.
type Detector struct {
	trials int

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Detector with the given trial count (default 1000) and a
// time-derived seed.
func New(trials int) *Detector {
	if trials <= 0 {
		trials = 1000
	}
	return &Detector{
		trials: trials,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewSeeded creates a Detector with a fixed seed for reproducible runs.
func NewSeeded(trials int, seed int64) *Detector {
	d := New(trials)
	d.rng = rand.New(rand.NewSource(seed))
	return d
}

// Reseed replaces the RNG seed. The production tick driver reseeds per tick.
func (d *Detector) Reseed(seed int64) {
	d.mu.Lock()
	d.rng = rand.New(rand.NewSource(seed))
	d.mu.Unlock()
}

// Score evaluates one window against ts. Confidence per type is the fraction
// of trials whose perturbed features trigger that type's rule.
func (d *Detector) Score(w netstats.Snapshot, ts ThresholdSet) Score {
	hits := map[AttackType]int{}

	d.mu.Lock()
	for i := 0; i < d.trials; i++ {
		rate := perturb(d.rng, w.RatePerSecond)
		handshakes := perturb(d.rng, float64(w.HandshakeStartCount))
		dests := perturb(d.rng, float64(w.UniqueDestCount))
		entropy := perturb(d.rng, w.DestPortEntropyBits)
		byteRate := perturb(d.rng, w.BytesPerSecond)

		if rate >= ts.RatePPS || handshakes >= ts.HandshakeCount {
			hits[AttackDDoS]++
		}
		if dests >= ts.UniqueDests || entropy >= ts.EntropyBits {
			hits[AttackPortScan]++
		}
		if byteRate >= ts.ByteRate {
			hits[AttackExfiltration]++
		}
	}
	d.mu.Unlock()

	score := Score{PerType: make(map[AttackType]float64, len(AttackTypes))}
	n := float64(d.trials)
	for _, at := range AttackTypes {
		conf := float64(hits[at]) / n
		score.PerType[at] = conf
		if conf > score.TopConfidence {
			score.TopConfidence = conf
			score.TopType = at
		}
	}
	if score.TopConfidence < reportingFloor {
		score.TopType = AttackNormal
	}
	return score
}

// Observe scores a window and wraps the top verdict as an Observation.
func (d *Detector) Observe(w netstats.Snapshot, ts ThresholdSet, at time.Time) Observation {
	s := d.Score(w, ts)
	return Observation{
		SourceID:   w.SourceID,
		AttackType: s.TopType,
		Confidence: s.TopConfidence,
		Window:     w,
		At:         at,
	}
}

func perturb(rng *rand.Rand, v float64) float64 {
	if v == 0 {
		return 0
	}
	return v + rng.NormFloat64()*noiseFraction*v
}
