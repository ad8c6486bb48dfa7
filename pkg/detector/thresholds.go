package detector

import "sync/atomic"

// ThresholdSet holds the six evolvable cutoffs the detector scores against.
// A set is immutable once published; the evolver installs a replacement
// through Store.Swap, never by mutating fields in place.
type ThresholdSet struct {
	RatePPS          float64 `json:"ddos_pps_threshold"`
	HandshakeCount   float64 `json:"ddos_syn_threshold"`
	UniqueDests      float64 `json:"port_scan_unique_ip_thresh"`
	EntropyBits      float64 `json:"port_scan_entropy_threshold"`
	ByteRate         float64 `json:"exfil_bps_threshold"`
	ConfidenceCutoff float64 `json:"confidence_threshold"`
}

// Range bounds one cutoff.
type Range struct {
	Min float64
	Max float64
}

// Bounds returns the valid range per cutoff, in genome order.
func Bounds() [6]Range {
	return [6]Range{
		{50, 2000},       // rate pps
		{20, 1000},       // handshake count
		{2, 100},         // unique dests
		{1, 6},           // entropy bits
		{10000, 2000000}, // byte rate
		{0.30, 0.90},     // confidence cutoff
	}
}

// DefaultThresholds is the known-good starting point.
func DefaultThresholds() ThresholdSet {
	return ThresholdSet{
		RatePPS:          500,
		HandshakeCount:   300,
		UniqueDests:      20,
		EntropyBits:      3.5,
		ByteRate:         500000,
		ConfidenceCutoff: 0.60,
	}
}

// Vector returns the cutoffs in genome order.
func (ts ThresholdSet) Vector() [6]float64 {
	return [6]float64{ts.RatePPS, ts.HandshakeCount, ts.UniqueDests, ts.EntropyBits, ts.ByteRate, ts.ConfidenceCutoff}
}

// FromVector maps a genome-ordered vector back onto a ThresholdSet.
func FromVector(v [6]float64) ThresholdSet {
	return ThresholdSet{
		RatePPS:          v[0],
		HandshakeCount:   v[1],
		UniqueDests:      v[2],
		EntropyBits:      v[3],
		ByteRate:         v[4],
		ConfidenceCutoff: v[5],
	}
}

// Clamp returns a copy with every cutoff forced into its valid range.
func (ts ThresholdSet) Clamp() ThresholdSet {
	v := ts.Vector()
	bounds := Bounds()
	for i := range v {
		if v[i] < bounds[i].Min {
			v[i] = bounds[i].Min
		}
		if v[i] > bounds[i].Max {
			v[i] = bounds[i].Max
		}
	}
	return FromVector(v)
}

// Store publishes the active ThresholdSet. Single writer (the evolver's
// apply), many readers (the detector, once per trial batch). Readers always
// observe a complete set.
type Store struct {
	cur atomic.Pointer[ThresholdSet]
}

// NewStore creates a Store seeded with ts.
func NewStore(ts ThresholdSet) *Store {
	s := &Store{}
	s.Swap(ts)
	return s
}

// Load returns the active set.
func (s *Store) Load() ThresholdSet { return *s.cur.Load() }

// Swap atomically replaces the active set.
func (s *Store) Swap(ts ThresholdSet) {
	copied := ts
	s.cur.Store(&copied)
}
