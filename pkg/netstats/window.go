// Package netstats maintains per-source sliding windows of traffic samples
// and derives the rate and entropy features the detector scores against.
package netstats

import (
	"math"
	"sync"
	"time"
)

// Sample is one observed traffic record. Samples are ephemeral; they are
// consumed into window aggregation and dropped once older than the horizon.
type Sample struct {
	SourceID         string  `json:"source_id"`
	DestID           string  `json:"dest_id"`
	DestPort         int     `json:"dest_port"`
	Protocol         string  `json:"protocol"`
	SizeBytes        int     `json:"size_bytes"`
	AtUnixSeconds    float64 `json:"at_unix_seconds"`
	IsHandshakeStart bool    `json:"is_handshake_start"`
}

// Snapshot is the feature view of one source's window at a point in time.
type Snapshot struct {
	SourceID            string  `json:"source_id"`
	RatePerSecond       float64 `json:"rate_per_second"`
	BytesPerSecond      float64 `json:"bytes_per_second"`
	UniqueDestCount     int     `json:"unique_dest_count"`
	HandshakeStartCount int     `json:"handshake_start_count"`
	DestPortEntropyBits float64 `json:"dest_port_entropy_bits"`
	SampleCount         int     `json:"sample_count"`
	AtUnixSeconds       float64 `json:"at_unix_seconds"`
}

// Engine owns one window per observed source. Writes happen from the tick
// driver; snapshots copy under the read lock so concurrent readers never see
// a window mid-trim.
type Engine struct {
	mu      sync.RWMutex
	windows map[string][]Sample
	horizon time.Duration
	now     func() time.Time
}

// NewEngine creates an Engine with the given window horizon.
func NewEngine(horizon time.Duration) *Engine {
	if horizon <= 0 {
		horizon = 60 * time.Second
	}
	return &Engine{
		windows: make(map[string][]Sample),
		horizon: horizon,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Ingest appends samples to their source windows and trims every touched
// window to the horizon.
func (e *Engine) Ingest(samples []Sample) {
	if len(samples) == 0 {
		return
	}
	cutoff := float64(e.now().Unix()) - e.horizon.Seconds()
	e.mu.Lock()
	defer e.mu.Unlock()
	touched := make(map[string]bool, 4)
	for _, s := range samples {
		e.windows[s.SourceID] = append(e.windows[s.SourceID], s)
		touched[s.SourceID] = true
	}
	for id := range touched {
		e.windows[id] = trim(e.windows[id], cutoff)
	}
}

// Prune drops expired samples from every window and removes empty windows.
// Called once per tick so idle sources age out.
func (e *Engine) Prune() {
	cutoff := float64(e.now().Unix()) - e.horizon.Seconds()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, w := range e.windows {
		w = trim(w, cutoff)
		if len(w) == 0 {
			delete(e.windows, id)
		} else {
			e.windows[id] = w
		}
	}
}

func trim(w []Sample, cutoff float64) []Sample {
	i := 0
	for i < len(w) && w[i].AtUnixSeconds < cutoff {
		i++
	}
	if i == 0 {
		return w
	}
	return append(w[:0:0], w[i:]...)
}

// Sources lists source ids with a non-empty window.
func (e *Engine) Sources() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.windows))
	for id, w := range e.windows {
		if len(w) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot computes the feature view for one source. An unknown or empty
// window yields zero rates and zero entropy.
func (e *Engine) Snapshot(sourceID string) Snapshot {
	e.mu.RLock()
	w := append([]Sample(nil), e.windows[sourceID]...)
	horizon := e.horizon.Seconds()
	e.mu.RUnlock()

	snap := Snapshot{
		SourceID:      sourceID,
		SampleCount:   len(w),
		AtUnixSeconds: float64(e.now().Unix()),
	}
	if len(w) == 0 {
		return snap
	}

	totalBytes := 0
	dests := make(map[string]bool, len(w))
	ports := make(map[int]int, len(w))
	for _, s := range w {
		totalBytes += s.SizeBytes
		dests[s.DestID] = true
		ports[s.DestPort]++
		if s.IsHandshakeStart {
			snap.HandshakeStartCount++
		}
	}
	snap.RatePerSecond = float64(len(w)) / horizon
	snap.BytesPerSecond = float64(totalBytes) / horizon
	snap.UniqueDestCount = len(dests)
	snap.DestPortEntropyBits = portEntropy(ports, len(w))
	return snap
}

// portEntropy is Shannon entropy (base 2) over the destination port
// distribution of the window.
func portEntropy(counts map[int]int, total int) float64 {
	if total == 0 {
		return 0
	}
	entropy := 0.0
	n := float64(total)
	for _, c := range counts {
		if c > 0 {
			p := float64(c) / n
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}
