package netstats

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func fixedClock(at int64) func() time.Time {
	return func() time.Time { return time.Unix(at, 0) }
}

func TestSnapshotEmptyWindow(t *testing.T) {
	e := NewEngine(60 * time.Second)
	snap := e.Snapshot("unknown")
	if snap.RatePerSecond != 0 || snap.BytesPerSecond != 0 || snap.DestPortEntropyBits != 0 {
		t.Errorf("empty window produced non-zero features: %+v", snap)
	}
}

func TestSnapshotFeatures(t *testing.T) {
	e := NewEngine(60 * time.Second)
	now := int64(1000)
	e.SetClock(fixedClock(now))

	samples := make([]Sample, 0, 120)
	for i := 0; i < 120; i++ {
		samples = append(samples, Sample{
			SourceID:         "10.0.0.5",
			DestID:           "10.0.1.1",
			DestPort:         443,
			SizeBytes:        500,
			AtUnixSeconds:    float64(now) - 10,
			IsHandshakeStart: i%2 == 0,
		})
	}
	e.Ingest(samples)

	snap := e.Snapshot("10.0.0.5")
	if got, want := snap.RatePerSecond, 2.0; got != want {
		t.Errorf("rate = %v, want %v", got, want)
	}
	if got, want := snap.BytesPerSecond, 1000.0; got != want {
		t.Errorf("byte rate = %v, want %v", got, want)
	}
	if snap.UniqueDestCount != 1 {
		t.Errorf("unique dests = %d, want 1", snap.UniqueDestCount)
	}
	if snap.HandshakeStartCount != 60 {
		t.Errorf("handshakes = %d, want 60", snap.HandshakeStartCount)
	}
	if snap.DestPortEntropyBits != 0 {
		t.Errorf("single-port entropy = %v, want 0", snap.DestPortEntropyBits)
	}
}

func TestEntropyUniformPorts(t *testing.T) {
	e := NewEngine(60 * time.Second)
	now := int64(2000)
	e.SetClock(fixedClock(now))

	var samples []Sample
	for p := 0; p < 20; p++ {
		samples = append(samples, Sample{
			SourceID:      "scanner",
			DestID:        fmt.Sprintf("10.0.2.%d", p),
			DestPort:      1000 + p,
			AtUnixSeconds: float64(now) - 1,
		})
	}
	e.Ingest(samples)

	snap := e.Snapshot("scanner")
	want := math.Log2(20)
	if math.Abs(snap.DestPortEntropyBits-want) > 1e-9 {
		t.Errorf("entropy = %v, want %v", snap.DestPortEntropyBits, want)
	}
	if snap.UniqueDestCount != 20 {
		t.Errorf("unique dests = %d, want 20", snap.UniqueDestCount)
	}
}

func TestHorizonTrim(t *testing.T) {
	e := NewEngine(60 * time.Second)
	now := int64(5000)
	e.SetClock(fixedClock(now))

	e.Ingest([]Sample{
		{SourceID: "a", DestID: "x", DestPort: 80, AtUnixSeconds: float64(now) - 120},
		{SourceID: "a", DestID: "x", DestPort: 80, AtUnixSeconds: float64(now) - 5},
	})
	if snap := e.Snapshot("a"); snap.SampleCount != 1 {
		t.Errorf("sample count after trim = %d, want 1", snap.SampleCount)
	}
}

func TestPruneRemovesIdleSources(t *testing.T) {
	e := NewEngine(60 * time.Second)
	e.SetClock(fixedClock(100))
	e.Ingest([]Sample{{SourceID: "a", DestID: "x", DestPort: 80, AtUnixSeconds: 95}})

	e.SetClock(fixedClock(500))
	e.Prune()
	if ids := e.Sources(); len(ids) != 0 {
		t.Errorf("sources after prune = %v, want none", ids)
	}
}
