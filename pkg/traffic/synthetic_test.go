package traffic

import (
	"testing"
	"time"

	"swarmshield/pkg/netstats"
)

func featuresFor(t *testing.T, profile Profile, sourceID string) netstats.Snapshot {
	t.Helper()
	eng := netstats.NewEngine(60 * time.Second)
	src := NewSynthetic(profile, 1)
	now := time.Now()
	for i := 0; i < 30; i++ {
		at := now.Add(time.Duration(i-30) * 2 * time.Second)
		eng.Ingest(src.Drain(at, 2*time.Second))
	}
	return eng.Snapshot(sourceID)
}

func TestDDoSProfileLooksLikeAFlood(t *testing.T) {
	snap := featuresFor(t, ProfileDDoS, "203.0.113.66")
	if snap.RatePerSecond < 500 {
		t.Errorf("flood rate = %v pps, want a rate above the default cutoff", snap.RatePerSecond)
	}
	if snap.HandshakeStartCount == 0 {
		t.Error("flood produced no handshake starts")
	}
}

func TestPortScanProfileSpreadsAcrossPorts(t *testing.T) {
	snap := featuresFor(t, ProfilePortScan, "198.51.100.23")
	if snap.UniqueDestCount < 20 {
		t.Errorf("scan unique dests = %d, want many", snap.UniqueDestCount)
	}
	if snap.DestPortEntropyBits < 3.5 {
		t.Errorf("scan port entropy = %v bits, want high", snap.DestPortEntropyBits)
	}
}

func TestExfilProfilePushesBytes(t *testing.T) {
	snap := featuresFor(t, ProfileExfil, "10.0.0.99")
	if snap.BytesPerSecond < 500000 {
		t.Errorf("exfil byte rate = %v, want above the default cutoff", snap.BytesPerSecond)
	}
}

func TestNormalProfileStaysQuiet(t *testing.T) {
	snap := featuresFor(t, ProfileNormal, "10.0.0.10")
	if snap.RatePerSecond > 50 {
		t.Errorf("benign host rate = %v pps, unexpectedly high", snap.RatePerSecond)
	}
}
