// Package traffic produces sample streams for the pipeline. Captured
// traffic is an injectable sequence; the synthetic source here generates the
// same shapes from fixed profiles so the closed loop runs without capture
// hardware.
package traffic

import (
	"fmt"
	"math/rand"
	"time"

	"swarmshield/pkg/netstats"
)

// Source yields the samples observed since the previous call.
type Source interface {
	Drain(now time.Time, interval time.Duration) []netstats.Sample
}

// Profile names a synthetic traffic mix.
type Profile string

const (
	ProfileNormal   Profile = "normal"
	ProfileDDoS     Profile = "ddos"
	ProfilePortScan Profile = "port_scan"
	ProfileExfil    Profile = "exfiltration"
	ProfileMixed    Profile = "mixed"
)

// Synthetic generates benign background traffic plus, depending on the
// profile, one attacker of each requested shape.
type Synthetic struct {
	profile Profile
	rng     *rand.Rand
}

// NewSynthetic builds a source for the profile with a fixed seed.
func NewSynthetic(profile Profile, seed int64) *Synthetic {
	return &Synthetic{profile: profile, rng: rand.New(rand.NewSource(seed))}
}

func (s *Synthetic) Drain(now time.Time, interval time.Duration) []netstats.Sample {
	secs := interval.Seconds()
	if secs <= 0 {
		secs = 1
	}
	var out []netstats.Sample

	// benign background: a few office hosts at low rates
	for h := 0; h < 4; h++ {
		src := fmt.Sprintf("10.0.0.%d", 10+h)
		n := s.count(0.5*secs, 0.3)
		for i := 0; i < n; i++ {
			out = append(out, netstats.Sample{
				SourceID:         src,
				DestID:           fmt.Sprintf("10.0.1.%d", 1+s.rng.Intn(5)),
				DestPort:         []int{80, 443, 53}[s.rng.Intn(3)],
				Protocol:         "tcp",
				SizeBytes:        200 + s.rng.Intn(1200),
				AtUnixSeconds:    s.jitter(now, secs),
				IsHandshakeStart: s.rng.Float64() < 0.2,
			})
		}
	}

	if s.profile == ProfileDDoS || s.profile == ProfileMixed {
		n := s.count(800*secs, 0.1)
		for i := 0; i < n; i++ {
			out = append(out, netstats.Sample{
				SourceID:         "203.0.113.66",
				DestID:           "10.0.1.1",
				DestPort:         443,
				Protocol:         "tcp",
				SizeBytes:        60 + s.rng.Intn(80),
				AtUnixSeconds:    s.jitter(now, secs),
				IsHandshakeStart: s.rng.Float64() < 0.7,
			})
		}
	}
	if s.profile == ProfilePortScan || s.profile == ProfileMixed {
		n := s.count(80*secs, 0.2)
		for i := 0; i < n; i++ {
			out = append(out, netstats.Sample{
				SourceID:      "198.51.100.23",
				DestID:        fmt.Sprintf("10.0.1.%d", 1+s.rng.Intn(40)),
				DestPort:      1 + s.rng.Intn(10000),
				Protocol:      "tcp",
				SizeBytes:     40,
				AtUnixSeconds: s.jitter(now, secs),
			})
		}
	}
	if s.profile == ProfileExfil || s.profile == ProfileMixed {
		n := s.count(100*secs, 0.2)
		for i := 0; i < n; i++ {
			out = append(out, netstats.Sample{
				SourceID:      "10.0.0.99",
				DestID:        "192.0.2.50",
				DestPort:      443,
				Protocol:      "tcp",
				SizeBytes:     8000 + s.rng.Intn(4000),
				AtUnixSeconds: s.jitter(now, secs),
			})
		}
	}
	return out
}

func (s *Synthetic) count(mean, spread float64) int {
	n := int(mean * (1 + spread*(s.rng.Float64()*2-1)))
	if n < 0 {
		return 0
	}
	return n
}

func (s *Synthetic) jitter(now time.Time, secs float64) float64 {
	return float64(now.Unix()) - s.rng.Float64()*secs
}
