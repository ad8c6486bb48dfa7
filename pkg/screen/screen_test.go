package screen

import (
	"testing"

	"swarmshield/pkg/enforce"
)

func TestMapLabels(t *testing.T) {
	cases := []struct {
		label string
		want  enforce.ActionKind
	}{
		{"DDoS", enforce.KindBlock},
		{"DoS", enforce.KindBlock},
		{"Bot", enforce.KindBlock},
		{"Patator", enforce.KindBlock},
		{"Web Attack", enforce.KindBlock},
		{"PortScan", enforce.KindRedirectToDecoy},
		{"Infiltration", enforce.KindQuarantine},
	}
	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			m := Map(Verdict{SourceID: "s", Label: tc.label, Confidence: 0.9}, 0.60)
			if m.Ignored {
				t.Fatalf("%s ignored: %s", tc.label, m.Reason)
			}
			if m.Kind != tc.want {
				t.Errorf("kind = %s, want %s", m.Kind, tc.want)
			}
		})
	}
}

func TestMapBelowFloorIgnored(t *testing.T) {
	m := Map(Verdict{Label: "DDoS", Confidence: 0.55}, 0.60)
	if !m.Ignored {
		t.Error("verdict below the floor must be ignored")
	}
}

func TestMapUnknownLabelIgnored(t *testing.T) {
	m := Map(Verdict{Label: "BENIGN", Confidence: 0.99}, 0.60)
	if !m.Ignored {
		t.Error("unmapped label must be ignored")
	}
}
