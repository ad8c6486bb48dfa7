// Package advisor defines the optional report-enrichment capability. An
// advisor annotates reports for operators; its output is never read by any
// scoring or decision code.
package advisor

import (
	"context"
	"errors"
)

// ErrUnavailable marks a missing or unreachable advisor backend.
var ErrUnavailable = errors.New("advisor unavailable")

// Insight is free-form advisory text attached to a report.
type Insight struct {
	Summary string `json:"summary"`
}

// Advisor enriches a serialized report.
type Advisor interface {
	Enrich(ctx context.Context, report []byte) (Insight, error)
}

// Noop is the default advisor.
type Noop struct{}

func (Noop) Enrich(ctx context.Context, report []byte) (Insight, error) {
	return Insight{}, ErrUnavailable
}
