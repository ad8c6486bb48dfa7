package evolver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"swarmshield/pkg/detector"
	"swarmshield/pkg/netstats"
)

// OutcomeRecord is one enforcement outcome, the evolver's training signal.
// Records are append-only and never mutated; unknown keys in stored records
// are ignored on read so the format can grow.
type OutcomeRecord struct {
	SourceID    string              `json:"source_id"`
	Window      netstats.Snapshot   `json:"window"`
	AttackType  detector.AttackType `json:"attack_type"`
	Confidence  float64             `json:"confidence"`
	ActionTaken string              `json:"action_taken"`
	WasThreat   bool                `json:"was_threat"`
	At          time.Time           `json:"at"`
}

// OutcomeLog is a JSON-lines append-only file with a single writer lock, so
// the sequence stays gap-free under concurrent recorders.
type OutcomeLog struct {
	mu   sync.Mutex
	path string
}

// NewOutcomeLog creates the log at path, creating the file lazily.
func NewOutcomeLog(path string) *OutcomeLog {
	return &OutcomeLog{path: path}
}

// Path returns the log file path.
func (l *OutcomeLog) Path() string { return l.path }

// Append serializes rec as one line at the end of the log.
func (l *OutcomeLog) Append(rec OutcomeRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open outcome log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append outcome: %w", err)
	}
	return nil
}

// Load reads every parseable record. Malformed lines are skipped, not
// fatal; a missing file yields an empty slice.
func (l *OutcomeLog) Load() ([]OutcomeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open outcome log: %w", err)
	}
	defer f.Close()

	var out []OutcomeRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec OutcomeRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("scan outcome log: %w", err)
	}
	return out, nil
}

// Count reports the number of parseable records.
func (l *OutcomeLog) Count() (int, error) {
	recs, err := l.Load()
	return len(recs), err
}
