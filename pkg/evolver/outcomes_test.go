package evolver

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"swarmshield/pkg/detector"
	"swarmshield/pkg/netstats"
)

func record(id string, threat bool) OutcomeRecord {
	return OutcomeRecord{
		SourceID:    id,
		Window:      netstats.Snapshot{SourceID: id, RatePerSecond: 100},
		AttackType:  detector.AttackDDoS,
		Confidence:  0.7,
		ActionTaken: "block",
		WasThreat:   threat,
		At:          time.Now().UTC(),
	}
}

func TestAppendAndLoad(t *testing.T) {
	log := NewOutcomeLog(filepath.Join(t.TempDir(), "outcomes.jsonl"))
	for i := 0; i < 3; i++ {
		if err := log.Append(record("a", i%2 == 0)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	recs, err := log.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("loaded %d records, want 3", len(recs))
	}
	if recs[0].ActionTaken != "block" || !recs[0].WasThreat {
		t.Errorf("first record = %+v", recs[0])
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	log := NewOutcomeLog(filepath.Join(t.TempDir(), "never-written.jsonl"))
	recs, err := log.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records from a missing file", len(recs))
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.jsonl")
	log := NewOutcomeLog(path)
	if err := log.Append(record("a", true)); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n")
	f.Close()
	if err := log.Append(record("b", false)); err != nil {
		t.Fatal(err)
	}

	recs, err := log.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("loaded %d records, want 2 with the bad line skipped", len(recs))
	}
}

func TestConcurrentAppendsStayGapFree(t *testing.T) {
	log := NewOutcomeLog(filepath.Join(t.TempDir(), "outcomes.jsonl"))
	var wg sync.WaitGroup
	const n = 40
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := log.Append(record("x", true)); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()
	count, err := log.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != n {
		t.Errorf("count = %d, want %d", count, n)
	}
}
