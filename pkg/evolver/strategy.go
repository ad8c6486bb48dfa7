package evolver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"swarmshield/pkg/detector"
)

// Strategy is the evolved-threshold artifact persisted after a run.
type Strategy struct {
	Genome           Genome                `json:"genome"`
	Thresholds       detector.ThresholdSet `json:"thresholds"`
	ConfidenceCutoff float64               `json:"confidence_cutoff"`
	Fitness          float64               `json:"fitness"`
	Generations      int                   `json:"generations"`
	PopulationSize   int                   `json:"population_size"`
	OutcomesUsed     int                   `json:"outcomes_used"`
	UsedSynthetic    bool                  `json:"used_synthetic"`
	Advisory         string                `json:"advisory,omitempty"`
	Timestamp        time.Time             `json:"timestamp"`
}

// StrategyFrom converts a Result into its artifact form.
func StrategyFrom(res Result) Strategy {
	return Strategy{
		Genome:           res.BestGenome,
		Thresholds:       res.BestThresholds,
		ConfidenceCutoff: res.BestThresholds.ConfidenceCutoff,
		Fitness:          res.BestFitness,
		Generations:      res.GenerationsRun,
		PopulationSize:   res.PopulationSize,
		OutcomesUsed:     res.OutcomesUsed,
		UsedSynthetic:    res.UsedSynthetic,
		Timestamp:        res.CompletedAt,
	}
}

// Save writes the artifact atomically: temp file in the same directory,
// then rename, so a reader never observes a partial file.
func (s Strategy) Save(path string) error {
	buf, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal strategy: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".strategy-*.json")
	if err != nil {
		return fmt.Errorf("create temp strategy: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write strategy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close strategy: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename strategy: %w", err)
	}
	return nil
}

// LoadStrategy reads a previously saved artifact.
func LoadStrategy(path string) (Strategy, error) {
	var s Strategy
	buf, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read strategy: %w", err)
	}
	if err := json.Unmarshal(buf, &s); err != nil {
		return s, fmt.Errorf("parse strategy: %w", err)
	}
	return s, nil
}

// Apply pushes the evolved thresholds into the live store. Kept separate
// from Evolve so a run can be reviewed before activation.
func (s Strategy) Apply(store *detector.Store) {
	store.Swap(s.Thresholds)
}
