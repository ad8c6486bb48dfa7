// Package evolver tunes the detection thresholds with a genetic algorithm
// trained on recorded enforcement outcomes. Evaluation replays each outcome
// window through the Monte-Carlo detector under a candidate genome and
// scores the confusion matrix; false positives cost double because
// unnecessary enforcement is worse than a missed low-confidence signal.
package evolver

import (
	"context"
	"math/rand"
	"time"

	"swarmshield/pkg/detector"
	"swarmshield/pkg/structlog"
)

const (
	populationSize   = 30
	generations      = 20
	crossoverProb    = 0.70
	blendAlpha       = 0.5
	mutationProb     = 0.30
	geneMutationProb = 0.30
	tournamentSize   = 3

	fitnessEpsilon = 1e-9

	// coarse trial count keeps a full GA run cheap; the confusion matrix
	// only needs the verdict, not a tight confidence estimate
	replayTrials = 200
)

// mutationSigmas reflect each cutoff's natural scale, genome order.
var mutationSigmas = [6]float64{80, 40, 4, 0.25, 40000, 0.04}

// Genome is one candidate threshold vector in detector order.
type Genome [6]float64

// Thresholds maps the genome onto a clamped ThresholdSet.
func (g Genome) Thresholds() detector.ThresholdSet {
	return detector.FromVector(g).Clamp()
}

// GenomeFrom extracts the genome of a ThresholdSet.
func GenomeFrom(ts detector.ThresholdSet) Genome { return Genome(ts.Vector()) }

type individual struct {
	genes   Genome
	fitness float64
	scored  bool
}

// Result is one completed evolution run.
type Result struct {
	BestGenome     Genome                `json:"best_genome"`
	BestThresholds detector.ThresholdSet `json:"best_thresholds"`
	BestFitness    float64               `json:"best_fitness"`
	GenerationsRun int                   `json:"generations_run"`
	PopulationSize int                   `json:"population_size"`
	OutcomesUsed   int                   `json:"outcomes_used"`
	UsedSynthetic  bool                  `json:"used_synthetic"`
	CompletedAt    time.Time             `json:"completed_at"`
}

// Engine is an explicit GA engine: its population, operators and RNG are
// all instance state, nothing is registered globally.
type Engine struct {
	rng    *rand.Rand
	replay *detector.Detector
	log    *structlog.Logger
}

// NewEngine creates an Engine with a time-derived seed.
func NewEngine(log *structlog.Logger) *Engine {
	return NewSeededEngine(log, time.Now().UnixNano())
}

// NewSeededEngine fixes the seed for reproducible runs.
func NewSeededEngine(log *structlog.Logger, seed int64) *Engine {
	return &Engine{
		rng:    rand.New(rand.NewSource(seed)),
		replay: detector.NewSeeded(replayTrials, seed+1),
		log:    log,
	}
}

// Evaluate replays outcomes under the genome's thresholds and returns the
// fitness (TP+TN)/(TP+TN+2FP+FN+eps).
func (e *Engine) Evaluate(g Genome, outcomes []OutcomeRecord) float64 {
	ts := g.Thresholds()
	var tp, tn, fp, fn float64
	for _, rec := range outcomes {
		s := e.replay.Score(rec.Window, ts)
		detected := s.TopType != detector.AttackNormal && s.TopConfidence >= ts.ConfidenceCutoff
		switch {
		case detected && rec.WasThreat:
			tp++
		case detected && !rec.WasThreat:
			fp++
		case !detected && rec.WasThreat:
			fn++
		default:
			tn++
		}
	}
	return (tp + tn) / (tp + tn + 2*fp + fn + fitnessEpsilon)
}

// Evolve runs the GA. With no outcomes it falls back to the built-in
// synthetic scenarios so evolution can run before any real data exists.
// Cancellation is checked between generations; the best individual seen so
// far is returned either way.
func (e *Engine) Evolve(ctx context.Context, outcomes []OutcomeRecord) (Result, error) {
	usedSynthetic := false
	if len(outcomes) == 0 {
		outcomes = SyntheticOutcomes()
		usedSynthetic = true
		if e.log != nil {
			e.log.Info("no recorded outcomes, training on synthetic scenarios", structlog.Fields{"scenarios": len(outcomes)})
		}
	}

	pop := e.seedPopulation()
	for i := range pop {
		pop[i].fitness = e.Evaluate(pop[i].genes, outcomes)
		pop[i].scored = true
	}
	best := fittest(pop)

	gen := 0
	for ; gen < generations; gen++ {
		if err := ctx.Err(); err != nil {
			break
		}

		offspring := e.selectTournament(pop)
		for i := 0; i+1 < len(offspring); i += 2 {
			if e.rng.Float64() < crossoverProb {
				e.crossoverBlend(&offspring[i], &offspring[i+1])
			}
		}
		for i := range offspring {
			if e.rng.Float64() < mutationProb {
				e.mutateGaussian(&offspring[i])
			}
		}
		for i := range offspring {
			if !offspring[i].scored {
				offspring[i].fitness = e.Evaluate(offspring[i].genes, outcomes)
				offspring[i].scored = true
			}
		}
		pop = offspring
		if cand := fittest(pop); cand.fitness > best.fitness {
			best = cand
		}
	}

	res := Result{
		BestGenome:     best.genes,
		BestThresholds: best.genes.Thresholds(),
		BestFitness:    best.fitness,
		GenerationsRun: gen,
		PopulationSize: populationSize,
		OutcomesUsed:   len(outcomes),
		UsedSynthetic:  usedSynthetic,
		CompletedAt:    time.Now(),
	}
	if e.log != nil {
		e.log.Info("evolution finished", structlog.Fields{
			"fitness":     res.BestFitness,
			"generations": res.GenerationsRun,
			"outcomes":    res.OutcomesUsed,
			"synthetic":   res.UsedSynthetic,
		})
	}
	return res, ctx.Err()
}

// seedPopulation: individual 0 is always the known-good default genome so
// the search never starts worse than the status quo.
func (e *Engine) seedPopulation() []individual {
	bounds := detector.Bounds()
	pop := make([]individual, populationSize)
	pop[0] = individual{genes: GenomeFrom(detector.DefaultThresholds())}
	for i := 1; i < populationSize; i++ {
		var g Genome
		for j := range g {
			g[j] = bounds[j].Min + e.rng.Float64()*(bounds[j].Max-bounds[j].Min)
		}
		pop[i] = individual{genes: g}
	}
	return pop
}

func (e *Engine) selectTournament(pop []individual) []individual {
	out := make([]individual, len(pop))
	for i := range out {
		winner := pop[e.rng.Intn(len(pop))]
		for k := 1; k < tournamentSize; k++ {
			c := pop[e.rng.Intn(len(pop))]
			if c.fitness > winner.fitness {
				winner = c
			}
		}
		out[i] = winner
	}
	return out
}

func (e *Engine) crossoverBlend(a, b *individual) {
	for j := range a.genes {
		gamma := (1+2*blendAlpha)*e.rng.Float64() - blendAlpha
		x, y := a.genes[j], b.genes[j]
		a.genes[j] = (1-gamma)*x + gamma*y
		b.genes[j] = gamma*x + (1-gamma)*y
	}
	a.genes = clampGenome(a.genes)
	b.genes = clampGenome(b.genes)
	a.scored, b.scored = false, false
}

func (e *Engine) mutateGaussian(ind *individual) {
	mutated := false
	for j := range ind.genes {
		if e.rng.Float64() < geneMutationProb {
			ind.genes[j] += e.rng.NormFloat64() * mutationSigmas[j]
			mutated = true
		}
	}
	if mutated {
		ind.genes = clampGenome(ind.genes)
		ind.scored = false
	}
}

func clampGenome(g Genome) Genome {
	bounds := detector.Bounds()
	for j := range g {
		if g[j] < bounds[j].Min {
			g[j] = bounds[j].Min
		}
		if g[j] > bounds[j].Max {
			g[j] = bounds[j].Max
		}
	}
	return g
}

func fittest(pop []individual) individual {
	best := pop[0]
	for _, ind := range pop[1:] {
		if ind.fitness > best.fitness {
			best = ind
		}
	}
	return best
}
