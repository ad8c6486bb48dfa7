package threatgraph

import (
	"math/rand"
	"time"
)

// traversalSigma is the Gaussian jitter added to an edge weight when
// deciding whether a hop succeeds.
const traversalSigma = 0.05

// Trial records one simulated compromise traversal.
type Trial struct {
	EntryNode      string   `json:"entry_node"`
	NodesReached   int      `json:"nodes_reached"`
	PathLength     int      `json:"path_length"`
	CompromisedIDs []string `json:"compromised_ids"`
}

// Simulator runs propagation trials over a graph.
type Simulator struct {
	trials int
	rng    *rand.Rand
}

// NewSimulator creates a Simulator with the given trial count (default 1000)
// and a time-derived seed.
func NewSimulator(trials int) *Simulator {
	if trials <= 0 {
		trials = 1000
	}
	return &Simulator{trials: trials, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSeededSimulator fixes the seed for reproducible runs.
func NewSeededSimulator(trials int, seed int64) *Simulator {
	s := NewSimulator(trials)
	s.rng = rand.New(rand.NewSource(seed))
	return s
}

// Simulate runs the configured number of trials. Each trial picks an entry
// node weighted by confidence, then walks breadth-first; a hop over an edge
// succeeds with probability clamp01(weight + N(0, sigma)). Graphs with no
// nodes or no edges short-circuit to an empty trial list.
func (s *Simulator) Simulate(g *Graph) []Trial {
	if g == nil || len(g.Nodes) == 0 || len(g.Edges) == 0 {
		return nil
	}

	ids := g.sortedIDs()
	weights := make([]float64, len(ids))
	for i, id := range ids {
		weights[i] = g.Nodes[id].Confidence
	}

	trials := make([]Trial, 0, s.trials)
	for i := 0; i < s.trials; i++ {
		entry := ids[weightedPick(s.rng, weights)]
		trials = append(trials, s.traverse(g, entry))
	}
	return trials
}

// traverse is one BFS walk from entry. Each node is visited at most once;
// the step counter is a circuit breaker against adjacency bugs.
func (s *Simulator) traverse(g *Graph, entry string) Trial {
	visited := map[string]int{entry: 0}
	queue := []string{entry}
	steps := 0
	maxDepth := 0

	for len(queue) > 0 {
		steps++
		if steps > len(g.Nodes) {
			break
		}
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.neighbors(cur) {
			next := e.DstID
			if next == cur {
				next = e.SrcID
			}
			if _, seen := visited[next]; seen {
				continue
			}
			p := e.Weight + s.rng.NormFloat64()*traversalSigma
			if p < 0 {
				p = 0
			}
			if p > 1 {
				p = 1
			}
			if s.rng.Float64() < p {
				depth := visited[cur] + 1
				visited[next] = depth
				if depth > maxDepth {
					maxDepth = depth
				}
				queue = append(queue, next)
			}
		}
	}

	compromised := make([]string, 0, len(visited))
	for id := range visited {
		compromised = append(compromised, id)
	}
	return Trial{
		EntryNode:      entry,
		NodesReached:   len(visited),
		PathLength:     maxDepth,
		CompromisedIDs: compromised,
	}
}

func weightedPick(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return rng.Intn(len(weights))
	}
	r := rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return i
		}
	}
	return len(weights) - 1
}
