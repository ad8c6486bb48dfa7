// Package threatgraph correlates suspicious sources into an attack graph and
// estimates lateral-movement spread by Monte-Carlo traversal.
package threatgraph

import (
	"sort"

	"swarmshield/pkg/detector"
)

// correlationFloor: both endpoints must exceed this confidence for an edge.
const correlationFloor = 0.50

// Node is one deduplicated source in the graph.
type Node struct {
	SourceID   string              `json:"source_id"`
	AttackType detector.AttackType `json:"attack_type"`
	Confidence float64             `json:"confidence"`
}

// Edge links two correlated nodes. Weight is the mean of the two
// confidences.
type Edge struct {
	SrcID      string              `json:"src_id"`
	DstID      string              `json:"dst_id"`
	AttackType detector.AttackType `json:"attack_type"`
	Weight     float64             `json:"weight"`
}

// Graph is an immutable snapshot built from one batch of observations.
type Graph struct {
	Nodes map[string]Node `json:"nodes"`
	Edges []Edge          `json:"edges"`

	adjacency map[string][]int
}

// Build merges observations into nodes (highest confidence wins on
// duplicates) and infers edges between nodes that share an attack type with
// both confidences above the correlation floor.
func Build(observations []detector.Observation) *Graph {
	g := &Graph{Nodes: make(map[string]Node, len(observations))}
	for _, obs := range observations {
		if cur, ok := g.Nodes[obs.SourceID]; !ok || obs.Confidence > cur.Confidence {
			g.Nodes[obs.SourceID] = Node{
				SourceID:   obs.SourceID,
				AttackType: obs.AttackType,
				Confidence: obs.Confidence,
			}
		}
	}

	ids := g.sortedIDs()
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := g.Nodes[ids[i]], g.Nodes[ids[j]]
			if a.AttackType != b.AttackType {
				continue
			}
			if a.Confidence <= correlationFloor || b.Confidence <= correlationFloor {
				continue
			}
			g.Edges = append(g.Edges, Edge{
				SrcID:      a.SourceID,
				DstID:      b.SourceID,
				AttackType: a.AttackType,
				Weight:     (a.Confidence + b.Confidence) / 2,
			})
		}
	}

	g.adjacency = make(map[string][]int, len(g.Nodes))
	for i, e := range g.Edges {
		g.adjacency[e.SrcID] = append(g.adjacency[e.SrcID], i)
		g.adjacency[e.DstID] = append(g.adjacency[e.DstID], i)
	}
	return g
}

// MaxConfidence returns the highest node confidence, 0 for an empty graph.
func (g *Graph) MaxConfidence() float64 {
	max := 0.0
	for _, n := range g.Nodes {
		if n.Confidence > max {
			max = n.Confidence
		}
	}
	return max
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// neighbors yields the edges touching a node; traversal treats edges as
// undirected.
func (g *Graph) neighbors(id string) []Edge {
	idxs := g.adjacency[id]
	out := make([]Edge, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, g.Edges[i])
	}
	return out
}
