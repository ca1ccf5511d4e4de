package workflow

import (
	"sort"

	"github.com/videoba/pipe/internal/model"
)

// Layer is one topological layer: node indices to execute together.
type Layer struct {
	Nodes []int
	// Parallel is true iff the layer contains no function node, meaning
	// its nodes may run concurrently. Function nodes need every upstream
	// result and therefore serialize their layer.
	Parallel bool
}

// Layers computes the DAG's scheduling layers via Kahn's algorithm over
// the non-sink (non-alert) nodes, sorted within each layer by type
// priority. Alert nodes are never scheduled directly; the executor fires
// them by walking outgoing edges from their parents during that parent's
// turn.
func Layers(g *Graph) []Layer {
	n := len(g.Nodes)
	scheduled := make([]bool, n)
	for i, node := range g.Nodes {
		if node.Type == model.NodeAlert {
			scheduled[i] = true // sink: excluded from Kahn layering
		}
	}

	indegree := make([]int, n)
	for i := range g.Nodes {
		if scheduled[i] {
			continue
		}
		for _, e := range g.Incoming(i) {
			if !scheduled[e.From] {
				indegree[i]++
			}
		}
	}

	var layers []Layer
	remaining := 0
	for i := range g.Nodes {
		if !scheduled[i] {
			remaining++
		}
	}

	for remaining > 0 {
		var ready []int
		for i := range g.Nodes {
			if !scheduled[i] && indegree[i] == 0 {
				ready = append(ready, i)
			}
		}
		if len(ready) == 0 {
			break // cycle or malformed graph; load-time validation should prevent this
		}
		sort.SliceStable(ready, func(a, b int) bool {
			return typePriority[g.Nodes[ready[a]].Type] < typePriority[g.Nodes[ready[b]].Type]
		})

		hasFunction := false
		for _, i := range ready {
			if g.Nodes[i].Type == model.NodeFunction {
				hasFunction = true
				break
			}
		}

		for _, i := range ready {
			scheduled[i] = true
			remaining--
			for _, e := range g.Outgoing(i) {
				if !scheduled[e.To] {
					indegree[e.To]--
				}
			}
		}

		layers = append(layers, Layer{Nodes: ready, Parallel: !hasFunction})
	}

	return layers
}
