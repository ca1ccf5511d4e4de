package workflow

import "github.com/videoba/pipe/internal/model"

// ResolveROI computes, for every algorithm node, its effective ROI
// regions: the nearest ancestor roi node's regions, found by a
// breadth-first walk upstream. Nearest is by hop count, ties broken by
// edge registration order (the order connections appear in the workflow
// JSON's connections[] array, which is the order edges were appended
// during Load). ROI is branch-local: a roi node on one branch never
// affects a sibling branch. If no ancestor roi node exists, the
// algorithm's own configured ROI is used; empty means the whole frame.
//
// This is purely structural (graph topology plus static roi node config,
// not per-frame data), so it is computed once at load time rather than
// per frame.
func ResolveROI(g *Graph) []ROIConfig {
	effective := make([]ROIConfig, len(g.Nodes))
	for i, node := range g.Nodes {
		if node.Type != model.NodeAlgorithm {
			continue
		}
		if found, ok := nearestAncestorROI(g, i); ok {
			effective[i] = found
		} else if node.Algorithm != nil {
			effective[i] = node.Algorithm.ROI
		}
	}
	return effective
}

// nearestAncestorROI performs a breadth-first walk backward from nodeIdx
// over incoming edges, visiting incoming edges in registration order at
// each level, returning the first roi node encountered.
func nearestAncestorROI(g *Graph, nodeIdx int) (ROIConfig, bool) {
	visited := map[int]bool{nodeIdx: true}
	queue := []int{nodeIdx}

	for len(queue) > 0 {
		var next []int
		for _, cur := range queue {
			for _, e := range g.Incoming(cur) {
				if visited[e.From] {
					continue
				}
				visited[e.From] = true
				if g.Nodes[e.From].Type == model.NodeROI {
					return *g.Nodes[e.From].ROI, true
				}
				next = append(next, e.From)
			}
		}
		queue = next
	}
	return ROIConfig{}, false
}
