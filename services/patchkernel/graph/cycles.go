// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"sort"
)

// WouldCreateCycle reports whether adding a link from -> to would close a
// cycle that DetectCycles reports.
//
// # Description
//
// Runs a depth-first search from `to` looking for `from`. Returns false
// immediately when the link already exists, since adding it again creates
// no new connection. A self link (from == to) is only cycle-creating when
// the block already sits on a multi-block cycle, matching DetectCycles,
// which ignores single-block components.
//
// # Thread Safety
//
// Safe for concurrent use; the graph is read-only.
func (g *Graph) WouldCreateCycle(from, to string) bool {
	recordCycleCheck()
	if g.HasLink(from, to) {
		return false
	}
	if from == to {
		return g.InCycle(from)
	}
	return g.Reachable(to, from)
}

// Reachable reports whether a directed path leads from src to dst.
// A block always reaches itself.
func (g *Graph) Reachable(src, dst string) bool {
	if src == dst {
		return true
	}
	visited := map[string]bool{src: true}
	stack := []string{src}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.adj[cur] {
			if next == dst {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// DetectCycles returns every strongly connected component with more than
// one block. Each component is sorted, and components are ordered by their
// first block id.
func (g *Graph) DetectCycles() [][]string {
	var cycles [][]string
	for _, scc := range tarjanSCC(g.blocks, g.adj) {
		if len(scc) < 2 {
			continue
		}
		sort.Strings(scc)
		cycles = append(cycles, scc)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

// InCycle reports whether a block belongs to a multi-block cycle.
func (g *Graph) InCycle(blockID string) bool {
	for _, next := range g.adj[blockID] {
		if next != blockID && g.Reachable(next, blockID) {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components with Tarjan's algorithm.
// Recursion depth is bounded by the block count, which stays in the low
// hundreds for interactive patches.
func tarjanSCC(nodes []string, edges map[string][]string) [][]string {
	index := 0
	stack := make([]string, 0, len(nodes))
	onStack := make(map[string]bool, len(nodes))
	indices := make(map[string]int, len(nodes))
	lowlinks := make(map[string]int, len(nodes))
	var sccs [][]string

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlinks[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlinks[v] = min(lowlinks[v], lowlinks[w])
			} else if onStack[w] {
				lowlinks[v] = min(lowlinks[v], indices[w])
			}
		}

		if lowlinks[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, v := range nodes {
		if _, visited := indices[v]; !visited {
			strongConnect(v)
		}
	}
	return sccs
}
