package planner

import (
	"slices"

	"github.com/roach88/mutrec/internal/plan"
)

// Group is one strongly connected component of a block's binding graph.
type Group struct {
	Bindings []plan.LocalID
	// Recursive is false for a single binding that does not read itself.
	// Such a binding still iterates with its block, but it converges one
	// round after the groups it reads.
	Recursive bool
}

// dependencyGraph maps a binding to the bindings of the same block it reads.
type dependencyGraph map[plan.LocalID][]plan.LocalID

func buildDependencyGraph(block *plan.WithMutuallyRecursive) dependencyGraph {
	own := make(map[plan.LocalID]bool, len(block.Bindings))
	for _, b := range block.Bindings {
		own[b.ID] = true
	}
	graph := make(dependencyGraph, len(block.Bindings))
	for _, b := range block.Bindings {
		deps := []plan.LocalID{}
		for id := range plan.LocalRefs(b.Value) {
			if own[id] {
				deps = append(deps, id)
			}
		}
		slices.Sort(deps)
		graph[b.ID] = deps
	}
	return graph
}

// DependencyGroups partitions the bindings of a block into strongly
// connected components, dependencies before dependents.
func DependencyGroups(block *plan.WithMutuallyRecursive) []Group {
	graph := buildDependencyGraph(block)
	sccs := tarjanSCC(graph)
	groups := make([]Group, len(sccs))
	for i, scc := range sccs {
		slices.Sort(scc)
		groups[i] = Group{
			Bindings:  scc,
			Recursive: len(scc) > 1 || hasSelfLoop(scc[0], graph),
		}
	}
	return groups
}

func hasSelfLoop(node plan.LocalID, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// A component is emitted only after every component it reaches, so the
// result lists dependencies first. Nodes are visited in ascending order
// for a stable result.
func tarjanSCC(graph dependencyGraph) [][]plan.LocalID {
	var (
		index   = 0
		stack   []plan.LocalID
		indices = make(map[plan.LocalID]int)
		lowlink = make(map[plan.LocalID]int)
		onStack = make(map[plan.LocalID]bool)
		sccs    [][]plan.LocalID
	)

	var strongConnect func(plan.LocalID)
	strongConnect = func(v plan.LocalID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root: pop its component.
		if lowlink[v] == indices[v] {
			var scc []plan.LocalID
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

	nodes := make([]plan.LocalID, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// reaches reports whether anything inside from reads an identifier in targets.
func reaches(from *plan.WithMutuallyRecursive, targets map[plan.LocalID]bool) bool {
	for id := range plan.LocalRefs(from) {
		if targets[id] {
			return true
		}
	}
	return false
}
