package pipeline

import (
	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"

	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/model"
)

// CallGraph connects each function in scope to its callees in scope.
// A callee's specification function counts as a callee too.
type CallGraph struct {
	nodes []bytecode.FunID
	edges map[bytecode.FunID][]bytecode.FunID
	preds map[bytecode.FunID][]bytecode.FunID
}

// NewCallGraph builds the call graph restricted to the given functions
func NewCallGraph(env *model.GlobalEnv, scope []bytecode.FunID) *CallGraph {
	inScope := mapset.NewThreadUnsafeSet[bytecode.FunID](scope...)
	g := &CallGraph{
		nodes: slices.Clone(scope),
		edges: make(map[bytecode.FunID][]bytecode.FunID),
		preds: make(map[bytecode.FunID][]bytecode.FunID),
	}
	slices.Sort(g.nodes)

	for _, caller := range g.nodes {
		callees := mapset.NewThreadUnsafeSet[bytecode.FunID]()
		for _, callee := range env.Function(caller).CalledFunctions() {
			if inScope.Contains(callee) {
				callees.Add(callee)
			}
			if spec, ok := env.Function(callee).SpecFunction(); ok && spec != callee && spec != caller && inScope.Contains(spec) {
				callees.Add(spec)
			}
		}
		sorted := callees.ToSlice()
		slices.Sort(sorted)
		g.edges[caller] = sorted
		for _, callee := range sorted {
			g.preds[callee] = append(g.preds[callee], caller)
		}
	}
	return g
}

// Callees returns the callees of a function in scope, ascending
func (g *CallGraph) Callees(id bytecode.FunID) []bytecode.FunID {
	return g.edges[id]
}

// Nodes returns the functions in scope, ascending
func (g *CallGraph) Nodes() []bytecode.FunID {
	return g.nodes
}

// postorder computes a DFS postorder over all nodes, starting from each
// unvisited node in ascending order
func (g *CallGraph) postorder() []bytecode.FunID {
	type nodeAndIndex struct {
		n     bytecode.FunID
		index int
	}

	seen := make(map[bytecode.FunID]bool, len(g.nodes))
	order := make([]bytecode.FunID, 0, len(g.nodes))
	for _, root := range g.nodes {
		if seen[root] {
			continue
		}
		seen[root] = true
		s := []nodeAndIndex{{n: root}}
		for len(s) > 0 {
			tos := len(s) - 1
			x := s[tos]
			succs := g.edges[x.n]
			if i := x.index; i < len(succs) {
				s[tos].index++
				if next := succs[i]; !seen[next] {
					seen[next] = true
					s = append(s, nodeAndIndex{n: next})
				}
				continue
			}
			s = s[:tos]
			order = append(order, x.n)
		}
	}
	return order
}

// SCCs returns the strongly connected components ordered callees first,
// using the Kosaraju-Sharir algorithm. Members of a component are sorted.
func (g *CallGraph) SCCs() [][]bytecode.FunID {
	po := g.postorder()
	seen := make(map[bytecode.FunID]bool, len(po))

	// Traversing reversed edges in reverse postorder yields the components
	// in topological order, callers first.
	var components [][]bytecode.FunID
	for i := len(po) - 1; i >= 0; i-- {
		leader := po[i]
		if seen[leader] {
			continue
		}

		scc := make([]bytecode.FunID, 0, 4)
		queue := []bytecode.FunID{leader}
		seen[leader] = true
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			scc = append(scc, n)
			for _, pred := range g.preds[n] {
				if !seen[pred] {
					seen[pred] = true
					queue = append(queue, pred)
				}
			}
		}
		slices.Sort(scc)
		components = append(components, scc)
	}

	slices.Reverse(components)
	return components
}

// IsRecursive reports whether a function calls itself directly
func (g *CallGraph) IsRecursive(id bytecode.FunID) bool {
	return slices.Contains(g.edges[id], id)
}
