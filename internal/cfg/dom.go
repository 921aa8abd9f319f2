package cfg

// This file contains code to compute the dominator tree of a Graph,
// using the iterative algorithm of Cooper, Harvey and Kennedy.
// On a backward graph the result is the post-dominator tree.

type blockAndIndex struct {
	b     BlockID
	index int // number of successor edges of b already explored
}

// postorder computes a DFS postorder of the blocks reachable from the entry
func (g *Graph) postorder() []BlockID {
	seen := make(map[BlockID]bool, len(g.blocks))
	order := make([]BlockID, 0, len(g.blocks))

	s := make([]blockAndIndex, 0, 32)
	s = append(s, blockAndIndex{b: g.entry})
	seen[g.entry] = true
	for len(s) > 0 {
		tos := len(s) - 1
		x := s[tos]
		succs := g.blocks[x.b].successors
		if i := x.index; i < len(succs) {
			s[tos].index++
			bb := succs[i]
			if !seen[bb] {
				seen[bb] = true
				s = append(s, blockAndIndex{b: bb})
			}
			continue
		}
		s = s[:tos]
		order = append(order, x.b)
	}
	return order
}

// ReversePostorder returns the blocks reachable from the entry in reverse
// postorder, a topological order when the graph is acyclic
func (g *Graph) ReversePostorder() []BlockID {
	order := g.postorder()
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// intersect finds the closest dominator of both b and c.
// It requires a postorder numbering of all the blocks.
func intersect(b, c BlockID, postnum map[BlockID]int, idom map[BlockID]BlockID) BlockID {
	for b != c {
		if postnum[b] < postnum[c] {
			b = idom[b]
		} else {
			c = idom[c]
		}
	}
	return b
}

// dominators computes the immediate dominator of every reachable block.
// The entry maps to itself.
func (g *Graph) dominators() map[BlockID]BlockID {
	if g.idom != nil {
		return g.idom
	}

	post := g.postorder()
	postnum := make(map[BlockID]int, len(post))
	for i, b := range post {
		postnum[b] = i
	}

	preds := make(map[BlockID][]BlockID, len(post))
	for _, b := range post {
		for _, succ := range g.blocks[b].successors {
			preds[succ] = appendUnique(preds[succ], b)
		}
	}

	idom := make(map[BlockID]BlockID, len(post))
	idom[g.entry] = g.entry

	changed := true
	for changed {
		changed = false
		// reverse postorder, skipping the entry
		for i := len(post) - 2; i >= 0; i-- {
			b := post[i]
			var d BlockID
			found := false
			for _, p := range preds[b] {
				if _, ok := idom[p]; !ok {
					continue
				}
				if !found {
					d = p
					found = true
					continue
				}
				d = intersect(d, p, postnum, idom)
			}
			if !found {
				continue
			}
			if old, ok := idom[b]; !ok || old != d {
				idom[b] = d
				changed = true
			}
		}
	}

	g.idom = idom
	return idom
}

// FindImmediateDominator returns the immediate dominator of a block.
// It reports false for the entry and for unreachable blocks.
func (g *Graph) FindImmediateDominator(id BlockID) (BlockID, bool) {
	g.mustBlock(id)
	if id == g.entry {
		return 0, false
	}
	d, ok := g.dominators()[id]
	return d, ok
}

// ImmediateDominator returns the immediate dominator of a block and
// panics if it has none
func (g *Graph) ImmediateDominator(id BlockID) BlockID {
	d, ok := g.FindImmediateDominator(id)
	if !ok {
		panic("cfg: block has no immediate dominator")
	}
	return d
}

// Dominates reports whether a dominates b (reflexively)
func (g *Graph) Dominates(a, b BlockID) bool {
	idom := g.dominators()
	if _, ok := idom[b]; !ok {
		return false
	}
	for {
		if a == b {
			return true
		}
		if b == g.entry {
			return false
		}
		b = idom[b]
	}
}
