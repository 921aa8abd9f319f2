package structure

// OptimizeToChain rewrites every IfThenElse whose else arm is itself a
// conditional (directly, or preceded by the code computing its condition)
// into an IfElseChain
func OptimizeToChain(block StructuredBlock) StructuredBlock {
	switch b := block.(type) {
	case nil:
		return nil
	case *Basic:
		return b
	case *Seq:
		blocks := make([]StructuredBlock, len(b.Blocks))
		for i, child := range b.Blocks {
			blocks[i] = OptimizeToChain(child)
		}
		return &Seq{Blocks: blocks}
	case *IfThenElse:
		return optimizeIfThenElse(&IfThenElse{
			CondAt: b.CondAt,
			Then:   OptimizeToChain(b.Then),
			Else:   OptimizeToChain(b.Else),
		})
	case *IfElseChain:
		entries := make([]ChainEntry, len(b.Entries))
		for i, entry := range b.Entries {
			entries[i] = ChainEntry{
				Prelude: OptimizeToChain(entry.Prelude),
				CondAt:  entry.CondAt,
				Body:    OptimizeToChain(entry.Body),
			}
		}
		return &IfElseChain{Entries: entries, Else: OptimizeToChain(b.Else)}
	}
	return block
}

// optimizeIfThenElse flattens one level, assuming both arms are already optimized
func optimizeIfThenElse(ite *IfThenElse) StructuredBlock {
	prelude, nested := splitConditional(ite.Else)
	if nested == nil {
		return ite
	}

	entries := []ChainEntry{{CondAt: ite.CondAt, Body: ite.Then}}
	switch n := nested.(type) {
	case *IfThenElse:
		entries = append(entries, ChainEntry{Prelude: prelude, CondAt: n.CondAt, Body: n.Then})
		return &IfElseChain{Entries: entries, Else: n.Else}
	case *IfElseChain:
		first := n.Entries[0]
		entries = append(entries, ChainEntry{Prelude: prelude, CondAt: first.CondAt, Body: first.Body})
		entries = append(entries, n.Entries[1:]...)
		return &IfElseChain{Entries: entries, Else: n.Else}
	}
	return ite
}

// splitConditional matches an else arm that is a conditional, or a Seq of
// exactly a prelude followed by a conditional
func splitConditional(block StructuredBlock) (prelude, nested StructuredBlock) {
	switch b := block.(type) {
	case *IfThenElse, *IfElseChain:
		return nil, b
	case *Seq:
		if len(b.Blocks) != 2 {
			return nil, nil
		}
		switch b.Blocks[1].(type) {
		case *IfThenElse, *IfElseChain:
			if isConditional(b.Blocks[0]) {
				return nil, nil
			}
			return b.Blocks[0], b.Blocks[1]
		}
	}
	return nil, nil
}

func isConditional(block StructuredBlock) bool {
	switch block.(type) {
	case *IfThenElse, *IfElseChain:
		return true
	}
	return false
}

// ChainToIfThenElse rewrites every IfElseChain into nested IfThenElse
// nodes, the inverse of OptimizeToChain
func ChainToIfThenElse(block StructuredBlock) StructuredBlock {
	switch b := block.(type) {
	case nil:
		return nil
	case *Basic:
		return b
	case *Seq:
		blocks := make([]StructuredBlock, len(b.Blocks))
		for i, child := range b.Blocks {
			blocks[i] = ChainToIfThenElse(child)
		}
		return &Seq{Blocks: blocks}
	case *IfThenElse:
		return &IfThenElse{
			CondAt: b.CondAt,
			Then:   ChainToIfThenElse(b.Then),
			Else:   ChainToIfThenElse(b.Else),
		}
	case *IfElseChain:
		current := ChainToIfThenElse(b.Else)
		for i := len(b.Entries) - 1; i >= 0; i-- {
			entry := b.Entries[i]
			var node StructuredBlock = &IfThenElse{
				CondAt: entry.CondAt,
				Then:   ChainToIfThenElse(entry.Body),
				Else:   current,
			}
			if entry.Prelude != nil {
				node = &Seq{Blocks: []StructuredBlock{ChainToIfThenElse(entry.Prelude), node}}
			}
			current = node
		}
		return current
	}
	return block
}
