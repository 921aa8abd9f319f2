package structure

import (
	"fmt"
	"strings"

	"kanso-prover/internal/bytecode"
)

// StructuredBlock describes a region of code as a tree. The set of
// implementations is closed: *Basic, *Seq, *IfThenElse, *IfElseChain.
type StructuredBlock interface {
	isStructuredBlock()
	String() string
}

// Basic is a straight-line run of code offsets, inclusive
type Basic struct {
	Lower bytecode.CodeOffset
	Upper bytecode.CodeOffset
}

// Seq is an ordered list of blocks
type Seq struct {
	Blocks []StructuredBlock
}

// IfThenElse is a two-way branch. CondAt is the offset of the deciding
// BranchTerminator, which belongs to the block preceding this node.
// Else is nil when the else arm is empty.
type IfThenElse struct {
	CondAt bytecode.CodeOffset
	Then   StructuredBlock
	Else   StructuredBlock
}

// ChainEntry is one `if`/`else if` arm of an IfElseChain. Prelude is the
// code computing the condition of every entry but the first, and is nil
// when the condition needs no code of its own.
type ChainEntry struct {
	Prelude StructuredBlock
	CondAt  bytecode.CodeOffset
	Body    StructuredBlock
}

// IfElseChain is the flattened form of nested if/else-if/else
type IfElseChain struct {
	Entries []ChainEntry
	Else    StructuredBlock
}

func (*Basic) isStructuredBlock()       {}
func (*Seq) isStructuredBlock()         {}
func (*IfThenElse) isStructuredBlock()  {}
func (*IfElseChain) isStructuredBlock() {}

func (b *Basic) String() string       { return render(b) }
func (s *Seq) String() string         { return render(s) }
func (i *IfThenElse) String() string  { return render(i) }
func (c *IfElseChain) String() string { return render(c) }

// Offsets enumerates the code offsets covered by a tree, in tree order
func Offsets(block StructuredBlock) []bytecode.CodeOffset {
	var offsets []bytecode.CodeOffset
	Walk(block, func(b *Basic) {
		for pc := b.Lower; pc <= b.Upper; pc++ {
			offsets = append(offsets, pc)
		}
	})
	return offsets
}

// Walk visits every Basic leaf of a tree in order
func Walk(block StructuredBlock, visit func(*Basic)) {
	switch b := block.(type) {
	case nil:
	case *Basic:
		visit(b)
	case *Seq:
		for _, child := range b.Blocks {
			Walk(child, visit)
		}
	case *IfThenElse:
		Walk(b.Then, visit)
		Walk(b.Else, visit)
	case *IfElseChain:
		for _, entry := range b.Entries {
			Walk(entry.Prelude, visit)
			Walk(entry.Body, visit)
		}
		Walk(b.Else, visit)
	default:
		panic(fmt.Sprintf("structure: unknown block %T", block))
	}
}

// FirstOffset returns the first offset covered by a tree
func FirstOffset(block StructuredBlock) (bytecode.CodeOffset, bool) {
	var first bytecode.CodeOffset
	found := false
	Walk(block, func(b *Basic) {
		if !found {
			first = b.Lower
			found = true
		}
	})
	return first, found
}

// Equal compares two trees structurally
func Equal(a, b StructuredBlock) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case *Basic:
		y, ok := b.(*Basic)
		return ok && *x == *y
	case *Seq:
		y, ok := b.(*Seq)
		if !ok || len(x.Blocks) != len(y.Blocks) {
			return false
		}
		for i := range x.Blocks {
			if !Equal(x.Blocks[i], y.Blocks[i]) {
				return false
			}
		}
		return true
	case *IfThenElse:
		y, ok := b.(*IfThenElse)
		return ok && x.CondAt == y.CondAt && Equal(x.Then, y.Then) && Equal(x.Else, y.Else)
	case *IfElseChain:
		y, ok := b.(*IfElseChain)
		if !ok || len(x.Entries) != len(y.Entries) {
			return false
		}
		for i := range x.Entries {
			ex, ey := x.Entries[i], y.Entries[i]
			if ex.CondAt != ey.CondAt || !Equal(ex.Prelude, ey.Prelude) || !Equal(ex.Body, ey.Body) {
				return false
			}
		}
		return Equal(x.Else, y.Else)
	}
	return false
}

func render(block StructuredBlock) string {
	var sb strings.Builder
	writeBlock(&sb, block, 0)
	return strings.TrimSuffix(sb.String(), "\n")
}

func writeBlock(sb *strings.Builder, block StructuredBlock, indent int) {
	pad := strings.Repeat("  ", indent)
	switch b := block.(type) {
	case *Basic:
		fmt.Fprintf(sb, "%sbasic [%d..%d]\n", pad, b.Lower, b.Upper)
	case *Seq:
		fmt.Fprintf(sb, "%sseq {\n", pad)
		for _, child := range b.Blocks {
			writeBlock(sb, child, indent+1)
		}
		fmt.Fprintf(sb, "%s}\n", pad)
	case *IfThenElse:
		fmt.Fprintf(sb, "%sif @%d {\n", pad, b.CondAt)
		writeBlock(sb, b.Then, indent+1)
		if b.Else != nil {
			fmt.Fprintf(sb, "%s} else {\n", pad)
			writeBlock(sb, b.Else, indent+1)
		}
		fmt.Fprintf(sb, "%s}\n", pad)
	case *IfElseChain:
		for i, entry := range b.Entries {
			if i == 0 {
				fmt.Fprintf(sb, "%sif @%d {\n", pad, entry.CondAt)
			} else {
				if entry.Prelude != nil {
					fmt.Fprintf(sb, "%s} else prelude {\n", pad)
					writeBlock(sb, entry.Prelude, indent+1)
				}
				fmt.Fprintf(sb, "%s} else if @%d {\n", pad, entry.CondAt)
			}
			writeBlock(sb, entry.Body, indent+1)
		}
		if b.Else != nil {
			fmt.Fprintf(sb, "%s} else {\n", pad)
			writeBlock(sb, b.Else, indent+1)
		}
		fmt.Fprintf(sb, "%s}\n", pad)
	}
}
