package cfg

import (
	"fmt"
	"strings"

	"github.com/emicklei/dot"

	"kanso-prover/internal/bytecode"
)

// DOT renders the graph in Graphviz format, labelling real blocks with their code
func (g *Graph) DOT(code []bytecode.Bytecode) string {
	graph := dot.NewGraph(dot.Directed)
	nodes := make(map[BlockID]dot.Node, len(g.blocks))

	for _, id := range g.Blocks() {
		var label string
		switch content := g.blocks[id].content.(type) {
		case Dummy:
			if id == DummyEntryBlock {
				label = "entry"
			} else {
				label = "exit"
			}
			nodes[id] = graph.Node(fmt.Sprintf("b%d", id)).Label(label).Attr("shape", "oval")
			continue
		case Basic:
			var lines []string
			lines = append(lines, fmt.Sprintf("B%d %s", id, content))
			for pc := content.Lower; pc <= content.Upper && int(pc) < len(code); pc++ {
				lines = append(lines, fmt.Sprintf("%d: %s", pc, code[pc]))
			}
			label = strings.Join(lines, "\n")
		}
		nodes[id] = graph.Node(fmt.Sprintf("b%d", id)).Box().Label(label)
	}

	for _, from := range g.Blocks() {
		succs := g.blocks[from].successors
		for i, to := range succs {
			edge := graph.Edge(nodes[from], nodes[to])
			if len(succs) == 2 {
				if i == 0 {
					edge.Label("then")
				} else {
					edge.Label("else")
				}
			}
		}
	}

	return graph.String()
}
