package graph

import (
	"github.com/emicklei/dot"
)

// renderDOT builds a Graphviz DOT representation of g for the `forge
// graph` CLI command, coloring nodes by their current Status.
func renderDOT(g *BuildGraph) string {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "LR")

	drawn := make(map[TargetId]dot.Node, g.Len())

	nodes := g.Nodes()
	for _, n := range nodes {
		gn := graph.Node(n.Target.ID.String())
		gn.Attr("shape", "box")
		gn.Attr("style", "filled")
		gn.Attr("fillcolor", statusColor(n.Status()))
		gn.Attr("label", n.Target.ID.Name+"\\n"+n.Target.Kind.String())
		drawn[n.Target.ID] = gn
	}

	for _, n := range nodes {
		from := drawn[n.Target.ID]
		for _, dep := range n.DependencyIDs {
			to, ok := drawn[dep]
			if !ok {
				continue
			}
			graph.Edge(from, to)
		}
	}

	return graph.String()
}

func statusColor(s Status) string {
	switch s {
	case StatusCompleted, StatusCached:
		return "lightgreen"
	case StatusRunning:
		return "lightyellow"
	case StatusFailed:
		return "lightcoral"
	case StatusCancelled:
		return "lightgray"
	default:
		return "white"
	}
}
