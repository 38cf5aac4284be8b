package eliminate

import (
	"github.com/zerfoo/layoutopt/graph"
	"github.com/zerfoo/layoutopt/opkind"
	"github.com/zerfoo/layoutopt/permute"
)

// removeNoOpReshapes deletes any Reshape whose old and new shapes
// already agree.
func removeNoOpReshapes(g *graph.Graph) {
	for _, n := range g.Nodes(opkind.Reshape) {
		if shapesEqual(n.OldShape, n.NewShape) {
			_ = g.RemoveAndReconnect(n.ID)
		}
	}
}

// fuseReshapes fuses a Reshape -> (Copy|UnaryOp|Activation)* ->
// Reshape chain with single-fanout intermediaries into one Reshape.
func fuseReshapes(g *graph.Graph) {
	fuseChains(g, opkind.Reshape, func(start, end *graph.Node) {
		start.NewShape = append([]int(nil), end.NewShape...)
	})
}

// fuseTransposes is fuseReshapes' Transpose counterpart: permutations
// are composed instead of shapes copied.
func fuseTransposes(g *graph.Graph) {
	fuseChains(g, opkind.Transpose, func(start, end *graph.Node) {
		composed, err := permute.Compose(start.Permutation, end.Permutation)
		if err == nil {
			start.Permutation = composed
		}
	})
}

// fuseChains finds every (start, end) pair of same-kind nodes
// connected only through Copy/UnaryOp/Activation intermediaries with
// exactly one outgoing edge apiece, merges end into start via merge,
// and removes end. A chain through a fan-out node is left untouched:
// removing the intermediate would silently drop its other consumers.
func fuseChains(g *graph.Graph, kind opkind.Kind, merge func(start, end *graph.Node)) {
	for _, start := range g.Nodes(kind) {
		if _, stillPresent := g.Node(start.ID); !stillPresent {
			continue
		}

		end := findChainEnd(g, start.ID, kind, start.ID)
		if end == 0 {
			continue
		}

		endNode, ok := g.Node(end)
		if !ok {
			continue
		}

		merge(start, endNode)
		_ = g.RemoveAndReconnect(end)
	}
}

func findChainEnd(g *graph.Graph, from graph.NodeID, kind opkind.Kind, origin graph.NodeID) graph.NodeID {
	outs := g.OutEdges(from)
	if len(outs) != 1 {
		return 0
	}

	next, ok := g.Node(outs[0].To)
	if !ok {
		return 0
	}

	if next.Kind == kind {
		if next.ID == origin {
			return 0
		}

		return next.ID
	}

	if next.Kind == opkind.Copy || next.Kind == opkind.UnaryOp || next.Kind == opkind.Activation {
		return findChainEnd(g, next.ID, kind, origin)
	}

	return 0
}
