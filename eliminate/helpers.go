package eliminate

import (
	"github.com/zerfoo/layoutopt/action"
	"github.com/zerfoo/layoutopt/graph"
	"github.com/zerfoo/layoutopt/opkind"
	"github.com/zerfoo/layoutopt/permute"
	"github.com/zerfoo/layoutopt/visitset"
)

// result is what one exploration call returns: the actions it
// accumulated and the set of (node, direction, port) tuples it
// claimed, ready to be unioned into a caller's own claimed set.
type result struct {
	actions []action.Action
	visited *visitset.Set
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func equalPermutations(a, b permute.Permutation) bool {
	return shapesEqual([]int(a), []int(b))
}

func inputShapeAt(n *graph.Node, idx int) []int {
	if idx >= 0 && idx < len(n.InShapes) {
		return n.InShapes[idx].Dims
	}

	return n.InputShape()
}

func outputShapeAt(n *graph.Node, idx int) []int {
	if idx >= 0 && idx < len(n.OutShapes) {
		return n.OutShapes[idx].Dims
	}

	return n.OutputShape()
}

func onesOf(k int) []int {
	out := make([]int, k)
	for i := range out {
		out[i] = 1
	}

	return out
}

// requiresReshape decides, per spec's narrow reading of the original
// requires_reshape helper, whether deleting a pair of equal-and-
// opposite transposes leaves a residual reshape behind: it does
// exactly when the node's logical shape and its elided-unit-axis
// layout shape diverge.
func requiresReshape(n *graph.Node) bool {
	if len(n.InShapes) == 0 {
		return false
	}

	in := n.InShapes[0]

	return !shapesEqual(in.Dims, in.Layout)
}

// transientAction builds the rewrite action for a Transient operator
// (Pad, Reverse, plain StridedSlice) carrying a permutation through by
// rewriting its axis attribute.
func transientAction(n *graph.Node, perm permute.Permutation, dir action.Direction) action.Action {
	switch n.Kind {
	case opkind.Pad:
		return action.TransposePad{Node: n.ID, Permutation: perm, Dir: dir}
	case opkind.Reverse:
		return action.TransposeReverse{Node: n.ID, Permutation: perm, Dir: dir}
	default:
		out, err := permute.Apply(perm, n.OutputShape())
		if err != nil {
			out = n.OutputShape()
		}

		return action.TransposeStridedSlice{Node: n.ID, Permutation: perm, OutShape: out, Dir: dir}
	}
}

func countEliminated(actions []action.Action, ok bool) int {
	if !ok {
		return -1
	}

	deleted, inserted := 0, 0

	for _, a := range actions {
		switch a.(type) {
		case action.DeleteTranspose:
			deleted++
		case action.InsertTranspose:
			inserted++
		}
	}

	return deleted - inserted
}
