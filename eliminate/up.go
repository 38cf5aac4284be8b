package eliminate

import (
	"fmt"
	"log"

	"github.com/zerfoo/layoutopt/action"
	"github.com/zerfoo/layoutopt/graph"
	"github.com/zerfoo/layoutopt/opkind"
	"github.com/zerfoo/layoutopt/permute"
	"github.com/zerfoo/layoutopt/quant"
	"github.com/zerfoo/layoutopt/visitset"
)

// exploreUp walks against data-flow from a transpose, pushing perm
// into the producer at the far end of edge. It mirrors exploreDown,
// with two asymmetries spec.md calls out: fan-out siblings are
// revisited as downward explorations (a producer that absorbs the
// permutation changes shape for every consumer, not just the one this
// branch came from), and FullyConnected/Input/Constant terminate via
// their own dedicated reorder actions instead of exploreDown's linear
// absorb.
func exploreUp(g *graph.Graph, excluded, external *visitset.Set, edge graph.Edge, perm permute.Permutation, logger *log.Logger) (result, error) {
	node, ok := g.Node(edge.From)
	if !ok {
		return result{}, fmt.Errorf("eliminate: explore up: missing node %d: %w", edge.From, ErrCannotContinue)
	}

	caps := opkind.Of(node.Kind)
	current := visitset.New()

	switch visitset.CheckContinue(external, current, excluded, node.ID, caps, visitset.Up, edge.FromIdx) {
	case visitset.Abort:
		return result{}, fmt.Errorf("eliminate: explore up: %s already claimed: %w", node.Name, ErrCannotContinue)
	case visitset.AlreadyHandled:
		return result{visited: current}, nil
	}

	current.VisitUp(node.ID, edge.FromIdx)

	if logger != nil {
		logger.Printf("explore up: %s (perm=%v)", node.Name, perm)
	}

	if len(perm) <= 1 {
		return result{actions: []action.Action{action.EndActionUp{Node: node.ID}}, visited: current}, nil
	}

	outShape := outputShapeAt(node, edge.FromIdx)

	if len(perm) < len(outShape) {
		perm = permute.ExpandAxes(perm, len(outShape)-len(perm))
	}

	if caps.SensitiveToOrder {
		return terminateAtSensitive(node, edge, outShape, perm, current, true)
	}

	switch node.Kind {
	case opkind.FullyConnected, opkind.LinearFusion:
		if node.BatchSize > 1 {
			if len(perm) == 2 && perm[0] == 1 && perm[1] == 0 {
				return result{actions: []action.Action{action.SwitchBatchLinear{Node: node.ID}}, visited: current}, nil
			}

			return result{actions: []action.Action{insertTranspose(edge, perm, node.Name, "out")}, visited: current}, nil
		}

		rec, _ := g.Quantization.Get(quant.NodeID(node.ID))

		return result{actions: []action.Action{action.ReorderLinear{
			Node: node.ID, Axis: action.AxisOut, GroupShape: outShape, Permutation: perm, Quant: rec,
		}}, visited: current}, nil

	case opkind.Transpose:
		if equalPermutations(perm, node.Permutation) {
			acts := []action.Action{action.DeleteTranspose{Node: node.ID}}

			if requiresReshape(node) {
				outs := g.OutEdges(node.ID)
				if len(outs) > 0 {
					acts = append(acts, action.InsertReshape{Edge: outs[0], InShape: node.InputShape(), OutShape: node.OutputShape()})
				}
			}

			return result{actions: acts, visited: current}, nil
		}

		composed, err := permute.Compose(node.Permutation, perm)
		if err != nil {
			return result{}, fmt.Errorf("eliminate: explore up: %s: %w (%v)", node.Name, ErrCannotContinue, err)
		}

		// The original emits an EndActionDown sentinel here where
		// symmetry predicts EndActionUp; reproduced as-is, per
		// spec.md's open question, the sentinels are audit-only and
		// never consulted for control flow.
		return result{actions: []action.Action{
			action.SetTranspose{Node: node.ID, Permutation: composed},
			action.EndActionDown{Node: node.ID},
		}, visited: current}, nil

	case opkind.Input:
		if node.FixedOrder {
			return result{actions: []action.Action{insertTranspose(edge, perm, node.Name, "out")}, visited: current}, nil
		}

		return result{actions: []action.Action{
			action.ReorderInputDims{Node: node.ID, Permutation: perm},
			action.EndActionUp{Node: node.ID},
		}, visited: current}, nil

	case opkind.Constant:
		return result{actions: []action.Action{
			action.ReorderConstantInput{Node: node.ID, Permutation: perm},
			action.EndActionUp{Node: node.ID},
		}, visited: current}, nil

	case opkind.StridedSlice:
		if node.NewShape != nil && !shapesEqual(node.SliceShape, node.NewShape) {
			return throughReshapingSlice(g, excluded, external, current, node, edge, perm, true, logger)
		}

		acts := []action.Action{transientAction(node, perm, action.DirOut)}

		return continueUp(g, excluded, external, current, node, edge, perm, acts, logger)

	case opkind.Pad, opkind.Reverse:
		acts := []action.Action{transientAction(node, perm, action.DirOut)}

		return continueUp(g, excluded, external, current, node, edge, perm, acts, logger)

	case opkind.Reshape:
		return throughReshape(g, excluded, external, current, node, edge, perm, true, logger)

	default:
		return continueUp(g, excluded, external, current, node, edge, perm, nil, logger)
	}
}

// continueUp recurses upward into node's in-edges, plus, per spec's
// rule for F, revisits every other out-edge of node as a downward
// exploration carrying the reverse permutation: those consumers still
// expect node's pre-rewrite layout, so a compensating transpose (or
// further absorption) must be negotiated on each of them.
//
// Each in-edge gets its own, possibly rank-stripped, permutation: a
// Broadcastable node's inputs can disagree in rank (e.g. a per-channel
// bias feeding a Binary add), and the lower-rank sibling never sees
// the leading axes perm carries for the node's own output. Mirrors
// down.go's exploreBroadcastSiblings, which applies the same
// BroadcastAxes/StripAxes/reshape-insertion logic on the downward
// side.
func continueUp(g *graph.Graph, excluded, external *visitset.Set, current *visitset.Set, node *graph.Node, arrivedEdge graph.Edge, perm permute.Permutation, seed []action.Action, logger *log.Logger) (result, error) {
	actions := append([]action.Action(nil), seed...)
	claimed := current

	rev := permute.Reverse(perm)

	for _, out := range g.OutEdges(node.ID) {
		if out == arrivedEdge {
			continue
		}

		sub, err := exploreDown(g, excluded, external, out, rev, logger)
		if err != nil {
			return result{}, err
		}

		actions = append(actions, sub.actions...)
		claimed = claimed.Union(sub.visited)
	}

	outShape := outputShapeAt(node, arrivedEdge.FromIdx)

	for _, in := range g.IndexedInEdges(node.ID) {
		inShape := inputShapeAt(node, in.ToIdx)
		inPerm := perm

		if len(inShape) != len(outShape) {
			bAxes := permute.BroadcastAxes(inShape, outShape)
			inPerm = permute.StripAxes(perm, bAxes)
			broadcasted := append(onesOf(len(bAxes)), inShape...)

			if !shapesEqual(inShape, broadcasted) {
				actions = append(actions, action.InsertReshape{
					Edge: in, InShape: append([]int(nil), inShape...), OutShape: broadcasted,
				})
			}
		}

		sub, err := exploreUp(g, excluded, external, in, inPerm, logger)
		if err != nil {
			return result{}, err
		}

		actions = append(actions, sub.actions...)
		claimed = claimed.Union(sub.visited)
	}

	return result{actions: actions, visited: claimed}, nil
}
