package eliminate

import (
	"fmt"
	"log"

	"github.com/zerfoo/layoutopt/action"
	"github.com/zerfoo/layoutopt/graph"
	"github.com/zerfoo/layoutopt/opkind"
	"github.com/zerfoo/layoutopt/permute"
	"github.com/zerfoo/layoutopt/quant"
	"github.com/zerfoo/layoutopt/reshape"
	"github.com/zerfoo/layoutopt/visitset"
)

// exploreDown walks in data-flow direction from a transpose, pushing
// perm into the node at the far end of edge and deciding, per node
// kind, whether it absorbs the permutation, rewrites around it, or
// forces it to terminate as an inserted Transpose.
func exploreDown(g *graph.Graph, excluded, external *visitset.Set, edge graph.Edge, perm permute.Permutation, logger *log.Logger) (result, error) {
	node, ok := g.Node(edge.To)
	if !ok {
		return result{}, fmt.Errorf("eliminate: explore down: missing node %d: %w", edge.To, ErrCannotContinue)
	}

	caps := opkind.Of(node.Kind)
	current := visitset.New()

	switch visitset.CheckContinue(external, current, excluded, node.ID, caps, visitset.Down, edge.ToIdx) {
	case visitset.Abort:
		return result{}, fmt.Errorf("eliminate: explore down: %s already claimed: %w", node.Name, ErrCannotContinue)
	case visitset.AlreadyHandled:
		return result{visited: current}, nil
	}

	current.VisitDown(node.ID, edge.ToIdx)

	if logger != nil {
		logger.Printf("explore down: %s (perm=%v)", node.Name, perm)
	}

	if len(perm) <= 1 {
		return result{actions: []action.Action{action.EndActionDown{Node: node.ID}}, visited: current}, nil
	}

	inShape := inputShapeAt(node, edge.ToIdx)

	// Rule 4: a broadcast arrival whose rank is smaller than the
	// node's own input rank gets expanded by the difference before
	// any further dispatch.
	if len(perm) < len(inShape) {
		perm = permute.ExpandAxes(perm, len(inShape)-len(perm))
	}

	if caps.SensitiveToOrder {
		return terminateAtSensitive(node, edge, inShape, perm, current, false)
	}

	if opkind.ExploresUp(node.Kind) {
		return exploreBroadcastSiblings(g, excluded, external, current, node, edge, perm, logger)
	}

	switch node.Kind {
	case opkind.FullyConnected, opkind.LinearFusion:
		if node.BatchSize > 1 {
			return result{actions: []action.Action{insertTranspose(edge, perm, node.Name, "in")}, visited: current}, nil
		}

		rec, _ := g.Quantization.Get(quant.NodeID(node.ID))

		return result{actions: []action.Action{action.ReorderLinear{
			Node: node.ID, Axis: action.AxisIn, GroupShape: inShape, Permutation: perm, Quant: rec,
		}}, visited: current}, nil

	case opkind.Transpose:
		if equalPermutations(perm, permute.Reverse(node.Permutation)) {
			acts := []action.Action{action.DeleteTranspose{Node: node.ID}}

			if requiresReshape(node) {
				outs := g.OutEdges(node.ID)
				if len(outs) > 0 {
					acts = append(acts, action.InsertReshape{Edge: outs[0], InShape: inShape, OutShape: node.OutputShape()})
				}
			}

			return result{actions: acts, visited: current}, nil
		}

		composed, err := permute.Compose(perm, node.Permutation)
		if err != nil {
			return result{}, fmt.Errorf("eliminate: explore down: %s: %w (%v)", node.Name, ErrCannotContinue, err)
		}

		return result{actions: []action.Action{action.SetTranspose{Node: node.ID, Permutation: composed}}, visited: current}, nil

	case opkind.Output:
		if node.FixedOrder {
			return result{actions: []action.Action{insertTranspose(edge, perm, node.Name, "in")}, visited: current}, nil
		}

		return result{actions: []action.Action{action.EndActionDown{Node: node.ID}}, visited: current}, nil

	case opkind.StridedSlice:
		if node.NewShape != nil && !shapesEqual(node.SliceShape, node.NewShape) {
			return throughReshapingSlice(g, excluded, external, current, node, edge, perm, false, logger)
		}

		acts := []action.Action{transientAction(node, perm, action.DirIn)}

		return continueDown(g, excluded, external, current, node, perm, acts, logger)

	case opkind.Pad, opkind.Reverse:
		acts := []action.Action{transientAction(node, perm, action.DirIn)}

		return continueDown(g, excluded, external, current, node, perm, acts, logger)

	case opkind.Reshape:
		return throughReshape(g, excluded, external, current, node, edge, perm, false, logger)

	default:
		return continueDown(g, excluded, external, current, node, perm, nil, logger)
	}
}

// terminateAtSensitive implements rules 2/3 (E) and their F mirror:
// a SensitiveToOrder node can never carry a permutation through, so
// the branch always ends here, either cleanly (the permutation is a
// no-op on this node's shape), via an inserted reshape (a do-nothing
// permutation whose permuted shape differs from shape; with
// permute.DoesNothing accepting only moves among unit axes, the
// permuted shape always equals shape, so this path ends cleanly), or
// via an inserted Transpose.
func terminateAtSensitive(node *graph.Node, edge graph.Edge, shape []int, perm permute.Permutation, current *visitset.Set, goingUp bool) (result, error) {
	side := "in"
	clean := action.Action(action.EndActionDown{Node: node.ID})

	if goingUp {
		side = "out"
		clean = action.EndActionUp{Node: node.ID}
	}

	if permute.DoesNothing(perm, shape) {
		permuted, err := permute.Apply(perm, shape)
		if err == nil && shapesEqual(permuted, shape) {
			return result{actions: []action.Action{clean}, visited: current}, nil
		}

		return result{actions: []action.Action{action.InsertReshape{Edge: edge, InShape: permuted, OutShape: shape}}, visited: current}, nil
	}

	return result{actions: []action.Action{insertTranspose(edge, perm, node.Name, side)}, visited: current}, nil
}

func insertTranspose(edge graph.Edge, perm permute.Permutation, name, side string) action.Action {
	return action.InsertTranspose{Edge: edge, Permutation: perm, Name: fmt.Sprintf("%s.transpose_%s", name, side)}
}

// throughReshape runs the reshape reasoner across a Reshape node and
// either gives up (inserting a Transpose) or rewrites the node and
// continues propagating the adjusted permutation.
func throughReshape(g *graph.Graph, excluded, external *visitset.Set, current *visitset.Set, node *graph.Node, edge graph.Edge, perm permute.Permutation, goingUp bool, logger *log.Logger) (result, error) {
	newPerm, toShape, ok := reshape.Reconcile(perm, node.OldShape, node.NewShape, goingUp)
	if !ok {
		side := "in"
		if goingUp {
			side = "out"
		}

		return result{actions: []action.Action{insertTranspose(edge, perm, node.Name, side)}, visited: current}, nil
	}

	var acts []action.Action

	if !goingUp {
		adjOld, err := permute.Apply(permute.Reverse(perm), node.OldShape)
		if err != nil {
			adjOld = node.OldShape
		}

		if shapesEqual(adjOld, toShape) {
			acts = append(acts, action.DeleteReshape{Node: node.ID})
		} else {
			acts = append(acts, action.SetReshape{Node: node.ID, OldShape: adjOld, NewShape: toShape})
		}
	} else {
		target, err := permute.Apply(perm, node.NewShape)
		if err != nil {
			target = node.NewShape
		}

		if shapesEqual(toShape, target) {
			acts = append(acts, action.DeleteReshape{Node: node.ID})
		} else {
			acts = append(acts, action.SetReshape{Node: node.ID, OldShape: toShape, NewShape: target})
		}
	}

	if permute.IsIdentity(newPerm) {
		end := action.Action(action.EndActionDown{Node: node.ID})
		if goingUp {
			end = action.EndActionUp{Node: node.ID}
		}

		acts = append(acts, end)

		return result{actions: acts, visited: current}, nil
	}

	if !goingUp {
		return continueDown(g, excluded, external, current, node, newPerm, acts, logger)
	}

	return continueUp(g, excluded, external, current, node, edge, newPerm, acts, logger)
}

func throughReshapingSlice(g *graph.Graph, excluded, external *visitset.Set, current *visitset.Set, node *graph.Node, edge graph.Edge, perm permute.Permutation, goingUp bool, logger *log.Logger) (result, error) {
	newPerm, toShape, ok := reshape.Reconcile(perm, node.SliceShape, node.NewShape, goingUp)
	if !ok {
		side := "in"
		if goingUp {
			side = "out"
		}

		return result{actions: []action.Action{insertTranspose(edge, perm, node.Name, side)}, visited: current}, nil
	}

	dir := action.DirIn
	if goingUp {
		dir = action.DirOut
	}

	acts := []action.Action{action.TransposeStridedSlice{Node: node.ID, Permutation: newPerm, OutShape: toShape, Dir: dir}}

	if permute.IsIdentity(newPerm) {
		end := action.Action(action.EndActionDown{Node: node.ID})
		if goingUp {
			end = action.EndActionUp{Node: node.ID}
		}

		acts = append(acts, end)

		return result{actions: acts, visited: current}, nil
	}

	if !goingUp {
		return continueDown(g, excluded, external, current, node, newPerm, acts, logger)
	}

	return continueUp(g, excluded, external, current, node, edge, newPerm, acts, logger)
}

// continueDown recurses into every out-edge of node not already
// claimed, accumulating actions and the claimed set.
func continueDown(g *graph.Graph, excluded, external *visitset.Set, current *visitset.Set, node *graph.Node, perm permute.Permutation, seed []action.Action, logger *log.Logger) (result, error) {
	actions := append([]action.Action(nil), seed...)
	claimed := current

	for _, out := range g.OutEdges(node.ID) {
		sub, err := exploreDown(g, excluded, external, out, perm, logger)
		if err != nil {
			return result{}, err
		}

		actions = append(actions, sub.actions...)
		claimed = claimed.Union(sub.visited)
	}

	return result{actions: actions, visited: claimed}, nil
}

// exploreBroadcastSiblings implements rule 5: a Concat/Binary/Pow-like
// Broadcastable node recurses upward into every other input edge so
// every sibling receives a compatible permutation, inserting a reshape
// where the sibling's own (possibly lower-rank) shape needs realigning.
// Rule 5 doesn't terminate the branch: node's own out-edges still fall
// through to rule 12's default downward continuation, carrying the
// original (unstripped) permutation, since node's output shape changes
// right along with its primary input's.
func exploreBroadcastSiblings(g *graph.Graph, excluded, external *visitset.Set, current *visitset.Set, node *graph.Node, inEdge graph.Edge, perm permute.Permutation, logger *log.Logger) (result, error) {
	var actions []action.Action

	claimed := current
	outShape := node.OutputShape()

	for _, in := range g.IndexedInEdges(node.ID) {
		if in == inEdge {
			continue
		}

		siblingShape := inputShapeAt(node, in.ToIdx)
		siblingPerm := perm

		if len(siblingShape) != len(outShape) {
			bAxes := permute.BroadcastAxes(siblingShape, outShape)
			siblingPerm = permute.StripAxes(perm, bAxes)
			broadcasted := append(onesOf(len(bAxes)), siblingShape...)

			if !shapesEqual(siblingShape, broadcasted) {
				actions = append(actions, action.InsertReshape{
					Edge: in, InShape: append([]int(nil), siblingShape...), OutShape: broadcasted,
				})
			}
		}

		sub, err := exploreUp(g, excluded, external, in, siblingPerm, logger)
		if err != nil {
			return result{}, err
		}

		actions = append(actions, sub.actions...)
		claimed = claimed.Union(sub.visited)
	}

	sub, err := continueDown(g, excluded, external, claimed, node, perm, nil, logger)
	if err != nil {
		return result{}, err
	}

	return result{actions: append(actions, sub.actions...), visited: sub.visited}, nil
}
