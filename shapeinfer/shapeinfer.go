// Package shapeinfer re-derives node output shapes after the
// elimination driver commits a batch of actions, the same topological
// traversal the teacher's Graph.Forward walks, but propagating shapes
// instead of tensors.
package shapeinfer

import (
	"errors"
	"fmt"

	"github.com/zerfoo/layoutopt/graph"
	"github.com/zerfoo/layoutopt/opkind"
	"github.com/zerfoo/layoutopt/permute"
)

// ErrUnknownKind is returned for any node whose Kind falls outside the
// enumerated taxonomy; the pass conservatively refuses to guess at its
// shape semantics, per spec.md's non-goal of handling operators
// outside that taxonomy.
var ErrUnknownKind = errors.New("shapeinfer: unknown operator kind")

// Run recomputes every node's output shape from its (possibly
// just-rewritten) attributes and its inputs' current shapes, in
// topological order.
func Run(g *graph.Graph) error {
	order, err := g.TopologicalOrder()
	if err != nil {
		return fmt.Errorf("shapeinfer: %w", err)
	}

	for _, id := range order {
		n, ok := g.Node(id)
		if !ok {
			continue
		}

		ins := g.IndexedInEdges(id)
		inShapes := make([]graph.Shape, len(ins))

		for i, e := range ins {
			src, ok := g.Node(e.From)
			if !ok {
				return fmt.Errorf("shapeinfer: node %d references missing source %d", id, e.From)
			}

			if e.FromIdx >= len(src.OutShapes) {
				return fmt.Errorf("shapeinfer: node %d port %d out of range on node %d", id, e.FromIdx, e.From)
			}

			inShapes[i] = src.OutShapes[e.FromIdx]
		}

		n.InShapes = inShapes

		out, err := infer(n, inShapes)
		if err != nil {
			return fmt.Errorf("shapeinfer: node %q: %w", n.Name, err)
		}

		n.OutShapes = out
	}

	return nil
}

func infer(n *graph.Node, in []graph.Shape) ([]graph.Shape, error) {
	switch n.Kind {
	case opkind.Input, opkind.Constant:
		return n.OutShapes, nil

	case opkind.Output, opkind.Copy, opkind.UnaryOp, opkind.Activation:
		return passthrough(in)

	case opkind.Transpose:
		if len(in) != 1 {
			return nil, fmt.Errorf("transpose %q: expected 1 input, got %d", n.Name, len(in))
		}

		dims, err := permute.Apply(n.Permutation, in[0].Dims)
		if err != nil {
			return nil, err
		}

		return []graph.Shape{{Dims: dims, Layout: dims}}, nil

	case opkind.Reshape:
		return []graph.Shape{{Dims: append([]int(nil), n.NewShape...), Layout: append([]int(nil), n.NewShape...)}}, nil

	case opkind.StridedSlice:
		shape := n.NewShape
		if shape == nil {
			shape = n.SliceShape
		}

		return []graph.Shape{{Dims: append([]int(nil), shape...), Layout: append([]int(nil), shape...)}}, nil

	case opkind.Pad, opkind.Reverse:
		return passthrough(in)

	case opkind.Concat, opkind.Binary, opkind.Pow:
		return broadcastAll(in)

	case opkind.FullyConnected, opkind.LinearFusion:
		if len(in) != 1 || n.Weight == nil || len(n.Weight.Shape) != 2 {
			return nil, fmt.Errorf("linear %q: expected 1 input and a rank-2 weight", n.Name)
		}

		out := append([]int(nil), in[0].Dims...)
		out[len(out)-1] = n.Weight.Shape[1]

		return []graph.Shape{{Dims: out, Layout: out}}, nil

	case opkind.Conv, opkind.GlobalPooling:
		return passthrough(in)

	default:
		return nil, ErrUnknownKind
	}
}

func passthrough(in []graph.Shape) ([]graph.Shape, error) {
	if len(in) == 0 {
		return nil, errors.New("expected at least 1 input")
	}

	return []graph.Shape{in[0]}, nil
}

// broadcastAll returns the rank-matched elementwise shape of all
// inputs, the widest rank among them with each input's value (or 1)
// per axis from the right.
func broadcastAll(in []graph.Shape) ([]graph.Shape, error) {
	if len(in) == 0 {
		return nil, errors.New("expected at least 1 input")
	}

	rank := 0
	for _, s := range in {
		if len(s.Dims) > rank {
			rank = len(s.Dims)
		}
	}

	out := make([]int, rank)
	for i := range out {
		out[i] = 1
	}

	for _, s := range in {
		offset := rank - len(s.Dims)

		for i, v := range s.Dims {
			if v > out[offset+i] {
				out[offset+i] = v
			}
		}
	}

	return []graph.Shape{{Dims: out, Layout: out}}, nil
}
