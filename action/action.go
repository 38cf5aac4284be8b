// Package action is the declarative mutation set the explorers emit.
// Nothing has a side effect until Execute runs: accumulation and
// scoring happen over plain values, and a driver pass mutates the
// graph only once, by folding a chosen Action list in order.
package action

import (
	"fmt"

	"github.com/zerfoo/layoutopt/graph"
	"github.com/zerfoo/layoutopt/opkind"
	"github.com/zerfoo/layoutopt/permute"
	"github.com/zerfoo/layoutopt/quant"
)

// Direction names which side of a node an inserted or transient
// rewrite applies to. Insert/Transpose-transient actions that also
// carry a graph.Edge don't strictly need this (the edge already pins
// down/to-idx), but Direction is kept on the transient-operator
// actions (TransposePad, TransposeReverse, TransposeStridedSlice) to
// record which side of the node the permutation arrived on.
type Direction int

const (
	DirIn Direction = iota
	DirOut
)

func (d Direction) String() string {
	if d == DirOut {
		return "out"
	}

	return "in"
}

// Action is a deferred, self-describing graph mutation.
type Action interface {
	Execute(g *graph.Graph) error
}

// DeleteTranspose removes a Transpose node and reconnects its
// consumers directly to its input.
type DeleteTranspose struct {
	Node graph.NodeID
}

func (a DeleteTranspose) Execute(g *graph.Graph) error {
	return g.RemoveAndReconnect(a.Node)
}

// SetTranspose replaces a Transpose node's permutation in place, the
// result of fusing an arriving permutation with the node's own.
type SetTranspose struct {
	Node        graph.NodeID
	Permutation permute.Permutation
}

func (a SetTranspose) Execute(g *graph.Graph) error {
	n, ok := g.Node(a.Node)
	if !ok {
		return fmt.Errorf("action: set transpose: node %d not found", a.Node)
	}

	n.Permutation = append(permute.Permutation(nil), a.Permutation...)

	return nil
}

// InsertTranspose splices a new Transpose node onto an existing edge.
// The edge's own from/to indices pin down the direction spec.md models
// as a separate direction=in|out, idx pair.
type InsertTranspose struct {
	Edge        graph.Edge
	Permutation permute.Permutation
	Name        string
}

func (a InsertTranspose) Execute(g *graph.Graph) error {
	return splice(g, a.Edge, &graph.Node{
		Name:        a.Name,
		Kind:        opkind.Transpose,
		Permutation: append(permute.Permutation(nil), a.Permutation...),
	})
}

// DeleteReshape removes a no-longer-needed Reshape node.
type DeleteReshape struct {
	Node graph.NodeID
}

func (a DeleteReshape) Execute(g *graph.Graph) error {
	return g.RemoveAndReconnect(a.Node)
}

// SetReshape rewrites a Reshape node's shape attributes in place.
type SetReshape struct {
	Node     graph.NodeID
	OldShape []int
	NewShape []int
}

func (a SetReshape) Execute(g *graph.Graph) error {
	n, ok := g.Node(a.Node)
	if !ok {
		return fmt.Errorf("action: set reshape: node %d not found", a.Node)
	}

	n.OldShape = append([]int(nil), a.OldShape...)
	n.NewShape = append([]int(nil), a.NewShape...)

	return nil
}

// InsertReshape splices a new Reshape node onto an existing edge.
type InsertReshape struct {
	Edge     graph.Edge
	InShape  []int
	OutShape []int
}

func (a InsertReshape) Execute(g *graph.Graph) error {
	return splice(g, a.Edge, &graph.Node{
		Kind:     opkind.Reshape,
		OldShape: append([]int(nil), a.InShape...),
		NewShape: append([]int(nil), a.OutShape...),
	})
}

// splice inserts n onto the edge feeding e.To at port e.ToIdx. It
// re-resolves that edge against the graph's current state rather than
// trusting e.From/e.FromIdx verbatim: a winning branch's actions
// always execute with a DeleteTranspose first, which can reconnect
// e's producer side before this action runs. e.To/e.ToIdx name a
// consumer that never moves, so they stay the reliable key.
func splice(g *graph.Graph, e graph.Edge, n *graph.Node) error {
	current, ok := resolveEdge(g, e)
	if !ok {
		return fmt.Errorf("action: splice: no edge into node %d port %d", e.To, e.ToIdx)
	}

	g.RemoveEdge(current)
	id := g.AddNode(n)

	if err := g.AddEdge(graph.Edge{From: current.From, FromIdx: current.FromIdx, To: id, ToIdx: 0}); err != nil {
		return fmt.Errorf("action: splice: %w", err)
	}

	if err := g.AddEdge(graph.Edge{From: id, FromIdx: 0, To: current.To, ToIdx: current.ToIdx}); err != nil {
		return fmt.Errorf("action: splice: %w", err)
	}

	return nil
}

func resolveEdge(g *graph.Graph, e graph.Edge) (graph.Edge, bool) {
	for _, cand := range g.IndexedInEdges(e.To) {
		if cand.ToIdx == e.ToIdx {
			return cand, true
		}
	}

	return graph.Edge{}, false
}

// ReorderConstantInput permutes a Constant node's stored tensor.
type ReorderConstantInput struct {
	Node        graph.NodeID
	Permutation permute.Permutation
}

func (a ReorderConstantInput) Execute(g *graph.Graph) error {
	n, ok := g.Node(a.Node)
	if !ok {
		return fmt.Errorf("action: reorder constant: node %d not found", a.Node)
	}

	if n.Value == nil {
		return fmt.Errorf("action: reorder constant: node %d has no stored value", a.Node)
	}

	shape, err := permute.Apply(a.Permutation, n.Value.Shape)
	if err != nil {
		return fmt.Errorf("action: reorder constant: %w", err)
	}

	data, err := permuteData(n.Value.Shape, a.Permutation, n.Value.Data)
	if err != nil {
		return fmt.Errorf("action: reorder constant: %w", err)
	}

	n.Value.Shape = shape
	n.Value.Data = data
	n.OutShapes = []graph.Shape{{Dims: shape, Layout: shape}}

	return nil
}

// ReorderInputDims permutes an Input node's declared shape, the
// hint downstream importers read back to know how to feed data.
type ReorderInputDims struct {
	Node        graph.NodeID
	Permutation permute.Permutation
}

func (a ReorderInputDims) Execute(g *graph.Graph) error {
	n, ok := g.Node(a.Node)
	if !ok {
		return fmt.Errorf("action: reorder input: node %d not found", a.Node)
	}

	if len(n.OutShapes) == 0 {
		return fmt.Errorf("action: reorder input: node %d has no output shape", a.Node)
	}

	dims, err := permute.Apply(a.Permutation, n.OutShapes[0].Dims)
	if err != nil {
		return fmt.Errorf("action: reorder input: %w", err)
	}

	n.OutShapes[0] = graph.Shape{Dims: dims, Layout: dims}

	return nil
}

// LinearAxis names which axis of a FullyConnected/LinearFusion's
// weight matrix ReorderLinear rewrites.
type LinearAxis int

const (
	AxisIn LinearAxis = iota
	AxisOut
)

// ReorderLinear permutes a linear layer's weight matrix along the
// axis the propagated permutation arrived on, carrying any attached
// quantization record along for informational purposes (the record's
// scale/zero-point are scalar here, so the permute itself never needs
// to touch them; a future per-axis quantization scheme would).
type ReorderLinear struct {
	Node graph.NodeID
	Axis LinearAxis
	// GroupShape is the shape the Permutation is defined over: the
	// node's current input shape (AxisIn) or output shape (AxisOut),
	// whose product must equal the corresponding weight dimension.
	GroupShape  []int
	Permutation permute.Permutation
	Quant       *quant.Record
}

func (a ReorderLinear) Execute(g *graph.Graph) error {
	n, ok := g.Node(a.Node)
	if !ok {
		return fmt.Errorf("action: reorder linear: node %d not found", a.Node)
	}

	if n.Weight == nil || len(n.Weight.Shape) != 2 {
		return fmt.Errorf("action: reorder linear: node %d has no rank-2 weight", a.Node)
	}

	rows, cols := n.Weight.Shape[0], n.Weight.Shape[1]

	switch a.Axis {
	case AxisIn:
		if product(a.GroupShape) != rows {
			return fmt.Errorf("action: reorder linear: group shape %v does not match %d input rows", a.GroupShape, rows)
		}

		data, err := permuteRows(n.Weight.Data, rows, cols, a.GroupShape, a.Permutation)
		if err != nil {
			return fmt.Errorf("action: reorder linear: %w", err)
		}

		n.Weight.Data = data

	case AxisOut:
		if product(a.GroupShape) != cols {
			return fmt.Errorf("action: reorder linear: group shape %v does not match %d output columns", a.GroupShape, cols)
		}

		data, err := permuteCols(n.Weight.Data, rows, cols, a.GroupShape, a.Permutation)
		if err != nil {
			return fmt.Errorf("action: reorder linear: %w", err)
		}

		n.Weight.Data = data
	}

	return nil
}

// SwitchBatchLinear transposes a batched linear layer's weight matrix
// for the special (1,0) permutation: swapping batch and feature axes
// is exactly a matrix transpose of the weight, not a row/column
// permute.
type SwitchBatchLinear struct {
	Node graph.NodeID
}

func (a SwitchBatchLinear) Execute(g *graph.Graph) error {
	n, ok := g.Node(a.Node)
	if !ok {
		return fmt.Errorf("action: switch batch linear: node %d not found", a.Node)
	}

	if n.Weight == nil || len(n.Weight.Shape) != 2 {
		return fmt.Errorf("action: switch batch linear: node %d has no rank-2 weight", a.Node)
	}

	rows, cols := n.Weight.Shape[0], n.Weight.Shape[1]
	out := make([]float64, rows*cols)

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[c*rows+r] = n.Weight.Data[r*cols+c]
		}
	}

	n.Weight.Data = out
	n.Weight.Shape = []int{cols, rows}

	return nil
}

// TransposePad rewrites a Pad node's axis attribute to match a
// permutation passing through it.
type TransposePad struct {
	Node        graph.NodeID
	Permutation permute.Permutation
	Dir         Direction
}

func (a TransposePad) Execute(g *graph.Graph) error {
	n, ok := g.Node(a.Node)
	if !ok {
		return fmt.Errorf("action: transpose pad: node %d not found", a.Node)
	}

	n.Axes = remapAxes(n.Axes, a.Permutation)

	return nil
}

// TransposeReverse is TransposePad's counterpart for Reverse nodes.
type TransposeReverse struct {
	Node        graph.NodeID
	Permutation permute.Permutation
	Dir         Direction
}

func (a TransposeReverse) Execute(g *graph.Graph) error {
	n, ok := g.Node(a.Node)
	if !ok {
		return fmt.Errorf("action: transpose reverse: node %d not found", a.Node)
	}

	n.Axes = remapAxes(n.Axes, a.Permutation)

	return nil
}

// TransposeStridedSlice rewrites a StridedSlice node's axis attribute
// and resulting shape to match a permutation passing through it,
// whether or not the slice also wraps an implicit reshape.
type TransposeStridedSlice struct {
	Node        graph.NodeID
	Permutation permute.Permutation
	OutShape    []int
	Dir         Direction
}

func (a TransposeStridedSlice) Execute(g *graph.Graph) error {
	n, ok := g.Node(a.Node)
	if !ok {
		return fmt.Errorf("action: transpose strided slice: node %d not found", a.Node)
	}

	n.Axes = remapAxes(n.Axes, a.Permutation)
	n.NewShape = append([]int(nil), a.OutShape...)

	return nil
}

// EndActionUp and EndActionDown are audit-only sentinels: they carry
// no graph effect. They mark where one branch of an exploration
// terminated; neither the driver nor the cleanup pass reads them.
type EndActionUp struct {
	Node graph.NodeID
}

func (a EndActionUp) Execute(g *graph.Graph) error { return nil }

type EndActionDown struct {
	Node graph.NodeID
}

func (a EndActionDown) Execute(g *graph.Graph) error { return nil }

func remapAxes(axes []int, p permute.Permutation) []int {
	if len(axes) == 0 {
		return axes
	}

	rev := permute.Reverse(p)
	out := make([]int, len(axes))

	for i, ax := range axes {
		if ax < 0 || ax >= len(rev) {
			out[i] = ax
			continue
		}

		out[i] = rev[ax]
	}

	return out
}

func product(shape []int) int {
	p := 1
	for _, v := range shape {
		p *= v
	}

	return p
}
