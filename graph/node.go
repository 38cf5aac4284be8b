package graph

import "github.com/zerfoo/layoutopt/opkind"

// NodeID identifies a node within a Graph. It is stable across
// mutation: removing a node never reassigns another node's ID.
type NodeID int

// Shape carries both views spec.md's data model calls for: Dims is
// the logical shape, Layout is the same extent with unit axes elided.
// Layout diverging from Dims is what requiresReshape checks for.
type Shape struct {
	Dims   []int
	Layout []int
}

// Tensor is the minimal stored-value representation a Constant or a
// FullyConnected/LinearFusion's weight needs so that ReorderConstantInput,
// ReorderLinear and SwitchBatchLinear have something concrete to permute.
// It is not a compute engine: no kernels read or write through it
// outside of the actions in package action.
type Tensor struct {
	Shape []int
	Data  []float64
}

// Node is a vertex of the graph: an operator kind, its per-port shapes,
// and kind-specific attributes. Only the attributes relevant to a
// node's Kind are meaningful; the rest are left at their zero value.
type Node struct {
	ID   NodeID
	Name string
	Kind opkind.Kind

	InShapes  []Shape
	OutShapes []Shape

	// Transpose
	Permutation []int

	// Reshape / StridedSlice-that-reshapes
	OldShape []int
	NewShape []int

	// StridedSlice: the shape immediately after the physical slice,
	// before any reshape wrapped around it.
	SliceShape []int

	// Input / Output
	FixedOrder bool

	// FullyConnected / LinearFusion
	BatchSize int
	Weight    *Tensor

	// Pad / Reverse / StridedSlice (Transient): the axis list the
	// operator is parameterised by, rewritten in place when a
	// permutation commutes past it.
	Axes []int

	// Constant
	Value *Tensor
}

// OutputShape is a convenience accessor for the common single-output
// case; callers needing per-port shapes use OutShapes directly.
func (n *Node) OutputShape() []int {
	if len(n.OutShapes) == 0 {
		return nil
	}

	return n.OutShapes[0].Dims
}

// InputShape is the single-input-port convenience counterpart to
// OutputShape.
func (n *Node) InputShape() []int {
	if len(n.InShapes) == 0 {
		return nil
	}

	return n.InShapes[0].Dims
}
