package shapeinfer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerfoo/layoutopt/graph"
	"github.com/zerfoo/layoutopt/opkind"
	"github.com/zerfoo/layoutopt/shapeinfer"
)

func TestRunPropagatesThroughTransposeAndReshape(t *testing.T) {
	g := graph.New()

	input := &graph.Node{Name: "in", Kind: opkind.Input, OutShapes: []graph.Shape{{Dims: []int{1, 3, 4, 5}, Layout: []int{1, 3, 4, 5}}}}
	inID := g.AddNode(input)

	transpose := &graph.Node{Name: "t", Kind: opkind.Transpose, Permutation: []int{0, 2, 3, 1}}
	tID := g.AddNode(transpose)
	require.NoError(t, g.AddEdge(graph.Edge{From: inID, To: tID}))

	reshape := &graph.Node{Name: "r", Kind: opkind.Reshape, NewShape: []int{20, 3}}
	rID := g.AddNode(reshape)
	require.NoError(t, g.AddEdge(graph.Edge{From: tID, To: rID}))

	require.NoError(t, shapeinfer.Run(g))

	assert.Equal(t, []int{1, 4, 5, 3}, transpose.OutputShape())
	assert.Equal(t, []int{20, 3}, reshape.OutputShape())
}

func TestRunRejectsUnknownKind(t *testing.T) {
	g := graph.New()
	g.AddNode(&graph.Node{Name: "mystery", Kind: opkind.Unknown})

	err := shapeinfer.Run(g)
	require.Error(t, err)
	assert.ErrorIs(t, err, shapeinfer.ErrUnknownKind)
}

func TestRunBroadcastsBinaryInputs(t *testing.T) {
	g := graph.New()

	a := &graph.Node{Name: "a", Kind: opkind.Input, OutShapes: []graph.Shape{{Dims: []int{1, 64, 7, 7}, Layout: []int{1, 64, 7, 7}}}}
	aID := g.AddNode(a)

	b := &graph.Node{Name: "b", Kind: opkind.Input, OutShapes: []graph.Shape{{Dims: []int{7, 7}, Layout: []int{7, 7}}}}
	bID := g.AddNode(b)

	add := &graph.Node{Name: "add", Kind: opkind.Binary}
	addID := g.AddNode(add)
	require.NoError(t, g.AddEdge(graph.Edge{From: aID, To: addID, ToIdx: 0}))
	require.NoError(t, g.AddEdge(graph.Edge{From: bID, To: addID, ToIdx: 1}))

	require.NoError(t, shapeinfer.Run(g))
	assert.Equal(t, []int{1, 64, 7, 7}, add.OutputShape())
}
