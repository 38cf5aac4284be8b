// Package graph is the minimal graph container the elimination pass
// runs against: node/edge storage, neighbour lookup by port, and the
// structural mutations the core issues through Action objects.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zerfoo/layoutopt/opkind"
	"github.com/zerfoo/layoutopt/quant"
)

// Graph is a mutable, directed computation graph.
type Graph struct {
	nodes  map[NodeID]*Node
	order  []NodeID
	nextID NodeID

	outEdges map[NodeID][]Edge
	inEdges  map[NodeID][]Edge

	// Quantization shadows nodes with numeric metadata, keyed by the
	// same NodeID the graph itself uses.
	Quantization *quant.Table
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:        make(map[NodeID]*Node),
		outEdges:     make(map[NodeID][]Edge),
		inEdges:      make(map[NodeID][]Edge),
		Quantization: quant.NewTable(),
	}
}

// AddNode registers n, assigning it an ID if it doesn't have one, and
// returns that ID.
func (g *Graph) AddNode(n *Node) NodeID {
	if n.ID == 0 {
		g.nextID++
		n.ID = g.nextID
	} else if n.ID > g.nextID {
		g.nextID = n.ID
	}

	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)

	return n.ID
}

// Node looks up a node by ID.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// MustNode looks up a node by ID, panicking if it is absent. Reserved
// for call sites that already established the ID is valid (e.g. one
// just returned by AddEdge's own endpoints), matching the teacher's
// narrow use of panics for programmer-error invariants.
func (g *Graph) MustNode(id NodeID) *Node {
	n, ok := g.nodes[id]
	if !ok {
		panic(fmt.Sprintf("graph: node %d does not exist", id))
	}

	return n
}

// AddEdge records a directed edge between two already-added nodes.
func (g *Graph) AddEdge(e Edge) error {
	if _, ok := g.nodes[e.From]; !ok {
		return fmt.Errorf("graph: add edge: source node %d does not exist", e.From)
	}

	if _, ok := g.nodes[e.To]; !ok {
		return fmt.Errorf("graph: add edge: destination node %d does not exist", e.To)
	}

	g.outEdges[e.From] = append(g.outEdges[e.From], e)
	g.inEdges[e.To] = append(g.inEdges[e.To], e)

	return nil
}

// RemoveEdge deletes one matching edge, if present.
func (g *Graph) RemoveEdge(e Edge) {
	g.outEdges[e.From] = removeEdge(g.outEdges[e.From], e)
	g.inEdges[e.To] = removeEdge(g.inEdges[e.To], e)
}

func removeEdge(edges []Edge, target Edge) []Edge {
	out := edges[:0]

	for _, e := range edges {
		if e != target {
			out = append(out, e)
		}
	}

	return out
}

// Nodes returns every node in the graph, sorted deterministically by
// name, optionally filtered to the given kinds.
func (g *Graph) Nodes(kinds ...opkind.Kind) []*Node {
	want := make(map[opkind.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	out := make([]*Node, 0, len(g.nodes))

	for _, id := range g.order {
		n, ok := g.nodes[id]
		if !ok {
			continue
		}

		if len(kinds) > 0 && !want[n.Kind] {
			continue
		}

		out = append(out, n)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// InEdges returns n's incoming edges in no particular order.
func (g *Graph) InEdges(id NodeID) []Edge {
	return append([]Edge(nil), g.inEdges[id]...)
}

// OutEdges returns n's outgoing edges in no particular order.
func (g *Graph) OutEdges(id NodeID) []Edge {
	return append([]Edge(nil), g.outEdges[id]...)
}

// IndexedInEdges returns n's incoming edges sorted by destination
// port (ToIdx), the order a multi-input operator's siblings are
// addressed in.
func (g *Graph) IndexedInEdges(id NodeID) []Edge {
	edges := g.InEdges(id)
	sort.Slice(edges, func(i, j int) bool { return edges[i].ToIdx < edges[j].ToIdx })

	return edges
}

// RemoveAndReconnect deletes a single-input node and reconnects each
// of its consumers directly to its own input's source, preserving
// port indices on the consumer side and adopting the removed node's
// input port on the source side.
func (g *Graph) RemoveAndReconnect(id NodeID) error {
	ins := g.InEdges(id)
	if len(ins) != 1 {
		return fmt.Errorf("graph: remove and reconnect: node %d has %d input edges, want exactly 1", id, len(ins))
	}

	in := ins[0]
	outs := g.OutEdges(id)

	for _, out := range outs {
		g.RemoveEdge(out)

		if err := g.AddEdge(Edge{From: in.From, FromIdx: in.FromIdx, To: out.To, ToIdx: out.ToIdx}); err != nil {
			return fmt.Errorf("graph: remove and reconnect: %w", err)
		}
	}

	g.RemoveEdge(in)
	delete(g.nodes, id)
	g.order = removeID(g.order, id)
	delete(g.outEdges, id)
	delete(g.inEdges, id)

	return nil
}

func removeID(ids []NodeID, target NodeID) []NodeID {
	out := ids[:0]

	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}

	return out
}

// TopologicalOrder returns the graph's nodes in dependency order
// (producers before consumers). It is recomputed on demand rather
// than cached, so callers comparing step indices across mutations
// within the same driver pass always see current positions.
func (g *Graph) TopologicalOrder() ([]NodeID, error) {
	visited := make(map[NodeID]bool, len(g.nodes))
	onStack := make(map[NodeID]bool, len(g.nodes))
	sorted := make([]NodeID, 0, len(g.nodes))

	var visit func(id NodeID) error

	visit = func(id NodeID) error {
		if onStack[id] {
			return errors.New("graph: cycle detected")
		}

		if visited[id] {
			return nil
		}

		onStack[id] = true
		visited[id] = true

		for _, e := range g.inEdges[id] {
			if err := visit(e.From); err != nil {
				return err
			}
		}

		sorted = append(sorted, id)
		delete(onStack, id)

		return nil
	}

	for _, id := range g.order {
		if err := visit(id); err != nil {
			return nil, err
		}
	}

	return sorted, nil
}

// StepIndex returns id's position in the graph's current topological
// order, used by the driver's downward-bias tie rule.
func (g *Graph) StepIndex(id NodeID) (int, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return 0, err
	}

	for i, oid := range order {
		if oid == id {
			return i, nil
		}
	}

	return 0, fmt.Errorf("graph: node %d not found in topological order", id)
}
