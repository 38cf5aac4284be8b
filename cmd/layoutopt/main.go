package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/zerfoo/layoutopt/eliminate"
	"github.com/zerfoo/layoutopt/graph"
	"github.com/zerfoo/layoutopt/opkind"
)

func main() {
	scenario := flag.String("scenario", "cancelling-pair", "built-in scenario graph to run: cancelling-pair, sensitive-reject")
	doCleanup := flag.Bool("cleanup", false, "run post-pass reshape/transpose cleanup after each commit")
	onlyUp := flag.Bool("only-up", false, "disable downward exploration")
	verbose := flag.Bool("v", false, "log every explorer decision")
	flag.Parse()

	g, err := buildScenario(*scenario)
	if err != nil {
		log.Printf("layoutopt: %v", err)
		os.Exit(1)
	}

	before := len(g.Nodes(opkind.Transpose))

	opts := eliminate.Options{DoCleanup: *doCleanup, OnlyUp: *onlyUp}
	if *verbose {
		opts.Logger = log.New(os.Stderr, "", log.LstdFlags)
	} else {
		opts.Logger = log.New(discard{}, "", 0)
	}

	if err := eliminate.Run(g, opts); err != nil {
		log.Printf("layoutopt: %s: %v", *scenario, err)
		os.Exit(1)
	}

	after := len(g.Nodes(opkind.Transpose))

	fmt.Printf("%s: transposes %d -> %d\n", *scenario, before, after)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// buildScenario constructs one of the seed graphs, reproduced as plain
// graph.Graph construction rather than parsed from a file: these
// scenarios exist to exercise the pass end to end, not to validate an
// ingest format.
func buildScenario(name string) (*graph.Graph, error) {
	switch name {
	case "cancelling-pair":
		return cancellingPairGraph(), nil
	case "sensitive-reject":
		return sensitiveRejectGraph(), nil
	default:
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
}

func cancellingPairGraph() *graph.Graph {
	g := graph.New()

	in := g.AddNode(&graph.Node{Name: "in", Kind: opkind.Input,
		OutShapes: []graph.Shape{{Dims: []int{1, 3, 4, 5}, Layout: []int{1, 3, 4, 5}}}})
	t1 := g.AddNode(&graph.Node{Name: "t1", Kind: opkind.Transpose, Permutation: []int{0, 2, 3, 1}})
	t2 := g.AddNode(&graph.Node{Name: "t2", Kind: opkind.Transpose, Permutation: []int{0, 3, 1, 2}})
	out := g.AddNode(&graph.Node{Name: "out", Kind: opkind.Output})

	mustEdge(g, in, t1, 0)
	mustEdge(g, t1, t2, 0)
	mustEdge(g, t2, out, 0)

	return g
}

func sensitiveRejectGraph() *graph.Graph {
	g := graph.New()

	in := g.AddNode(&graph.Node{Name: "in", Kind: opkind.Input, FixedOrder: true,
		OutShapes: []graph.Shape{{Dims: []int{1, 4, 3}, Layout: []int{1, 4, 3}}}})
	tr := g.AddNode(&graph.Node{Name: "t", Kind: opkind.Transpose, Permutation: []int{0, 2, 1}})
	act := g.AddNode(&graph.Node{Name: "softmax", Kind: opkind.Activation})
	out := g.AddNode(&graph.Node{Name: "out", Kind: opkind.Output})

	mustEdge(g, in, tr, 0)
	mustEdge(g, tr, act, 0)
	mustEdge(g, act, out, 0)

	return g
}

func mustEdge(g *graph.Graph, from, to graph.NodeID, toIdx int) {
	if err := g.AddEdge(graph.Edge{From: from, To: to, ToIdx: toIdx}); err != nil {
		panic(err)
	}
}
