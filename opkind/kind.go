// Package opkind is the operator-kind registry: a closed tagged variant
// over the operator kinds the elimination pass recognises, plus the
// orthogonal capability predicates the explorers dispatch on.
//
// Dispatch in the explorers is a type switch over Kind combined with
// the capability predicates below; there is no open inheritance
// hierarchy to extend, by design — a kind outside this list is
// conservatively refused rather than guessed at.
package opkind

// Kind identifies an operator variant.
type Kind int

const (
	// Unknown is the zero value, never a valid node kind.
	Unknown Kind = iota
	Transpose
	Reshape
	Pad
	Reverse
	StridedSlice
	Concat
	Binary
	Pow
	Activation
	Copy
	UnaryOp
	Input
	Output
	Constant
	FullyConnected
	LinearFusion
	GlobalPooling
	Conv
)

func (k Kind) String() string {
	switch k {
	case Transpose:
		return "Transpose"
	case Reshape:
		return "Reshape"
	case Pad:
		return "Pad"
	case Reverse:
		return "Reverse"
	case StridedSlice:
		return "StridedSlice"
	case Concat:
		return "Concat"
	case Binary:
		return "Binary"
	case Pow:
		return "Pow"
	case Activation:
		return "Activation"
	case Copy:
		return "Copy"
	case UnaryOp:
		return "UnaryOp"
	case Input:
		return "Input"
	case Output:
		return "Output"
	case Constant:
		return "Constant"
	case FullyConnected:
		return "FullyConnected"
	case LinearFusion:
		return "LinearFusion"
	case GlobalPooling:
		return "GlobalPooling"
	case Conv:
		return "Conv"
	default:
		return "Unknown"
	}
}

// Capabilities are the orthogonal markers the explorers query. They
// never depend on a node's runtime attributes (e.g. Input's
// fixed_order is consulted separately by callers; LayoutFlexible here
// reports the kind's *default* posture).
type Capabilities struct {
	// SensitiveToOrder operators cannot be traversed without
	// terminating propagation: Conv, GlobalPooling, Activation.
	SensitiveToOrder bool
	// Broadcastable operators accept inputs of differing rank;
	// leading unit axes are implicit: Concat, Binary, Pow.
	Broadcastable bool
	// Transient operators are parameterised by an axis list that a
	// permutation can rewrite in place: Pad, Reverse, StridedSlice.
	Transient bool
	// LayoutFlexible terminals absorb a permutation entirely by
	// re-ordering their own stored state: Input, Constant,
	// FullyConnected (single batch), Output.
	LayoutFlexible bool
}

var table = map[Kind]Capabilities{
	Transpose:      {},
	Reshape:        {},
	Pad:            {Transient: true},
	Reverse:        {Transient: true},
	StridedSlice:   {Transient: true},
	Concat:         {Broadcastable: true},
	Binary:         {Broadcastable: true},
	Pow:            {Broadcastable: true},
	Activation:     {SensitiveToOrder: true},
	Copy:           {},
	UnaryOp:        {},
	Input:          {LayoutFlexible: true},
	Output:         {LayoutFlexible: true},
	Constant:       {LayoutFlexible: true},
	FullyConnected: {LayoutFlexible: true},
	LinearFusion:   {LayoutFlexible: true},
	GlobalPooling:  {SensitiveToOrder: true},
	Conv:           {SensitiveToOrder: true},
}

var names = map[string]Kind{
	"Transpose":      Transpose,
	"Reshape":        Reshape,
	"Pad":            Pad,
	"Reverse":        Reverse,
	"StridedSlice":   StridedSlice,
	"Concat":         Concat,
	"Binary":         Binary,
	"Pow":            Pow,
	"Activation":     Activation,
	"Copy":           Copy,
	"UnaryOp":        UnaryOp,
	"Input":          Input,
	"Output":         Output,
	"Constant":       Constant,
	"FullyConnected": FullyConnected,
	"LinearFusion":   LinearFusion,
	"GlobalPooling":  GlobalPooling,
	"Conv":           Conv,
}

// Parse looks up a Kind by its String() name, for callers that only
// have a textual operator kind.
func Parse(name string) (Kind, bool) {
	k, ok := names[name]
	return k, ok
}

// Of returns the capability markers for kind. An unrecognised kind
// (including Unknown) reports the zero Capabilities, so callers that
// don't explicitly handle the enumerated taxonomy fail conservatively
// rather than silently matching a default capability.
func Of(k Kind) Capabilities {
	return table[k]
}

// ExploresUp reports whether the downward explorer, on reaching this
// kind, must additionally recurse upward into every other input edge
// (NODES_TO_EXPLORE_UP in the original): Concat, Binary, and any other
// Broadcastable operator.
func ExploresUp(k Kind) bool {
	return Of(k).Broadcastable
}
