// Package quant is the quantization side-table: numeric metadata that
// shadows graph nodes without living on the Node itself, following the
// same registration-table shape as the teacher's model.ModelRegistry.
package quant

import (
	"sync"

	"github.com/zerfoo/float16"
	"github.com/zerfoo/float8"
)

// NodeID mirrors graph.NodeID's underlying type without importing the
// graph package, which would otherwise cycle back into quant.
type NodeID int

// DType enumerates the element types a quantized tensor may be stored
// as, matching the closed set tensor.Numeric constrains the teacher's
// tensors to.
type DType int

const (
	DTypeUnknown DType = iota
	DTypeFloat32
	DTypeFloat16
	DTypeFloat8
	DTypeInt8
	DTypeInt32
)

// Record is the quantization metadata attached to one node's output:
// its stored element type plus the affine quantization parameters
// needed to dequantize it.
type Record struct {
	DType     DType
	Scale     float64
	ZeroPoint int64
}

// Float16Value and Float8Value convert scale/zero-point adjusted
// values into the matching quantized numeric kind, giving
// Record.DType a concrete library type to name rather than a bare tag.
func (r *Record) Float16Value(v float64) float16.Float16 {
	return float16.FromFloat32(float32(v))
}

func (r *Record) Float8Value(v float64) float8.Float8 {
	return float8.ToFloat8(float32(v))
}

// Table is a concurrency-safe registry of Records keyed by node.
type Table struct {
	mu      sync.RWMutex
	records map[NodeID]*Record
}

// NewTable returns an empty quantization table. A nil *Table is also
// valid to use via the methods below: Get always returns
// (nil, false) and Set is a no-op, so quantization remains fully
// optional.
func NewTable() *Table {
	return &Table{records: make(map[NodeID]*Record)}
}

// Get returns the record registered for id, if any.
func (t *Table) Get(id NodeID) (*Record, bool) {
	if t == nil {
		return nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.records[id]

	return r, ok
}

// Set registers (or replaces) the record for id.
func (t *Table) Set(id NodeID, r *Record) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.records[id] = r
}

// Delete removes any record registered for id.
func (t *Table) Delete(id NodeID) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.records, id)
}
