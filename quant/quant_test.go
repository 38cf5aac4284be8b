package quant_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerfoo/layoutopt/quant"
)

func TestTableSetGetDelete(t *testing.T) {
	table := quant.NewTable()

	_, ok := table.Get(1)
	assert.False(t, ok)

	rec := &quant.Record{DType: quant.DTypeFloat16, Scale: 0.5, ZeroPoint: 0}
	table.Set(1, rec)

	got, ok := table.Get(1)
	require.True(t, ok)
	assert.Same(t, rec, got)

	table.Delete(1)

	_, ok = table.Get(1)
	assert.False(t, ok)
}

func TestNilTableIsInert(t *testing.T) {
	var table *quant.Table

	table.Set(1, &quant.Record{})

	_, ok := table.Get(1)
	assert.False(t, ok)

	assert.NotPanics(t, func() { table.Delete(1) })
}

func TestRecordQuantizedValues(t *testing.T) {
	rec := &quant.Record{DType: quant.DTypeFloat16, Scale: 1, ZeroPoint: 0}

	f16 := rec.Float16Value(3.5)
	assert.InDelta(t, 3.5, f16.ToFloat32(), 0.01)

	f8 := rec.Float8Value(2.0)
	assert.InDelta(t, 2.0, float64(f8.ToFloat32()), 0.5)
}
