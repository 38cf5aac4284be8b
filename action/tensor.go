package action

import "github.com/zerfoo/layoutopt/permute"

// permutedIndices returns, for each flat row-major index i of a tensor
// shaped Apply(p, shape), the flat index in the original shape that
// value came from. It is the shared arithmetic behind every action
// that permutes stored data (constants, weight rows/columns) rather
// than just shape metadata.
func permutedIndices(shape []int, p permute.Permutation) ([]int, error) {
	newShape, err := permute.Apply(p, shape)
	if err != nil {
		return nil, err
	}

	strides := stridesOf(shape)
	newStrides := stridesOf(newShape)

	total := product(shape)
	out := make([]int, total)
	idx := make([]int, len(shape))
	orig := make([]int, len(shape))

	for i := 0; i < total; i++ {
		rem := i
		for d := range newShape {
			idx[d] = rem / newStrides[d]
			rem %= newStrides[d]
		}

		for d, axis := range p {
			orig[axis] = idx[d]
		}

		srcFlat := 0
		for d, v := range orig {
			srcFlat += v * strides[d]
		}

		out[i] = srcFlat
	}

	return out, nil
}

func stridesOf(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1

	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}

	return strides
}

func permuteData(shape []int, p permute.Permutation, data []float64) ([]float64, error) {
	idxs, err := permutedIndices(shape, p)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(data))
	for i, src := range idxs {
		out[i] = data[src]
	}

	return out, nil
}

// permuteRows reorders a row-major [rows, cols] matrix's rows, where
// the row axis is itself the flattening of groupShape, under the
// group-level permutation p.
func permuteRows(data []float64, rows, cols int, groupShape []int, p permute.Permutation) ([]float64, error) {
	idxs, err := permutedIndices(groupShape, p)
	if err != nil {
		return nil, err
	}

	out := make([]float64, rows*cols)
	for r, srcRow := range idxs {
		copy(out[r*cols:(r+1)*cols], data[srcRow*cols:(srcRow+1)*cols])
	}

	return out, nil
}

// permuteCols is permuteRows' column-axis counterpart.
func permuteCols(data []float64, rows, cols int, groupShape []int, p permute.Permutation) ([]float64, error) {
	idxs, err := permutedIndices(groupShape, p)
	if err != nil {
		return nil, err
	}

	out := make([]float64, rows*cols)
	for c, srcCol := range idxs {
		for r := 0; r < rows; r++ {
			out[r*cols+c] = data[r*cols+srcCol]
		}
	}

	return out, nil
}
