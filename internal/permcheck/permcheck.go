// Package permcheck renders package permute's []int permutations as
// 0/1 permutation matrices and cross-checks Compose/Reverse against
// plain matrix algebra. It exists purely as a second, independently
// grounded implementation of the same algebra to verify against in
// tests — production code never imports it.
package permcheck

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/zerfoo/layoutopt/permute"
)

// Matrix renders p as an n x n permutation matrix M where
// M.At(i, p[i]) == 1 and every other entry in row i is 0, so that
// M * columnVector(shape) reorders shape exactly as permute.Apply(p,
// shape) does.
func Matrix(p permute.Permutation) *mat.Dense {
	n := len(p)
	m := mat.NewDense(n, n, nil)

	for i, axis := range p {
		m.Set(i, axis, 1)
	}

	return m
}

// VerifyCompose reports whether permute.Compose(p, q)'s matrix equals
// the matrix product Matrix(q) * Matrix(p), under permute's own
// composition convention (Compose(p, q) == Apply(q, p)).
func VerifyCompose(p, q permute.Permutation) error {
	composed, err := permute.Compose(p, q)
	if err != nil {
		return fmt.Errorf("permcheck: compose: %w", err)
	}

	var product mat.Dense
	product.Mul(Matrix(q), Matrix(p))

	if !mat.Equal(Matrix(composed), &product) {
		return fmt.Errorf("permcheck: compose(%v, %v) = %v disagrees with matrix product", p, q, composed)
	}

	return nil
}

// VerifyReverse reports whether permute.Reverse(p)'s matrix is the
// transpose of Matrix(p), the matrix-algebra definition of a
// permutation matrix's inverse.
func VerifyReverse(p permute.Permutation) error {
	var transposed mat.Dense
	transposed.CloneFrom(Matrix(p).T())

	if !mat.Equal(Matrix(permute.Reverse(p)), &transposed) {
		return fmt.Errorf("permcheck: reverse(%v) disagrees with matrix transpose", p)
	}

	return nil
}
