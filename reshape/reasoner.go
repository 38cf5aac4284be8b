// Package reshape implements the reshape reasoner: given a permutation
// sitting on one side of a Reshape node, it decides whether an
// equivalent permutation exists on the other side, and what the
// Reshape's shape attributes must become to carry it.
//
// A Reshape only ever merges or splits contiguous runs of axes; it
// never reorders data. So a permutation commutes with it only when the
// permutation's source and destination axes can be partitioned into
// contiguous runs whose products line up with the reshape's groups.
// Genuine axis interleaving (e.g. a transpose that truly shuffles data
// within a merged group) has no equivalent reshape, and Reconcile
// reports that with ok == false.
package reshape

import "github.com/zerfoo/layoutopt/permute"

// axisGroup is a contiguous run of axes in a source shape, identified
// by its [start, end) index range, together with the product of the
// extents it covers.
type axisGroup struct {
	start, end int
	product    int
}

// Reconcile decides whether perm, currently applied on one side of a
// Reshape(oldShape -> newShape), has an equivalent permutation on the
// other side.
//
// When goingUp is false, perm is applied upstream of the reshape
// (Apply(perm, X) == oldShape for some pre-transpose shape X); the
// result places the permutation downstream instead: the reshape's new
// shape becomes toShape, and Apply(newPerm, toShape) == newShape.
//
// When goingUp is true, perm is applied downstream of the reshape
// (the reshape's consumer sees Apply(perm, newShape)); the result
// places the permutation upstream instead: the reshape's old shape
// becomes toShape, Apply(newPerm, oldShape) == toShape, and the
// reshape's new shape becomes Apply(perm, newShape), the shape its
// consumer saw before the permutation moved.
//
// ok is false when no equivalent reshape/permutation pair exists,
// meaning the original permutation genuinely interleaves data across
// the reshape's axis groups.
func Reconcile(perm permute.Permutation, oldShape, newShape []int, goingUp bool) (newPerm permute.Permutation, toShape []int, ok bool) {
	if permute.IsIdentity(perm) {
		if !goingUp {
			return permute.Identity(len(newShape)), append([]int(nil), newShape...), true
		}

		return permute.Identity(len(oldShape)), append([]int(nil), oldShape...), true
	}

	if !goingUp {
		fine, err := permute.Apply(permute.Reverse(perm), oldShape)
		if err != nil {
			return nil, nil, false
		}

		groupPerm, groups, ok := partition(fine, newShape)
		if !ok {
			return nil, nil, false
		}

		toShape = make([]int, len(groups))
		for i, g := range groups {
			toShape[i] = g.product
		}

		return groupPerm, toShape, true
	}

	target, err := permute.Apply(perm, newShape)
	if err != nil {
		return nil, nil, false
	}

	groupPerm, groups, ok := partition(oldShape, target)
	if !ok {
		return nil, nil, false
	}

	newPerm = make(permute.Permutation, 0, len(oldShape))
	for _, g := range groupPerm {
		group := groups[g]
		for axis := group.start; axis < group.end; axis++ {
			newPerm = append(newPerm, axis)
		}
	}

	toShape, err = permute.Apply(newPerm, oldShape)
	if err != nil {
		return nil, nil, false
	}

	return newPerm, toShape, true
}

// partition finds a way to split fine's axes into exactly len(target)
// contiguous, non-empty groups whose products match target's values as
// a multiset, and a bijection (groupPerm) from target's positions to
// fine's group indices realizing that match: for every position j,
// groups[groupPerm[j]].product == target[j].
//
// It tries partitions in order of ascending first-cut-point (a stable,
// arbitrary tie-break among equally valid reshapes — spec scenarios
// that admit more than one reconciling reshape accept any of them).
func partition(fine []int, target []int) (groupPerm permute.Permutation, groups []axisGroup, ok bool) {
	k := len(target)
	n := len(fine)

	if k == 0 || n == 0 || k > n {
		return nil, nil, false
	}

	cuts := make([]int, k-1)
	for i := range cuts {
		cuts[i] = i
	}

	for {
		candidate := groupsFromCuts(fine, cuts)

		if gp, ok := matchGroups(candidate, target); ok {
			return gp, candidate, true
		}

		if !nextCombination(cuts, n-1) {
			break
		}
	}

	return nil, nil, false
}

// groupsFromCuts builds the k contiguous axis groups of fine implied by
// cut points (indices into the n-1 internal gaps between axes).
func groupsFromCuts(fine []int, cuts []int) []axisGroup {
	groups := make([]axisGroup, len(cuts)+1)

	start := 0
	for i, cut := range cuts {
		end := cut + 1
		groups[i] = axisGroup{start: start, end: end, product: product(fine[start:end])}
		start = end
	}

	groups[len(cuts)] = axisGroup{start: start, end: len(fine), product: product(fine[start:])}

	return groups
}

func product(vals []int) int {
	p := 1
	for _, v := range vals {
		p *= v
	}

	return p
}

// matchGroups finds a bijection from target's positions to groups'
// indices such that the products line up, using each group exactly
// once. Ties among equal-valued groups are resolved by picking the
// lowest unused group index, in target-position order.
func matchGroups(groups []axisGroup, target []int) (permute.Permutation, bool) {
	if len(groups) != len(target) {
		return nil, false
	}

	used := make([]bool, len(groups))
	groupPerm := make(permute.Permutation, len(target))

	for j, want := range target {
		found := -1

		for g, grp := range groups {
			if used[g] || grp.product != want {
				continue
			}

			found = g

			break
		}

		if found == -1 {
			return nil, false
		}

		used[found] = true
		groupPerm[j] = found
	}

	return groupPerm, true
}

// nextCombination advances cuts (a strictly increasing slice of
// indices in [0, limit)) to the next combination in lexicographic
// order, reporting whether one exists.
func nextCombination(cuts []int, limit int) bool {
	k := len(cuts)
	if k == 0 {
		return false
	}

	i := k - 1
	for i >= 0 && cuts[i] == limit-k+i {
		i--
	}

	if i < 0 {
		return false
	}

	cuts[i]++
	for j := i + 1; j < k; j++ {
		cuts[j] = cuts[j-1] + 1
	}

	return true
}
