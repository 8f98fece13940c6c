// Package layout implements pure shape/stride metadata algebra for dense
// tensors: initialization, broadcasting, transposition, reshape, reduction
// and the regularity/contiguity predicates that gate them. No operation in
// this package touches a data buffer.
package layout

import (
	"github.com/tensorgraph/engine/pkg/errors"
)

// TD is the maximum tensor rank. All layouts carry exactly TD dimensions,
// right-aligned; shapes of lower rank are padded on the left with 1s.
const TD = 4

// Layout is the shape/stride metadata of a tensor. It is a small value
// type copied freely; operations that "transform" a layout return a new
// value rather than mutating the receiver, except where explicit
// in-place semantics are called for (Broadcast, Transpose).
type Layout struct {
	Shape   [TD]int
	Strides [TD]int
	Size    int
}

// Init right-aligns shape (of logical rank ndim) into TD slots, computes
// contiguous row-major strides and the total element count.
func Init(shape []int, ndim int) (Layout, error) {
	if ndim < 0 || ndim > TD {
		return Layout{}, errors.Newf(errors.CodeInvalidArgument, "ndim %d out of range [0,%d]", ndim, TD)
	}
	if len(shape) != ndim {
		return Layout{}, errors.Newf(errors.CodeInvalidArgument, "shape length %d does not match ndim %d", len(shape), ndim)
	}
	var l Layout
	offset := TD - ndim
	for i := 0; i < offset; i++ {
		l.Shape[i] = 1
	}
	for i, s := range shape {
		if s < 1 {
			return Layout{}, errors.Newf(errors.CodeInvalidArgument, "shape dim %d must be >= 1, got %d", i, s)
		}
		l.Shape[offset+i] = s
	}
	l.recomputeContiguousStrides()
	l.Size = l.product()
	return l, nil
}

func (l *Layout) product() int {
	size := 1
	for _, s := range l.Shape {
		size *= s
	}
	return size
}

// recomputeContiguousStrides rewrites Strides in place as row-major
// contiguous strides derived from the current Shape.
func (l *Layout) recomputeContiguousStrides() {
	stride := 1
	for i := TD - 1; i >= 0; i-- {
		l.Strides[i] = stride
		stride *= l.Shape[i]
	}
}

// FlatIndex right-aligns indices (of logical rank ndim), bounds-checks each
// against Shape, and returns the dot product with Strides.
func (l Layout) FlatIndex(indices []int, ndim int) (int, error) {
	if ndim < 0 || ndim > TD || len(indices) != ndim {
		return 0, errors.Newf(errors.CodeInvalidArgument, "indices length %d does not match ndim %d", len(indices), ndim)
	}
	offset := TD - ndim
	flat := 0
	for i, idx := range indices {
		axis := offset + i
		if idx < 0 || idx >= l.Shape[axis] {
			return 0, errors.Wrap(errors.CodeIndexOutOfBounds, "index out of bounds", errors.Newf(errors.CodeIndexOutOfBounds, "axis %d: index %d not in [0,%d)", axis, idx, l.Shape[axis]))
		}
		flat += idx * l.Strides[axis]
	}
	return flat, nil
}

// Broadcast makes l1 and l2 conformal over axes [startDim, endDim) in
// place: equal sizes are left untouched, a size-1 side is stretched by
// zeroing its stride and adopting the other side's shape, and any other
// mismatch fails.
func Broadcast(l1, l2 *Layout, startDim, endDim int) error {
	if startDim < 0 || endDim > TD || startDim > endDim {
		return errors.Newf(errors.CodeInvalidArgument, "invalid broadcast range [%d,%d)", startDim, endDim)
	}
	for i := startDim; i < endDim; i++ {
		s1, s2 := l1.Shape[i], l2.Shape[i]
		switch {
		case s1 == s2:
			continue
		case s1 == 1:
			l1.Shape[i] = s2
			l1.Strides[i] = 0
		case s2 == 1:
			l2.Shape[i] = s1
			l2.Strides[i] = 0
		default:
			return errors.Wrap(errors.CodeBroadcast, "shapes not broadcast-compatible", errors.Newf(errors.CodeBroadcast, "axis %d: %d vs %d", i, s1, s2))
		}
	}
	l1.Size = l1.product()
	l2.Size = l2.product()
	return nil
}

// Transpose permutes the last ndim axes of l in place according to perm
// (a permutation of [0,ndim)); the leading TD-ndim axes are untouched.
func Transpose(l *Layout, perm []int, ndim int) error {
	if ndim < 0 || ndim > TD || len(perm) != ndim {
		return errors.Newf(errors.CodeInvalidArgument, "perm length %d does not match ndim %d", len(perm), ndim)
	}
	seen := make([]bool, ndim)
	for _, p := range perm {
		if p < 0 || p >= ndim || seen[p] {
			return errors.Newf(errors.CodeInvalidArgument, "invalid or duplicate permutation entry %d", p)
		}
		seen[p] = true
	}
	offset := TD - ndim
	var newShape, newStrides [TD]int
	copy(newShape[:offset], l.Shape[:offset])
	copy(newStrides[:offset], l.Strides[:offset])
	for i, p := range perm {
		newShape[offset+i] = l.Shape[offset+p]
		newStrides[offset+i] = l.Strides[offset+p]
	}
	l.Shape = newShape
	l.Strides = newStrides
	return nil
}

// Reshape requires l to be Regular. newShape may contain at most one -1
// placeholder, inferred from the total element count. The result keeps
// contiguous row-major strides scaled by l's innermost stride, so that
// any uniform stride-k traversal of the source is preserved.
func Reshape(l Layout, newShape []int, ndim int) (Layout, error) {
	if !l.IsRegular() {
		return Layout{}, errors.Wrap(errors.CodeReshape, "layout is not regular", nil)
	}
	if ndim < 0 || ndim > TD || len(newShape) != ndim {
		return Layout{}, errors.Newf(errors.CodeInvalidArgument, "new shape length %d does not match ndim %d", len(newShape), ndim)
	}

	inferIdx := -1
	known := 1
	for i, s := range newShape {
		if s == -1 {
			if inferIdx != -1 {
				return Layout{}, errors.Newf(errors.CodeReshape, "new shape has more than one -1 placeholder")
			}
			inferIdx = i
			continue
		}
		if s < 1 {
			return Layout{}, errors.Newf(errors.CodeReshape, "new shape dim %d must be >= 1 or -1, got %d", i, s)
		}
		known *= s
	}

	resolved := make([]int, ndim)
	copy(resolved, newShape)
	if inferIdx != -1 {
		if known == 0 || l.Size%known != 0 {
			return Layout{}, errors.Newf(errors.CodeReshape, "cannot infer dimension: size %d not divisible by %d", l.Size, known)
		}
		resolved[inferIdx] = l.Size / known
	}

	total := 1
	for _, s := range resolved {
		total *= s
	}
	if total != l.Size {
		return Layout{}, errors.Newf(errors.CodeReshape, "reshape element count mismatch: %d vs %d", total, l.Size)
	}

	unitStride := l.Strides[TD-1]
	out, err := Init(resolved, ndim)
	if err != nil {
		return Layout{}, err
	}
	for i := range out.Strides {
		out.Strides[i] *= unitStride
	}
	return out, nil
}

// Reduce collapses every axis marked in mask to size 1 and recomputes
// contiguous strides for the result.
func Reduce(l Layout, mask [TD]bool) Layout {
	var out Layout
	for i := 0; i < TD; i++ {
		if mask[i] {
			out.Shape[i] = 1
		} else {
			out.Shape[i] = l.Shape[i]
		}
	}
	out.recomputeContiguousStrides()
	out.Size = out.product()
	return out
}

// IsRegular reports whether there is a unit step k >= 1 such that
// Strides[TD-1] = k and, for every i < TD-1, Strides[i] = Strides[i+1] *
// Shape[i+1] — i.e. the layout is a scaled contiguous traversal.
func (l Layout) IsRegular() bool {
	if l.Strides[TD-1] < 1 {
		return false
	}
	for i := TD - 2; i >= 0; i-- {
		if l.Strides[i] != l.Strides[i+1]*l.Shape[i+1] {
			return false
		}
	}
	return true
}

// IsContiguous reports IsRegular with a unit innermost stride.
func (l Layout) IsContiguous() bool {
	return l.IsRegular() && l.Strides[TD-1] == 1
}

// Ndim returns the logical rank: the count of trailing axes, where
// leading axes of size 1 introduced by right-alignment are excluded
// down to the first axis whose size differs from 1.
func (l Layout) Ndim() int {
	for i := 0; i < TD; i++ {
		if l.Shape[i] != 1 {
			return TD - i
		}
	}
	return 0
}
