// Package cpu implements the single-precision, pure-Go reference backend.
// Per the engine's scope, numeric kernel performance (SIMD, BLAS linkage,
// kernel fusion) is explicitly out of bounds — only correctness matters,
// so every kernel here is a plain nested loop over the layout's strides.
package cpu

import (
	"math/rand"

	"github.com/tensorgraph/engine/internal/backend"
	"github.com/tensorgraph/engine/internal/layout"
	"github.com/tensorgraph/engine/pkg/errors"
)

// Name is the backend's registry key.
const Name = "cpu"

func init() {
	backend.Register(descriptor{})
}

// buffer is the shared, ref-counted-by-Go-GC allocation a bucket's
// members alias. Free receives the handle of whichever member is freed
// last, root or alias; since all of them point at this buffer, that
// releases it for every member.
type buffer struct {
	data []float32
}

// handle is the cpu backend's opaque per-storage state: a layout plus a
// pointer to the (possibly aliased) buffer it reads/writes through.
type handle struct {
	buf *buffer
	lay layout.Layout
}

func (h *handle) Layout() layout.Layout      { return h.lay }
func (h *handle) SetLayout(l layout.Layout)  { h.lay = l }

func asHandle(h backend.Handle) (*handle, error) {
	hh, ok := h.(*handle)
	if !ok {
		return nil, errors.Wrap(errors.CodeBackendMismatch, "handle does not belong to the cpu backend", nil)
	}
	return hh, nil
}

type descriptor struct{}

func (descriptor) Name() string { return Name }

func (descriptor) Init(l layout.Layout) (backend.Handle, error) {
	return &handle{buf: &buffer{data: make([]float32, l.Size)}, lay: l}, nil
}

func (descriptor) Fill(h backend.Handle, v float32) error {
	hh, err := asHandle(h)
	if err != nil {
		return err
	}
	forEachIndex(hh.lay, func(idx [layout.TD]int, flat int) {
		hh.buf.data[flat] = v
	})
	return nil
}

func (descriptor) FillRand(h backend.Handle) error {
	hh, err := asHandle(h)
	if err != nil {
		return err
	}
	forEachIndex(hh.lay, func(idx [layout.TD]int, flat int) {
		hh.buf.data[flat] = rand.Float32()
	})
	return nil
}

func (descriptor) Axpy(alpha float32, xi, yi, ri backend.Handle) error {
	x, err := asHandle(xi)
	if err != nil {
		return err
	}
	y, err := asHandle(yi)
	if err != nil {
		return err
	}
	r, err := asHandle(ri)
	if err != nil {
		return err
	}
	forEachIndex(r.lay, func(idx [layout.TD]int, rFlat int) {
		xFlat := dot(idx, x.lay.Strides)
		yFlat := dot(idx, y.lay.Strides)
		r.buf.data[rFlat] = alpha*x.buf.data[xFlat] + y.buf.data[yFlat]
	})
	return nil
}

func (descriptor) Gemm(alpha float32, ai, bi backend.Handle, beta float32, ci backend.Handle) error {
	a, err := asHandle(ai)
	if err != nil {
		return err
	}
	b, err := asHandle(bi)
	if err != nil {
		return err
	}
	c, err := asHandle(ci)
	if err != nil {
		return err
	}

	m := c.lay.Shape[layout.TD-2]
	n := c.lay.Shape[layout.TD-1]
	k := a.lay.Shape[layout.TD-1]

	var batch [layout.TD]int
	copy(batch[:], c.lay.Shape[:])
	batch[layout.TD-2] = 1
	batch[layout.TD-1] = 1

	forEachIndex(layout.Layout{Shape: batch}, func(bidx [layout.TD]int, _ int) {
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				idx := bidx
				idx[layout.TD-2] = i
				idx[layout.TD-1] = j
				cFlat := dot(idx, c.lay.Strides)

				var sum float32
				for p := 0; p < k; p++ {
					aIdx := bidx
					aIdx[layout.TD-2] = i
					aIdx[layout.TD-1] = p
					bIdx := bidx
					bIdx[layout.TD-2] = p
					bIdx[layout.TD-1] = j
					sum += a.buf.data[dot(aIdx, a.lay.Strides)] * b.buf.data[dot(bIdx, b.lay.Strides)]
				}
				c.buf.data[cFlat] = alpha*sum + beta*c.buf.data[cFlat]
			}
		}
	})
	return nil
}

func (descriptor) Get(h backend.Handle, flatIndex int) (float32, error) {
	hh, err := asHandle(h)
	if err != nil {
		return 0, err
	}
	return hh.buf.data[flatIndex], nil
}

func (descriptor) Set(h backend.Handle, flatIndex int, v float32) error {
	hh, err := asHandle(h)
	if err != nil {
		return err
	}
	hh.buf.data[flatIndex] = v
	return nil
}

func (descriptor) ShallowCopy(h backend.Handle) (backend.Handle, error) {
	hh, err := asHandle(h)
	if err != nil {
		return nil, err
	}
	return &handle{buf: hh.buf, lay: hh.lay}, nil
}

func (descriptor) ContiguousCopy(h backend.Handle) (backend.Handle, error) {
	hh, err := asHandle(h)
	if err != nil {
		return nil, err
	}
	contiguous, err := layout.Init(hh.lay.Shape[:], layout.TD)
	if err != nil {
		return nil, err
	}
	out := &handle{buf: &buffer{data: make([]float32, hh.lay.Size)}, lay: contiguous}
	dst := 0
	forEachIndex(hh.lay, func(idx [layout.TD]int, srcFlat int) {
		out.buf.data[dst] = hh.buf.data[srcFlat]
		dst++
	})
	return out, nil
}

func (descriptor) Free(h backend.Handle) error {
	hh, err := asHandle(h)
	if err != nil {
		return err
	}
	hh.buf.data = nil
	return nil
}

// dot computes the dot product of a multi-index with a stride array.
func dot(idx [layout.TD]int, strides [layout.TD]int) int {
	flat := 0
	for i, v := range idx {
		flat += v * strides[i]
	}
	return flat
}

// forEachIndex walks every logical element of l in row-major order,
// calling fn with the multi-index and its flat offset within l.
func forEachIndex(l layout.Layout, fn func(idx [layout.TD]int, flat int)) {
	var idx [layout.TD]int
	forEachIndexDim(l, 0, &idx, fn)
}

func forEachIndexDim(l layout.Layout, dim int, idx *[layout.TD]int, fn func(idx [layout.TD]int, flat int)) {
	if dim == layout.TD {
		fn(*idx, dot(*idx, l.Strides))
		return
	}
	for i := 0; i < l.Shape[dim]; i++ {
		idx[dim] = i
		forEachIndexDim(l, dim+1, idx, fn)
	}
}
