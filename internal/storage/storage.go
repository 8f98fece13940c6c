// Package storage implements reference-counted numeric buffers: a
// Storage handle dispatches every operation through its backend, while
// the Registry tracks which storages alias a single allocation ("bucket")
// and which scoped allocation Record they were created under.
package storage

import (
	"github.com/google/uuid"

	"github.com/tensorgraph/engine/internal/backend"
	"github.com/tensorgraph/engine/internal/layout"
	"github.com/tensorgraph/engine/pkg/errors"
)

// Storage is a handle to a numeric buffer plus its shape/stride
// metadata: a stable uuid, a pointer to the backend that owns the data,
// and the backend-specific opaque state.
type Storage struct {
	UUID    uuid.UUID
	Backend backend.Descriptor
	Data    backend.Handle
}

// Layout returns the storage's current shape/stride metadata.
func (s *Storage) Layout() layout.Layout {
	return s.Data.Layout()
}

// Init locates backendName, allocates a fresh zero-filled storage with
// the given shape, and registers it in reg as a new bucket root.
func Init(reg *Registry, shape []int, ndim int, backendName string) (*Storage, error) {
	d, err := backend.Get(backendName)
	if err != nil {
		return nil, err
	}
	l, err := layout.Init(shape, ndim)
	if err != nil {
		return nil, err
	}
	h, err := d.Init(l)
	if err != nil {
		return nil, errors.Wrap(errors.CodeAllocation, "backend storage_init failed", err)
	}
	s := &Storage{UUID: uuid.New(), Backend: d, Data: h}
	if err := reg.Register(s, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// ShallowCopy allocates a fresh handle aliasing src's buffer and
// registers it into src's bucket. Fails ParentNotRegistered if src is
// not registered.
func ShallowCopy(reg *Registry, src *Storage) (*Storage, error) {
	if _, err := reg.GetRoot(src); err != nil {
		return nil, err
	}
	h, err := src.Backend.ShallowCopy(src.Data)
	if err != nil {
		return nil, err
	}
	dst := &Storage{UUID: uuid.New(), Backend: src.Backend, Data: h}
	if err := reg.Register(dst, src); err != nil {
		return nil, err
	}
	return dst, nil
}

// Contiguous returns src unchanged (as a shallow copy) if it is already
// contiguous; otherwise it allocates a fresh contiguous destination and
// asks the backend to copy elements into it.
func Contiguous(reg *Registry, src *Storage) (*Storage, error) {
	if src.Layout().IsContiguous() {
		return ShallowCopy(reg, src)
	}
	h, err := src.Backend.ContiguousCopy(src.Data)
	if err != nil {
		return nil, errors.Wrap(errors.CodeAllocation, "backend storage_contiguous failed", err)
	}
	dst := &Storage{UUID: uuid.New(), Backend: src.Backend, Data: h}
	if err := reg.Register(dst, nil); err != nil {
		return nil, err
	}
	return dst, nil
}

// Free consults reg: if t's bucket has exactly one member, the backend
// buffer is freed and the bucket discarded; otherwise t is simply
// deregistered and the shared buffer survives for the remaining members.
func Free(reg *Registry, t *Storage) error {
	size, err := reg.BucketSize(t)
	if err != nil {
		return err
	}
	if size == 1 {
		if err := t.Backend.Free(t.Data); err != nil {
			return err
		}
		return reg.DeregisterAndDeleteBucket(t)
	}
	return reg.Deregister(t)
}

// Fill overwrites every logical element of s with v.
func Fill(s *Storage, v float32) error {
	return s.Backend.Fill(s.Data, v)
}

// FillRand overwrites every logical element of s with a uniform random
// value.
func FillRand(s *Storage) error {
	return s.Backend.FillRand(s.Data)
}

// Axpy computes r <- alpha*x + y, broadcasting x and y across all TD
// dims. If r is nil, a fresh storage with the broadcast output shape is
// allocated and registered as a new bucket root; otherwise r's shape
// must already match the broadcast result.
func Axpy(reg *Registry, alpha float32, x, y *Storage, r *Storage) (*Storage, error) {
	if x.Backend.Name() != y.Backend.Name() {
		return nil, errors.Wrap(errors.CodeBackendMismatch, "axpy operands use different backends", nil)
	}
	xl, yl := x.Layout(), y.Layout()
	if err := layout.Broadcast(&xl, &yl, 0, layout.TD); err != nil {
		return nil, err
	}

	if r == nil {
		outLayout, err := layout.Init(yl.Shape[:], layout.TD)
		if err != nil {
			return nil, err
		}
		h, err := x.Backend.Init(outLayout)
		if err != nil {
			return nil, errors.Wrap(errors.CodeAllocation, "axpy output allocation failed", err)
		}
		r = &Storage{UUID: uuid.New(), Backend: x.Backend, Data: h}
		if err := reg.Register(r, nil); err != nil {
			return nil, err
		}
	} else if r.Layout().Shape != yl.Shape {
		return nil, errors.Wrap(errors.CodeInvalidArgument, "axpy output shape mismatch", nil)
	}

	xh, err := x.Backend.ShallowCopy(x.Data)
	if err != nil {
		return nil, err
	}
	yh, err := y.Backend.ShallowCopy(y.Data)
	if err != nil {
		return nil, err
	}
	if err := reshapeHandleLayout(xh, xl); err != nil {
		return nil, err
	}
	if err := reshapeHandleLayout(yh, yl); err != nil {
		return nil, err
	}

	if err := r.Backend.Axpy(alpha, xh, yh, r.Data); err != nil {
		return nil, err
	}
	return r, nil
}

// Gemm computes c <- alpha*a*b + beta*c, batched over leading TD-2 dims
// with broadcasting. a.Shape[TD-1] must equal b.Shape[TD-2]. If c is
// nil, a fresh output storage is allocated.
func Gemm(reg *Registry, alpha float32, a, b *Storage, beta float32, c *Storage) (*Storage, error) {
	if a.Backend.Name() != b.Backend.Name() {
		return nil, errors.Wrap(errors.CodeBackendMismatch, "gemm operands use different backends", nil)
	}
	al, bl := a.Layout(), b.Layout()
	if al.Shape[layout.TD-1] != bl.Shape[layout.TD-2] {
		return nil, errors.Wrap(errors.CodeInvalidArgument, "gemm inner dimensions do not match", nil)
	}
	if err := layout.Broadcast(&al, &bl, 0, layout.TD-2); err != nil {
		return nil, err
	}

	var outShape [layout.TD]int
	copy(outShape[:], al.Shape[:])
	outShape[layout.TD-2] = al.Shape[layout.TD-2]
	outShape[layout.TD-1] = bl.Shape[layout.TD-1]
	outLayout, err := layout.Init(outShape[:], layout.TD)
	if err != nil {
		return nil, err
	}

	if c == nil {
		h, err := a.Backend.Init(outLayout)
		if err != nil {
			return nil, errors.Wrap(errors.CodeAllocation, "gemm output allocation failed", err)
		}
		if err := a.Backend.Fill(h, 0); err != nil {
			return nil, err
		}
		c = &Storage{UUID: uuid.New(), Backend: a.Backend, Data: h}
		if err := reg.Register(c, nil); err != nil {
			return nil, err
		}
	} else if c.Layout().Shape != outLayout.Shape {
		return nil, errors.Wrap(errors.CodeInvalidArgument, "gemm output shape mismatch", nil)
	}

	ah, err := a.Backend.ShallowCopy(a.Data)
	if err != nil {
		return nil, err
	}
	bh, err := b.Backend.ShallowCopy(b.Data)
	if err != nil {
		return nil, err
	}
	if err := reshapeHandleLayout(ah, al); err != nil {
		return nil, err
	}
	if err := reshapeHandleLayout(bh, bl); err != nil {
		return nil, err
	}

	if err := c.Backend.Gemm(alpha, ah, bh, beta, c.Data); err != nil {
		return nil, err
	}
	return c, nil
}

// Reshape copies src to a contiguous buffer first unless it is already
// contiguous, and returns a new storage aliasing the (possibly copied)
// buffer under the reshaped layout.
func Reshape(reg *Registry, src *Storage, newShape []int, ndim int) (*Storage, error) {
	base := src
	if !src.Layout().IsContiguous() {
		c, err := Contiguous(reg, src)
		if err != nil {
			return nil, err
		}
		base = c
	}
	newLayout, err := layout.Reshape(base.Layout(), newShape, ndim)
	if err != nil {
		return nil, err
	}
	h, err := base.Backend.ShallowCopy(base.Data)
	if err != nil {
		return nil, err
	}
	if err := reshapeHandleLayout(h, newLayout); err != nil {
		return nil, err
	}
	dst := &Storage{UUID: uuid.New(), Backend: base.Backend, Data: h}
	if err := reg.Register(dst, base); err != nil {
		return nil, err
	}
	return dst, nil
}

// Transpose permutes the last ndim axes of src's layout and returns a
// new storage aliasing src's buffer under the permuted layout.
func Transpose(reg *Registry, src *Storage, perm []int, ndim int) (*Storage, error) {
	l := src.Layout()
	if err := layout.Transpose(&l, perm, ndim); err != nil {
		return nil, err
	}
	h, err := src.Backend.ShallowCopy(src.Data)
	if err != nil {
		return nil, err
	}
	if err := reshapeHandleLayout(h, l); err != nil {
		return nil, err
	}
	dst := &Storage{UUID: uuid.New(), Backend: src.Backend, Data: h}
	if err := reg.Register(dst, src); err != nil {
		return nil, err
	}
	return dst, nil
}

// Sum reduces src across the axes marked in mask. The canonical
// implementation recipe is reshape + gemm against a ones vector; here
// the reduction is performed directly through the backend's Get/Set so
// that it works uniformly for any backend without depending on gemm's
// batching rules for an arbitrary reduce mask.
func Sum(reg *Registry, src *Storage, mask [layout.TD]bool) (*Storage, error) {
	inLayout := src.Layout()
	outLayout := layout.Reduce(inLayout, mask)

	h, err := src.Backend.Init(outLayout)
	if err != nil {
		return nil, errors.Wrap(errors.CodeAllocation, "sum output allocation failed", err)
	}
	if err := src.Backend.Fill(h, 0); err != nil {
		return nil, err
	}
	out := &Storage{UUID: uuid.New(), Backend: src.Backend, Data: h}
	if err := reg.Register(out, nil); err != nil {
		return nil, err
	}

	var idx [layout.TD]int
	var walk func(dim int) error
	walk = func(dim int) error {
		if dim == layout.TD {
			srcFlat := dotIndex(idx, inLayout.Strides)
			var outIdx [layout.TD]int
			for i, m := range mask {
				if !m {
					outIdx[i] = idx[i]
				}
			}
			outFlat := dotIndex(outIdx, outLayout.Strides)
			v, err := src.Backend.Get(src.Data, srcFlat)
			if err != nil {
				return err
			}
			cur, err := src.Backend.Get(h, outFlat)
			if err != nil {
				return err
			}
			return src.Backend.Set(h, outFlat, cur+v)
		}
		for i := 0; i < inLayout.Shape[dim]; i++ {
			idx[dim] = i
			if err := walk(dim + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0); err != nil {
		return nil, err
	}
	return out, nil
}

// Get reads a single element addressed by indices of logical rank ndim,
// right-aligned and bounds-checked against s's layout.
func Get(s *Storage, indices []int, ndim int) (float32, error) {
	flat, err := s.Layout().FlatIndex(indices, ndim)
	if err != nil {
		return 0, err
	}
	return s.Backend.Get(s.Data, flat)
}

// Set writes a single element addressed by indices of logical rank ndim.
func Set(s *Storage, indices []int, ndim int, v float32) error {
	flat, err := s.Layout().FlatIndex(indices, ndim)
	if err != nil {
		return err
	}
	return s.Backend.Set(s.Data, flat, v)
}

func dotIndex(idx [layout.TD]int, strides [layout.TD]int) int {
	flat := 0
	for i, v := range idx {
		flat += v * strides[i]
	}
	return flat
}

// reshapeHandleLayout overwrites a handle's layout metadata in place so
// that a shallow copy becomes a view (transpose/reshape/broadcast) over
// the same aliased buffer.
func reshapeHandleLayout(h backend.Handle, l layout.Layout) error {
	ls, ok := h.(backend.LayoutSetter)
	if !ok {
		return errors.Wrap(errors.CodeNotImplemented, "backend handle does not support layout views", nil)
	}
	ls.SetLayout(l)
	return nil
}
