package tensor

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/tensorgraph/engine/internal/graph"
	"github.com/tensorgraph/engine/internal/layout"
	"github.com/tensorgraph/engine/internal/storage"
	"github.com/tensorgraph/engine/pkg/errors"
)

// Tensor is a handle to one node of an Engine's compute graph. It
// carries no data of its own; every read goes through the Engine that
// created it.
type Tensor struct {
	id uuid.UUID
}

// ID returns the underlying graph node id, for callers that need to
// cross into internal/graph directly (e.g. ToDot rendering).
func (t *Tensor) ID() uuid.UUID { return t.id }

func wrap(n *graph.Node) *Tensor { return &Tensor{id: n.ID} }

func (e *Engine) node(t *Tensor) (*graph.Node, error) {
	return e.Graph.Get(t.id)
}

// TensorInit allocates a fresh zero-filled tensor of the given shape on
// the engine's default backend and records it as a graph leaf.
func (e *Engine) TensorInit(shape []int, ndim int, requiresGrad bool) (*Tensor, error) {
	s, err := storage.Init(e.Registry, shape, ndim, e.Backend)
	if err != nil {
		return nil, err
	}
	n := e.Graph.AddLeaf(s)
	n.RequiresGrad = requiresGrad
	return wrap(n), nil
}

// TensorFree releases t's reference; if this was the last reference, t
// and every transitively unreferenced ancestor are freed.
func (e *Engine) TensorFree(t *Tensor) error {
	return e.Graph.RefDec(t.id)
}

// TensorCopy creates a new leaf that aliases src's underlying buffer: a
// write through either handle is visible through the other, but the two
// are independent nodes in the graph with their own ref count and their
// own RequiresGrad.
func (e *Engine) TensorCopy(src *Tensor, requiresGrad bool) (*Tensor, error) {
	sn, err := e.node(src)
	if err != nil {
		return nil, err
	}
	if sn.Storage == nil {
		return nil, errors.Wrap(errors.CodeForwardNotExecuted, "cannot copy a tensor with no materialized storage", nil)
	}
	dup, err := storage.ShallowCopy(e.Registry, sn.Storage)
	if err != nil {
		return nil, err
	}
	n := e.Graph.AddLeaf(dup)
	n.RequiresGrad = requiresGrad
	return wrap(n), nil
}

// TensorFill overwrites t's materialized storage with v.
func (e *Engine) TensorFill(t *Tensor, v float32) error {
	n, err := e.node(t)
	if err != nil {
		return err
	}
	if n.Storage == nil {
		return errors.Wrap(errors.CodeForwardNotExecuted, "tensor has no materialized storage", nil)
	}
	return storage.Fill(n.Storage, v)
}

// TensorFillRand overwrites t's materialized storage with uniform
// random values.
func (e *Engine) TensorFillRand(t *Tensor) error {
	n, err := e.node(t)
	if err != nil {
		return err
	}
	if n.Storage == nil {
		return errors.Wrap(errors.CodeForwardNotExecuted, "tensor has no materialized storage", nil)
	}
	return storage.FillRand(n.Storage)
}

func (e *Engine) binaryAxpy(alpha float32, a, b *Tensor) (*Tensor, error) {
	an, err := e.node(a)
	if err != nil {
		return nil, err
	}
	bn, err := e.node(b)
	if err != nil {
		return nil, err
	}
	al, bl := an.Layout, bn.Layout
	if err := layout.Broadcast(&al, &bl, 0, layout.TD); err != nil {
		return nil, err
	}
	n, err := e.Graph.AddOp(graph.OpAxpy, graph.OpMeta{Alpha: alpha}, bl, []uuid.UUID{an.ID, bn.ID})
	if err != nil {
		return nil, err
	}
	return wrap(n), nil
}

// Add desugars to AXPY(alpha=1): r = a + b.
func (e *Engine) Add(a, b *Tensor) (*Tensor, error) {
	return e.binaryAxpy(1, a, b)
}

// Sub desugars to AXPY(alpha=-1) with the operands swapped, so that b is
// the negated one: r = (-1)*b + a = a - b.
func (e *Engine) Sub(a, b *Tensor) (*Tensor, error) {
	return e.binaryAxpy(-1, b, a)
}

// Gemm computes a batched matrix product: r = a @ b.
func (e *Engine) Gemm(a, b *Tensor) (*Tensor, error) {
	an, err := e.node(a)
	if err != nil {
		return nil, err
	}
	bn, err := e.node(b)
	if err != nil {
		return nil, err
	}
	if an.Layout.Shape[layout.TD-1] != bn.Layout.Shape[layout.TD-2] {
		return nil, errors.Wrap(errors.CodeInvalidArgument, "gemm inner dimensions do not match", nil)
	}
	al, bl := an.Layout, bn.Layout
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

	n, err := e.Graph.AddOp(graph.OpGemm, graph.OpMeta{}, outLayout, []uuid.UUID{an.ID, bn.ID})
	if err != nil {
		return nil, err
	}
	return wrap(n), nil
}

// Transpose permutes t's last ndim axes according to perm.
func (e *Engine) Transpose(t *Tensor, perm []int) (*Tensor, error) {
	n, err := e.node(t)
	if err != nil {
		return nil, err
	}
	ndim := len(perm)
	l := n.Layout
	if err := layout.Transpose(&l, perm, ndim); err != nil {
		return nil, err
	}
	permCopy := append([]int(nil), perm...)
	out, err := e.Graph.AddOp(graph.OpTranspose, graph.OpMeta{Perm: permCopy}, l, []uuid.UUID{n.ID})
	if err != nil {
		return nil, err
	}
	return wrap(out), nil
}

// Reshape reinterprets t's elements under newShape.
func (e *Engine) Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	n, err := e.node(t)
	if err != nil {
		return nil, err
	}
	l, err := layout.Reshape(n.Layout, newShape, len(newShape))
	if err != nil {
		return nil, err
	}
	shapeCopy := append([]int(nil), newShape...)
	out, err := e.Graph.AddOp(graph.OpReshape, graph.OpMeta{NewShape: shapeCopy}, l, []uuid.UUID{n.ID})
	if err != nil {
		return nil, err
	}
	return wrap(out), nil
}

// ReduceSum sums t over the given logical axes (0-indexed against t's
// own rank, not the right-aligned TD-wide layout).
func (e *Engine) ReduceSum(t *Tensor, axes []int) (*Tensor, error) {
	n, err := e.node(t)
	if err != nil {
		return nil, err
	}
	ndim := n.Layout.Ndim()
	offset := layout.TD - ndim
	var mask [layout.TD]bool
	for _, ax := range axes {
		if ax < 0 || ax >= ndim {
			return nil, errors.Newf(errors.CodeInvalidArgument, "reduce axis %d out of range [0,%d)", ax, ndim)
		}
		mask[offset+ax] = true
	}
	outLayout := layout.Reduce(n.Layout, mask)
	out, err := e.Graph.AddOp(graph.OpReduceSum, graph.OpMeta{Mask: mask}, outLayout, []uuid.UUID{n.ID})
	if err != nil {
		return nil, err
	}
	return wrap(out), nil
}

// Get reads a single element of t's materialized value.
func (e *Engine) Get(t *Tensor, indices []int) (float32, error) {
	n, err := e.node(t)
	if err != nil {
		return 0, err
	}
	if n.Storage == nil {
		return 0, errors.Wrap(errors.CodeForwardNotExecuted, "tensor has not been executed", nil)
	}
	return storage.Get(n.Storage, indices, len(indices))
}

// GetStorage exposes t's underlying storage handle for callers that
// need direct backend access (e.g. a future non-cpu backend adapter).
func (e *Engine) GetStorage(t *Tensor) (*storage.Storage, error) {
	n, err := e.node(t)
	if err != nil {
		return nil, err
	}
	if n.Storage == nil {
		return nil, errors.Wrap(errors.CodeForwardNotExecuted, "tensor has not been executed", nil)
	}
	return n.Storage, nil
}

// GetGrad exposes t's accumulated gradient storage, or nil if Backward
// never routed a gradient to it.
func (e *Engine) GetGrad(t *Tensor) (*storage.Storage, error) {
	n, err := e.node(t)
	if err != nil {
		return nil, err
	}
	return n.GradStorage, nil
}

// ZeroGrad clears t's own gradient storage.
func (e *Engine) ZeroGrad(t *Tensor) error {
	n, err := e.node(t)
	if err != nil {
		return err
	}
	return e.Graph.ZeroGrad(n)
}

// SetRequiresGrad overrides t's gradient tracking flag.
func (e *Engine) SetRequiresGrad(t *Tensor, v bool) error {
	n, err := e.node(t)
	if err != nil {
		return err
	}
	n.RequiresGrad = v
	return nil
}

// GetRequiresGrad reports whether t currently tracks gradients.
func (e *Engine) GetRequiresGrad(t *Tensor) (bool, error) {
	n, err := e.node(t)
	if err != nil {
		return false, err
	}
	return n.RequiresGrad, nil
}

// Print renders t's materialized value as a flat, row-major element
// list, for quick inspection in a REPL or a demo command.
func (e *Engine) Print(t *Tensor) (string, error) {
	n, err := e.node(t)
	if err != nil {
		return "", err
	}
	if n.Storage == nil {
		return "", errors.Wrap(errors.CodeForwardNotExecuted, "tensor has not been executed", nil)
	}
	return FormatStorage(n.Storage)
}

// PrintGrad renders t's accumulated gradient the same way Print renders
// its value, for callers (e.g. a demo command) that only have a Tensor
// handle and want the gradient without reaching into internal/storage.
func (e *Engine) PrintGrad(t *Tensor) (string, error) {
	g, err := e.GetGrad(t)
	if err != nil {
		return "", err
	}
	if g == nil {
		return "<nil>", nil
	}
	return FormatStorage(g)
}

// FormatStorage renders s's materialized value as a flat, row-major
// element list. It takes a raw storage handle rather than a Tensor so
// it also serves callers (gradients, debugging) that hold a
// *storage.Storage without an owning graph node.
func FormatStorage(s *storage.Storage) (string, error) {
	l := s.Layout()
	ndim := l.Ndim()
	if ndim == 0 {
		ndim = 1
	}
	shape, _ := trailingShape(l, ndim)

	out := fmt.Sprintf("tensor%v{", shape)
	total := l.Size
	for i := 0; i < total; i++ {
		indices := unflatten(i, shape)
		v, err := storage.Get(s, indices, ndim)
		if err != nil {
			return "", err
		}
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%v", v)
	}
	out += "}"
	return out, nil
}

func trailingShape(l layout.Layout, ndim int) ([]int, int) {
	shape := make([]int, ndim)
	copy(shape, l.Shape[layout.TD-ndim:])
	return shape, ndim
}

func unflatten(flat int, shape []int) []int {
	indices := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		indices[i] = flat % shape[i]
		flat /= shape[i]
	}
	return indices
}
