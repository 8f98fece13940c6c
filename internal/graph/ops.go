package graph

import (
	"github.com/tensorgraph/engine/internal/layout"
	"github.com/tensorgraph/engine/internal/storage"
	"github.com/tensorgraph/engine/pkg/errors"
)

// OpKind identifies one row of the operation descriptor table.
type OpKind int

const (
	// OpLeaf marks a leaf node; it has no forward/backward descriptor.
	OpLeaf OpKind = iota
	OpAxpy
	OpGemm
	OpTranspose
	OpReshape
	OpReduceSum
)

// String names an op kind for diagnostics (to_dot labels, log fields).
func (k OpKind) String() string {
	switch k {
	case OpLeaf:
		return "LEAF"
	case OpAxpy:
		return "AXPY"
	case OpGemm:
		return "GEMM"
	case OpTranspose:
		return "TRANSPOSE"
	case OpReshape:
		return "RESHAPE"
	case OpReduceSum:
		return "REDUCE_SUM"
	default:
		return "UNKNOWN"
	}
}

// MaxInputs bounds the number of input slots any op may carry (AXPY and
// GEMM are the widest, at 2).
const MaxInputs = 2

// OpMeta carries every op-specific parameter. Only the fields relevant
// to a node's OpKind are populated; this plays the role a per-op-kind
// context variant would, flattened into one struct since Go has no
// tagged union.
type OpMeta struct {
	Alpha    float32
	Beta     float32
	Perm     []int
	NewShape []int
	Mask     [layout.TD]bool
}

// forwardFunc computes a node's output storage from its input storages.
type forwardFunc func(reg *storage.Registry, meta OpMeta, inputs []*storage.Storage) (*storage.Storage, error)

// backwardFunc accumulates (never overwrites) gradient contributions
// into gradInputs[i], for every i where inputRequiresGrad[i] is true and
// gradInputs[i] is non-nil.
type backwardFunc func(reg *storage.Registry, meta OpMeta, inputs []*storage.Storage, output, gradOutput *storage.Storage, gradInputs []*storage.Storage, inputRequiresGrad []bool) error

type opDescriptor struct {
	forward  forwardFunc
	backward backwardFunc
	// There is no ctx teardown hook: none of this engine's ops stash a
	// ctx (their backward only needs the cached input/output storages,
	// already kept alive by the graph).
}

var descriptorTable = map[OpKind]opDescriptor{
	OpAxpy: {
		forward: func(reg *storage.Registry, meta OpMeta, inputs []*storage.Storage) (*storage.Storage, error) {
			return storage.Axpy(reg, meta.Alpha, inputs[0], inputs[1], nil)
		},
		backward: func(reg *storage.Registry, meta OpMeta, inputs []*storage.Storage, output, gradOutput *storage.Storage, gradInputs []*storage.Storage, inputRequiresGrad []bool) error {
			if inputRequiresGrad[0] && gradInputs[0] != nil {
				reduced, err := reduceGradToShape(reg, gradOutput, inputs[0].Layout())
				if err != nil {
					return err
				}
				if _, err := storage.Axpy(reg, meta.Alpha, reduced, gradInputs[0], gradInputs[0]); err != nil {
					return err
				}
			}
			if inputRequiresGrad[1] && gradInputs[1] != nil {
				reduced, err := reduceGradToShape(reg, gradOutput, inputs[1].Layout())
				if err != nil {
					return err
				}
				if _, err := storage.Axpy(reg, 1, reduced, gradInputs[1], gradInputs[1]); err != nil {
					return err
				}
			}
			return nil
		},
	},
	OpGemm: {
		forward: func(reg *storage.Registry, meta OpMeta, inputs []*storage.Storage) (*storage.Storage, error) {
			return storage.Gemm(reg, 1, inputs[0], inputs[1], 0, nil)
		},
		backward: func(reg *storage.Registry, meta OpMeta, inputs []*storage.Storage, output, gradOutput *storage.Storage, gradInputs []*storage.Storage, inputRequiresGrad []bool) error {
			a, b := inputs[0], inputs[1]
			if inputRequiresGrad[0] && gradInputs[0] != nil {
				bT, err := storage.Transpose(reg, b, []int{1, 0}, 2)
				if err != nil {
					return err
				}
				if _, err := storage.Gemm(reg, 1, gradOutput, bT, 1, gradInputs[0]); err != nil {
					return err
				}
			}
			if inputRequiresGrad[1] && gradInputs[1] != nil {
				aT, err := storage.Transpose(reg, a, []int{1, 0}, 2)
				if err != nil {
					return err
				}
				if _, err := storage.Gemm(reg, 1, aT, gradOutput, 1, gradInputs[1]); err != nil {
					return err
				}
			}
			return nil
		},
	},
	OpTranspose: {
		forward: func(reg *storage.Registry, meta OpMeta, inputs []*storage.Storage) (*storage.Storage, error) {
			return storage.Transpose(reg, inputs[0], meta.Perm, len(meta.Perm))
		},
		backward: func(reg *storage.Registry, meta OpMeta, inputs []*storage.Storage, output, gradOutput *storage.Storage, gradInputs []*storage.Storage, inputRequiresGrad []bool) error {
			if !inputRequiresGrad[0] || gradInputs[0] == nil {
				return nil
			}
			inv := make([]int, len(meta.Perm))
			for i, p := range meta.Perm {
				inv[p] = i
			}
			t, err := storage.Transpose(reg, gradOutput, inv, len(inv))
			if err != nil {
				return err
			}
			_, err = storage.Axpy(reg, 1, t, gradInputs[0], gradInputs[0])
			return err
		},
	},
	OpReshape: {
		forward: func(reg *storage.Registry, meta OpMeta, inputs []*storage.Storage) (*storage.Storage, error) {
			return storage.Reshape(reg, inputs[0], meta.NewShape, len(meta.NewShape))
		},
		backward: func(reg *storage.Registry, meta OpMeta, inputs []*storage.Storage, output, gradOutput *storage.Storage, gradInputs []*storage.Storage, inputRequiresGrad []bool) error {
			if !inputRequiresGrad[0] || gradInputs[0] == nil {
				return nil
			}
			origShape, origNdim := trailingShape(inputs[0].Layout())
			reshaped, err := storage.Reshape(reg, gradOutput, origShape, origNdim)
			if err != nil {
				return err
			}
			_, err = storage.Axpy(reg, 1, reshaped, gradInputs[0], gradInputs[0])
			return err
		},
	},
	OpReduceSum: {
		forward: func(reg *storage.Registry, meta OpMeta, inputs []*storage.Storage) (*storage.Storage, error) {
			return storage.Sum(reg, inputs[0], meta.Mask)
		},
		backward: func(reg *storage.Registry, meta OpMeta, inputs []*storage.Storage, output, gradOutput *storage.Storage, gradInputs []*storage.Storage, inputRequiresGrad []bool) error {
			if !inputRequiresGrad[0] || gradInputs[0] == nil {
				return nil
			}
			// gradOutput's masked axes are already size 1; Axpy's
			// internal broadcast step stretches them back up to
			// gradInputs[0]'s full shape, which is exactly
			// "broadcast(grad_out, in.shape)".
			_, err := storage.Axpy(reg, 1, gradOutput, gradInputs[0], gradInputs[0])
			return err
		},
	},
}

// ApplyBackward looks up n's op-kind in the descriptor table and invokes
// its backward function, accumulating gradient contributions into
// gradInputs. It is the hook the autograd package's reverse pass walks
// through instead of reaching into the (unexported) descriptor table
// directly.
func ApplyBackward(reg *storage.Registry, n *Node, inputs []*storage.Storage, gradOutput *storage.Storage, gradInputs []*storage.Storage, inputRequiresGrad []bool) error {
	desc, ok := descriptorTable[n.OpKind]
	if !ok {
		return errors.Wrap(errors.CodeNotImplemented, "no backward descriptor for op kind "+n.OpKind.String(), nil)
	}
	return desc.backward(reg, n.Meta, inputs, n.Storage, gradOutput, gradInputs, inputRequiresGrad)
}

// reduceGradToShape sums grad down to target's shape along every axis
// where grad is wider than target (the inverse of the elementwise
// broadcast AXPY's forward pass performed), so that a gradient computed
// against a broadcast output can be accumulated into a narrower input.
func reduceGradToShape(reg *storage.Registry, grad *storage.Storage, target layout.Layout) (*storage.Storage, error) {
	gl := grad.Layout()
	if gl.Shape == target.Shape {
		return grad, nil
	}
	var mask [layout.TD]bool
	any := false
	for i := 0; i < layout.TD; i++ {
		if gl.Shape[i] != target.Shape[i] {
			if target.Shape[i] != 1 {
				return nil, errors.Wrap(errors.CodeBroadcast, "gradient shape cannot be reduced to target shape", nil)
			}
			mask[i] = true
			any = true
		}
	}
	if !any {
		return grad, nil
	}
	return storage.Sum(reg, grad, mask)
}

// trailingShape returns l's logical shape and rank, dropping the
// leading size-1 axes introduced by right-alignment.
func trailingShape(l layout.Layout) ([]int, int) {
	ndim := l.Ndim()
	shape := make([]int, ndim)
	copy(shape, l.Shape[layout.TD-ndim:])
	return shape, ndim
}
