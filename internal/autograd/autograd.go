// Package autograd implements the reverse-mode gradient pass: given a
// graph and a target node whose forward value has already been
// computed, it walks the topological order backward and accumulates
// each operation's gradient contribution into its inputs' gradient
// storage.
package autograd

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tensorgraph/engine/internal/graph"
	"github.com/tensorgraph/engine/internal/layout"
	"github.com/tensorgraph/engine/internal/storage"
	"github.com/tensorgraph/engine/pkg/errors"
)

const tracerName = "tensorgraph-engine"

// Backward computes and accumulates gradients for every node reachable
// from target that has RequiresGrad set. target must already have a
// forward value (Execute must have run); if target requires grad and
// target.GradStorage is nil, a ones-filled seed gradient matching
// target's shape is allocated first, per the usual scalar-loss
// convention.
func Backward(ctx context.Context, g *graph.Graph, targetID uuid.UUID) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "autograd.backward")
	defer span.End()

	target, err := g.Get(targetID)
	if err != nil {
		return err
	}
	if target.Storage == nil {
		return errors.Wrap(errors.CodeForwardNotExecuted, "cannot run backward before forward has executed", nil)
	}

	var order []*graph.Node
	if err := g.TimeChild("backward", "topological_sort", func() error {
		sorted, err := g.TopologicalSort(targetID)
		order = sorted
		return err
	}); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("autograd.node_count", len(order)))

	if target.GradStorage == nil && target.RequiresGrad {
		seed, err := allocGrad(g.Registry, target)
		if err != nil {
			return err
		}
		if err := storage.Fill(seed, 1); err != nil {
			return err
		}
		target.GradStorage = seed
	}

	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if n.OpKind == graph.OpLeaf || !n.RequiresGrad {
			continue
		}
		if n.GradStorage == nil {
			// No downstream consumer routed a gradient here; nothing to
			// propagate further back through this node.
			continue
		}

		n := n
		err := g.TimeChild("backward", "backward:"+n.OpKind.String(), func() error {
			inputs := make([]*storage.Storage, len(n.InputIDs))
			gradInputs := make([]*storage.Storage, len(n.InputIDs))
			inputRequiresGrad := make([]bool, len(n.InputIDs))
			for j, id := range n.InputIDs {
				in, err := g.Get(id)
				if err != nil {
					return err
				}
				if in.Storage == nil {
					return errors.Wrap(errors.CodeForwardNotExecuted, "input node has not been executed", nil)
				}
				inputs[j] = in.Storage
				inputRequiresGrad[j] = in.RequiresGrad
				if !in.RequiresGrad {
					continue
				}
				if in.GradStorage == nil {
					gi, err := allocGrad(g.Registry, in)
					if err != nil {
						return err
					}
					if err := storage.Fill(gi, 0); err != nil {
						return err
					}
					in.GradStorage = gi
				}
				gradInputs[j] = in.GradStorage
			}

			return graph.ApplyBackward(g.Registry, n, inputs, n.GradStorage, gradInputs, inputRequiresGrad)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// allocGrad allocates a zero-shaped gradient storage matching n's
// forward layout, on the same backend n's forward value materialized on.
func allocGrad(reg *storage.Registry, n *graph.Node) (*storage.Storage, error) {
	shape, ndim := trailingShape(n.Layout)
	return storage.Init(reg, shape, ndim, n.BackendTag)
}

func trailingShape(l layout.Layout) ([]int, int) {
	ndim := l.Ndim()
	shape := make([]int, ndim)
	copy(shape, l.Shape[layout.TD-ndim:])
	return shape, ndim
}
