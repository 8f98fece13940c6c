// Package graph implements the node-addressed compute DAG: leaf and
// operation nodes, topological execution with result caching and
// backend-consistency checks, and reference-counted node lifetime. The
// operation descriptor table (ops.go) is the static forward/backward
// dispatch this package's Execute (and the autograd package's Backward)
// both walk.
package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tensorgraph/engine/internal/layout"
	"github.com/tensorgraph/engine/internal/storage"
	"github.com/tensorgraph/engine/pkg/collections"
	"github.com/tensorgraph/engine/pkg/errors"
	"github.com/tensorgraph/engine/pkg/utils"
)

const tracerName = "tensorgraph-engine"

// Node is one vertex of the compute DAG: a leaf with pre-materialized
// storage, or an operation recorded lazily against its input node ids in
// slot order.
type Node struct {
	ID            uuid.UUID
	OpKind        OpKind
	Meta          OpMeta
	Layout        layout.Layout
	BackendTag    string
	InputIDs      []uuid.UUID
	Storage       *storage.Storage
	GradStorage   *storage.Storage
	Ctx           interface{}
	RefCount      int
	RequiresGrad  bool
}

// Graph is the process-wide (or, per this port, caller-owned) node set
// plus the storage registry its materialized nodes allocate through.
type Graph struct {
	Registry *storage.Registry

	nodes      map[uuid.UUID]*Node
	order      map[uuid.UUID]int
	nextOrder  int
	gradMode   bool
	logger     utils.Logger
	timer      *utils.Timer
}

// SetLogger attaches a logger for debug output; nil (the default)
// suppresses it.
func (g *Graph) SetLogger(logger utils.Logger) {
	g.logger = logger
}

// SetTimer attaches a phase timer; nil (the default) disables per-node
// timing in Execute and in the autograd package's Backward.
func (g *Graph) SetTimer(timer *utils.Timer) {
	g.timer = timer
}

// Timer returns the graph's attached timer, or nil if none was set.
func (g *Graph) Timer() *utils.Timer {
	return g.timer
}

// TimeChild runs fn as a child phase of parent on the graph's timer, if
// one is attached; otherwise it just runs fn. Exported so the autograd
// package's Backward can time its own phases on the same timer.
func (g *Graph) TimeChild(parent, child string, fn func() error) error {
	if g.timer == nil {
		return fn()
	}
	pt := g.timer.StartChild(parent, child)
	err := fn()
	pt.Stop()
	return err
}

// debugNode logs msg with the node's id and op kind attached as
// structured fields, so a field-aware logger can filter or index on
// them instead of grepping a formatted string.
func (g *Graph) debugNode(msg string, n *Node, extra map[string]interface{}) {
	if g.logger == nil {
		return
	}
	fields := map[string]interface{}{
		"node_id": n.ID,
		"op_kind": n.OpKind,
	}
	for k, v := range extra {
		fields[k] = v
	}
	g.logger.WithFields(fields).Debug(msg)
}

// New creates an empty graph bound to reg. gradMode seeds the initial
// global gradient-mode flag (see EnableGrad/DisableGrad).
func New(reg *storage.Registry, gradMode bool) *Graph {
	return &Graph{
		Registry: reg,
		nodes:    make(map[uuid.UUID]*Node),
		order:    make(map[uuid.UUID]int),
		gradMode: gradMode,
	}
}

// EnableGrad, DisableGrad and IsGradEnabled control the global
// gradient-mode flag: newly created leaves pick up RequiresGrad from
// this flag unless the caller overrides it afterward.
func (g *Graph) EnableGrad()        { g.gradMode = true }
func (g *Graph) DisableGrad()       { g.gradMode = false }
func (g *Graph) IsGradEnabled() bool { return g.gradMode }

func (g *Graph) register(n *Node) {
	g.nodes[n.ID] = n
	g.order[n.ID] = g.nextOrder
	g.nextOrder++
}

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// Get looks up a node by id.
func (g *Graph) Get(id uuid.UUID) (*Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, errors.Wrap(errors.CodeNodeNotFound, "graph node not found", nil)
	}
	return n, nil
}

// AddLeaf creates a LEAF node wrapping an already-materialized storage.
// RefCount starts at 1 (the originating tensor handle); RequiresGrad is
// seeded from the graph's current gradient-mode flag.
func (g *Graph) AddLeaf(s *storage.Storage) *Node {
	n := &Node{
		ID:           uuid.New(),
		OpKind:       OpLeaf,
		Layout:       s.Layout(),
		BackendTag:   s.Backend.Name(),
		Storage:      s,
		RefCount:     1,
		RequiresGrad: g.gradMode,
	}
	g.register(n)
	return n
}

// AddOp records an operation node. It validates the input count and
// existence, requires every input to share one backend tag, sets
// RequiresGrad to the logical OR of the inputs', and increments each
// input's ref-count by one per input slot.
func (g *Graph) AddOp(kind OpKind, meta OpMeta, l layout.Layout, inputIDs []uuid.UUID) (*Node, error) {
	if len(inputIDs) > MaxInputs {
		return nil, errors.Wrap(errors.CodeTooManyInputs, "operation exceeds max input count", nil)
	}
	inputs := make([]*Node, len(inputIDs))
	var backendTag string
	requiresGrad := false
	for i, id := range inputIDs {
		in, err := g.Get(id)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			backendTag = in.BackendTag
		} else if in.BackendTag != backendTag {
			return nil, errors.Wrap(errors.CodeBackendMismatch, "operation inputs use different backends", nil)
		}
		requiresGrad = requiresGrad || in.RequiresGrad
		inputs[i] = in
	}

	n := &Node{
		ID:           uuid.New(),
		OpKind:       kind,
		Meta:         meta,
		Layout:       l,
		BackendTag:   backendTag,
		InputIDs:     append([]uuid.UUID(nil), inputIDs...),
		RequiresGrad: requiresGrad,
	}
	g.register(n)

	for _, in := range inputs {
		in.RefCount++
	}
	return n, nil
}

// GetInputs returns n's input node ids in slot order.
func (g *Graph) GetInputs(n *Node) []uuid.UUID {
	return n.InputIDs
}

// TopologicalSort collects target and every transitive dependency with a
// BFS walk backward through input edges, then emits them in dependency
// order (Kahn's algorithm), breaking ties by node insertion order so
// that the result is stable across runs.
func (g *Graph) TopologicalSort(targetID uuid.UUID) ([]*Node, error) {
	target, err := g.Get(targetID)
	if err != nil {
		return nil, err
	}

	visited := collections.NewBitset(g.nextOrder)
	var collect []*Node
	queue := collections.NewQueue[*Node](g.nextOrder)
	queue.Enqueue(target)
	visited.Set(g.order[target.ID])
	for !queue.IsEmpty() {
		n, _ := queue.Dequeue()
		collect = append(collect, n)
		for _, id := range n.InputIDs {
			if visited.Test(g.order[id]) {
				continue
			}
			in, err := g.Get(id)
			if err != nil {
				return nil, err
			}
			visited.Set(g.order[id])
			queue.Enqueue(in)
		}
	}

	inDegree := make(map[uuid.UUID]int, len(collect))
	dependents := make(map[uuid.UUID][]uuid.UUID, len(collect))
	inSet := make(map[uuid.UUID]bool, len(collect))
	for _, n := range collect {
		inSet[n.ID] = true
	}
	for _, n := range collect {
		for _, id := range n.InputIDs {
			if inSet[id] {
				inDegree[n.ID]++
				dependents[id] = append(dependents[id], n.ID)
			}
		}
	}

	ready := make([]*Node, 0, len(collect))
	for _, n := range collect {
		if inDegree[n.ID] == 0 {
			ready = append(ready, n)
		}
	}
	sortByInsertionOrder(ready, g.order)

	var result []*Node
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		result = append(result, n)

		var unlocked []*Node
		for _, depID := range dependents[n.ID] {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				dep, err := g.Get(depID)
				if err != nil {
					return nil, err
				}
				unlocked = append(unlocked, dep)
			}
		}
		sortByInsertionOrder(unlocked, g.order)
		ready = append(ready, unlocked...)
		sortByInsertionOrder(ready, g.order)
	}

	if len(result) != len(collect) {
		return nil, errors.Wrap(errors.CodeCycleDetected, "cycle detected in compute graph", nil)
	}
	return result, nil
}

func sortByInsertionOrder(nodes []*Node, order map[uuid.UUID]int) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && order[nodes[j].ID] < order[nodes[j-1].ID]; j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

// Execute topologically sorts from targetID and materializes every
// non-leaf node whose Storage is still nil, in dependency order. Once
// set, a node's Storage is never overwritten (caching).
func (g *Graph) Execute(ctx context.Context, targetID uuid.UUID) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "graph.execute")
	defer span.End()

	var order []*Node
	if err := g.TimeChild("execute", "topological_sort", func() error {
		sorted, err := g.TopologicalSort(targetID)
		order = sorted
		return err
	}); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("graph.node_count", len(order)))

	for _, n := range order {
		if n.OpKind == OpLeaf || n.Storage != nil {
			continue
		}
		n := n
		err := g.TimeChild("execute", "forward:"+n.OpKind.String(), func() error {
			desc, ok := descriptorTable[n.OpKind]
			if !ok {
				return errors.Wrap(errors.CodeNotImplemented, fmt.Sprintf("no descriptor for op kind %s", n.OpKind), nil)
			}
			inputs := make([]*storage.Storage, len(n.InputIDs))
			for i, id := range n.InputIDs {
				in, err := g.Get(id)
				if err != nil {
					return err
				}
				if in.Storage == nil {
					return errors.Wrap(errors.CodeForwardNotExecuted, "input node has not been executed", nil)
				}
				inputs[i] = in.Storage
			}
			out, err := desc.forward(g.Registry, n.Meta, inputs)
			if err != nil {
				return err
			}
			if out.Backend.Name() != n.BackendTag {
				return errors.Wrap(errors.CodeBackendMismatch, "forward output backend does not match node backend tag", nil)
			}
			n.Storage = out
			g.debugNode("materialized node", n, nil)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// RefInc increments a node's reference count.
func (g *Graph) RefInc(id uuid.UUID) error {
	n, err := g.Get(id)
	if err != nil {
		return err
	}
	n.RefCount++
	return nil
}

// RefDec decrements a node's reference count. Reaching zero frees the
// node: its storage and gradient storage are released through the
// registry, its context torn down, and every input recursively
// ref-dec'd — so freeing a node can cascade through an entire unused
// subgraph in one call.
func (g *Graph) RefDec(id uuid.UUID) error {
	n, err := g.Get(id)
	if err != nil {
		return err
	}
	n.RefCount--
	if n.RefCount > 0 {
		return nil
	}

	if n.Storage != nil {
		if err := storage.Free(g.Registry, n.Storage); err != nil {
			return err
		}
	}
	if n.GradStorage != nil {
		if err := storage.Free(g.Registry, n.GradStorage); err != nil {
			return err
		}
	}
	n.Ctx = nil
	delete(g.nodes, n.ID)
	delete(g.order, n.ID)
	g.debugNode("freed node", n, map[string]interface{}{"cascade_inputs": len(n.InputIDs)})

	for _, id := range n.InputIDs {
		if err := g.RefDec(id); err != nil {
			return err
		}
	}
	return nil
}

// Reset forcibly frees every live node's storage and gradient storage,
// ignoring ref counts, and clears the graph back to empty. It continues
// past individual free errors so a partial failure never leaks the
// rest, returning the first error encountered.
func (g *Graph) Reset() error {
	var firstErr error
	for _, n := range g.nodes {
		if n.Storage != nil {
			if err := storage.Free(g.Registry, n.Storage); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if n.GradStorage != nil {
			if err := storage.Free(g.Registry, n.GradStorage); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	g.nodes = make(map[uuid.UUID]*Node)
	g.order = make(map[uuid.UUID]int)
	g.nextOrder = 0
	return firstErr
}

// ZeroGradAll fills every live node's gradient storage with zero.
func (g *Graph) ZeroGradAll() error {
	for _, n := range g.nodes {
		if err := g.ZeroGrad(n); err != nil {
			return err
		}
	}
	return nil
}

// ZeroGrad fills n's gradient storage with zero; a no-op if absent.
func (g *Graph) ZeroGrad(n *Node) error {
	if n.GradStorage == nil {
		return nil
	}
	return storage.Fill(n.GradStorage, 0)
}

// ToDot renders the subgraph reachable from targetID as Graphviz source.
func (g *Graph) ToDot(targetID uuid.UUID) (string, error) {
	order, err := g.TopologicalSort(targetID)
	if err != nil {
		return "", err
	}
	out := "digraph G {\n"
	for _, n := range order {
		out += fmt.Sprintf("  %q [label=%q];\n", n.ID, n.OpKind.String())
		for slot, id := range n.InputIDs {
			out += fmt.Sprintf("  %q -> %q [label=%q];\n", id, n.ID, fmt.Sprintf("%d", slot))
		}
	}
	out += "}\n"
	return out, nil
}
