// Package tensor is the public façade over the compute graph: an Engine
// bundles one graph, its storage registry and a default backend name,
// and Tensor is a lightweight handle into one node of that graph.
//
// An Engine is an explicit object the caller constructs and threads
// through its own calls; Default returns a package-level convenience
// instance for scripts that don't need more than one, the same role
// http.DefaultClient plays in net/http — it is not a contract that
// engine state must live in a process-wide singleton.
package tensor

import (
	"context"

	"github.com/tensorgraph/engine/internal/autograd"
	"github.com/tensorgraph/engine/internal/backend"
	_ "github.com/tensorgraph/engine/internal/backend/cpu"
	"github.com/tensorgraph/engine/internal/graph"
	"github.com/tensorgraph/engine/internal/layout"
	"github.com/tensorgraph/engine/internal/storage"
	"github.com/tensorgraph/engine/pkg/config"
	"github.com/tensorgraph/engine/pkg/errors"
	"github.com/tensorgraph/engine/pkg/utils"
)

// Engine owns one compute graph, its storage registry and the default
// backend new tensors allocate on.
type Engine struct {
	Graph    *graph.Graph
	Registry *storage.Registry
	Backend  string
	timer    *utils.Timer
}

// NewEngine builds an Engine from cfg. It fails BackendNotFound if
// cfg.Engine.Backend was never registered (e.g. its package was never
// imported for its init() side effect).
func NewEngine(cfg *config.Config) (*Engine, error) {
	if _, err := backend.Get(cfg.Engine.Backend); err != nil {
		return nil, err
	}
	if cfg.Engine.TensorDim != 0 && cfg.Engine.TensorDim != layout.TD {
		return nil, errors.Newf(errors.CodeInvalidArgument, "engine tensor_dim %d does not match build's layout.TD %d", cfg.Engine.TensorDim, layout.TD)
	}
	reg := storage.NewRegistry()
	g := graph.New(reg, cfg.Engine.GradMode)
	return &Engine{Graph: g, Registry: reg, Backend: cfg.Engine.Backend}, nil
}

// SetLogger attaches a debug logger to the engine's graph.
func (e *Engine) SetLogger(logger utils.Logger) {
	e.Graph.SetLogger(logger)
}

// SetTimer attaches a phase timer; Execute and Backward record
// themselves as phases on it, and their internal stages (topological
// sort, per-node forward/backward) record as child phases beneath
// them. Pass nil to stop timing.
func (e *Engine) SetTimer(timer *utils.Timer) {
	e.timer = timer
	e.Graph.SetTimer(timer)
}

// Timer returns the engine's attached timer, or nil if none was set.
func (e *Engine) Timer() *utils.Timer {
	return e.timer
}

// EnableGrad, DisableGrad and IsGradEnabled control the engine's
// gradient-mode flag; new leaves pick it up at construction time.
func (e *Engine) EnableGrad()         { e.Graph.EnableGrad() }
func (e *Engine) DisableGrad()        { e.Graph.DisableGrad() }
func (e *Engine) IsGradEnabled() bool { return e.Graph.IsGradEnabled() }

// Execute materializes every node target transitively depends on.
func (e *Engine) Execute(ctx context.Context, target *Tensor) error {
	if e.timer == nil {
		return e.Graph.Execute(ctx, target.id)
	}
	_, err := e.timer.TimeFuncWithError("execute", func() error {
		return e.Graph.Execute(ctx, target.id)
	})
	return err
}

// Backward runs the reverse-mode gradient pass from target, which must
// already have been executed.
func (e *Engine) Backward(ctx context.Context, target *Tensor) error {
	if e.timer == nil {
		return autograd.Backward(ctx, e.Graph, target.id)
	}
	_, err := e.timer.TimeFuncWithError("backward", func() error {
		return autograd.Backward(ctx, e.Graph, target.id)
	})
	return err
}

// ZeroGradAll zeros every live node's gradient storage.
func (e *Engine) ZeroGradAll() error {
	return e.Graph.ZeroGradAll()
}

// Cleanup reports an error naming how many graph nodes, or else how many
// registry entries, are still live, so a caller can assert a scope
// leaked nothing. It frees nothing itself.
func (e *Engine) Cleanup() error {
	if n := e.Graph.NodeCount(); n > 0 {
		return errors.Newf(errors.CodeInvalidArgument, "cleanup: %d graph nodes still live", n)
	}
	if n := e.Registry.Count(); n > 0 {
		return errors.Newf(errors.CodeInvalidArgument, "cleanup: %d registry entries still live", n)
	}
	return nil
}

var defaultEngine *Engine

// Default returns a lazily-constructed package-level Engine running the
// cpu backend with gradients enabled, for callers that don't need more
// than one Engine.
func Default() *Engine {
	if defaultEngine == nil {
		reg := storage.NewRegistry()
		defaultEngine = &Engine{
			Graph:    graph.New(reg, true),
			Registry: reg,
			Backend:  "cpu",
		}
	}
	return defaultEngine
}

// CleanupGlobalGraph forcibly frees every node still live in the
// default engine's graph, ignoring reference counts.
func CleanupGlobalGraph() error {
	return Default().Graph.Reset()
}

// CleanupGlobalRegistry reports an error if the default engine's
// registry still holds entries after CleanupGlobalGraph — a graph leak
// would otherwise surface only as a silent memory leak.
func CleanupGlobalRegistry() error {
	e := Default()
	if n := e.Registry.Count(); n > 0 {
		return errors.Newf(errors.CodeInvalidArgument, "cleanup_global_registry: %d registry entries survived teardown", n)
	}
	return nil
}
