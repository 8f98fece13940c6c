package tensor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/tensorgraph/engine/internal/backend/cpu"
	"github.com/tensorgraph/engine/internal/storage"
	"github.com/tensorgraph/engine/pkg/config"
	"github.com/tensorgraph/engine/pkg/utils"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &config.Config{Engine: config.EngineConfig{Backend: "cpu", GradMode: true}}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func TestNewEngine_UnknownBackend(t *testing.T) {
	cfg := &config.Config{Engine: config.EngineConfig{Backend: "quantum"}}
	_, err := NewEngine(cfg)
	assert.Error(t, err)
}

func TestNewEngine_TensorDimMismatch(t *testing.T) {
	cfg := &config.Config{Engine: config.EngineConfig{Backend: "cpu", TensorDim: 99}}
	_, err := NewEngine(cfg)
	assert.Error(t, err)
}

func TestEngine_AddForwardAndBackward(t *testing.T) {
	e := newTestEngine(t)
	a, err := e.TensorInit([]int{2, 2}, 2, true)
	require.NoError(t, err)
	b, err := e.TensorInit([]int{2, 2}, 2, true)
	require.NoError(t, err)
	require.NoError(t, e.TensorFill(a, 1))
	require.NoError(t, e.TensorFill(b, 2))

	c, err := e.Add(a, b)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Execute(ctx, c))
	v, err := e.Get(c, []int{0, 0})
	require.NoError(t, err)
	assert.Equal(t, float32(3), v)

	require.NoError(t, e.Backward(ctx, c))
	ga, err := e.GetGrad(a)
	require.NoError(t, err)
	require.NotNil(t, ga)
	gv, err := storage.Get(ga, []int{0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, float32(1), gv)

	require.NoError(t, e.TensorFree(c))
	require.NoError(t, e.TensorFree(a))
	require.NoError(t, e.TensorFree(b))
	require.NoError(t, e.Cleanup())
}

func TestEngine_GemmShapeMismatch(t *testing.T) {
	e := newTestEngine(t)
	a, err := e.TensorInit([]int{2, 3}, 2, false)
	require.NoError(t, err)
	b, err := e.TensorInit([]int{2, 2}, 2, false)
	require.NoError(t, err)

	_, err = e.Gemm(a, b)
	assert.Error(t, err)
}

func TestEngine_GetBeforeExecute(t *testing.T) {
	e := newTestEngine(t)
	a, err := e.TensorInit([]int{1}, 1, false)
	require.NoError(t, err)
	_, err = e.Get(a, []int{0})
	assert.Error(t, err)
}

func TestEngine_ZeroGradAll(t *testing.T) {
	e := newTestEngine(t)
	a, err := e.TensorInit([]int{2}, 1, true)
	require.NoError(t, err)
	b, err := e.TensorInit([]int{2}, 1, true)
	require.NoError(t, err)
	require.NoError(t, e.TensorFill(a, 1))
	require.NoError(t, e.TensorFill(b, 1))

	c, err := e.Add(a, b)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, e.Execute(ctx, c))
	require.NoError(t, e.Backward(ctx, c))

	require.NoError(t, e.ZeroGradAll())
	ga, err := e.GetGrad(a)
	require.NoError(t, err)
	gv, err := storage.Get(ga, []int{0}, 1)
	require.NoError(t, err)
	assert.Equal(t, float32(0), gv)
}

func TestEngine_CleanupReportsLeaks(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.TensorInit([]int{1}, 1, false)
	require.NoError(t, err)
	assert.Error(t, e.Cleanup())
}

func TestEngine_TimerRecordsExecuteAndBackward(t *testing.T) {
	e := newTestEngine(t)
	timer := utils.NewTimer("engine")
	e.SetTimer(timer)

	a, err := e.TensorInit([]int{1}, 1, true)
	require.NoError(t, err)
	require.NoError(t, e.TensorFill(a, 1))
	b, err := e.Add(a, a)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Execute(ctx, b))
	require.NoError(t, e.Backward(ctx, b))

	phases := timer.GetPhases()
	names := make([]string, 0, len(phases))
	for _, p := range phases {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "execute")
	assert.Contains(t, names, "backward")
	assert.Contains(t, names, "topological_sort")
	assert.Contains(t, names, "forward:AXPY")
	assert.Contains(t, names, "backward:AXPY")
}

func TestDefault_SingletonAndGlobalCleanup(t *testing.T) {
	d1 := Default()
	d2 := Default()
	assert.Same(t, d1, d2)

	a, err := d1.TensorInit([]int{1}, 1, false)
	require.NoError(t, err)
	require.NoError(t, d1.TensorFill(a, 5))

	require.NoError(t, CleanupGlobalGraph())
	require.NoError(t, CleanupGlobalRegistry())
}
