package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tensorgraph/engine/pkg/tensor"
)

var demoNoGrad bool

// demoCmd builds c = a + b on the package-level default engine, runs it
// forward and (unless --no-grad) backward, prints the results, and
// tears the default engine's graph and registry down — a smoke-test
// entrypoint exercising tensor.Default rather than a feature surface.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a small built-in graph and print its results",
	Long: `demo builds c = 2.0 + 3.0 over a 2x2 tensor on the default
engine, executes it, runs the backward pass from c, prints c and the
gradients of a and b, then frees the default graph and registry.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().BoolVar(&demoNoGrad, "no-grad", false, "build the leaves without gradient tracking")
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	e := tensor.Default()
	e.SetLogger(log)

	requiresGrad := !demoNoGrad

	a, err := e.TensorInit([]int{2, 2}, 2, requiresGrad)
	if err != nil {
		return err
	}
	b, err := e.TensorInit([]int{2, 2}, 2, requiresGrad)
	if err != nil {
		return err
	}
	if err := e.TensorFill(a, 2); err != nil {
		return err
	}
	if err := e.TensorFill(b, 3); err != nil {
		return err
	}

	c, err := e.Add(a, b)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := e.Execute(ctx, c); err != nil {
		return fmt.Errorf("execute failed: %w", err)
	}

	cStr, err := e.Print(c)
	if err != nil {
		return err
	}
	log.Info("c = a + b: %s", cStr)

	if requiresGrad {
		if err := e.Backward(ctx, c); err != nil {
			return fmt.Errorf("backward failed: %w", err)
		}
		gaStr, err := e.PrintGrad(a)
		if err != nil {
			return err
		}
		gbStr, err := e.PrintGrad(b)
		if err != nil {
			return err
		}
		log.Info("grad_a: %s", gaStr)
		log.Info("grad_b: %s", gbStr)
	}

	if err := tensor.CleanupGlobalGraph(); err != nil {
		return fmt.Errorf("cleanup_global_graph failed: %w", err)
	}
	if err := tensor.CleanupGlobalRegistry(); err != nil {
		return fmt.Errorf("cleanup_global_registry failed: %w", err)
	}
	return nil
}
