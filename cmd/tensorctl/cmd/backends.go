package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tensorgraph/engine/internal/backend"
	_ "github.com/tensorgraph/engine/internal/backend/cpu"
)

// backendsCmd lists every backend descriptor registered via init() in
// the binary's import graph.
var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List registered compute backends",
	Long:  `List the backend descriptors this build was compiled with.`,
	Run: func(cmd *cobra.Command, args []string) {
		names := backend.Names()
		sort.Strings(names)
		if len(names) == 0 {
			fmt.Println("no backends registered")
			return
		}
		for _, name := range names {
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
