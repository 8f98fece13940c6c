package main

import (
	"github.com/tensorgraph/engine/cmd/tensorctl/cmd"
)

func main() {
	cmd.Execute()
}
