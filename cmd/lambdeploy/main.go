package main

import (
	"os"

	"github.com/rzbill/lambdeploy/pkg/cli/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
